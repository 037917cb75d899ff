package draft

import (
	"fmt"
	"strings"
	"time"

	"retailpos/internal/model"
	"retailpos/internal/money"

	"github.com/google/uuid"
)

// Kind tags an item as a plain line or a package owning component lines.
type Kind int

const (
	Leaf Kind = iota
	Package
)

// Item is an in-memory sale line. A Package item carries price zero and owns
// its component lines in Children; every child points back through Parent.
type Item struct {
	ID        uuid.UUID
	Kind      Kind
	Sellable  *model.Sellable
	Batch     *model.StorableBatch
	Quantity  money.Quantity
	Price     money.Currency
	BasePrice money.Currency

	Parent   *Item
	Children []*Item

	// QuantityDecreased is the part of Quantity already taken out of stock
	// (reserved by a saved token sale or lent by a loan).
	QuantityDecreased money.Quantity
	Deliver           bool
	EstimatedFixDate  *time.Time
	Notes             string

	// OriginalSaleItemID links an item hydrated from a persisted sale.
	OriginalSaleItemID *uuid.UUID
	// LoanItemID links an item sold out of a loan.
	LoanItemID *uuid.UUID

	// perPackage is the component quantity per package unit (children only).
	perPackage money.Quantity
	fixed      bool
}

// NewItem builds a line for s. Package sellables are expanded into their
// components: each child gets the component price and the component quantity
// times qty, and the package line itself is priced zero.
func NewItem(s *model.Sellable, qty money.Quantity, price money.Currency, batch *model.StorableBatch) (*Item, error) {
	it := &Item{
		ID:        uuid.New(),
		Kind:      Leaf,
		Sellable:  s,
		Batch:     batch,
		Quantity:  qty,
		Price:     price,
		BasePrice: s.BasePrice,
	}
	if !s.IsPackage() {
		if _, err := it.lineTotal(); err != nil {
			return nil, err
		}
		return it, nil
	}

	it.Kind = Package
	it.Price = money.Zero
	for _, comp := range s.Product.Components {
		if comp.ComponentSellable == nil {
			return nil, fmt.Errorf("package %s: component %s not loaded", s.Code, comp.ComponentSellableID)
		}
		cq, err := comp.Quantity.Mul(qty)
		if err != nil {
			return nil, err
		}
		child := &Item{
			ID:         uuid.New(),
			Kind:       Leaf,
			Sellable:   comp.ComponentSellable,
			Quantity:   cq,
			Price:      comp.Price,
			BasePrice:  comp.ComponentSellable.BasePrice,
			Parent:     it,
			perPackage: comp.Quantity,
		}
		if _, err := child.lineTotal(); err != nil {
			return nil, err
		}
		it.Children = append(it.Children, child)
	}
	return it, nil
}

func (it *Item) lineTotal() (money.Currency, error) {
	if it.Kind == Package {
		return money.Zero, nil
	}
	return it.Price.MulQuantity(it.Quantity)
}

// LineTotal is round(price × quantity); zero for a package line.
func (it *Item) LineTotal() money.Currency {
	t, _ := it.lineTotal()
	return t
}

// Total is the line total of a leaf, or the sum of the children of a package.
func (it *Item) Total() money.Currency {
	t, _ := it.total()
	return t
}

func (it *Item) total() (money.Currency, error) {
	if it.Kind != Package {
		return it.lineTotal()
	}
	total := money.Zero
	for _, c := range it.Children {
		t, err := c.total()
		if err != nil {
			return money.Zero, err
		}
		if total, err = total.Add(t); err != nil {
			return money.Zero, err
		}
	}
	return total, nil
}

// QuantityUnit renders the quantity with the sellable unit, e.g. "2" or "1.5 kg".
func (it *Item) QuantityUnit() string {
	u := it.Sellable.UnitDescription()
	if u == "" {
		return it.Quantity.String()
	}
	return it.Quantity.String() + " " + u
}

// FullDescription is the sellable description followed by the batch number.
func (it *Item) FullDescription() string {
	if it.Batch == nil {
		return it.Sellable.Description
	}
	return fmt.Sprintf("%s - Batch: %s", it.Sellable.Description, strings.TrimSpace(it.Batch.BatchNumber))
}

// CanRemove is false for lines materialised from a persisted sale or loan.
func (it *Item) CanRemove() bool { return !it.fixed }

// CanRemoveChild is false for a component while its package is in the draft.
func (it *Item) CanRemoveChild() bool { return it.Parent == nil }

// Fixed reports whether the item came from a persisted sale or loan.
func (it *Item) Fixed() bool { return it.fixed }

// IsService reports whether the line has no stock to check or move.
func (it *Item) IsService() bool { return it.Sellable.IsService() }

// Pending is the quantity still to be taken out of stock.
func (it *Item) Pending() money.Quantity {
	p, err := it.Quantity.Sub(it.QuantityDecreased)
	if err != nil || p.IsNegative() {
		return money.ZeroQty
	}
	return p
}

// setQuantity changes the quantity, rescaling the components of a package.
func (it *Item) setQuantity(q money.Quantity) error {
	if it.Kind == Package {
		scaled := make([]money.Quantity, len(it.Children))
		for i, c := range it.Children {
			cq, err := c.perPackage.Mul(q)
			if err != nil {
				return err
			}
			scaled[i] = cq
		}
		for i, c := range it.Children {
			c.Quantity = scaled[i]
		}
		it.Quantity = q
		return nil
	}
	old := it.Quantity
	it.Quantity = q
	if _, err := it.lineTotal(); err != nil {
		it.Quantity = old
		return err
	}
	return nil
}

func (it *Item) setPrice(p money.Currency) error {
	old := it.Price
	it.Price = p
	if _, err := it.lineTotal(); err != nil {
		it.Price = old
		return err
	}
	return nil
}

// walk visits it and then its children.
func (it *Item) walk(fn func(*Item)) {
	fn(it)
	for _, c := range it.Children {
		c.walk(fn)
	}
}
