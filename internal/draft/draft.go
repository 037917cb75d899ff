// Package draft holds the in-memory sale being assembled at a POS station:
// the ordered item forest, totals, client, token binding, delivery line and
// the trade or loans it settles.
package draft

import (
	"context"
	"fmt"

	"retailpos/internal/apierror"
	"retailpos/internal/event"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DirectSaleCode selects the synthetic token of a sale without a tab.
const DirectSaleCode = "0"

var (
	ErrNotRemovable      = apierror.InvalidStatus("item belongs to a saved sale and cannot be removed")
	ErrChildNotRemovable = apierror.InvalidStatus("remove the package instead of its component")
	ErrNotEditable       = apierror.InvalidStatus("item cannot be edited")
	ErrTokenNotFound     = apierror.NotFound("token not found")
	ErrTokenChange       = apierror.InvalidStatus("finish or cancel the current sale before changing the token")
	ErrDeliveryDirectAdd = apierror.Validation("sellable", "the delivery service is added through the delivery form")
	ErrItemNotFound      = apierror.NotFound("item not found in the sale")
	ErrTotalOutOfRange   = apierror.Validation("quantity", "the sale total exceeds the largest accepted amount")
)

// ── Change notification ───────────────────────────────────────────────────────

type ChangeOp int

const (
	ItemAdded ChangeOp = iota
	ItemRemoved
	ItemUpdated
	ClientChanged
	TokenChanged
	DeliveryChanged
	TotalsChanged
	Cleared
)

// Change describes one mutation. Item is nil for draft-wide changes.
type Change struct {
	Op   ChangeOp
	Item *Item
}

// ── Lookup ────────────────────────────────────────────────────────────────────

// Lookup is the read access the draft needs from the persistent store.
// Misses are reported with gorm.ErrRecordNotFound.
type Lookup interface {
	FindToken(ctx context.Context, code string, branchID uuid.UUID) (*model.SaleToken, error)
	ClientOpenToken(ctx context.Context, clientID, branchID uuid.UUID, exceptID *uuid.UUID) (*model.SaleToken, error)
	LoadSale(ctx context.Context, id uuid.UUID) (*model.Sale, error)
	StockBalance(ctx context.Context, storableID, branchID uuid.UUID, batchID *uuid.UUID) (money.Quantity, error)
}

// RepoLookup binds the repositories to one transaction (nil = autocommit).
type RepoLookup struct {
	Tokens repository.TokenRepository
	Sales  repository.SaleRepository
	Stock  repository.StockRepository
	Tx     *gorm.DB
}

var _ Lookup = RepoLookup{}

func (l RepoLookup) FindToken(ctx context.Context, code string, branchID uuid.UUID) (*model.SaleToken, error) {
	return l.Tokens.FindByCode(ctx, l.Tx, code, branchID)
}

func (l RepoLookup) ClientOpenToken(ctx context.Context, clientID, branchID uuid.UUID, exceptID *uuid.UUID) (*model.SaleToken, error) {
	return l.Tokens.ClientOpenToken(ctx, l.Tx, clientID, branchID, exceptID)
}

func (l RepoLookup) LoadSale(ctx context.Context, id uuid.UUID) (*model.Sale, error) {
	return l.Sales.FindByID(ctx, l.Tx, id)
}

func (l RepoLookup) StockBalance(ctx context.Context, storableID, branchID uuid.UUID, batchID *uuid.UUID) (money.Quantity, error) {
	return l.Stock.Balance(ctx, l.Tx, storableID, branchID, batchID)
}

// ── Draft ─────────────────────────────────────────────────────────────────────

type Draft struct {
	BranchID  uuid.UUID
	StationID uuid.UUID
	// DeliveryServiceID is the sellable that carries the delivery price.
	DeliveryServiceID *uuid.UUID

	user    *model.LoginUser
	manager *model.LoginUser

	items     []*Item
	client    *model.Client
	token     *model.SaleToken
	sale      *model.Sale
	discount  money.Currency
	surcharge money.Currency

	delivery     *model.Delivery
	deliveryItem *Item

	trade *model.ReturnedSale
	loans []*model.Loan

	listeners []func(Change)
}

func New(branchID, stationID uuid.UUID, user *model.LoginUser) *Draft {
	return &Draft{BranchID: branchID, StationID: stationID, user: user}
}

// Subscribe registers fn to be called after every mutation.
func (d *Draft) Subscribe(fn func(Change)) {
	d.listeners = append(d.listeners, fn)
}

func (d *Draft) notify(op ChangeOp, it *Item) {
	for _, fn := range d.listeners {
		fn(Change{Op: op, Item: it})
	}
}

// ── Items ─────────────────────────────────────────────────────────────────────

// AddItem appends it to the draft. A child is attached under its parent,
// which must already be in the draft.
func (d *Draft) AddItem(it *Item) error {
	if d.isDeliveryService(it.Sellable) && it != d.deliveryItem {
		return ErrDeliveryDirectAdd
	}
	return d.add(it)
}

func (d *Draft) add(it *Item) error {
	if it.Parent != nil {
		if d.Find(it.Parent.ID) == nil {
			return ErrItemNotFound
		}
		for _, c := range it.Parent.Children {
			if c == it {
				d.notify(ItemAdded, it)
				return nil
			}
		}
		siblings := it.Parent.Children
		it.Parent.Children = append(siblings, it)
		if _, err := d.subtotal(); err != nil {
			it.Parent.Children = siblings
			return ErrTotalOutOfRange
		}
		d.notify(ItemAdded, it)
		return nil
	}
	d.items = append(d.items, it)
	if _, err := d.subtotal(); err != nil {
		d.items = d.items[:len(d.items)-1]
		return ErrTotalOutOfRange
	}
	it.walk(func(x *Item) { d.notify(ItemAdded, x) })
	return nil
}

// RemoveItem drops it and its children. Removing the delivery line clears
// the delivery.
func (d *Draft) RemoveItem(it *Item) error {
	if !it.CanRemove() {
		return ErrNotRemovable
	}
	if !it.CanRemoveChild() && d.Find(it.Parent.ID) != nil {
		return ErrChildNotRemovable
	}
	idx := -1
	for i, x := range d.items {
		if x == it {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrItemNotFound
	}
	for i := len(it.Children) - 1; i >= 0; i-- {
		c := it.Children[i]
		it.Children = it.Children[:i]
		d.notify(ItemRemoved, c)
	}
	d.items = append(d.items[:idx], d.items[idx+1:]...)
	if it == d.deliveryItem {
		d.deliveryItem, d.delivery = nil, nil
		d.notify(DeliveryChanged, nil)
	}
	d.notify(ItemRemoved, it)
	return nil
}

// Find returns the item with the given id anywhere in the forest.
func (d *Draft) Find(id uuid.UUID) *Item {
	var found *Item
	for _, top := range d.items {
		top.walk(func(x *Item) {
			if found == nil && x.ID == id {
				found = x
			}
		})
		if found != nil {
			break
		}
	}
	return found
}

// Items returns the top-level items in insertion order.
func (d *Draft) Items() []*Item {
	return append([]*Item(nil), d.items...)
}

// AllItems flattens the forest: each parent is followed by its children.
func (d *Draft) AllItems() []*Item {
	var out []*Item
	for _, top := range d.items {
		top.walk(func(x *Item) { out = append(out, x) })
	}
	return out
}

func (d *Draft) IsEmpty() bool { return len(d.items) == 0 }

// HasPendingItems reports whether an item was added since the token sale
// was loaded.
func (d *Draft) HasPendingItems() bool {
	for _, it := range d.items {
		if !it.fixed {
			return true
		}
	}
	return false
}

// SetQuantity changes the quantity of an editable top-level item.
func (d *Draft) SetQuantity(it *Item, q money.Quantity) error {
	if it.fixed || it.Parent != nil || it == d.deliveryItem {
		return ErrNotEditable
	}
	old := it.Quantity
	if err := it.setQuantity(q); err != nil {
		return err
	}
	if _, err := d.subtotal(); err != nil {
		_ = it.setQuantity(old)
		return ErrTotalOutOfRange
	}
	d.notify(ItemUpdated, it)
	return nil
}

// SetPrice changes the unit price of an editable leaf item.
func (d *Draft) SetPrice(it *Item, p money.Currency) error {
	if it.fixed || it.Parent != nil || it.Kind == Package || it == d.deliveryItem {
		return ErrNotEditable
	}
	old := it.Price
	if err := it.setPrice(p); err != nil {
		return err
	}
	if _, err := d.subtotal(); err != nil {
		_ = it.setPrice(old)
		return ErrTotalOutOfRange
	}
	d.notify(ItemUpdated, it)
	return nil
}

// ── Totals ────────────────────────────────────────────────────────────────────

// Subtotal is the sum of the totals of the top-level items. Item edits keep
// it within money.MaxValue.
func (d *Draft) Subtotal() money.Currency {
	total, _ := d.subtotal()
	return total
}

func (d *Draft) subtotal() (money.Currency, error) {
	total := money.Zero
	for _, it := range d.items {
		t, err := it.total()
		if err != nil {
			return money.Zero, err
		}
		if total, err = total.Add(t); err != nil {
			return money.Zero, err
		}
	}
	return total, nil
}

func (d *Draft) Discount() money.Currency  { return d.discount }
func (d *Draft) Surcharge() money.Currency { return d.surcharge }

// SetDiscount sets the sale-wide discount, which may not exceed the subtotal.
func (d *Draft) SetDiscount(v money.Currency) error {
	if v.IsNegative() {
		return apierror.Validation("discount", "Discount cannot be negative")
	}
	if v.GreaterThan(d.Subtotal()) {
		return apierror.Validation("discount", "Discount cannot be greater than the subtotal")
	}
	d.discount = v
	d.notify(TotalsChanged, nil)
	return nil
}

func (d *Draft) SetSurcharge(v money.Currency) error {
	if v.IsNegative() {
		return apierror.Validation("surcharge", "Surcharge cannot be negative")
	}
	if _, err := d.Subtotal().Add(v); err != nil {
		return ErrTotalOutOfRange
	}
	d.surcharge = v
	d.notify(TotalsChanged, nil)
	return nil
}

// EffectiveDiscount is the discount capped by the current subtotal, which may
// have shrunk since the discount was set.
func (d *Draft) EffectiveDiscount() money.Currency {
	if sub := d.Subtotal(); d.discount.GreaterThan(sub) {
		return sub
	}
	return d.discount
}

// Total is subtotal − discount + surcharge.
func (d *Draft) Total() money.Currency {
	t, _ := d.Subtotal().Sub(d.EffectiveDiscount())
	t, _ = t.Add(d.surcharge)
	return t
}

// ── Users ─────────────────────────────────────────────────────────────────────

func (d *Draft) User() *model.LoginUser { return d.user }

// SetManager records a manager override for this draft; nil clears it.
func (d *Draft) SetManager(m *model.LoginUser) { d.manager = m }

func (d *Draft) Manager() *model.LoginUser { return d.manager }

// EffectiveUser is the manager override when present, else the operator.
func (d *Draft) EffectiveUser() *model.LoginUser {
	if d.manager != nil {
		return d.manager
	}
	return d.user
}

// ── Client & token ────────────────────────────────────────────────────────────

func (d *Draft) Client() *model.Client { return d.client }

// ClientCategoryID is the category used for category prices, if any.
func (d *Draft) ClientCategoryID() *uuid.UUID {
	if d.client == nil {
		return nil
	}
	return d.client.CategoryID
}

// SetClient attaches client (nil detaches). With tokens in use a client may
// hold only one open token per branch.
func (d *Draft) SetClient(ctx context.Context, lookup Lookup, client *model.Client, useTokens bool) error {
	if client != nil && useTokens {
		if err := d.CheckClientToken(ctx, lookup, client); err != nil {
			return err
		}
	}
	d.client = client
	d.notify(ClientChanged, nil)
	return nil
}

// CheckClientToken fails when client holds an open token other than the
// draft's own.
func (d *Draft) CheckClientToken(ctx context.Context, lookup Lookup, client *model.Client) error {
	var except *uuid.UUID
	if d.token != nil && d.token.ID != uuid.Nil {
		id := d.token.ID
		except = &id
	}
	other, err := lookup.ClientOpenToken(ctx, client.ID, d.BranchID, except)
	switch {
	case err == nil:
		return apierror.Validationf("client", "Client %s already has an open token: %s", client.Name, other.Code)
	case repository.IsNotFound(err):
		return nil
	default:
		return err
	}
}

func (d *Draft) Token() *model.SaleToken { return d.token }

// Sale is the persisted sale loaded through the token, nil for a new sale.
func (d *Draft) Sale() *model.Sale { return d.sale }

// BindSale records the sale persisted for this draft.
func (d *Draft) BindSale(s *model.Sale) { d.sale = s }

// IsDirectSale reports whether the draft uses the synthetic direct-sale token.
func (d *Draft) IsDirectSale() bool {
	return d.token != nil && d.token.ID == uuid.Nil
}

// SetToken binds the draft to the token with the given code. When the token
// already holds a sale, the draft is rebuilt from it with every item fixed.
func (d *Draft) SetToken(ctx context.Context, lookup Lookup, code string) error {
	if d.HasPendingItems() || d.trade != nil || len(d.loans) > 0 {
		return ErrTokenChange
	}
	if code == DirectSaleCode {
		d.clearSaleState()
		d.token = &model.SaleToken{Code: DirectSaleCode, BranchID: d.BranchID, Description: "Direct sale", Status: model.TokenAvailable}
		d.notify(TokenChanged, nil)
		return nil
	}

	t, err := lookup.FindToken(ctx, code, d.BranchID)
	if repository.IsNotFound(err) {
		return ErrTokenNotFound
	}
	if err != nil {
		return err
	}

	var sale *model.Sale
	if t.IsOccupied() {
		if sale, err = lookup.LoadSale(ctx, *t.SaleID); err != nil {
			return fmt.Errorf("load sale of token %s: %w", t.Code, err)
		}
	}

	d.clearSaleState()
	d.token = t
	if sale != nil {
		if err := d.hydrate(sale); err != nil {
			d.clearSaleState()
			d.token = nil
			return err
		}
	}
	d.notify(TokenChanged, nil)
	return nil
}

// hydrate rebuilds the draft from a persisted sale.
func (d *Draft) hydrate(s *model.Sale) error {
	byID := make(map[uuid.UUID]*Item, len(s.Items))
	var children []model.SaleItem
	for _, si := range s.Items {
		if si.ParentItemID != nil {
			children = append(children, si)
			continue
		}
		it, err := fromSaleItem(si)
		if err != nil {
			return err
		}
		byID[si.ID] = it
		d.items = append(d.items, it)
	}
	for _, si := range children {
		parent, ok := byID[*si.ParentItemID]
		if !ok {
			return fmt.Errorf("sale %d: item %s has an unknown parent", s.Identifier, si.ID)
		}
		it, err := fromSaleItem(si)
		if err != nil {
			return err
		}
		it.Parent = parent
		parent.Kind = Package
		if !parent.Quantity.IsZero() {
			per, err := money.NewQuantity(si.Quantity.Decimal().Div(parent.Quantity.Decimal()))
			if err == nil {
				it.perPackage = per
			}
		}
		parent.Children = append(parent.Children, it)
		byID[si.ID] = it
	}

	d.sale = s
	d.client = s.Client
	d.discount = s.Discount
	d.surcharge = s.Surcharge
	if s.Delivery != nil {
		d.delivery = s.Delivery
		d.deliveryItem = byID[s.Delivery.ServiceItemID]
	}
	for _, it := range d.items {
		it.walk(func(x *Item) { d.notify(ItemAdded, x) })
	}
	return nil
}

func fromSaleItem(si model.SaleItem) (*Item, error) {
	if si.Sellable == nil {
		return nil, fmt.Errorf("sale item %s: sellable not loaded", si.ID)
	}
	id := si.ID
	it := &Item{
		ID:                 uuid.New(),
		Kind:               Leaf,
		Sellable:           si.Sellable,
		Batch:              si.Batch,
		Quantity:           si.Quantity,
		Price:              si.Price,
		BasePrice:          si.BasePrice,
		QuantityDecreased:  si.QuantityDecreased,
		Deliver:            si.Deliver,
		EstimatedFixDate:   si.EstimatedFixDate,
		OriginalSaleItemID: &id,
		LoanItemID:         si.LoanItemID,
		fixed:              true,
	}
	if si.Notes != nil {
		it.Notes = *si.Notes
	}
	return it, nil
}

// ── Stock ─────────────────────────────────────────────────────────────────────

// CheckAvailableStock refuses adding qty of s (or of its components for a
// package) when the branch balance minus what the draft still has to take
// out of stock would go negative. except is left out of the draft sum, for
// quantity edits. Services are never checked.
func (d *Draft) CheckAvailableStock(ctx context.Context, lookup Lookup, s *model.Sellable, batch *model.StorableBatch, qty money.Quantity, except *Item) error {
	if s.IsPackage() {
		for _, comp := range s.Product.Components {
			if comp.ComponentSellable == nil {
				continue
			}
			cq, err := comp.Quantity.Mul(qty)
			if err != nil {
				return err
			}
			if err := d.checkStock(ctx, lookup, comp.ComponentSellable, nil, cq, except); err != nil {
				return err
			}
		}
		return nil
	}
	return d.checkStock(ctx, lookup, s, batch, qty, except)
}

func (d *Draft) checkStock(ctx context.Context, lookup Lookup, s *model.Sellable, batch *model.StorableBatch, qty money.Quantity, except *Item) error {
	if s.IsService() {
		return nil
	}
	var batchID *uuid.UUID
	if batch != nil {
		batchID = &batch.ID
	}
	balance, err := lookup.StockBalance(ctx, s.Product.Storable.ID, d.BranchID, batchID)
	if err != nil {
		return err
	}

	inDraft := money.ZeroQty
	for _, it := range d.AllItems() {
		if it.Sellable.ID != s.ID || (except != nil && (it == except || it.Parent == except)) {
			continue
		}
		if batchID != nil && (it.Batch == nil || it.Batch.ID != *batchID) {
			continue
		}
		if inDraft, err = inDraft.Add(it.Pending()); err != nil {
			return err
		}
	}

	available, err := balance.Sub(inDraft)
	if err != nil {
		return err
	}
	left, err := available.Sub(qty)
	if err != nil {
		return err
	}
	if left.IsNegative() {
		return apierror.Stock("available quantity is not enough")
	}
	return nil
}

// ── Delivery ──────────────────────────────────────────────────────────────────

func (d *Draft) isDeliveryService(s *model.Sellable) bool {
	return s != nil && d.DeliveryServiceID != nil && s.ID == *d.DeliveryServiceID
}

func (d *Draft) Delivery() *model.Delivery { return d.delivery }

// DeliveryItem is the line carrying the delivery price, nil without delivery.
func (d *Draft) DeliveryItem() *Item { return d.deliveryItem }

// SetDelivery validates delv and adds or reprices the delivery-service line.
func (d *Draft) SetDelivery(delv *model.Delivery, service *model.Sellable) error {
	if err := ValidateDelivery(delv); err != nil {
		return err
	}
	if d.deliveryItem != nil {
		if d.deliveryItem.fixed {
			return ErrNotEditable
		}
		if err := d.deliveryItem.setPrice(delv.Price); err != nil {
			return err
		}
		d.delivery = delv
		d.notify(ItemUpdated, d.deliveryItem)
		d.notify(DeliveryChanged, nil)
		return nil
	}

	it, err := NewItem(service, money.OneQty, delv.Price, nil)
	if err != nil {
		return err
	}
	d.deliveryItem = it
	if err := d.add(it); err != nil {
		d.deliveryItem = nil
		return err
	}
	d.delivery = delv
	for _, x := range d.items {
		if x != it && !x.IsService() {
			x.Deliver = true
		}
	}
	d.notify(DeliveryChanged, nil)
	return nil
}

// RemoveDelivery drops the delivery line, if any.
func (d *Draft) RemoveDelivery() error {
	if d.deliveryItem == nil {
		return nil
	}
	if err := d.RemoveItem(d.deliveryItem); err != nil {
		return err
	}
	for _, x := range d.items {
		x.Deliver = false
	}
	return nil
}

// ── Trade & loans ─────────────────────────────────────────────────────────────

func (d *Draft) Trade() *model.ReturnedSale { return d.trade }

// SetTrade links a pending returned sale of this branch as sale credit.
func (d *Draft) SetTrade(t *model.ReturnedSale) error {
	if t.BranchID != d.BranchID {
		return apierror.Validation("trade", "The trade belongs to another branch")
	}
	if t.Status != model.TradePending {
		return apierror.InvalidStatus("The trade is not pending")
	}
	d.trade = t
	d.notify(TotalsChanged, nil)
	return nil
}

func (d *Draft) Loans() []*model.Loan { return d.loans }

// AddLoanItems adds the kept part of each loan item as a fixed line whose
// stock already left the branch.
func (d *Draft) AddLoanItems(loan *model.Loan) error {
	for i := range loan.Items {
		li := &loan.Items[i]
		if !li.SaleQuantity.IsPositive() {
			continue
		}
		if li.Sellable == nil {
			return fmt.Errorf("loan item %s: sellable not loaded", li.ID)
		}
		it, err := NewItem(li.Sellable, li.SaleQuantity, li.Price, li.Batch)
		if err != nil {
			return err
		}
		id := li.ID
		it.LoanItemID = &id
		it.walk(func(x *Item) {
			x.fixed = true
			if x.Kind == Leaf {
				x.QuantityDecreased = x.Quantity
			}
		})
		if err := d.add(it); err != nil {
			return err
		}
	}
	d.loans = append(d.loans, loan)
	return nil
}

// ── Reset & snapshot ──────────────────────────────────────────────────────────

func (d *Draft) clearSaleState() {
	d.items = nil
	d.client = nil
	d.sale = nil
	d.discount, d.surcharge = money.Zero, money.Zero
	d.delivery, d.deliveryItem = nil, nil
}

// Reset empties the draft: token, items, client, delivery, trade, loans and
// manager override.
func (d *Draft) Reset() {
	d.clearSaleState()
	d.token = nil
	d.trade = nil
	d.loans = nil
	d.manager = nil
	d.notify(Cleared, nil)
}

// Snapshot freezes the item forest for event payloads.
func (d *Draft) Snapshot() []event.ItemSnapshot {
	out := make([]event.ItemSnapshot, 0, len(d.items))
	for _, it := range d.items {
		out = append(out, snapshot(it))
	}
	return out
}

func snapshot(it *Item) event.ItemSnapshot {
	s := event.ItemSnapshot{
		SellableID:  it.Sellable.ID,
		Code:        it.Sellable.Code,
		Description: it.FullDescription(),
		Quantity:    it.Quantity,
		Price:       it.Price,
		Total:       it.Total(),
	}
	if it.Batch != nil {
		id := it.Batch.ID
		s.BatchID = &id
	}
	for _, c := range it.Children {
		s.Children = append(s.Children, snapshot(c))
	}
	return s
}
