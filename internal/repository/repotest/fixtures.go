package repotest

import (
	"retailpos/internal/model"
	"retailpos/internal/money"

	"github.com/google/uuid"
)

// Product builds an available storable sellable sold by the unit.
func Product(code, description, price string) *model.Sellable {
	id := uuid.New()
	pid := uuid.New()
	return &model.Sellable{
		ID:          id,
		Code:        code,
		Description: description,
		BasePrice:   money.MustCurrency(price),
		Status:      model.SellableAvailable,
		TaxClass:    model.TaxExempt,
		Unit:        &model.SellableUnit{ID: uuid.New(), Description: "un"},
		Product: &model.Product{
			ID:         pid,
			SellableID: id,
			Storable:   &model.Storable{ID: uuid.New(), ProductID: pid},
		},
	}
}

// Weighed builds a storable sellable sold by the kilogram.
func Weighed(code, description, price string) *model.Sellable {
	s := Product(code, description, price)
	s.Unit = &model.SellableUnit{ID: uuid.New(), Description: "kg", AllowFraction: true}
	return s
}

// Service builds an available sellable without stock.
func Service(code, description, price string) *model.Sellable {
	return &model.Sellable{
		ID:          uuid.New(),
		Code:        code,
		Description: description,
		BasePrice:   money.MustCurrency(price),
		Status:      model.SellableAvailable,
		TaxClass:    model.TaxExempt,
	}
}

// Component is one line of a package fixture.
type Component struct {
	Sellable *model.Sellable
	Quantity string
	Price    string
}

// Package builds a package sellable selling comps.
func Package(code, description string, comps ...Component) *model.Sellable {
	id := uuid.New()
	pid := uuid.New()
	s := &model.Sellable{
		ID:          id,
		Code:        code,
		Description: description,
		Status:      model.SellableAvailable,
		TaxClass:    model.TaxExempt,
		Product:     &model.Product{ID: pid, SellableID: id, IsPackage: true},
	}
	for i, c := range comps {
		s.Product.Components = append(s.Product.Components, model.ProductComponent{
			ID:                  uuid.New(),
			ProductID:           pid,
			ComponentSellableID: c.Sellable.ID,
			Quantity:            money.MustQuantity(c.Quantity),
			Price:               money.MustCurrency(c.Price),
			Position:            i,
			ComponentSellable:   c.Sellable,
		})
	}
	return s
}
