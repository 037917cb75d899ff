package model

import (
	"time"

	"retailpos/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sellable status values. A closed sellable is invisible to the catalog.
const (
	SellableAvailable = "available"
	SellableClosed    = "closed"
)

// Tax classes. A taxed sellable must carry a positive rate; the others none.
const (
	TaxExempt       = "exempt"
	TaxSubstitution = "substitution"
	TaxTaxed        = "taxed"
)

// SellableUnit distinguishes weighed from counted goods.
type SellableUnit struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Description   string    `gorm:"uniqueIndex;not null"` // "un", "kg", "m"
	AllowFraction bool      `gorm:"not null;default:false"`
}

// SellableCategory classifies sellables and caps their discount.
type SellableCategory struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Description string          `gorm:"uniqueIndex;not null"`
	ParentID    *uuid.UUID      `gorm:"type:uuid"`
	MaxDiscount decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	CreatedAt   time.Time
}

// Sellable is a product or service that may appear on a sale.
type Sellable struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Code        string         `gorm:"uniqueIndex;not null"`
	Barcode     *string        `gorm:"type:varchar(14);uniqueIndex"`
	Description string         `gorm:"index;not null"`
	BasePrice   money.Currency `gorm:"type:decimal(12,2);not null"`
	// MaxDiscount is a percentage; zero falls back to the category cap
	MaxDiscount decimal.Decimal  `gorm:"type:decimal(5,2);not null;default:0"`
	Status      string           `gorm:"type:varchar(20);not null;default:'available'"`
	UnitID      *uuid.UUID       `gorm:"type:uuid"`
	CategoryID  *uuid.UUID       `gorm:"type:uuid;index"`
	TaxClass    string           `gorm:"type:varchar(20);not null;default:'exempt'"`
	TaxRate     *decimal.Decimal `gorm:"type:decimal(5,2)"`
	// BranchID restricts the sellable to one branch; nil = every branch
	BranchID  *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Unit     *SellableUnit           `gorm:"foreignKey:UnitID"`
	Category *SellableCategory       `gorm:"foreignKey:CategoryID"`
	Product  *Product                `gorm:"foreignKey:SellableID"`
	Prices   []SellableCategoryPrice `gorm:"foreignKey:SellableID"`
}

// IsService reports whether the sellable has no stock-tracking facet.
func (s *Sellable) IsService() bool {
	return s.Product == nil || s.Product.Storable == nil
}

// IsBatchTracked reports whether stock of the sellable is kept per batch.
func (s *Sellable) IsBatchTracked() bool {
	return s.Product != nil && s.Product.Storable != nil && s.Product.Storable.IsBatch
}

// VisibleIn reports whether the sellable can be sold in the branch.
func (s *Sellable) VisibleIn(branchID uuid.UUID) bool {
	return s.Status == SellableAvailable && (s.BranchID == nil || *s.BranchID == branchID)
}

// IsGrid reports whether the sellable is an abstract grid parent.
func (s *Sellable) IsGrid() bool { return s.Product != nil && s.Product.IsGrid }

// IsPackage reports whether selling it implies selling its components.
func (s *Sellable) IsPackage() bool { return s.Product != nil && s.Product.IsPackage }

// AllowsFraction reports whether non-integer quantities may be sold.
func (s *Sellable) AllowsFraction() bool { return s.Unit != nil && s.Unit.AllowFraction }

// UnitDescription is the unit label, empty when the sellable has no unit.
func (s *Sellable) UnitDescription() string {
	if s.Unit == nil {
		return ""
	}
	return s.Unit.Description
}

// TaxConsistent checks the class/rate pairing.
func (s *Sellable) TaxConsistent() bool {
	switch s.TaxClass {
	case TaxTaxed:
		return s.TaxRate != nil && s.TaxRate.IsPositive()
	case TaxExempt, TaxSubstitution:
		return s.TaxRate == nil || s.TaxRate.IsZero()
	default:
		return false
	}
}

// PriceFor returns the price of the sellable for a client category,
// falling back to the base price.
func (s *Sellable) PriceFor(categoryID *uuid.UUID) money.Currency {
	if categoryID != nil {
		for _, p := range s.Prices {
			if p.CategoryID == *categoryID {
				return p.Price
			}
		}
	}
	return s.BasePrice
}

// CategoryPrice returns the category price row, nil when none is defined.
func (s *Sellable) CategoryPrice(categoryID *uuid.UUID) *SellableCategoryPrice {
	if categoryID == nil {
		return nil
	}
	for i := range s.Prices {
		if s.Prices[i].CategoryID == *categoryID {
			return &s.Prices[i]
		}
	}
	return nil
}

// SellableCategoryPrice overrides the base price for a client category.
type SellableCategoryPrice struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SellableID  uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_sellable_category;not null"`
	CategoryID  uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_sellable_category;not null"`
	Price       money.Currency  `gorm:"type:decimal(12,2);not null"`
	MaxDiscount decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
}

// Product is the physical facet of a sellable.
// IsGrid marks an abstract parent whose variants (ParentID) are sold instead.
// IsPackage marks a kit whose Components are added along with it.
type Product struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SellableID uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null"`
	IsGrid     bool       `gorm:"not null;default:false"`
	IsPackage  bool       `gorm:"not null;default:false"`
	ParentID   *uuid.UUID `gorm:"type:uuid;index"`

	Storable   *Storable          `gorm:"foreignKey:ProductID"`
	Components []ProductComponent `gorm:"foreignKey:ProductID"`
}

// ProductComponent is one line of a package: Quantity units of the component
// sellable per package unit, sold at Price.
type ProductComponent struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProductID           uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_package_component;not null"`
	ComponentSellableID uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_package_component;not null"`
	Quantity            money.Quantity `gorm:"type:decimal(12,3);not null"`
	Price               money.Currency `gorm:"type:decimal(12,2);not null"`
	Position            int            `gorm:"not null;default:0"`

	ComponentSellable *Sellable `gorm:"foreignKey:ComponentSellableID"`
}

// Storable is the stock-tracking facet of a product.
type Storable struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProductID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	IsBatch   bool      `gorm:"not null;default:false"`

	Batches []StorableBatch `gorm:"foreignKey:StorableID"`
}

// StorableBatch is a named lot of a batch-tracked storable.
type StorableBatch struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StorableID  uuid.UUID `gorm:"type:uuid;index;not null"`
	BatchNumber string    `gorm:"uniqueIndex;not null"`
	CreatedAt   time.Time
}

// ProductStockItem holds the balance of a storable (and batch) in a branch.
type ProductStockItem struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StorableID uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_stock_item;not null"`
	BranchID   uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_stock_item;not null"`
	BatchID    *uuid.UUID     `gorm:"type:uuid;uniqueIndex:idx_stock_item"`
	Quantity   money.Quantity `gorm:"type:decimal(12,3);not null;default:0"`
	UpdatedAt  time.Time
}
