package model

import (
	"time"

	"retailpos/internal/money"

	"github.com/google/uuid"
)

// Trade status values.
const (
	TradePending   = "pending"
	TradeConfirmed = "confirmed"
	TradeCancelled = "cancelled"
)

// ReturnedSale is returned goods whose credit is applied against a new sale.
type ReturnedSale struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BranchID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	SaleID        *uuid.UUID `gorm:"type:uuid"` // the sale being returned, nil for unknown origin
	NewSaleID     *uuid.UUID `gorm:"type:uuid;index"`
	ResponsibleID uuid.UUID  `gorm:"type:uuid;not null"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending'"`
	Reason        string
	ConfirmDate   *time.Time
	CreatedAt     time.Time

	Items []ReturnedSaleItem `gorm:"foreignKey:ReturnedSaleID"`
}

// ReturnedTotal is the credit granted by the returned items.
func (r *ReturnedSale) ReturnedTotal() money.Currency {
	total := money.Zero
	for _, it := range r.Items {
		line, err := it.Price.MulQuantity(it.Quantity)
		if err != nil {
			continue
		}
		total, _ = total.Add(line)
	}
	return total
}

type ReturnedSaleItem struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ReturnedSaleID uuid.UUID      `gorm:"type:uuid;not null;index"`
	SellableID     uuid.UUID      `gorm:"type:uuid;not null"`
	BatchID        *uuid.UUID     `gorm:"type:uuid"`
	Quantity       money.Quantity `gorm:"type:decimal(12,3);not null"`
	Price          money.Currency `gorm:"type:decimal(12,2);not null"`
}
