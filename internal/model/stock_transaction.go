package model

import (
	"time"

	"retailpos/internal/money"

	"github.com/google/uuid"
)

// Stock transaction types.
const (
	StockTxSale     = "sale"
	StockTxReserve  = "reserve"
	StockTxRelease  = "release"
	StockTxDecrease = "manual_decrease"
	StockTxLoan     = "loan_return"
)

// StockTransaction records every balance change of a storable in a branch.
// Rows are append-only; a correction is a new row with the opposite sign.
type StockTransaction struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StorableID     uuid.UUID      `gorm:"type:uuid;not null;index"`
	BranchID       uuid.UUID      `gorm:"type:uuid;not null;index"`
	BatchID        *uuid.UUID     `gorm:"type:uuid"`
	Type           string         `gorm:"type:varchar(20);not null"`
	Quantity       money.Quantity `gorm:"type:decimal(12,3);not null"` // negative = out
	QuantityBefore money.Quantity `gorm:"type:decimal(12,3);not null"`
	QuantityAfter  money.Quantity `gorm:"type:decimal(12,3);not null"`
	ReferenceID    *uuid.UUID     `gorm:"type:uuid"` // sale item or stock decrease
	Reason         string
	CreatedAt      time.Time
}

// StockDecrease is a manual removal of goods (loss, internal use).
type StockDecrease struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BranchID      uuid.UUID `gorm:"type:uuid;not null;index"`
	ResponsibleID uuid.UUID `gorm:"type:uuid;not null"`
	Reason        string    `gorm:"not null"`
	Status        string    `gorm:"type:varchar(20);not null;default:'confirmed'"`
	ConfirmDate   time.Time
	CreatedAt     time.Time

	Items []StockDecreaseItem `gorm:"foreignKey:StockDecreaseID"`
}

type StockDecreaseItem struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StockDecreaseID uuid.UUID      `gorm:"type:uuid;not null;index"`
	SellableID      uuid.UUID      `gorm:"type:uuid;not null"`
	BatchID         *uuid.UUID     `gorm:"type:uuid"`
	Quantity        money.Quantity `gorm:"type:decimal(12,3);not null"`

	Sellable *Sellable `gorm:"foreignKey:SellableID"`
}
