package model

import (
	"time"

	"retailpos/internal/money"

	"github.com/google/uuid"
)

// Loan status values.
const (
	LoanOpen   = "open"
	LoanClosed = "closed"
)

// Loan is goods lent to a client. On close the kept quantities are sold.
type Loan struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BranchID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	ClientID  *uuid.UUID `gorm:"type:uuid;index"`
	Status    string     `gorm:"type:varchar(20);not null;default:'open'"`
	CloseDate *time.Time
	CreatedAt time.Time

	Items []LoanItem `gorm:"foreignKey:LoanID"`
}

// LoanItem tracks lent, sold and returned quantities of one sellable.
type LoanItem struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	LoanID         uuid.UUID      `gorm:"type:uuid;not null;index"`
	SellableID     uuid.UUID      `gorm:"type:uuid;not null"`
	BatchID        *uuid.UUID     `gorm:"type:uuid"`
	Quantity       money.Quantity `gorm:"type:decimal(12,3);not null"`
	SaleQuantity   money.Quantity `gorm:"type:decimal(12,3);not null;default:0"`
	ReturnQuantity money.Quantity `gorm:"type:decimal(12,3);not null;default:0"`
	Price          money.Currency `gorm:"type:decimal(12,2);not null"`

	Sellable *Sellable      `gorm:"foreignKey:SellableID"`
	Batch    *StorableBatch `gorm:"foreignKey:BatchID"`
}
