package model

import (
	"time"

	"retailpos/internal/money"

	"github.com/google/uuid"
)

// Payment methods.
const (
	MethodMoney       = "money"
	MethodBill        = "bill"
	MethodCheck       = "check"
	MethodCard        = "card"
	MethodMultiple    = "multiple"
	MethodStoreCredit = "store_credit"
)

// Payment status values.
const (
	PaymentPending   = "pending"
	PaymentPaid      = "paid"
	PaymentCancelled = "cancelled"
)

// PaymentGroup is the set of installments belonging to one sale.
type PaymentGroup struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PayerID   *uuid.UUID `gorm:"type:uuid"`
	Method    string     `gorm:"type:varchar(20)"`
	CreatedAt time.Time

	Payments []Payment `gorm:"foreignKey:GroupID"`
}

// Total is the sum of the non-cancelled payments.
func (g *PaymentGroup) Total() money.Currency {
	total := money.Zero
	for _, p := range g.Payments {
		if p.Status == PaymentCancelled {
			continue
		}
		total, _ = total.Add(p.Value)
	}
	return total
}

// Payment is one installment. Paid payments always carry PaidDate.
type Payment struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	GroupID     uuid.UUID      `gorm:"type:uuid;not null;index"`
	Method      string         `gorm:"type:varchar(20);not null"`
	Description string
	Value       money.Currency `gorm:"type:decimal(12,2);not null"`
	DueDate     time.Time      `gorm:"not null"`
	Status      string         `gorm:"type:varchar(20);not null;default:'pending'"`
	BranchID    uuid.UUID      `gorm:"type:uuid;not null"`
	StationID   uuid.UUID      `gorm:"type:uuid;not null"`
	PaidDate    *time.Time
	// Installment is 1-based within the group; 0 for freight
	Installment int `gorm:"not null;default:1"`
	// TransporterID is set on freight payments addressed to the carrier
	TransporterID *uuid.UUID `gorm:"type:uuid"`
	IsFreight     bool       `gorm:"not null;default:false"`
	CreatedAt     time.Time

	CardData *CreditCardData `gorm:"foreignKey:PaymentID"`
}

// Pay marks the payment as received.
func (p *Payment) Pay(at time.Time) {
	p.Status = PaymentPaid
	p.PaidDate = &at
}

// Card types.
const (
	CardCredit = "credit"
	CardDebit  = "debit"
)

// CreditCardData holds the card authorization of a card payment.
type CreditCardData struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PaymentID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	AuthCode     string    `gorm:"type:varchar(30);not null"`
	CardType     string    `gorm:"type:varchar(10);not null"`
	Provider     string    `gorm:"not null"`
	Device       string
	Installments int `gorm:"not null;default:1"`
}
