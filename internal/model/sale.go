package model

import (
	"time"

	"retailpos/internal/money"

	"github.com/google/uuid"
)

// Sale status values.
// initial → ordered (saved on a token) → confirmed; cancelled from initial/ordered.
const (
	SaleInitial   = "initial"
	SaleOrdered   = "ordered"
	SaleConfirmed = "confirmed"
	SaleCancelled = "cancelled"
)

// Token status values.
const (
	TokenAvailable = "available"
	TokenOccupied  = "occupied"
)

// SaleToken is a table/tab handle reserving a sale across POS interactions.
// A token holds at most one open sale (SaleID) per branch.
type SaleToken struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Code        string     `gorm:"type:varchar(30);uniqueIndex:idx_token_code_branch;not null"`
	BranchID    uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_token_code_branch;not null"`
	Description string
	Status      string     `gorm:"type:varchar(20);not null;default:'available'"`
	SaleID      *uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	UpdatedAt   time.Time

	Sale *Sale `gorm:"foreignKey:SaleID"`
}

// IsOccupied reports whether the token holds an open sale.
func (t *SaleToken) IsOccupied() bool { return t.Status == TokenOccupied && t.SaleID != nil }

// Sale is a persisted sale. Totals are materialised at confirm.
type Sale struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Identifier      int64          `gorm:"uniqueIndex;not null"`
	Status          string         `gorm:"type:varchar(20);not null;default:'initial'"`
	BranchID        uuid.UUID      `gorm:"type:uuid;not null;index"`
	StationID       uuid.UUID      `gorm:"type:uuid;not null"`
	SalespersonID   uuid.UUID      `gorm:"type:uuid;not null;index"`
	ClientID        *uuid.UUID     `gorm:"type:uuid;index"`
	TokenID         *uuid.UUID     `gorm:"type:uuid"`
	GroupID         uuid.UUID      `gorm:"type:uuid;not null"`
	Subtotal        money.Currency `gorm:"type:decimal(12,2);not null;default:0"`
	Discount        money.Currency `gorm:"type:decimal(12,2);not null;default:0"`
	Surcharge       money.Currency `gorm:"type:decimal(12,2);not null;default:0"`
	TotalAmount     money.Currency `gorm:"type:decimal(12,2);not null;default:0"`
	CFOP            string         `gorm:"column:cfop;type:varchar(10)"`
	OperationNature string
	Notes           *string
	OpenDate        time.Time
	ConfirmDate     *time.Time
	CancelDate      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Client   *Client       `gorm:"foreignKey:ClientID"`
	Group    *PaymentGroup `gorm:"foreignKey:GroupID"`
	Items    []SaleItem    `gorm:"foreignKey:SaleID"`
	Delivery *Delivery     `gorm:"foreignKey:SaleID"`
}

// SaleItem is one persisted line. Children of a package carry ParentItemID.
type SaleItem struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SaleID            uuid.UUID      `gorm:"type:uuid;not null;index"`
	SellableID        uuid.UUID      `gorm:"type:uuid;not null"`
	BatchID           *uuid.UUID     `gorm:"type:uuid"`
	ParentItemID      *uuid.UUID     `gorm:"type:uuid;index"`
	Position          int            `gorm:"not null;default:0"`
	Quantity          money.Quantity `gorm:"type:decimal(12,3);not null"`
	QuantityDecreased money.Quantity `gorm:"type:decimal(12,3);not null;default:0"`
	Price             money.Currency `gorm:"type:decimal(12,2);not null"`
	BasePrice         money.Currency `gorm:"type:decimal(12,2);not null"`
	Deliver           bool           `gorm:"not null;default:false"`
	EstimatedFixDate  *time.Time
	Notes             *string
	LoanItemID        *uuid.UUID `gorm:"type:uuid"`

	Sellable *Sellable      `gorm:"foreignKey:SellableID"`
	Batch    *StorableBatch `gorm:"foreignKey:BatchID"`
}

// Freight types.
const (
	FreightFOBPayment      = "fob-payment"
	FreightFOBInstallments = "fob-installments"
	FreightCIFUnknown      = "cif-unknown"
	FreightCIFInvoice      = "cif-invoice"
)

// Delivery is the shipment bound to a sale through its delivery-service line.
type Delivery struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SaleID              uuid.UUID      `gorm:"type:uuid;uniqueIndex;not null"`
	ServiceItemID       uuid.UUID      `gorm:"type:uuid;not null"`
	RecipientID         *uuid.UUID     `gorm:"type:uuid"`
	Address             string         `gorm:"not null"`
	TransporterID       *uuid.UUID     `gorm:"type:uuid"`
	FreightType         string         `gorm:"type:varchar(20);not null;default:'cif-unknown'"`
	Price               money.Currency `gorm:"type:decimal(12,2);not null;default:0"`
	VolumesKind         string
	VolumesQuantity     int
	GrossWeight         money.Quantity `gorm:"type:decimal(12,3);not null;default:0"`
	NetWeight           money.Quantity `gorm:"type:decimal(12,3);not null;default:0"`
	VehicleLicensePlate *string        `gorm:"type:varchar(8)"`
	VehicleState        *string        `gorm:"type:varchar(2)"`
	VehicleRegistration *string
	CreatedAt           time.Time

	Transporter *Transporter `gorm:"foreignKey:TransporterID"`
}

// Transporter carries deliveries and may be paid freight directly.
type Transporter struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name      string    `gorm:"not null"`
	Document  string    `gorm:"type:varchar(20);uniqueIndex;not null"`
	Phone     *string
	Email     *string
	IsActive  bool `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
