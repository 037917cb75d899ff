package model

import (
	"time"

	"retailpos/internal/money"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Fiscal document status values.
const (
	FiscalIssued    = "issued"
	FiscalCancelled = "cancelled"
)

// FiscalDocument records a coupon closed on the fiscal device.
// Payload keeps the device response verbatim.
type FiscalDocument struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SaleID       uuid.UUID      `gorm:"type:uuid;uniqueIndex;not null"`
	StationID    uuid.UUID      `gorm:"type:uuid;not null"`
	DeviceSerial string         `gorm:"type:varchar(40)"`
	CouponNumber *int64
	Total        money.Currency `gorm:"type:decimal(12,2);not null"`
	Status       string         `gorm:"type:varchar(20);not null;default:'issued'"`
	Payload      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time
}
