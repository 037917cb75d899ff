package model

import (
	"time"

	"retailpos/internal/money"

	"github.com/google/uuid"
)

// Till status values.
const (
	TillOpen   = "open"
	TillClosed = "closed"
)

// Till is a cash register session of a station.
type Till struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StationID   uuid.UUID      `gorm:"type:uuid;not null;index"`
	BranchID    uuid.UUID      `gorm:"type:uuid;not null"`
	OpenedByID  uuid.UUID      `gorm:"type:uuid;not null"`
	InitialCash money.Currency `gorm:"type:decimal(12,2);not null"`
	Status      string         `gorm:"type:varchar(20);not null;default:'open'"`
	OpenedAt    time.Time
	ClosedAt    *time.Time

	Entries []TillEntry `gorm:"foreignKey:TillID"`
}

// TillEntry is an immutable till ledger line; corrections are new entries.
type TillEntry struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TillID      uuid.UUID      `gorm:"type:uuid;not null;index"`
	PaymentID   *uuid.UUID     `gorm:"type:uuid"`
	Value       money.Currency `gorm:"type:decimal(12,2);not null"`
	Description string         `gorm:"not null"`
	CreatedAt   time.Time
}
