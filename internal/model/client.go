package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClientCategory drives category prices and an extra discount cap.
type ClientCategory struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name        string          `gorm:"uniqueIndex;not null"`
	MaxDiscount decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
}

// Client status values.
const (
	ClientActive   = "active"
	ClientIndebted = "indebted"
	ClientInactive = "inactive"
)

type Client struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name       string    `gorm:"index;not null"`
	Document   *string   `gorm:"type:varchar(20)"`
	Email      *string
	Address    *string
	CategoryID *uuid.UUID `gorm:"type:uuid;index"`
	Status     string     `gorm:"type:varchar(20);not null;default:'active'"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Category *ClientCategory `gorm:"foreignKey:CategoryID"`
}
