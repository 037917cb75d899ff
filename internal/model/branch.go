package model

import (
	"time"

	"github.com/google/uuid"
)

// Branch is a store location; stock balances, tokens and sales are scoped by it.
type Branch struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name      string    `gorm:"uniqueIndex;not null"`
	Acronym   string    `gorm:"type:varchar(10)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Station is a POS terminal of a branch.
type Station struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BranchID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Name      string    `gorm:"not null"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time

	Branch *Branch `gorm:"foreignKey:BranchID"`
}
