package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserProfile groups permissions shared by login users.
// MaxDiscount is a percentage (0–100) applied when validating sale prices.
type UserProfile struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name              string          `gorm:"uniqueIndex;not null"`
	MaxDiscount       decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	CanOverridePrices bool            `gorm:"not null;default:false"`
	// Role drives API authorization: "salesperson" | "manager" | "admin"
	Role string `gorm:"type:varchar(20);not null;default:'salesperson'"`
}

const (
	RoleSalesperson = "salesperson"
	RoleManager     = "manager"
	RoleAdmin       = "admin"
)

// LoginUser is an operator of the POS.
type LoginUser struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Username     string    `gorm:"uniqueIndex;not null"`
	Name         string    `gorm:"not null"`
	Email        *string
	PasswordHash string    `gorm:"not null"`
	ProfileID    uuid.UUID `gorm:"type:uuid;not null;index"`
	// BranchID restricts the user to one branch; nil = all branches
	BranchID  *uuid.UUID `gorm:"type:uuid"`
	IsActive  bool       `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Profile *UserProfile `gorm:"foreignKey:ProfileID"`
}

// MaxDiscount is the profile discount cap, zero when the profile is not loaded.
func (u *LoginUser) MaxDiscount() decimal.Decimal {
	if u == nil || u.Profile == nil {
		return decimal.Zero
	}
	return u.Profile.MaxDiscount
}

// Role returns the profile role, defaulting to salesperson.
func (u *LoginUser) Role() string {
	if u == nil || u.Profile == nil || u.Profile.Role == "" {
		return RoleSalesperson
	}
	return u.Profile.Role
}
