// Package pricing validates sale prices, quantities and discounts against
// the sellable, client category and operator limits.
package pricing

import (
	"context"

	"retailpos/internal/apierror"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPriceNotPositive  = apierror.Validation("price", "Price cannot be zero or negative")
	ErrMaxSellPrice      = apierror.Validation("price", "Max sell price")
	ErrQuantityNotPos    = apierror.Validation("quantity", "Quantity must be greater than zero")
	ErrFractionQuantity  = apierror.Validation("quantity", "This product only accepts integer quantities")
	ErrNoSellable        = apierror.Validation("sellable", "Select a product first")
	ErrBadCredentials    = apierror.Validation("password", "Invalid username or password")
	ErrCannotOverride    = apierror.Validation("username", "This user cannot authorize price changes")
	ErrPriceChangeLocked = apierror.Validation("price", "Price changes are disabled on this POS")
)

var hundred = decimal.NewFromInt(100)

// DefaultPrice is the price of s for a client category, or its base price.
func DefaultPrice(s *model.Sellable, categoryID *uuid.UUID) money.Currency {
	return s.PriceFor(categoryID)
}

// Check is the outcome of IsValidPrice.
type Check struct {
	Valid bool
	// MaxDiscount is the percentage that applied.
	MaxDiscount decimal.Decimal
	MinPrice    money.Currency
}

// MaxDiscount is the larger of the sellable cap (category price row, then
// sellable, then its category) and the operator profile cap.
func MaxDiscount(s *model.Sellable, categoryID *uuid.UUID, user *model.LoginUser) decimal.Decimal {
	sellableCap := s.MaxDiscount
	if cp := s.CategoryPrice(categoryID); cp != nil {
		sellableCap = cp.MaxDiscount
	} else if sellableCap.IsZero() && s.Category != nil {
		sellableCap = s.Category.MaxDiscount
	}
	return decimal.Max(sellableCap, user.MaxDiscount())
}

// IsValidPrice reports whether value stays within the allowed discount
// from the default price.
func IsValidPrice(s *model.Sellable, value money.Currency, categoryID *uuid.UUID, user *model.LoginUser) Check {
	def := DefaultPrice(s, categoryID)
	maxDisc := MaxDiscount(s, categoryID, user)
	factor := decimal.NewFromInt(1).Sub(maxDisc.Div(hundred))
	if factor.IsNegative() {
		factor = decimal.Zero
	}
	minPrice, err := def.MulDecimal(factor)
	if err != nil {
		return Check{MaxDiscount: maxDisc}
	}
	return Check{
		Valid:       !value.LessThan(minPrice),
		MaxDiscount: maxDisc,
		MinPrice:    minPrice,
	}
}

// ValidatePrice checks a price typed for s.
func ValidatePrice(s *model.Sellable, value money.Currency, categoryID *uuid.UUID, user *model.LoginUser, allowHigher bool) error {
	if !value.IsPositive() {
		return ErrPriceNotPositive
	}
	if !allowHigher && value.GreaterThan(DefaultPrice(s, categoryID)) {
		return ErrMaxSellPrice
	}
	if c := IsValidPrice(s, value, categoryID, user); !c.Valid {
		return apierror.Validationf("price", "Max discount for this product is %s%%", c.MaxDiscount.StringFixed(2))
	}
	return nil
}

// ValidateQuantity checks a quantity typed for s.
func ValidateQuantity(s *model.Sellable, q money.Quantity) error {
	if !q.IsPositive() {
		return ErrQuantityNotPos
	}
	if !q.IsInteger() && !s.AllowsFraction() {
		return ErrFractionQuantity
	}
	return nil
}

// CanAdd gates the add action: a sellable is selected, the quantity is
// positive and the price validates.
func CanAdd(s *model.Sellable, q money.Quantity, price money.Currency, categoryID *uuid.UUID, user *model.LoginUser, allowHigher bool) error {
	if s == nil {
		return ErrNoSellable
	}
	if err := ValidateQuantity(s, q); err != nil {
		return err
	}
	return ValidatePrice(s, price, categoryID, user, allowHigher)
}

// ValidateSaleDiscount caps a sale-wide discount by the operator profile.
func ValidateSaleDiscount(subtotal, discount money.Currency, user *model.LoginUser) error {
	if discount.IsNegative() {
		return apierror.Validation("discount", "Discount cannot be negative")
	}
	maxDisc := user.MaxDiscount()
	limit, err := subtotal.MulDecimal(maxDisc.Div(hundred))
	if err != nil {
		return err
	}
	if discount.GreaterThan(limit) {
		return apierror.Validationf("discount", "Max discount for this sale is %s%%", maxDisc.StringFixed(2))
	}
	return nil
}

// ── Manager override ──────────────────────────────────────────────────────────

// Authorizer checks manager credentials for a price or discount override.
type Authorizer interface {
	AuthorizeManager(ctx context.Context, username, password string) (*model.LoginUser, error)
}

type authorizer struct {
	users repository.UserRepository
}

func NewAuthorizer(users repository.UserRepository) Authorizer {
	return &authorizer{users: users}
}

func (a *authorizer) AuthorizeManager(ctx context.Context, username, password string) (*model.LoginUser, error) {
	u, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	if !u.IsActive {
		return nil, ErrBadCredentials
	}
	if u.Profile == nil || !u.Profile.CanOverridePrices {
		return nil, ErrCannotOverride
	}
	return u, nil
}
