// Package money provides the fixed-point currency and quantity values used by
// every sale computation. Both wrap shopspring/decimal so they can be stored
// directly in decimal columns.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyPlaces is the number of fractional digits of a materialised amount.
	CurrencyPlaces = 2
	// QuantityPlaces is the number of fractional digits of a quantity and of
	// intermediate currency products.
	QuantityPlaces = 3
)

// ErrValueOutOfRange is returned when an operation would exceed MaxValue.
var ErrValueOutOfRange = errors.New("value out of range")

// MaxValue is the largest absolute amount or quantity accepted.
var MaxValue = decimal.RequireFromString("99999999999.99")

// SetMaxValue overrides MaxValue; non-positive values are ignored.
func SetMaxValue(d decimal.Decimal) {
	if d.IsPositive() {
		MaxValue = d
	}
}

func checkRange(d decimal.Decimal) error {
	if d.Abs().GreaterThan(MaxValue) {
		return fmt.Errorf("%w: %s", ErrValueOutOfRange, d.String())
	}
	return nil
}

// ── Currency ──────────────────────────────────────────────────────────────────

// Currency is an amount with two fractional digits.
type Currency struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Currency{}

// NewCurrency rounds d half-to-even to two places.
func NewCurrency(d decimal.Decimal) (Currency, error) {
	if err := checkRange(d); err != nil {
		return Zero, err
	}
	return Currency{d: d.RoundBank(CurrencyPlaces)}, nil
}

// MustCurrency parses s and panics on error. Meant for constants and tests.
func MustCurrency(s string) Currency {
	c, err := ParseCurrency(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCurrency parses a dot-separated decimal such as "10" or "10.50".
func ParseCurrency(s string) (Currency, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return NewCurrency(d)
}

// CurrencyFromInt builds a whole amount.
func CurrencyFromInt(v int64) Currency { return Currency{d: decimal.NewFromInt(v)} }

func (c Currency) Decimal() decimal.Decimal { return c.d }

func (c Currency) Add(o Currency) (Currency, error) { return NewCurrency(c.d.Add(o.d)) }

func (c Currency) Sub(o Currency) (Currency, error) { return NewCurrency(c.d.Sub(o.d)) }

// MulQuantity multiplies the amount by q. The product keeps three digits and
// is then materialised to two, both steps rounding half-to-even.
func (c Currency) MulQuantity(q Quantity) (Currency, error) {
	p := c.d.Mul(q.d).RoundBank(QuantityPlaces)
	return NewCurrency(p)
}

// MulDecimal multiplies by an arbitrary factor (percentages, rates).
func (c Currency) MulDecimal(f decimal.Decimal) (Currency, error) {
	return NewCurrency(c.d.Mul(f).RoundBank(QuantityPlaces))
}

// DivToQuantity returns c / unit as a quantity, e.g. the weight paid for by a
// scale price label.
func (c Currency) DivToQuantity(unit Currency) (Quantity, error) {
	if unit.d.IsZero() {
		return ZeroQty, fmt.Errorf("%w: division by zero", ErrValueOutOfRange)
	}
	return NewQuantity(c.d.DivRound(unit.d, QuantityPlaces+2))
}

// Split divides the amount into n parts; the rounding remainder goes to the
// first part so that the parts always sum to c.
func (c Currency) Split(n int) ([]Currency, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: cannot split in %d parts", ErrValueOutOfRange, n)
	}
	part := c.d.Div(decimal.NewFromInt(int64(n))).RoundDown(CurrencyPlaces)
	parts := make([]Currency, n)
	rest := c.d
	for i := n - 1; i > 0; i-- {
		parts[i] = Currency{d: part}
		rest = rest.Sub(part)
	}
	parts[0] = Currency{d: rest}
	return parts, nil
}

func (c Currency) IsZero() bool                 { return c.d.IsZero() }
func (c Currency) IsPositive() bool             { return c.d.IsPositive() }
func (c Currency) IsNegative() bool             { return c.d.IsNegative() }
func (c Currency) Cmp(o Currency) int           { return c.d.Cmp(o.d) }
func (c Currency) Equal(o Currency) bool        { return c.d.Equal(o.d) }
func (c Currency) LessThan(o Currency) bool     { return c.d.LessThan(o.d) }
func (c Currency) GreaterThan(o Currency) bool  { return c.d.GreaterThan(o.d) }
func (c Currency) String() string               { return c.d.StringFixed(CurrencyPlaces) }
func (c Currency) MarshalJSON() ([]byte, error) { return []byte(`"` + c.String() + `"`), nil }

func (c *Currency) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := NewCurrency(d)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Currency) Value() (driver.Value, error) { return c.d.Value() }

func (c *Currency) Scan(src interface{}) error {
	if err := c.d.Scan(src); err != nil {
		return err
	}
	c.d = c.d.RoundBank(CurrencyPlaces)
	return nil
}

// Sum adds all amounts.
func Sum(values ...Currency) (Currency, error) {
	total := Zero
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return Zero, err
		}
	}
	return total, nil
}

// ── Quantity ──────────────────────────────────────────────────────────────────

// Quantity is a three-digit decimal amount of goods.
type Quantity struct {
	d decimal.Decimal
}

var (
	ZeroQty = Quantity{}
	OneQty  = Quantity{d: decimal.NewFromInt(1)}
)

func NewQuantity(d decimal.Decimal) (Quantity, error) {
	if err := checkRange(d); err != nil {
		return ZeroQty, err
	}
	return Quantity{d: d.RoundBank(QuantityPlaces)}, nil
}

func MustQuantity(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return ZeroQty, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return NewQuantity(d)
}

func QuantityFromInt(v int64) Quantity { return Quantity{d: decimal.NewFromInt(v)} }

func (q Quantity) Decimal() decimal.Decimal { return q.d }

func (q Quantity) Add(o Quantity) (Quantity, error) { return NewQuantity(q.d.Add(o.d)) }
func (q Quantity) Sub(o Quantity) (Quantity, error) { return NewQuantity(q.d.Sub(o.d)) }
func (q Quantity) Mul(o Quantity) (Quantity, error) { return NewQuantity(q.d.Mul(o.d)) }

func (q Quantity) IsZero() bool                { return q.d.IsZero() }
func (q Quantity) IsPositive() bool            { return q.d.IsPositive() }
func (q Quantity) IsNegative() bool            { return q.d.IsNegative() }
func (q Quantity) IsInteger() bool             { return q.d.Equal(q.d.Truncate(0)) }
func (q Quantity) Cmp(o Quantity) int          { return q.d.Cmp(o.d) }
func (q Quantity) Equal(o Quantity) bool       { return q.d.Equal(o.d) }
func (q Quantity) LessThan(o Quantity) bool    { return q.d.LessThan(o.d) }
func (q Quantity) GreaterThan(o Quantity) bool { return q.d.GreaterThan(o.d) }

// String renders whole quantities without decimals and trims trailing zeros
// otherwise: 2 → "2", 1.500 → "1.5".
func (q Quantity) String() string {
	if q.IsInteger() {
		return q.d.StringFixed(0)
	}
	return q.d.String()
}

// Fixed renders all three places ("1.500").
func (q Quantity) Fixed() string { return q.d.StringFixed(QuantityPlaces) }

func (q Quantity) MarshalJSON() ([]byte, error) { return []byte(`"` + q.Fixed() + `"`), nil }

func (q *Quantity) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := NewQuantity(d)
	if err != nil {
		return err
	}
	*q = v
	return nil
}

func (q Quantity) Value() (driver.Value, error) { return q.d.Value() }

func (q *Quantity) Scan(src interface{}) error {
	if err := q.d.Scan(src); err != nil {
		return err
	}
	q.d = q.d.RoundBank(QuantityPlaces)
	return nil
}
