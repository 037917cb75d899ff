package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrency_RoundsHalfToEven(t *testing.T) {
	c, err := NewCurrency(decimal.RequireFromString("2.345"))
	require.NoError(t, err)
	assert.Equal(t, "2.34", c.String())

	c, err = NewCurrency(decimal.RequireFromString("2.355"))
	require.NoError(t, err)
	assert.Equal(t, "2.36", c.String())
}

func TestCurrency_MulQuantity(t *testing.T) {
	price := MustCurrency("3.00")
	total, err := price.MulQuantity(MustQuantity("2"))
	require.NoError(t, err)
	assert.Equal(t, "6.00", total.String())

	// 0.99 × 1.255 = 1.24245 → 1.242 → 1.24
	total, err = MustCurrency("0.99").MulQuantity(MustQuantity("1.255"))
	require.NoError(t, err)
	assert.Equal(t, "1.24", total.String())
}

func TestCurrency_OutOfRange(t *testing.T) {
	big := Currency{d: MaxValue}
	_, err := big.Add(MustCurrency("1"))
	assert.True(t, errors.Is(err, ErrValueOutOfRange))
}

func TestCurrency_DivToQuantity(t *testing.T) {
	q, err := MustCurrency("15.00").DivToQuantity(MustCurrency("10.00"))
	require.NoError(t, err)
	assert.Equal(t, "1.500", q.Fixed())

	_, err = MustCurrency("1").DivToQuantity(Zero)
	assert.Error(t, err)
}

func TestCurrency_Split(t *testing.T) {
	parts, err := MustCurrency("100.00").Split(3)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, "33.34", parts[0].String())
	assert.Equal(t, "33.33", parts[1].String())
	assert.Equal(t, "33.33", parts[2].String())

	sum, err := Sum(parts...)
	require.NoError(t, err)
	assert.Equal(t, "100.00", sum.String())
}

func TestQuantity_String(t *testing.T) {
	assert.Equal(t, "2", MustQuantity("2.000").String())
	assert.Equal(t, "1.5", MustQuantity("1.500").String())
	assert.Equal(t, "0.125", MustQuantity("0.125").String())
	assert.True(t, MustQuantity("3").IsInteger())
	assert.False(t, MustQuantity("3.001").IsInteger())
}

func TestCurrency_JSON(t *testing.T) {
	b, err := MustCurrency("10").MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"10.00"`, string(b))

	var c Currency
	require.NoError(t, c.UnmarshalJSON([]byte(`"4.5"`)))
	assert.Equal(t, "4.50", c.String())
}
