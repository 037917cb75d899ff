package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("quantity", "must be positive"), http.StatusUnprocessableEntity},
		{Stock("not enough"), http.StatusConflict},
		{Tax("bad tax setup", []string{"A1"}), http.StatusConflict},
		{InvalidStatus("sale is confirmed"), http.StatusConflict},
		{NotFound("no such item"), http.StatusNotFound},
		{Unauthorized("bad credentials"), http.StatusUnauthorized},
		{Device("printer offline", errors.New("io")), http.StatusServiceUnavailable},
		{Fatal("draft lost", nil), http.StatusInternalServerError},
		{errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(KindOf(tc.err).String(), func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("checkout: %w", Stock("not enough"))
	assert.Equal(t, KindStock, KindOf(err))
	assert.True(t, IsKind(err, KindStock))
	assert.False(t, IsKind(err, KindTax))
}

func TestErrorsIs_Sentinel(t *testing.T) {
	errEmpty := InvalidStatus("sale has no items")
	err := fmt.Errorf("confirm: %w", InvalidStatus("sale has no items"))

	assert.True(t, errors.Is(err, errEmpty))
	assert.False(t, errors.Is(err, InvalidStatus("sale already confirmed")))
	assert.False(t, errors.Is(err, Stock("sale has no items")))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "inconsistent taxes: A1, B2", Tax("inconsistent taxes", []string{"A1", "B2"}).Error())
	assert.Equal(t, "printer offline: timeout", Device("printer offline", errors.New("timeout")).Error())

	cause := errors.New("disk full")
	assert.ErrorIs(t, Fatal("", cause), cause)
	assert.Equal(t, "disk full", Fatal("", cause).Error())
}

func TestFrom(t *testing.T) {
	t.Run("unclassified errors are masked", func(t *testing.T) {
		got := From(errors.New("pq: relation sales does not exist"))
		assert.Equal(t, "internal server error", got.Detail)
		assert.Empty(t, got.Kind)
	})

	t.Run("field and items are carried", func(t *testing.T) {
		got := From(Validation("price", "below minimum"))
		assert.Equal(t, &APIError{Detail: "below minimum", Kind: "validation", Field: "price"}, got)

		got = From(Tax("inconsistent taxes", []string{"A1"}))
		assert.Equal(t, "inconsistent taxes: A1", got.Detail)
		assert.Equal(t, "tax", got.Kind)
	})

	t.Run("fatal hides the cause", func(t *testing.T) {
		got := From(fmt.Errorf("wrap: %w", Fatal("sale discarded", errors.New("tx aborted"))))
		require.NotNil(t, got)
		assert.Equal(t, "sale discarded", got.Detail)
		assert.Equal(t, "fatal", got.Kind)
	})
}
