// Package apierror provides the error taxonomy of the sale engine and the
// standardized response envelopes the terminal API returns. All errors leave
// the process through this package so internal details (DB errors, device
// dumps) never reach the client.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind,omitempty"`
	Field  string `json:"field,omitempty"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

// FieldErrors wraps multiple field errors produced by request validation.
type FieldErrors struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *FieldErrors {
	return &FieldErrors{Detail: "validation error", Fields: fields}
}

// ── Domain taxonomy ───────────────────────────────────────────────────────────

// Kind classifies an error by how the terminal must surface it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is user-correctable input; shown inline, no state change.
	KindValidation
	// KindStock refuses an add; the barcode entry is cleared.
	KindStock
	// KindTax lists sellables with inconsistent tax setup; confirm aborts.
	KindTax
	// KindInvalidStatus is an illegal state transition.
	KindInvalidStatus
	// KindDevice is a fiscal device refusal; rolls back to the savepoint.
	KindDevice
	// KindFatal discards the current draft.
	KindFatal
	// KindNotFound is a lookup miss the caller may resolve through search.
	KindNotFound
	// KindUnauthorized is a failed login or an invalid session.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStock:
		return "stock"
	case KindTax:
		return "tax"
	case KindInvalidStatus:
		return "invalid_status"
	case KindDevice:
		return "device"
	case KindFatal:
		return "fatal"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is a classified domain error.
type Error struct {
	Kind  Kind
	Field string
	Msg   string
	// Items names the offending records (sellable codes for tax errors).
	Items []string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if len(e.Items) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Items, ", "))
	}
	if e.Err != nil && msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two classified errors of the same kind and message, which lets
// package-level sentinels built with these constructors work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg && t.Field == e.Field
}

func Validation(field, msg string) *Error { return &Error{Kind: KindValidation, Field: field, Msg: msg} }

func Validationf(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func Stock(msg string) *Error { return &Error{Kind: KindStock, Msg: msg} }

func Tax(msg string, sellables []string) *Error {
	return &Error{Kind: KindTax, Msg: msg, Items: sellables}
}

func InvalidStatus(msg string) *Error { return &Error{Kind: KindInvalidStatus, Msg: msg} }

func Device(msg string, err error) *Error { return &Error{Kind: KindDevice, Msg: msg, Err: err} }

func Fatal(msg string, err error) *Error { return &Error{Kind: KindFatal, Msg: msg, Err: err} }

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Msg: msg} }

func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Msg: msg} }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

// HTTPStatus maps an error to the response status used by the terminal API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindStock, KindTax, KindInvalidStatus:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindDevice:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// From builds the response envelope. Unclassified errors are masked.
func From(err error) *APIError {
	var e *Error
	if !errors.As(err, &e) {
		return New("internal server error")
	}
	if e.Kind == KindFatal {
		return &APIError{Detail: e.Msg, Kind: e.Kind.String()}
	}
	msg := e.Msg
	if len(e.Items) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Items, ", "))
	}
	return &APIError{Detail: msg, Kind: e.Kind.String(), Field: e.Field}
}
