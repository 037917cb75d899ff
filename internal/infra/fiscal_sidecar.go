package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"retailpos/internal/coupon"
	"retailpos/internal/money"
)

// FiscalSidecar drives the fiscal printer through the HTTP sidecar that owns
// the serial connection. Every call goes through the device breaker; a 409
// from the sidecar means the printer is busy and is reported as
// coupon.ErrDeviceBusy so the coupon flow can offer a retry.
type FiscalSidecar struct {
	baseURL    string
	httpClient *http.Client
	breaker    *DeviceBreaker
}

var _ coupon.Device = (*FiscalSidecar)(nil)

func NewFiscalSidecar(baseURL string, timeout time.Duration, breaker *DeviceBreaker) *FiscalSidecar {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FiscalSidecar{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// NewFiscalBreaker returns a breaker that does not count busy answers as
// device failures.
func NewFiscalBreaker() *DeviceBreaker {
	return NewDeviceBreaker(BreakerConfig{
		Ignore: func(err error) bool { return errors.Is(err, coupon.ErrDeviceBusy) },
	})
}

type sidecarItemResponse struct {
	ID string `json:"id"`
}

type sidecarTotalRequest struct {
	Discount  money.Currency `json:"discount"`
	Surcharge money.Currency `json:"surcharge"`
}

type sidecarTotalResponse struct {
	Total money.Currency `json:"total"`
}

type sidecarPaymentRequest struct {
	Method string         `json:"method"`
	Value  money.Currency `json:"value"`
}

type sidecarError struct {
	Detail string `json:"detail"`
}

func (s *FiscalSidecar) Open(ctx context.Context) error {
	return s.call(ctx, http.MethodPost, "/coupon", nil, nil)
}

func (s *FiscalSidecar) AddItem(ctx context.Context, l coupon.Line) (string, error) {
	var resp sidecarItemResponse
	if err := s.call(ctx, http.MethodPost, "/coupon/items", l, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("fiscal: sidecar returned an item without id")
	}
	return resp.ID, nil
}

func (s *FiscalSidecar) RemoveItem(ctx context.Context, id string) error {
	return s.call(ctx, http.MethodDelete, "/coupon/items/"+url.PathEscape(id), nil, nil)
}

func (s *FiscalSidecar) Totalize(ctx context.Context, discount, surcharge money.Currency) (money.Currency, error) {
	var resp sidecarTotalResponse
	err := s.call(ctx, http.MethodPost, "/coupon/totalize", sidecarTotalRequest{Discount: discount, Surcharge: surcharge}, &resp)
	if err != nil {
		return money.Zero, err
	}
	return resp.Total, nil
}

func (s *FiscalSidecar) AddPayment(ctx context.Context, method string, value money.Currency) error {
	return s.call(ctx, http.MethodPost, "/coupon/payments", sidecarPaymentRequest{Method: method, Value: value}, nil)
}

func (s *FiscalSidecar) Close(ctx context.Context) (*coupon.Receipt, error) {
	var raw json.RawMessage
	if err := s.call(ctx, http.MethodPost, "/coupon/close", nil, &raw); err != nil {
		return nil, err
	}
	var r coupon.Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("fiscal: decode receipt: %w", err)
	}
	r.Payload = raw
	return &r, nil
}

func (s *FiscalSidecar) Cancel(ctx context.Context) error {
	return s.call(ctx, http.MethodPost, "/coupon/cancel", nil, nil)
}

// call sends one request through the breaker and decodes the JSON answer
// into out when out is not nil.
func (s *FiscalSidecar) call(ctx context.Context, method, path string, in, out any) error {
	return s.breaker.Do(func() error {
		var body io.Reader
		if in != nil {
			b, err := json.Marshal(in)
			if err != nil {
				return fmt.Errorf("fiscal: marshal payload: %w", err)
			}
			body = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("fiscal: create request: %w", err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fiscal: sidecar unreachable: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusConflict:
			return fmt.Errorf("%w: %s", coupon.ErrDeviceBusy, readDetail(resp.Body))
		case resp.StatusCode >= 300:
			return fmt.Errorf("fiscal: sidecar returned %d: %s", resp.StatusCode, readDetail(resp.Body))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("fiscal: decode response: %w", err)
		}
		return nil
	})
}

func readDetail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e sidecarError
	if json.Unmarshal(b, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	return string(bytes.TrimSpace(b))
}
