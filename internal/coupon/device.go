package coupon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"retailpos/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrDeviceBusy marks a transient device failure worth retrying.
var ErrDeviceBusy = errors.New("fiscal device busy")

// Line is one coupon item as sent to the device.
type Line struct {
	Code        string           `json:"code"`
	Description string           `json:"description"`
	Quantity    money.Quantity   `json:"quantity"`
	Price       money.Currency   `json:"price"`
	Unit        string           `json:"unit,omitempty"`
	TaxClass    string           `json:"tax_class"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
}

// Receipt is what the device returns when a coupon is closed.
type Receipt struct {
	Serial       string          `json:"serial"`
	CouponNumber int64           `json:"coupon_number"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Device drives one fiscal printer. Calls are serialised by the caller.
type Device interface {
	Open(ctx context.Context) error
	AddItem(ctx context.Context, l Line) (string, error)
	RemoveItem(ctx context.Context, id string) error
	Totalize(ctx context.Context, discount, surcharge money.Currency) (money.Currency, error)
	AddPayment(ctx context.Context, method string, value money.Currency) error
	Close(ctx context.Context) (*Receipt, error)
	// Cancel voids the open coupon, or the last closed one when none is open.
	Cancel(ctx context.Context) error
}

// ── Virtual printer ───────────────────────────────────────────────────────────

// VirtualPrinter is an in-memory Device used when no fiscal sidecar is
// configured, and by tests. Fail* fields inject errors into the next call.
type VirtualPrinter struct {
	mu     sync.Mutex
	Serial string

	open     bool
	lines    map[string]Line
	order    []string
	total    money.Currency
	payments money.Currency
	next     int64

	// Closed keeps every receipt issued.
	Closed []Receipt
	// Cancelled counts voided coupons.
	Cancelled int

	FailOpen     []error
	FailAddItem  error
	FailTotalize error
	FailClose    error
}

var _ Device = (*VirtualPrinter)(nil)

func NewVirtualPrinter(serial string) *VirtualPrinter {
	return &VirtualPrinter{Serial: serial}
}

func (p *VirtualPrinter) Open(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.FailOpen) > 0 {
		err := p.FailOpen[0]
		p.FailOpen = p.FailOpen[1:]
		return err
	}
	if p.open {
		return errors.New("coupon already open")
	}
	p.open = true
	p.lines = make(map[string]Line)
	p.order = nil
	p.total, p.payments = money.Zero, money.Zero
	return nil
}

func (p *VirtualPrinter) AddItem(_ context.Context, l Line) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return "", errors.New("no open coupon")
	}
	if err := p.FailAddItem; err != nil {
		p.FailAddItem = nil
		return "", err
	}
	id := uuid.NewString()
	p.lines[id] = l
	p.order = append(p.order, id)
	return id, nil
}

func (p *VirtualPrinter) RemoveItem(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.lines[id]; !ok {
		return fmt.Errorf("unknown coupon item %s", id)
	}
	delete(p.lines, id)
	return nil
}

// Lines returns the current coupon lines in insertion order.
func (p *VirtualPrinter) Lines() []Line {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Line
	for _, id := range p.order {
		if l, ok := p.lines[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (p *VirtualPrinter) Totalize(_ context.Context, discount, surcharge money.Currency) (money.Currency, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.FailTotalize; err != nil {
		p.FailTotalize = nil
		return money.Zero, err
	}
	total := money.Zero
	for _, id := range p.order {
		l, ok := p.lines[id]
		if !ok {
			continue
		}
		v, err := l.Price.MulQuantity(l.Quantity)
		if err != nil {
			return money.Zero, err
		}
		if total, err = total.Add(v); err != nil {
			return money.Zero, err
		}
	}
	total, _ = total.Sub(discount)
	total, _ = total.Add(surcharge)
	p.total = total
	return total, nil
}

func (p *VirtualPrinter) AddPayment(_ context.Context, _ string, value money.Currency) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	p.payments, err = p.payments.Add(value)
	return err
}

func (p *VirtualPrinter) Close(context.Context) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.FailClose; err != nil {
		p.FailClose = nil
		return nil, err
	}
	if p.payments.LessThan(p.total) {
		return nil, fmt.Errorf("payments %s do not cover %s", p.payments, p.total)
	}
	p.next++
	payload, _ := json.Marshal(map[string]string{"total": p.total.String(), "paid": p.payments.String()})
	r := Receipt{Serial: p.Serial, CouponNumber: p.next, Payload: payload}
	p.Closed = append(p.Closed, r)
	p.open = false
	return &r, nil
}

func (p *VirtualPrinter) Cancel(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	p.Cancelled++
	return nil
}
