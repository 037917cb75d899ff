// Package event is the synchronous domain event dispatcher of the POS.
// Handlers run on the emitting goroutine in subscription order. Confirm may
// be replayed after a recovery, so handlers must be idempotent.
package event

import (
	"context"
	"errors"
	"sync"
	"time"

	"retailpos/internal/model"
	"retailpos/internal/money"

	"github.com/google/uuid"
)

// Name identifies an event type.
type Name string

const (
	POSConfirmSale            Name = "pos_confirm_sale"
	POSAddSellable            Name = "pos_add_sellable"
	CloseLoanWizardFinish     Name = "close_loan_wizard_finish"
	StockDecreaseWizardFinish Name = "stock_decrease_wizard_finish"
	ClientSaleValidation      Name = "client_sale_validation"
)

// Event is anything the bus can dispatch.
type Event interface {
	EventName() Name
}

// ItemSnapshot is a draft line frozen at emission time.
type ItemSnapshot struct {
	SellableID  uuid.UUID      `json:"sellable_id"`
	Code        string         `json:"code"`
	Description string         `json:"description"`
	BatchID     *uuid.UUID     `json:"batch_id,omitempty"`
	Quantity    money.Quantity `json:"quantity"`
	Price       money.Currency `json:"price"`
	Total       money.Currency `json:"total"`
	Children    []ItemSnapshot `json:"children,omitempty"`
}

// POSConfirmSaleEvent fires after the coupon closed, before the store closes.
type POSConfirmSaleEvent struct {
	Sale  *model.Sale    `json:"sale"`
	Items []ItemSnapshot `json:"items"`
	At    time.Time      `json:"at"`
}

func (POSConfirmSaleEvent) EventName() Name { return POSConfirmSale }

// POSAddSellableEvent fires after every item added to a draft.
type POSAddSellableEvent struct {
	Sellable *model.Sellable      `json:"sellable"`
	Quantity money.Quantity       `json:"quantity"`
	Batch    *model.StorableBatch `json:"batch,omitempty"`
}

func (POSAddSellableEvent) EventName() Name { return POSAddSellable }

// CloseLoanWizardFinishEvent fires once loans closed through the POS are
// committed together with the sale of their kept items.
type CloseLoanWizardFinishEvent struct {
	Loans  []*model.Loan `json:"loans"`
	Sale   *model.Sale   `json:"sale,omitempty"`
	Source string        `json:"source"`
}

func (CloseLoanWizardFinishEvent) EventName() Name { return CloseLoanWizardFinish }

// StockDecreaseWizardFinishEvent fires after a manual stock decrease.
type StockDecreaseWizardFinishEvent struct {
	Decrease *model.StockDecrease `json:"stock_decrease"`
}

func (StockDecreaseWizardFinishEvent) EventName() Name { return StockDecreaseWizardFinish }

// ClientSaleValidationEvent asks subscribers whether the client may buy.
// Any handler error vetoes the client.
type ClientSaleValidationEvent struct {
	Client *model.Client `json:"client"`
}

func (ClientSaleValidationEvent) EventName() Name { return ClientSaleValidation }

// Handler reacts to an event. For vetoable events a non-nil error rejects.
type Handler func(ctx context.Context, e Event) error

// Emitter is what the sale engine depends on.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Bus dispatches events to subscribers synchronously.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	all      []Handler
}

var _ Emitter = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{handlers: make(map[Name][]Handler)}
}

// Subscribe registers h for events named n.
func (b *Bus) Subscribe(n Name, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[n] = append(b.handlers[n], h)
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Emit runs every matching handler and joins their errors. A failing handler
// does not stop the ones after it.
func (b *Bus) Emit(ctx context.Context, e Event) error {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[e.EventName()])+len(b.all))
	hs = append(hs, b.handlers[e.EventName()]...)
	hs = append(hs, b.all...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := h(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is an Emitter that keeps every event, for tests and replay.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
	return nil
}

// Named returns the recorded events named n.
func (r *Recorder) Named(n Name) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.Events {
		if e.EventName() == n {
			out = append(out, e)
		}
	}
	return out
}
