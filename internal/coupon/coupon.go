// Package coupon mirrors a sale onto the fiscal device. Two implementations
// share one state machine: Immediate sends every draft edit to the device as
// it happens, Deferred builds the whole coupon at checkout.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"retailpos/internal/apierror"
	"retailpos/internal/draft"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository"
	"retailpos/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

// State of the coupon on the device.
type State int

const (
	Closed State = iota
	Opened
	Items
	Totalized
	Paid
	Cancelled
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opened:
		return "opened"
	case Items:
		return "items"
	case Totalized:
		return "totalized"
	case Paid:
		return "paid"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	Closed:    {Opened},
	Opened:    {Items, Cancelled},
	Items:     {Items, Totalized, Cancelled},
	Totalized: {Totalized, Paid, Cancelled},
	Paid:      {Closed, Cancelled},
	Cancelled: {Closed},
}

// ErrIllegalTransition is wrapped by every refused state change.
var ErrIllegalTransition = apierror.InvalidStatus("illegal coupon transition")

// ErrDeviceHeld is returned when another station has a coupon open on the
// shared device. It is a busy error, so consent may retry it.
var ErrDeviceHeld = fmt.Errorf("%w: in use by another station", ErrDeviceBusy)

// ErrCheckoutCancelled is returned when the context ends at a cancellation
// point of Confirm.
var ErrCheckoutCancelled = apierror.InvalidStatus("checkout cancelled")

// Consent decides whether a transient device failure is retried. attempt is
// 1-based.
type Consent interface {
	Retry(ctx context.Context, attempt int, err error) bool
}

// ConsentFunc adapts a function to Consent.
type ConsentFunc func(ctx context.Context, attempt int, err error) bool

func (f ConsentFunc) Retry(ctx context.Context, attempt int, err error) bool { return f(ctx, attempt, err) }

// AlwaysRetry retries up to the configured limit.
var AlwaysRetry = ConsentFunc(func(context.Context, int, error) bool { return true })

// NeverRetry gives up on the first failure.
var NeverRetry = ConsentFunc(func(context.Context, int, error) bool { return false })

// Pay runs the payment flow once the coupon is totalized and returns the
// payments to register on the device.
type Pay func(ctx context.Context) ([]model.Payment, error)

// ConfirmRequest carries everything Confirm needs.
type ConfirmRequest struct {
	Sale      *model.Sale
	Items     []*draft.Item
	Store     store.Store
	Savepoint string // empty when the store was opened for this checkout
	Subtotal  money.Currency
	Discount  money.Currency
	Surcharge money.Currency
	StationID uuid.UUID
	Pay       Pay
}

// Coupon is the fiscal side of a draft.
type Coupon interface {
	State() State
	Deferred() bool
	// AddItem mirrors a draft item; a no-op in deferred mode.
	AddItem(ctx context.Context, it *draft.Item) error
	// RemoveItem drops a mirrored draft item; a no-op in deferred mode.
	RemoveItem(ctx context.Context, it *draft.Item) error
	// Confirm totalizes, pays, closes the coupon and commits the store. On
	// failure the store is rolled back to the savepoint (or closed when there
	// is none), the coupon is cancelled and false is returned.
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
	// Cancel voids the coupon in progress.
	Cancel(ctx context.Context) error
	// Reset returns a paid or cancelled coupon to closed.
	Reset()
}

// Options configure a coupon.
type Options struct {
	RetryLimit int
	// RetryDelay is waited between open attempts.
	RetryDelay time.Duration
	Consent    Consent
}

// ── Device lease ──────────────────────────────────────────────────────────────

// lease gives one coupon at a time the device, from open until the coupon is
// paid or cancelled. Coupons created by the same Factory share it.
type lease struct {
	mu     sync.Mutex
	holder *machine
}

func (l *lease) acquire(m *machine) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != nil && l.holder != m {
		return false
	}
	l.holder = m
	return true
}

func (l *lease) release(m *machine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == m {
		l.holder = nil
	}
}

// ── Shared state machine ──────────────────────────────────────────────────────

type machine struct {
	dev     Device
	docs    repository.FiscalDocumentRepository
	opts    Options
	lease   *lease
	state   State
	mirrors map[uuid.UUID]string
}

func newMachine(dev Device, docs repository.FiscalDocumentRepository, opts Options) machine {
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = 1
	}
	if opts.Consent == nil {
		opts.Consent = NeverRetry
	}
	return machine{dev: dev, docs: docs, opts: opts, lease: &lease{}, mirrors: make(map[uuid.UUID]string)}
}

func (m *machine) State() State { return m.state }

func (m *machine) transition(to State) error {
	for _, s := range transitions[m.state] {
		if s == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, m.state, to)
}

// open opens a coupon, retrying busy devices while consent allows.
func (m *machine) open(ctx context.Context) error {
	if m.state == Paid || m.state == Cancelled {
		m.Reset()
	}
	if m.state != Closed {
		return nil
	}
	dctx := context.WithoutCancel(ctx)
	for attempt := 1; ; attempt++ {
		err := m.claim(dctx)
		if err == nil {
			return m.transition(Opened)
		}
		if !errors.Is(err, ErrDeviceBusy) || attempt >= m.opts.RetryLimit || !m.opts.Consent.Retry(ctx, attempt, err) {
			return apierror.Device("the fiscal device could not open the coupon", err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("coupon: device busy, retrying open")
		if m.opts.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return apierror.Device("the fiscal device could not open the coupon", err)
			case <-time.After(m.opts.RetryDelay):
			}
		}
	}
}

// claim takes the device lease and opens a coupon on it.
func (m *machine) claim(ctx context.Context) error {
	if !m.lease.acquire(m) {
		return ErrDeviceHeld
	}
	if err := m.dev.Open(ctx); err != nil {
		m.lease.release(m)
		return err
	}
	return nil
}

// inSync reports whether the device holds exactly the leaves of items.
func (m *machine) inSync(items []*draft.Item) bool {
	n := 0
	for _, it := range items {
		for _, leaf := range leavesOf(it) {
			if _, ok := m.mirrors[leaf.ID]; !ok {
				return false
			}
			n++
		}
	}
	return n == len(m.mirrors)
}

// mirror sends the leaves of it to the device. A package contributes only
// its components.
func (m *machine) mirror(ctx context.Context, it *draft.Item) error {
	if err := m.open(ctx); err != nil {
		return err
	}
	dctx := context.WithoutCancel(ctx)
	leaves := leavesOf(it)
	for _, leaf := range leaves {
		id, err := m.dev.AddItem(dctx, lineOf(leaf))
		if err != nil {
			// undo the lines already sent for this item
			for _, sent := range leaves {
				if lid, ok := m.mirrors[sent.ID]; ok {
					_ = m.dev.RemoveItem(dctx, lid)
					delete(m.mirrors, sent.ID)
				}
			}
			return apierror.Device("the fiscal device refused the item", err)
		}
		m.mirrors[leaf.ID] = id
		if err := m.transition(Items); err != nil {
			return err
		}
	}
	return nil
}

func (m *machine) unmirror(ctx context.Context, it *draft.Item) error {
	dctx := context.WithoutCancel(ctx)
	for _, leaf := range leavesOf(it) {
		id, ok := m.mirrors[leaf.ID]
		if !ok {
			continue
		}
		if err := m.dev.RemoveItem(dctx, id); err != nil {
			return apierror.Device("the fiscal device refused to remove the item", err)
		}
		delete(m.mirrors, leaf.ID)
	}
	return nil
}

func leavesOf(it *draft.Item) []*draft.Item {
	if it.Kind == draft.Package {
		return it.Children
	}
	return []*draft.Item{it}
}

func lineOf(it *draft.Item) Line {
	return Line{
		Code:        it.Sellable.Code,
		Description: it.FullDescription(),
		Quantity:    it.Quantity,
		Price:       it.Price,
		Unit:        it.Sellable.UnitDescription(),
		TaxClass:    it.Sellable.TaxClass,
		TaxRate:     it.Sellable.TaxRate,
	}
}

func (m *machine) Cancel(ctx context.Context) error {
	if m.state == Closed || m.state == Cancelled {
		return nil
	}
	if err := m.dev.Cancel(context.WithoutCancel(ctx)); err != nil {
		return apierror.Device("the fiscal device refused to cancel the coupon", err)
	}
	m.mirrors = make(map[uuid.UUID]string)
	m.lease.release(m)
	return m.transition(Cancelled)
}

func (m *machine) Reset() {
	m.state = Closed
	m.mirrors = make(map[uuid.UUID]string)
	m.lease.release(m)
}

// confirm runs the checkout against the device. build sends every item
// first, for deferred coupons.
func (m *machine) confirm(ctx context.Context, req ConfirmRequest, build bool) (bool, error) {
	fail := func(cause error) (bool, error) {
		m.rollback(req)
		if m.state != Closed {
			if err := m.Cancel(ctx); err != nil {
				log.Error().Err(err).Msg("coupon: cancel after failed checkout")
			}
		}
		log.Info().Err(cause).Str("state", m.state.String()).Msg("coupon: checkout cancelled")
		return false, cause
	}

	if m.state == Paid || m.state == Cancelled {
		m.Reset()
	}
	// An immediate coupon cancelled by an earlier attempt, or reopened with
	// only the lines added since, is voided and sent again in full.
	if !build && m.state != Closed && !m.inSync(req.Items) {
		log.Warn().Str("state", m.state.String()).Msg("coupon: device out of sync with the draft, rebuilding")
		if err := m.Cancel(ctx); err != nil {
			return fail(err)
		}
		m.Reset()
	}
	if build || m.state == Closed {
		for _, it := range req.Items {
			if err := m.mirror(ctx, it); err != nil {
				return fail(err)
			}
		}
	}
	if err := m.open(ctx); err != nil {
		return fail(err)
	}
	if m.state == Opened {
		return fail(fmt.Errorf("%w: empty coupon", ErrIllegalTransition))
	}
	if ctx.Err() != nil {
		return fail(ErrCheckoutCancelled)
	}

	dctx := context.WithoutCancel(ctx)
	total, err := m.dev.Totalize(dctx, req.Discount, req.Surcharge)
	if err != nil {
		return fail(apierror.Device("the fiscal device could not totalize the coupon", err))
	}
	if err := m.transition(Totalized); err != nil {
		return fail(err)
	}

	payments, err := req.Pay(ctx)
	if err != nil {
		return fail(err)
	}
	for _, p := range payments {
		if err := m.dev.AddPayment(dctx, p.Method, p.Value); err != nil {
			return fail(apierror.Device("the fiscal device refused the payment", err))
		}
	}
	if ctx.Err() != nil {
		return fail(ErrCheckoutCancelled)
	}

	receipt, err := m.dev.Close(dctx)
	if err != nil {
		return fail(apierror.Device("the fiscal device could not close the coupon", err))
	}
	if err := m.transition(Paid); err != nil {
		return fail(err)
	}

	number := receipt.CouponNumber
	doc := &model.FiscalDocument{
		SaleID:       req.Sale.ID,
		StationID:    req.StationID,
		DeviceSerial: receipt.Serial,
		CouponNumber: &number,
		Total:        total,
		Status:       model.FiscalIssued,
		Payload:      datatypes.JSON(receipt.Payload),
		CreatedAt:    time.Now(),
	}
	if err := m.docs.Create(ctx, req.Store.DB(), doc); err != nil {
		return fail(apierror.Fatal("could not record the fiscal document", err))
	}
	if err := req.Store.Commit(); err != nil {
		return fail(apierror.Fatal("could not save the sale after closing the coupon", err))
	}
	m.lease.release(m)

	log.Info().
		Str("sale_id", req.Sale.ID.String()).
		Int64("coupon", number).
		Str("total", total.String()).
		Msg("coupon: closed")
	return true, nil
}

func (m *machine) rollback(req ConfirmRequest) {
	var err error
	if req.Savepoint != "" {
		err = req.Store.RollbackToSavepoint(req.Savepoint)
	} else {
		err = req.Store.Rollback(true)
	}
	if err != nil {
		log.Error().Err(err).Str("savepoint", req.Savepoint).Msg("coupon: rollback after failed checkout")
	}
}

// ── Implementations ───────────────────────────────────────────────────────────

// Immediate mirrors every draft edit onto the device as it happens.
type Immediate struct{ machine }

func NewImmediate(dev Device, docs repository.FiscalDocumentRepository, opts Options) *Immediate {
	return &Immediate{machine: newMachine(dev, docs, opts)}
}

func (c *Immediate) Deferred() bool { return false }

func (c *Immediate) AddItem(ctx context.Context, it *draft.Item) error {
	return c.mirror(ctx, it)
}

func (c *Immediate) RemoveItem(ctx context.Context, it *draft.Item) error {
	return c.unmirror(ctx, it)
}

func (c *Immediate) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	return c.confirm(ctx, req, false)
}

// Deferred ignores draft edits and builds the coupon in draft order at
// checkout.
type Deferred struct{ machine }

func NewDeferred(dev Device, docs repository.FiscalDocumentRepository, opts Options) *Deferred {
	return &Deferred{machine: newMachine(dev, docs, opts)}
}

func (c *Deferred) Deferred() bool { return true }

func (c *Deferred) AddItem(context.Context, *draft.Item) error { return nil }

func (c *Deferred) RemoveItem(context.Context, *draft.Item) error { return nil }

func (c *Deferred) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	return c.confirm(ctx, req, true)
}

var (
	_ Coupon = (*Immediate)(nil)
	_ Coupon = (*Deferred)(nil)
)

// ── Factory ───────────────────────────────────────────────────────────────────

// Factory creates the coupon of a draft.
type Factory interface {
	Create(deferred bool) Coupon
}

type factory struct {
	dev   Device
	docs  repository.FiscalDocumentRepository
	opts  Options
	lease *lease
}

// NewFactory returns a Factory sharing dev across every coupon it creates.
// A coupon holds the device from open until it is paid or cancelled; the
// others get ErrDeviceHeld meanwhile.
func NewFactory(dev Device, docs repository.FiscalDocumentRepository, opts Options) Factory {
	return &factory{dev: dev, docs: docs, opts: opts, lease: &lease{}}
}

func (f *factory) Create(deferred bool) Coupon {
	if deferred {
		c := NewDeferred(f.dev, f.docs, f.opts)
		c.lease = f.lease
		return c
	}
	c := NewImmediate(f.dev, f.docs, f.opts)
	c.lease = f.lease
	return c
}
