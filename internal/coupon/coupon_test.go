package coupon

import (
	"context"
	"errors"
	"testing"

	"retailpos/internal/apierror"
	"retailpos/internal/draft"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository/repotest"
	"retailpos/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(t *testing.T, s *model.Sellable, qty, price string) *draft.Item {
	t.Helper()
	it, err := draft.NewItem(s, money.MustQuantity(qty), money.MustCurrency(price), nil)
	require.NoError(t, err)
	return it
}

func cashPay(value string) Pay {
	return func(context.Context) ([]model.Payment, error) {
		return []model.Payment{{Method: model.MethodMoney, Value: money.MustCurrency(value)}}, nil
	}
}

func request(st *storetest.Store, items []*draft.Item, total string, pay Pay) ConfirmRequest {
	return ConfirmRequest{
		Sale:      &model.Sale{ID: uuid.New()},
		Items:     items,
		Store:     st,
		Subtotal:  money.MustCurrency(total),
		StationID: uuid.New(),
		Pay:       pay,
	}
}

func TestTransitions(t *testing.T) {
	m := newMachine(NewVirtualPrinter("VP"), &repotest.FiscalDocuments{}, Options{})
	err := m.transition(Paid)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Equal(t, apierror.KindInvalidStatus, apierror.KindOf(err))

	require.NoError(t, m.transition(Opened))
	require.NoError(t, m.transition(Items))
	require.NoError(t, m.transition(Items))
	assert.Error(t, m.transition(Paid))
	require.NoError(t, m.transition(Totalized))
	require.NoError(t, m.transition(Totalized))
	require.NoError(t, m.transition(Paid))
	assert.Error(t, m.transition(Items))
	require.NoError(t, m.transition(Cancelled))
	require.NoError(t, m.transition(Closed))
}

func TestImmediate_MirrorsEdits(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	c := NewImmediate(vp, &repotest.FiscalDocuments{}, Options{})

	a := repotest.Product("A", "Cup", "3.50")
	b := repotest.Product("B", "Saucer", "5.00")
	pkg := item(t, repotest.Package("P", "Tea set",
		repotest.Component{Sellable: a, Quantity: "2", Price: "3.00"},
		repotest.Component{Sellable: b, Quantity: "1", Price: "4.00"},
	), "1", "0")
	rice := item(t, repotest.Product("R", "Rice", "10.00"), "1", "10.00")

	require.NoError(t, c.AddItem(ctx, pkg))
	require.NoError(t, c.AddItem(ctx, rice))
	assert.Equal(t, Items, c.State())
	lines := vp.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"A", "B", "R"}, []string{lines[0].Code, lines[1].Code, lines[2].Code})

	require.NoError(t, c.RemoveItem(ctx, pkg))
	lines = vp.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "R", lines[0].Code)
	assert.False(t, c.Deferred())
}

func TestImmediate_OpenRetriesWithConsent(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	vp.FailOpen = []error{ErrDeviceBusy, ErrDeviceBusy}
	var attempts []int
	consent := ConsentFunc(func(_ context.Context, attempt int, err error) bool {
		attempts = append(attempts, attempt)
		return true
	})
	c := NewImmediate(vp, &repotest.FiscalDocuments{}, Options{RetryLimit: 3, Consent: consent})

	require.NoError(t, c.AddItem(ctx, item(t, repotest.Product("R", "Rice", "10.00"), "1", "10.00")))
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Len(t, vp.Lines(), 1)
}

func TestImmediate_OpenRefusedRejectsItem(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	vp.FailOpen = []error{ErrDeviceBusy}
	c := NewImmediate(vp, &repotest.FiscalDocuments{}, Options{RetryLimit: 3, Consent: NeverRetry})

	err := c.AddItem(ctx, item(t, repotest.Product("R", "Rice", "10.00"), "1", "10.00"))
	assert.Equal(t, apierror.KindDevice, apierror.KindOf(err))
	assert.True(t, errors.Is(err, ErrDeviceBusy))
	assert.Equal(t, Closed, c.State())
}

func TestImmediate_RetryLimitBoundsConsent(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	vp.FailOpen = []error{ErrDeviceBusy, ErrDeviceBusy, ErrDeviceBusy}
	c := NewImmediate(vp, &repotest.FiscalDocuments{}, Options{RetryLimit: 2, Consent: AlwaysRetry})

	err := c.AddItem(ctx, item(t, repotest.Product("R", "Rice", "10.00"), "1", "10.00"))
	assert.Equal(t, apierror.KindDevice, apierror.KindOf(err))
	assert.Len(t, vp.FailOpen, 1)
}

func TestDeferred_BuildsAtConfirm(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	docs := &repotest.FiscalDocuments{}
	c := NewDeferred(vp, docs, Options{})
	st := storetest.New()

	x := item(t, repotest.Product("1", "X", "10.00"), "1", "10.00")
	require.NoError(t, c.AddItem(ctx, x))
	assert.Equal(t, Closed, c.State())
	assert.True(t, c.Deferred())

	req := request(st, []*draft.Item{x}, "10.00", cashPay("10.00"))
	ok, err := c.Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Paid, c.State())
	assert.Equal(t, []string{"commit"}, st.Ops)

	require.Len(t, vp.Closed, 1)
	require.Len(t, docs.List, 1)
	doc := docs.List[0]
	assert.Equal(t, req.Sale.ID, doc.SaleID)
	assert.Equal(t, "10.00", doc.Total.String())
	assert.Equal(t, int64(1), *doc.CouponNumber)
	assert.Equal(t, "VP", doc.DeviceSerial)
	assert.Equal(t, model.FiscalIssued, doc.Status)
}

func TestConfirm_PaymentFailureRollsBackToSavepoint(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	c := NewDeferred(vp, &repotest.FiscalDocuments{}, Options{})
	st := storetest.New()
	require.NoError(t, st.Savepoint("pos_checkout"))

	x := item(t, repotest.Product("1", "X", "10.00"), "1", "10.00")
	req := request(st, []*draft.Item{x}, "10.00", func(context.Context) ([]model.Payment, error) {
		return nil, apierror.Validation("payment", "installments do not match")
	})
	req.Savepoint = "pos_checkout"

	ok, err := c.Confirm(ctx, req)
	assert.False(t, ok)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))
	assert.True(t, st.Has("rollback_to:pos_checkout"))
	assert.False(t, st.Obsolete())
	assert.False(t, st.Committed())
	assert.Equal(t, Cancelled, c.State())
	assert.Equal(t, 1, vp.Cancelled)
}

func TestConfirm_FailureWithoutSavepointClosesStore(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	vp.FailTotalize = errors.New("paper out")
	c := NewDeferred(vp, &repotest.FiscalDocuments{}, Options{})
	st := storetest.New()

	x := item(t, repotest.Product("1", "X", "10.00"), "1", "10.00")
	ok, err := c.Confirm(ctx, request(st, []*draft.Item{x}, "10.00", cashPay("10.00")))

	assert.False(t, ok)
	assert.Equal(t, apierror.KindDevice, apierror.KindOf(err))
	assert.Equal(t, []string{"rollback:close"}, st.Ops)
	assert.True(t, st.Obsolete())
}

func TestConfirm_CommitFailureVoidsCoupon(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	c := NewImmediate(vp, &repotest.FiscalDocuments{}, Options{})
	st := storetest.New()
	st.CommitErr = errors.New("connection reset")

	x := item(t, repotest.Product("1", "X", "10.00"), "1", "10.00")
	require.NoError(t, c.AddItem(ctx, x))
	ok, err := c.Confirm(ctx, request(st, []*draft.Item{x}, "10.00", cashPay("10.00")))

	assert.False(t, ok)
	assert.Equal(t, apierror.KindFatal, apierror.KindOf(err))
	assert.Equal(t, 1, vp.Cancelled)
	assert.Len(t, vp.Closed, 1)
	assert.Equal(t, []string{"commit:failed", "rollback:close"}, st.Ops)
}

func TestConfirm_CancelledContextBeforeTotalize(t *testing.T) {
	vp := NewVirtualPrinter("VP")
	c := NewDeferred(vp, &repotest.FiscalDocuments{}, Options{})
	st := storetest.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x := item(t, repotest.Product("1", "X", "10.00"), "1", "10.00")
	paid := false
	ok, err := c.Confirm(ctx, request(st, []*draft.Item{x}, "10.00", func(context.Context) ([]model.Payment, error) {
		paid = true
		return nil, nil
	}))

	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrCheckoutCancelled))
	assert.False(t, paid)
	assert.Empty(t, vp.Closed)
}

func TestImmediate_ConfirmAfterFailureResendsItems(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	c := NewImmediate(vp, &repotest.FiscalDocuments{}, Options{})

	x := item(t, repotest.Product("1", "X", "10.00"), "2", "10.00")
	require.NoError(t, c.AddItem(ctx, x))

	st := storetest.New()
	require.NoError(t, st.Savepoint("sp"))
	req := request(st, []*draft.Item{x}, "20.00", cashPay("5.00"))
	req.Savepoint = "sp"
	ok, err := c.Confirm(ctx, req)
	assert.False(t, ok)
	assert.Equal(t, apierror.KindDevice, apierror.KindOf(err))
	assert.Equal(t, Cancelled, c.State())

	req.Pay = cashPay("20.00")
	ok, err = c.Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, vp.Lines(), 1)
}

func TestFactory(t *testing.T) {
	f := NewFactory(NewVirtualPrinter("VP"), &repotest.FiscalDocuments{}, Options{})
	assert.True(t, f.Create(true).Deferred())
	assert.False(t, f.Create(false).Deferred())
}

func TestImmediate_ReopenedCouponIsRebuiltAtConfirm(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	c := NewImmediate(vp, &repotest.FiscalDocuments{}, Options{})

	x := item(t, repotest.Product("1", "X", "10.00"), "1", "10.00")
	require.NoError(t, c.AddItem(ctx, x))

	st := storetest.New()
	require.NoError(t, st.Savepoint("sp"))
	req := request(st, []*draft.Item{x}, "10.00", func(context.Context) ([]model.Payment, error) {
		return nil, apierror.Validation("method", "unknown payment method")
	})
	req.Savepoint = "sp"
	ok, _ := c.Confirm(ctx, req)
	require.False(t, ok)

	// the next edit opens a fresh coupon holding only the new line
	y := item(t, repotest.Product("2", "Y", "10.00"), "1", "10.00")
	require.NoError(t, c.AddItem(ctx, y))
	require.Len(t, vp.Lines(), 1)

	req = request(st, []*draft.Item{x, y}, "20.00", cashPay("20.00"))
	ok, err := c.Confirm(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, vp.Closed, 1)
	assert.JSONEq(t, `{"total":"20.00","paid":"20.00"}`, string(vp.Closed[0].Payload))
	codes := []string{}
	for _, l := range vp.Lines() {
		codes = append(codes, l.Code)
	}
	assert.Equal(t, []string{"1", "2"}, codes)
}

func TestFactory_DeviceHeldByOneCouponAtATime(t *testing.T) {
	ctx := context.Background()
	vp := NewVirtualPrinter("VP")
	f := NewFactory(vp, &repotest.FiscalDocuments{}, Options{RetryLimit: 2, Consent: AlwaysRetry})
	a := f.Create(false)
	b := f.Create(false)

	x := item(t, repotest.Product("1", "X", "10.00"), "1", "10.00")
	y := item(t, repotest.Product("2", "Y", "4.00"), "1", "4.00")
	require.NoError(t, a.AddItem(ctx, x))

	err := b.AddItem(ctx, y)
	assert.Equal(t, apierror.KindDevice, apierror.KindOf(err))
	assert.ErrorIs(t, err, ErrDeviceHeld)
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.Equal(t, Closed, b.State())
	require.Len(t, vp.Lines(), 1, "the other station's line must not reach the open coupon")

	ok, err := a.Confirm(ctx, request(storetest.New(), []*draft.Item{x}, "10.00", cashPay("10.00")))
	require.NoError(t, err)
	require.True(t, ok)

	// released once paid
	require.NoError(t, b.AddItem(ctx, y))
	require.NoError(t, b.Cancel(ctx))
	require.NoError(t, a.AddItem(ctx, x))
}
