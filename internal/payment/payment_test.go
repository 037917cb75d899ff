package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"retailpos/internal/apierror"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository/repotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(value string) *model.ReturnedSale {
	return &model.ReturnedSale{Items: []model.ReturnedSaleItem{{Quantity: money.OneQty, Price: money.MustCurrency(value)}}}
}

func TestTradeOffset(t *testing.T) {
	total := money.MustCurrency("15.00")

	off, err := TradeOffset(total, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "15.00", off.Remaining.String())

	_, err = TradeOffset(total, trade("15.00"), false)
	assert.True(t, errors.Is(err, ErrTradeEqualsTotal))
	assert.Contains(t, err.Error(), "add more items or return it in Sales app")

	off, err = TradeOffset(total, trade("15.00"), true)
	require.NoError(t, err, "as a discount the credit may cover the whole sale")
	assert.Equal(t, "15.00", off.Discount.String())
	assert.True(t, off.Remaining.IsZero())

	_, err = TradeOffset(total, trade("15.01"), false)
	assert.True(t, errors.Is(err, ErrTradeAboveTotal))
	_, err = TradeOffset(total, trade("15.01"), true)
	assert.True(t, errors.Is(err, ErrTradeAboveTotal))

	off, err = TradeOffset(total, trade("5.00"), false)
	require.NoError(t, err)
	assert.Equal(t, "10.00", off.Remaining.String())
	assert.True(t, off.Discount.IsZero())
	assert.Equal(t, "5.00", off.Credit.String())

	off, err = TradeOffset(total, trade("5.00"), true)
	require.NoError(t, err)
	assert.Equal(t, "5.00", off.Discount.String())
	assert.Equal(t, "10.00", off.Remaining.String())
}

type fixture struct {
	payments *repotest.Payments
	tills    *repotest.Tills
	composer *Composer
	sale     *model.Sale
	now      time.Time
}

func newFixture() *fixture {
	f := &fixture{payments: &repotest.Payments{}, tills: &repotest.Tills{}}
	f.composer = NewComposer(f.payments, f.tills)
	f.sale = &model.Sale{ID: uuid.New(), Identifier: 42, GroupID: uuid.New(), BranchID: uuid.New(), StationID: uuid.New()}
	f.now = time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC)
	return f
}

func sum(ps []model.Payment) money.Currency {
	total := money.Zero
	for _, p := range ps {
		total, _ = total.Add(p.Value)
	}
	return total
}

func TestCompose_MoneyPaidWithTillEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	require.NoError(t, f.tills.Open(ctx, nil, &model.Till{StationID: f.sale.StationID}))

	ps, err := f.composer.Compose(ctx, nil, Request{Sale: f.sale, Method: model.MethodMoney, Remaining: money.MustCurrency("10.00"), Now: f.now})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, model.PaymentPaid, ps[0].Status)
	assert.Equal(t, f.now, *ps[0].PaidDate)
	assert.Equal(t, f.sale.GroupID, ps[0].GroupID)
	assert.Equal(t, "10.00", ps[0].Value.String())
	require.Len(t, f.tills.Entries, 1)
	assert.Equal(t, ps[0].ID, *f.tills.Entries[0].PaymentID)
	assert.Equal(t, "Sale 42", f.tills.Entries[0].Description)
}

func TestCompose_SeparateCashierLeavesMoneyPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	require.NoError(t, f.tills.Open(ctx, nil, &model.Till{StationID: f.sale.StationID}))

	ps, err := f.composer.Compose(ctx, nil, Request{Sale: f.sale, Method: model.MethodMoney, Remaining: money.MustCurrency("10.00"), SeparateCashier: true})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, ps[0].Status)
	assert.Nil(t, ps[0].PaidDate)
	assert.Empty(t, f.tills.Entries)
}

func TestCompose_NoOpenTillIsFine(t *testing.T) {
	f := newFixture()
	ps, err := f.composer.Compose(context.Background(), nil, Request{Sale: f.sale, Method: model.MethodMoney, Remaining: money.MustCurrency("3.00")})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, ps[0].Status)
}

func TestCompose_Card(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.composer.Compose(ctx, nil, Request{Sale: f.sale, Method: model.MethodCard, Remaining: money.MustCurrency("50.00")})
	assert.True(t, errors.Is(err, ErrCardData))
	_, err = f.composer.Compose(ctx, nil, Request{Sale: f.sale, Method: model.MethodCard, Remaining: money.MustCurrency("50.00"),
		Card: &Card{AuthCode: "A1", CardType: "prepaid", Provider: "Cielo"}})
	assert.True(t, errors.Is(err, ErrCardData))
	assert.Empty(t, f.payments.List)

	ps, err := f.composer.Compose(ctx, nil, Request{Sale: f.sale, Method: model.MethodCard, Remaining: money.MustCurrency("50.00"),
		Card: &Card{AuthCode: " 123456 ", CardType: model.CardCredit, Provider: "Cielo", Device: "POS-1", Installments: 3}})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, model.PaymentPending, ps[0].Status)
	require.NotNil(t, ps[0].CardData)
	assert.Equal(t, "123456", ps[0].CardData.AuthCode)
	assert.Equal(t, 3, ps[0].CardData.Installments)
}

func TestCompose_Multiple(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	remaining := money.MustCurrency("100.00")

	_, err := f.composer.Compose(ctx, nil, Request{Sale: f.sale, Method: model.MethodMultiple, Remaining: remaining})
	assert.True(t, errors.Is(err, ErrNoInstallments))

	_, err = f.composer.Compose(ctx, nil, Request{Sale: f.sale, Method: model.MethodMultiple, Remaining: remaining, Installments: []Installment{
		{Method: model.MethodBill, Value: money.MustCurrency("100.00")},
		{Method: model.MethodBill, Value: money.Zero},
	}})
	assert.True(t, errors.Is(err, ErrInstallmentNotPos))

	_, err = f.composer.Compose(ctx, nil, Request{Sale: f.sale, Method: model.MethodMultiple, Remaining: remaining, Installments: []Installment{
		{Method: model.MethodBill, Value: money.MustCurrency("60.00")},
		{Method: model.MethodCheck, Value: money.MustCurrency("39.99")},
	}})
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))
	assert.Contains(t, err.Error(), "99.99 of 100.00")
	assert.Empty(t, f.payments.List)

	ins, err := SplitInstallments(remaining, 3, model.MethodBill, f.now)
	require.NoError(t, err)
	ps, err := f.composer.Compose(ctx, nil, Request{Sale: f.sale, Method: model.MethodMultiple, Remaining: remaining, Installments: ins, Now: f.now})
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, "100.00", sum(ps).String())
	assert.Equal(t, 1, ps[0].Installment)
	assert.Equal(t, 3, ps[2].Installment)
	assert.Equal(t, "1/3 Bill of sale 42", ps[0].Description)
}

func TestSplitInstallments(t *testing.T) {
	first := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	ins, err := SplitInstallments(money.MustCurrency("100.00"), 3, model.MethodBill, first)
	require.NoError(t, err)
	require.Len(t, ins, 3)
	assert.Equal(t, "33.34", ins[0].Value.String())
	assert.Equal(t, "33.33", ins[1].Value.String())
	assert.Equal(t, "33.33", ins[2].Value.String())
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), ins[2].DueDate)

	_, err = SplitInstallments(money.MustCurrency("10.00"), 0, model.MethodBill, first)
	assert.Error(t, err)
}

func TestCompose_FOBFreightIsSeparate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	transporter := uuid.New()
	delivery := &model.Delivery{FreightType: model.FreightFOBPayment, Price: money.MustCurrency("20.00"), TransporterID: &transporter}

	ins, err := SplitInstallments(money.MustCurrency("100.00"), 2, model.MethodBill, f.now)
	require.NoError(t, err)
	ps, err := f.composer.Compose(ctx, nil, Request{
		Sale: f.sale, Method: model.MethodMultiple, Remaining: money.MustCurrency("120.00"),
		Installments: ins, Delivery: delivery, Now: f.now,
	})
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.True(t, ps[0].IsFreight)
	assert.Equal(t, transporter, *ps[0].TransporterID)
	assert.Equal(t, "20.00", ps[0].Value.String())
	assert.Equal(t, 0, ps[0].Installment)
	assert.Equal(t, "120.00", sum(ps).String())

	// CIF freight stays inside the sale total
	cif := &model.Delivery{FreightType: model.FreightCIFInvoice, Price: money.MustCurrency("20.00")}
	ps, err = f.composer.Compose(ctx, nil, Request{Sale: f.sale, Method: model.MethodBill, Remaining: money.MustCurrency("120.00"), Delivery: cif})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.False(t, ps[0].IsFreight)
}

func TestCompose_UnknownMethod(t *testing.T) {
	f := newFixture()
	_, err := f.composer.Compose(context.Background(), nil, Request{Sale: f.sale, Method: "barter", Remaining: money.MustCurrency("1.00")})
	assert.True(t, errors.Is(err, ErrUnknownMethod))
}
