package inventory

import (
	"context"
	"errors"
	"testing"

	"retailpos/internal/event"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository/repotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saleItem(s *model.Sellable, qty, decreased string) *model.SaleItem {
	return &model.SaleItem{
		ID:                uuid.New(),
		SellableID:        s.ID,
		Quantity:          money.MustQuantity(qty),
		QuantityDecreased: money.MustQuantity(decreased),
		Price:             s.BasePrice,
		Sellable:          s,
	}
}

func TestDecrease_TakesPendingQuantity(t *testing.T) {
	ctx := context.Background()
	stock := &repotest.Stock{}
	svc := NewService(stock, &event.Recorder{})
	branch := uuid.New()
	x := repotest.Product("1", "Lamp", "30.00")
	svcItem := repotest.Service("2", "Install", "50.00")
	stock.Set(x.Product.Storable.ID, branch, nil, money.MustQuantity("5"))

	items := []*model.SaleItem{saleItem(x, "3", "1"), saleItem(svcItem, "1", "0")}
	require.NoError(t, svc.Decrease(ctx, nil, branch, items))

	bal, err := svc.Balance(ctx, nil, x, branch, nil)
	require.NoError(t, err)
	assert.Equal(t, "3", bal.String())
	assert.Equal(t, "3", items[0].QuantityDecreased.String())
	require.Len(t, stock.Transactions, 1)
	tx := stock.Transactions[0]
	assert.Equal(t, model.StockTxSale, tx.Type)
	assert.Equal(t, "-2", tx.Quantity.String())
	assert.Equal(t, items[0].ID, *tx.ReferenceID)
	assert.True(t, items[1].QuantityDecreased.IsZero())
}

func TestReserve_NotEnoughStock(t *testing.T) {
	ctx := context.Background()
	stock := &repotest.Stock{}
	svc := NewService(stock, &event.Recorder{})
	branch := uuid.New()
	x := repotest.Product("1", "Lamp", "30.00")
	stock.Set(x.Product.Storable.ID, branch, nil, money.OneQty)

	it := saleItem(x, "2", "0")
	err := svc.Reserve(ctx, nil, branch, []*model.SaleItem{it})
	assert.True(t, errors.Is(err, ErrNotEnoughStock))
	assert.True(t, it.QuantityDecreased.IsZero())
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	stock := &repotest.Stock{}
	svc := NewService(stock, &event.Recorder{})
	branch := uuid.New()
	x := repotest.Product("1", "Lamp", "30.00")

	it := saleItem(x, "2", "2")
	require.NoError(t, svc.Release(ctx, nil, branch, []*model.SaleItem{it}))

	bal, _ := svc.Balance(ctx, nil, x, branch, nil)
	assert.Equal(t, "2", bal.String())
	assert.True(t, it.QuantityDecreased.IsZero())
	assert.Equal(t, model.StockTxRelease, stock.Transactions[0].Type)
}

func TestReturnLoan(t *testing.T) {
	ctx := context.Background()
	stock := &repotest.Stock{}
	svc := NewService(stock, &event.Recorder{})
	x := repotest.Product("1", "Drill", "200.00")
	loan := &model.Loan{ID: uuid.New(), BranchID: uuid.New(), Items: []model.LoanItem{
		{ID: uuid.New(), SellableID: x.ID, Quantity: money.MustQuantity("3"), SaleQuantity: money.OneQty,
			ReturnQuantity: money.MustQuantity("2"), Sellable: x},
	}}

	require.NoError(t, svc.ReturnLoan(ctx, nil, loan))
	bal, _ := svc.Balance(ctx, nil, x, loan.BranchID, nil)
	assert.Equal(t, "2", bal.String())
}

func TestCreateDecrease(t *testing.T) {
	ctx := context.Background()
	stock := &repotest.Stock{}
	rec := &event.Recorder{}
	svc := NewService(stock, rec)
	branch := uuid.New()
	x := repotest.Product("1", "Lamp", "30.00")
	stock.Set(x.Product.Storable.ID, branch, nil, money.MustQuantity("4"))

	assert.Error(t, svc.CreateDecrease(ctx, nil, &model.StockDecrease{BranchID: branch, Reason: "broken"}))

	d := &model.StockDecrease{BranchID: branch, ResponsibleID: uuid.New(), Reason: "broken", Items: []model.StockDecreaseItem{
		{SellableID: x.ID, Quantity: money.OneQty, Sellable: x},
	}}
	require.NoError(t, svc.CreateDecrease(ctx, nil, d))

	bal, _ := svc.Balance(ctx, nil, x, branch, nil)
	assert.Equal(t, "3", bal.String())
	require.Len(t, stock.Decreases, 1)
	evs := rec.Named(event.StockDecreaseWizardFinish)
	require.Len(t, evs, 1)
	assert.Same(t, d, evs[0].(event.StockDecreaseWizardFinishEvent).Decrease)

	tooMuch := &model.StockDecrease{BranchID: branch, Reason: "lost", Items: []model.StockDecreaseItem{
		{SellableID: x.ID, Quantity: money.MustQuantity("10"), Sellable: x},
	}}
	assert.True(t, errors.Is(svc.CreateDecrease(ctx, nil, tooMuch), ErrNotEnoughStock))
}
