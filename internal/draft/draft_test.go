package draft

import (
	"context"
	"errors"
	"testing"

	"retailpos/internal/apierror"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository/repotest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	branch    uuid.UUID
	sellables *repotest.Sellables
	clients   *repotest.Clients
	sales     *repotest.Sales
	tokens    *repotest.Tokens
	stock     *repotest.Stock
	lookup    RepoLookup
	draft     *Draft
}

func newFixture() *fixture {
	f := &fixture{
		branch:    uuid.New(),
		sellables: &repotest.Sellables{},
		clients:   &repotest.Clients{},
		stock:     &repotest.Stock{},
	}
	f.sales = &repotest.Sales{Sellables: f.sellables, Clients: f.clients}
	f.tokens = &repotest.Tokens{Sales: f.sales}
	f.lookup = RepoLookup{Tokens: f.tokens, Sales: f.sales, Stock: f.stock}
	f.draft = New(f.branch, uuid.New(), &model.LoginUser{ID: uuid.New(), Username: "cashier"})
	return f
}

func mustItem(t *testing.T, s *model.Sellable, qty, price string) *Item {
	t.Helper()
	it, err := NewItem(s, money.MustQuantity(qty), money.MustCurrency(price), nil)
	require.NoError(t, err)
	return it
}

// ── Items ─────────────────────────────────────────────────────────────────────

func TestNewItem_PackageExpansion(t *testing.T) {
	f := newFixture()
	a := repotest.Product("A", "Cup", "3.50")
	b := repotest.Product("B", "Saucer", "5.00")
	p := repotest.Package("P", "Tea set",
		repotest.Component{Sellable: a, Quantity: "2", Price: "3.00"},
		repotest.Component{Sellable: b, Quantity: "1", Price: "4.00"},
	)

	it, err := NewItem(p, money.OneQty, money.MustCurrency("99.00"), nil)
	require.NoError(t, err)
	require.NoError(t, f.draft.AddItem(it))

	items := f.draft.Items()
	require.Len(t, items, 1)
	pkg := items[0]
	assert.Equal(t, Package, pkg.Kind)
	assert.True(t, pkg.Price.IsZero())
	assert.True(t, pkg.LineTotal().IsZero())
	require.Len(t, pkg.Children, 2)
	assert.Equal(t, "A", pkg.Children[0].Sellable.Code)
	assert.Equal(t, "2", pkg.Children[0].Quantity.String())
	assert.Equal(t, "3.00", pkg.Children[0].Price.String())
	assert.Equal(t, "B", pkg.Children[1].Sellable.Code)
	assert.Equal(t, "4.00", pkg.Children[1].Total().String())
	assert.Same(t, pkg, pkg.Children[0].Parent)
	assert.Equal(t, "10.00", pkg.Total().String())
	assert.Equal(t, "10.00", f.draft.Subtotal().String())
	assert.Len(t, f.draft.AllItems(), 3)
}

func TestItem_PackageQuantityRescalesChildren(t *testing.T) {
	f := newFixture()
	a := repotest.Product("A", "Cup", "3.50")
	p := repotest.Package("P", "Cups", repotest.Component{Sellable: a, Quantity: "2", Price: "3.00"})
	it := mustItem(t, p, "1", "0")
	require.NoError(t, f.draft.AddItem(it))

	require.NoError(t, f.draft.SetQuantity(it, money.MustQuantity("3")))

	assert.Equal(t, "6", it.Children[0].Quantity.String())
	assert.Equal(t, "18.00", f.draft.Subtotal().String())
}

func TestItem_Views(t *testing.T) {
	s := repotest.Weighed("10", "Cheese", "40.00")
	it, err := NewItem(s, money.MustQuantity("1.500"), s.BasePrice, &model.StorableBatch{ID: uuid.New(), BatchNumber: "L42"})
	require.NoError(t, err)

	assert.Equal(t, "1.5 kg", it.QuantityUnit())
	assert.Equal(t, "Cheese - Batch: L42", it.FullDescription())
	assert.Equal(t, "60.00", it.Total().String())

	whole := mustItem(t, repotest.Product("11", "Soap", "2.25"), "2", "2.25")
	assert.Equal(t, "2 un", whole.QuantityUnit())
}

func TestItem_LineTotalRoundsHalfEven(t *testing.T) {
	// 0.125 materialises to 0.12 and 0.135 to 0.14
	s := repotest.Weighed("12", "Nails", "0.25")
	it := mustItem(t, s, "0.5", "0.25")
	assert.Equal(t, "0.12", it.Total().String())
	it = mustItem(t, s, "0.5", "0.27")
	assert.Equal(t, "0.14", it.Total().String())
}

func TestRemoveItem_ChildrenFirstAndChildRefused(t *testing.T) {
	f := newFixture()
	a := repotest.Product("A", "Cup", "3.50")
	b := repotest.Product("B", "Saucer", "5.00")
	p := repotest.Package("P", "Tea set",
		repotest.Component{Sellable: a, Quantity: "2", Price: "3.00"},
		repotest.Component{Sellable: b, Quantity: "1", Price: "4.00"},
	)
	it := mustItem(t, p, "1", "0")
	require.NoError(t, f.draft.AddItem(it))

	err := f.draft.RemoveItem(it.Children[0])
	assert.True(t, errors.Is(err, ErrChildNotRemovable))
	assert.Len(t, f.draft.AllItems(), 3)

	var removed []string
	f.draft.Subscribe(func(c Change) {
		if c.Op == ItemRemoved {
			removed = append(removed, c.Item.Sellable.Code)
		}
	})
	require.NoError(t, f.draft.RemoveItem(it))
	assert.Equal(t, []string{"B", "A", "P"}, removed)
	assert.True(t, f.draft.IsEmpty())
	assert.True(t, f.draft.Subtotal().IsZero())
}

func TestDiscountAndSurcharge(t *testing.T) {
	f := newFixture()
	it := mustItem(t, repotest.Product("1", "Rice", "10.00"), "2", "10.00")
	require.NoError(t, f.draft.AddItem(it))

	assert.Error(t, f.draft.SetDiscount(money.MustCurrency("20.01")))
	require.NoError(t, f.draft.SetDiscount(money.MustCurrency("5.00")))
	require.NoError(t, f.draft.SetSurcharge(money.MustCurrency("1.50")))
	assert.Equal(t, "16.50", f.draft.Total().String())

	require.NoError(t, f.draft.SetQuantity(it, money.MustQuantity("0.4")))
	assert.Equal(t, "4.00", f.draft.EffectiveDiscount().String())
	assert.Equal(t, "1.50", f.draft.Total().String())
}

func TestSubtotalStaysInRange(t *testing.T) {
	prev := money.MaxValue
	money.SetMaxValue(decimal.NewFromInt(1000))
	t.Cleanup(func() { money.SetMaxValue(prev) })

	f := newFixture()
	tv := mustItem(t, repotest.Product("1", "TV", "600.00"), "1", "600.00")
	radio := mustItem(t, repotest.Product("3", "Radio", "300.00"), "1", "300.00")
	require.NoError(t, f.draft.AddItem(tv))
	require.NoError(t, f.draft.AddItem(radio))

	err := f.draft.AddItem(mustItem(t, repotest.Product("2", "Sofa", "500.00"), "1", "500.00"))
	assert.ErrorIs(t, err, ErrTotalOutOfRange)
	assert.Len(t, f.draft.Items(), 2)

	assert.ErrorIs(t, f.draft.SetQuantity(tv, money.MustQuantity("2")), ErrTotalOutOfRange)
	assert.Equal(t, "1", tv.Quantity.String())
	assert.ErrorIs(t, f.draft.SetPrice(radio, money.MustCurrency("401.00")), ErrTotalOutOfRange)
	assert.Equal(t, "300.00", radio.Price.String())
	assert.ErrorIs(t, f.draft.SetSurcharge(money.MustCurrency("100.01")), ErrTotalOutOfRange)

	assert.Equal(t, "900.00", f.draft.Total().String())
}

// ── Client & token ────────────────────────────────────────────────────────────

func TestSetToken_ReopensSavedSale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	y := f.sellables.Add(repotest.Product("Y", "Beer", "5.00"))
	c := f.clients.Add(&model.Client{Name: "Carla"})
	sale := f.sales.Put(&model.Sale{
		Status:   model.SaleOrdered,
		BranchID: f.branch,
		ClientID: &c.ID,
		Items: []model.SaleItem{{
			ID: uuid.New(), SellableID: y.ID,
			Quantity: money.MustQuantity("2"), QuantityDecreased: money.MustQuantity("2"),
			Price: money.MustCurrency("5.00"), BasePrice: y.BasePrice,
		}},
	})
	f.tokens.Add(&model.SaleToken{Code: "TBL7", BranchID: f.branch, Status: model.TokenOccupied, SaleID: &sale.ID})

	require.NoError(t, f.draft.SetToken(ctx, f.lookup, "tbl7"))

	items := f.draft.Items()
	require.Len(t, items, 1)
	assert.False(t, items[0].CanRemove())
	assert.Equal(t, sale.Items[0].ID, *items[0].OriginalSaleItemID)
	assert.Equal(t, c.ID, f.draft.Client().ID)
	assert.Equal(t, "10.00", f.draft.Subtotal().String())
	assert.Equal(t, model.TokenOccupied, f.draft.Token().Status)
	assert.Same(t, sale, f.draft.Sale())
	assert.False(t, f.draft.HasPendingItems())
	assert.True(t, errors.Is(f.draft.RemoveItem(items[0]), ErrNotRemovable))
	assert.True(t, errors.Is(f.draft.SetQuantity(items[0], money.OneQty), ErrNotEditable))
}

func TestSetToken_PackageRoundTrip(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.sellables.Add(repotest.Product("A", "Cup", "3.50"))
	p := f.sellables.Add(repotest.Package("P", "Cups", repotest.Component{Sellable: a, Quantity: "2", Price: "3.00"}))
	parentID := uuid.New()
	sale := f.sales.Put(&model.Sale{
		Status:   model.SaleOrdered,
		BranchID: f.branch,
		Items: []model.SaleItem{
			{ID: parentID, SellableID: p.ID, Quantity: money.MustQuantity("2"), Price: money.Zero},
			{ID: uuid.New(), SellableID: a.ID, ParentItemID: &parentID, Quantity: money.MustQuantity("4"), Price: money.MustCurrency("3.00")},
		},
	})
	f.tokens.Add(&model.SaleToken{Code: "T1", BranchID: f.branch, Status: model.TokenOccupied, SaleID: &sale.ID})

	require.NoError(t, f.draft.SetToken(ctx, f.lookup, "T1"))

	items := f.draft.Items()
	require.Len(t, items, 1)
	assert.Equal(t, Package, items[0].Kind)
	require.Len(t, items[0].Children, 1)
	assert.Same(t, items[0], items[0].Children[0].Parent)
	assert.Equal(t, "12.00", f.draft.Subtotal().String())
	for _, it := range f.draft.AllItems() {
		assert.False(t, it.CanRemove())
	}
}

func TestSetToken_DirectSaleAndMissing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.draft.SetToken(ctx, f.lookup, DirectSaleCode))
	assert.True(t, f.draft.IsDirectSale())

	err := f.draft.SetToken(ctx, f.lookup, "NOPE")
	assert.True(t, errors.Is(err, ErrTokenNotFound))
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestSetToken_RefusedWithPendingItems(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.tokens.Add(&model.SaleToken{Code: "T2", BranchID: f.branch})
	require.NoError(t, f.draft.AddItem(mustItem(t, repotest.Product("1", "Rice", "10.00"), "1", "10.00")))

	err := f.draft.SetToken(ctx, f.lookup, "T2")
	assert.True(t, errors.Is(err, ErrTokenChange))
	assert.Nil(t, f.draft.Token())
}

func TestSetClient_OneOpenTokenPerClient(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	c := f.clients.Add(&model.Client{Name: "Carla"})
	sale := f.sales.Put(&model.Sale{Status: model.SaleOrdered, BranchID: f.branch, ClientID: &c.ID})
	busy := f.tokens.Add(&model.SaleToken{Code: "T9", BranchID: f.branch, Status: model.TokenOccupied, SaleID: &sale.ID})
	f.tokens.Add(&model.SaleToken{Code: "T3", BranchID: f.branch})

	require.NoError(t, f.draft.SetToken(ctx, f.lookup, "T3"))
	err := f.draft.SetClient(ctx, f.lookup, c, true)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))
	assert.Contains(t, err.Error(), "T9")
	assert.Nil(t, f.draft.Client())

	// without tokens the rule does not apply
	require.NoError(t, f.draft.SetClient(ctx, f.lookup, c, false))
	assert.Equal(t, c, f.draft.Client())

	// the token already holding the client's sale is not a conflict
	f.draft.Reset()
	require.NoError(t, f.draft.SetToken(ctx, f.lookup, busy.Code))
	require.NoError(t, f.draft.SetClient(ctx, f.lookup, c, true))
}

// ── Stock ─────────────────────────────────────────────────────────────────────

func TestCheckAvailableStock(t *testing.T) {
	ctx := context.Background()

	t.Run("fractional boundary", func(t *testing.T) {
		f := newFixture()
		z := repotest.Weighed("Z", "Flour", "4.00")
		f.stock.Set(z.Product.Storable.ID, f.branch, nil, money.MustQuantity("1.00"))
		require.NoError(t, f.draft.AddItem(mustItem(t, z, "1.00", "4.00")))

		err := f.draft.CheckAvailableStock(ctx, f.lookup, z, nil, money.MustQuantity("0.5"), nil)
		assert.Equal(t, apierror.KindStock, apierror.KindOf(err))
	})

	t.Run("insufficient leaves the draft unchanged", func(t *testing.T) {
		f := newFixture()
		z := repotest.Product("Z", "Lamp", "30.00")
		f.stock.Set(z.Product.Storable.ID, f.branch, nil, money.OneQty)
		require.NoError(t, f.draft.AddItem(mustItem(t, z, "1", "30.00")))

		err := f.draft.CheckAvailableStock(ctx, f.lookup, z, nil, money.OneQty, nil)
		require.Error(t, err)
		assert.Equal(t, "available quantity is not enough", err.Error())
		assert.Len(t, f.draft.Items(), 1)
	})

	t.Run("reserved quantities are not counted twice", func(t *testing.T) {
		f := newFixture()
		z := repotest.Product("Z", "Lamp", "30.00")
		f.stock.Set(z.Product.Storable.ID, f.branch, nil, money.OneQty)
		it := mustItem(t, z, "2", "30.00")
		it.QuantityDecreased = money.MustQuantity("2")
		require.NoError(t, f.draft.AddItem(it))

		assert.NoError(t, f.draft.CheckAvailableStock(ctx, f.lookup, z, nil, money.OneQty, nil))
	})

	t.Run("editing excludes the edited item", func(t *testing.T) {
		f := newFixture()
		z := repotest.Product("Z", "Lamp", "30.00")
		f.stock.Set(z.Product.Storable.ID, f.branch, nil, money.MustQuantity("3"))
		it := mustItem(t, z, "2", "30.00")
		require.NoError(t, f.draft.AddItem(it))

		assert.NoError(t, f.draft.CheckAvailableStock(ctx, f.lookup, z, nil, money.MustQuantity("3"), it))
		assert.Error(t, f.draft.CheckAvailableStock(ctx, f.lookup, z, nil, money.MustQuantity("4"), it))
	})

	t.Run("services are not checked", func(t *testing.T) {
		f := newFixture()
		s := repotest.Service("S", "Assembly", "50.00")
		assert.NoError(t, f.draft.CheckAvailableStock(ctx, f.lookup, s, nil, money.MustQuantity("1000"), nil))
	})

	t.Run("package checks its components", func(t *testing.T) {
		f := newFixture()
		a := repotest.Product("A", "Cup", "3.50")
		p := repotest.Package("P", "Cups", repotest.Component{Sellable: a, Quantity: "2", Price: "3.00"})
		f.stock.Set(a.Product.Storable.ID, f.branch, nil, money.MustQuantity("3"))

		assert.NoError(t, f.draft.CheckAvailableStock(ctx, f.lookup, p, nil, money.OneQty, nil))
		assert.Error(t, f.draft.CheckAvailableStock(ctx, f.lookup, p, nil, money.MustQuantity("2"), nil))
	})

	t.Run("batch balance", func(t *testing.T) {
		f := newFixture()
		z := repotest.Product("Z", "Serum", "12.00")
		b1 := &model.StorableBatch{ID: uuid.New(), BatchNumber: "B1"}
		b2 := &model.StorableBatch{ID: uuid.New(), BatchNumber: "B2"}
		f.stock.Set(z.Product.Storable.ID, f.branch, &b1.ID, money.OneQty)
		f.stock.Set(z.Product.Storable.ID, f.branch, &b2.ID, money.OneQty)
		it, err := NewItem(z, money.OneQty, z.BasePrice, b1)
		require.NoError(t, err)
		require.NoError(t, f.draft.AddItem(it))

		assert.Error(t, f.draft.CheckAvailableStock(ctx, f.lookup, z, b1, money.OneQty, nil))
		assert.NoError(t, f.draft.CheckAvailableStock(ctx, f.lookup, z, b2, money.OneQty, nil))
	})
}

// ── Delivery ──────────────────────────────────────────────────────────────────

func validDelivery() *model.Delivery {
	plate := "abc-1d23"
	return &model.Delivery{
		Address:             "Rua das Flores, 10",
		FreightType:         model.FreightCIFUnknown,
		Price:               money.MustCurrency("15.00"),
		GrossWeight:         money.MustQuantity("2"),
		NetWeight:           money.MustQuantity("1.5"),
		VehicleLicensePlate: &plate,
	}
}

func TestDelivery_Singleton(t *testing.T) {
	f := newFixture()
	svc := repotest.Service("DLV", "Delivery", "0")
	f.draft.DeliveryServiceID = &svc.ID
	require.NoError(t, f.draft.AddItem(mustItem(t, repotest.Product("1", "Sofa", "900.00"), "1", "900.00")))

	direct := mustItem(t, svc, "1", "10.00")
	assert.True(t, errors.Is(f.draft.AddItem(direct), ErrDeliveryDirectAdd))

	d := validDelivery()
	require.NoError(t, f.draft.SetDelivery(d, svc))
	assert.Equal(t, "ABC1D23", *d.VehicleLicensePlate)
	assert.Len(t, f.draft.Items(), 2)
	assert.True(t, f.draft.Items()[0].Deliver)

	d2 := validDelivery()
	d2.Price = money.MustCurrency("20.00")
	require.NoError(t, f.draft.SetDelivery(d2, svc))
	assert.Len(t, f.draft.Items(), 2)
	assert.Equal(t, "920.00", f.draft.Subtotal().String())
	assert.Same(t, d2, f.draft.Delivery())

	require.NoError(t, f.draft.RemoveItem(f.draft.DeliveryItem()))
	assert.Nil(t, f.draft.Delivery())
	assert.Nil(t, f.draft.DeliveryItem())
}

func TestValidateDelivery(t *testing.T) {
	bad := []struct {
		name  string
		field string
		edit  func(d *model.Delivery)
	}{
		{"net above gross", "gross_weight", func(d *model.Delivery) { d.NetWeight = money.MustQuantity("3") }},
		{"plate", "vehicle_license_plate", func(d *model.Delivery) { p := "AB12345"; d.VehicleLicensePlate = &p }},
		{"state", "vehicle_state", func(d *model.Delivery) { s := "S"; d.VehicleState = &s }},
		{"address", "address", func(d *model.Delivery) { d.Address = " " }},
		{"fob without transporter", "transporter", func(d *model.Delivery) { d.FreightType = model.FreightFOBPayment }},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			d := validDelivery()
			tc.edit(d)
			err := ValidateDelivery(d)
			var e *apierror.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, apierror.KindValidation, e.Kind)
			assert.Equal(t, tc.field, e.Field)
		})
	}

	old := "XYZ1234"
	d := validDelivery()
	d.VehicleLicensePlate = &old
	assert.NoError(t, ValidateDelivery(d))
}

// ── Trade & loans ─────────────────────────────────────────────────────────────

func TestSetTrade(t *testing.T) {
	f := newFixture()
	assert.Error(t, f.draft.SetTrade(&model.ReturnedSale{BranchID: uuid.New(), Status: model.TradePending}))
	assert.Equal(t, apierror.KindInvalidStatus,
		apierror.KindOf(f.draft.SetTrade(&model.ReturnedSale{BranchID: f.branch, Status: model.TradeConfirmed})))
	require.NoError(t, f.draft.SetTrade(&model.ReturnedSale{BranchID: f.branch, Status: model.TradePending}))
	assert.NotNil(t, f.draft.Trade())
}

func TestAddLoanItems(t *testing.T) {
	f := newFixture()
	s := repotest.Product("7", "Drill", "200.00")
	loan := &model.Loan{ID: uuid.New(), BranchID: f.branch, Items: []model.LoanItem{
		{ID: uuid.New(), SellableID: s.ID, Quantity: money.MustQuantity("3"), SaleQuantity: money.MustQuantity("2"),
			ReturnQuantity: money.OneQty, Price: money.MustCurrency("180.00"), Sellable: s},
		{ID: uuid.New(), SellableID: s.ID, Quantity: money.OneQty, ReturnQuantity: money.OneQty,
			Price: money.MustCurrency("180.00"), Sellable: s},
	}}

	require.NoError(t, f.draft.AddLoanItems(loan))

	items := f.draft.Items()
	require.Len(t, items, 1)
	assert.False(t, items[0].CanRemove())
	assert.Equal(t, loan.Items[0].ID, *items[0].LoanItemID)
	assert.True(t, items[0].Pending().IsZero())
	assert.Equal(t, "360.00", f.draft.Subtotal().String())
	assert.Len(t, f.draft.Loans(), 1)
}

func TestReset(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.draft.SetToken(ctx, f.lookup, DirectSaleCode))
	require.NoError(t, f.draft.AddItem(mustItem(t, repotest.Product("1", "Rice", "10.00"), "1", "10.00")))
	f.draft.SetManager(&model.LoginUser{Username: "boss"})
	cleared := false
	f.draft.Subscribe(func(c Change) { cleared = cleared || c.Op == Cleared })

	f.draft.Reset()

	assert.True(t, cleared)
	assert.True(t, f.draft.IsEmpty())
	assert.Nil(t, f.draft.Token())
	assert.Nil(t, f.draft.Manager())
	assert.Equal(t, "cashier", f.draft.EffectiveUser().Username)
}

func TestSnapshot(t *testing.T) {
	f := newFixture()
	a := repotest.Product("A", "Cup", "3.50")
	p := repotest.Package("P", "Cups", repotest.Component{Sellable: a, Quantity: "2", Price: "3.00"})
	require.NoError(t, f.draft.AddItem(mustItem(t, p, "1", "0")))

	snap := f.draft.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "6.00", snap[0].Total.String())
	require.Len(t, snap[0].Children, 1)
	assert.Equal(t, "A", snap[0].Children[0].Code)
}
