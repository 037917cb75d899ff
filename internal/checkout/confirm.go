package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retailpos/internal/apierror"
	"retailpos/internal/config"
	"retailpos/internal/coupon"
	"retailpos/internal/draft"
	"retailpos/internal/event"
	"retailpos/internal/model"
	"retailpos/internal/payment"
	"retailpos/internal/repository"
	"retailpos/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var nowFunc = time.Now

// tradeMethod registers trade credit on the fiscal device. It is never
// stored as a payment.
const tradeMethod = "trade"

// CheckoutRequest is the payment chosen at checkout.
type CheckoutRequest struct {
	Method       string
	Installments []payment.Installment
	Card         *payment.Card
}

// Result is a confirmed sale.
type Result struct {
	Sale     *model.Sale
	Payments []model.Payment
}

// SaveOnly stores the sale on its token without a coupon so it can be
// reopened and edited later. Saving an empty token without a client closes
// the token. The returned sale is nil in that case.
func (c *Coordinator) SaveOnly(ctx context.Context) (*model.Sale, error) {
	var sale *model.Sale
	err := c.run(ctx, "save_only", func(p config.Parameters) error {
		res, err := c.confirm(ctx, p, nil)
		if res != nil {
			sale = res.Sale
		}
		return err
	})
	return sale, err
}

// Checkout confirms the sale: payments are created, the coupon is closed
// and the store committed. On failure the station goes back to assembling
// with the draft intact.
func (c *Coordinator) Checkout(ctx context.Context, req CheckoutRequest) (*Result, error) {
	var res *Result
	err := c.run(ctx, "checkout", func(p config.Parameters) error {
		if req.Method == "" {
			return payment.ErrUnknownMethod
		}
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		c.mu.Lock()
		c.abort = cancel
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			c.abort = nil
			c.mu.Unlock()
		}()

		var err error
		res, err = c.confirm(cctx, p, &req)
		return err
	})
	return res, err
}

// confirm runs the save-only (req == nil) or full checkout of the draft.
func (c *Coordinator) confirm(ctx context.Context, p config.Parameters, req *CheckoutRequest) (*Result, error) {
	saveOnly := req == nil
	d := c.draft
	onToken := d.Token() != nil && !d.IsDirectSale()

	// 1. An empty sale may only be saved on a token holding a client; an
	// empty token without one is closed instead.
	if d.IsEmpty() {
		switch {
		case saveOnly && onToken && d.Client() == nil:
			return nil, c.closeEmptyToken(ctx, p)
		case !(saveOnly && onToken):
			return nil, ErrEmptySale
		}
	}
	if saveOnly {
		if !onToken {
			return nil, ErrSaveNeedsSale
		}
		if d.Trade() != nil || len(d.Loans()) > 0 {
			return nil, ErrSaveWithTrade
		}
	}
	if err := checkTaxes(d.AllItems()); err != nil {
		return nil, err
	}

	// 2. Savepoint on the handed-over store, or a store of our own.
	st, savepoint, err := c.checkoutStore(ctx)
	if err != nil {
		return nil, err
	}
	c.setState(Confirming)
	fail := func(err error) (*Result, error) {
		c.rollback(st, savepoint)
		c.setState(Assembling)
		return nil, err
	}

	// 3. Trade credit.
	off, err := payment.TradeOffset(d.Total(), d.Trade(), p.UseTradeAsDiscount)
	if err != nil {
		return fail(err)
	}

	// 4. Materialise the sale.
	method := ""
	if req != nil {
		method = req.Method
	}
	sale, err := c.materialise(ctx, p, st, off, method, !saveOnly)
	if err != nil {
		return fail(err)
	}

	// 5. Save only: order the sale and leave the token open.
	if saveOnly {
		if err := c.deps.Sales.UpdateStatus(ctx, st.DB(), sale.ID, model.SaleOrdered); err != nil {
			return fail(err)
		}
		sale.Status = model.SaleOrdered
		if err := st.Commit(); err != nil {
			return fail(apierror.Fatal("could not save the sale", err))
		}
		c.finish(st)
		log.Info().
			Str("sale_id", sale.ID.String()).
			Int64("identifier", sale.Identifier).
			Str("token", d.Token().Code).
			Msg("checkout: sale saved on token")
		if p.PrintSaleDetailsOnPOS && c.deps.Printer != nil {
			if err := c.deps.Printer.EnqueueSaleDetails(ctx, sale.ID); err != nil {
				log.Warn().Err(err).Str("sale_id", sale.ID.String()).Msg("checkout: could not queue sale details")
			}
		}
		c.renew(p)
		c.setState(Saved)
		return &Result{Sale: sale}, nil
	}

	// 6. Full checkout through the coupon. Payments are created once the
	// coupon is totalized.
	now := nowFunc()
	var (
		payments []model.Payment
		loans    []*model.Loan
	)
	pay := func(ctx context.Context) ([]model.Payment, error) {
		ps, err := c.deps.Composer.Compose(ctx, st.DB(), payment.Request{
			Sale:            sale,
			Method:          req.Method,
			Remaining:       off.Remaining,
			Installments:    req.Installments,
			Card:            req.Card,
			Delivery:        d.Delivery(),
			SeparateCashier: p.POSSeparateCashier,
			Now:             now,
		})
		if err != nil {
			return nil, err
		}
		if loans, err = c.settleSale(ctx, st.DB(), sale, now); err != nil {
			return nil, err
		}
		payments = ps
		device := append([]model.Payment(nil), ps...)
		if off.Credit.IsPositive() && off.Discount.IsZero() {
			device = append(device, model.Payment{Method: tradeMethod, Value: off.Credit})
		}
		return device, nil
	}

	ok, err := c.coupon.Confirm(ctx, coupon.ConfirmRequest{
		Sale:      sale,
		Items:     d.Items(),
		Store:     st,
		Savepoint: savepoint,
		Subtotal:  d.Subtotal(),
		Discount:  sale.Discount,
		Surcharge: sale.Surcharge,
		StationID: c.stationID,
		Pay:       pay,
	})
	if !ok {
		// the coupon already rolled the store back
		c.setState(Assembling)
		if err == nil {
			err = coupon.ErrCheckoutCancelled
		}
		return nil, err
	}

	// 7. Events see the committed sale before the store closes.
	c.emit(ctx, event.POSConfirmSaleEvent{Sale: sale, Items: d.Snapshot(), At: now})
	if len(loans) > 0 {
		c.emit(ctx, event.CloseLoanWizardFinishEvent{Loans: loans, Sale: sale, Source: "pos"})
	}
	c.finish(st)
	log.Info().
		Str("sale_id", sale.ID.String()).
		Int64("identifier", sale.Identifier).
		Str("total", sale.TotalAmount.String()).
		Int("payments", len(payments)).
		Msg("checkout: sale confirmed")
	c.renew(p)
	c.setState(Closed)
	return &Result{Sale: sale, Payments: payments}, nil
}

func checkTaxes(items []*draft.Item) error {
	var bad []string
	for _, it := range items {
		if it.Kind == draft.Package {
			continue
		}
		if !it.Sellable.TaxConsistent() {
			bad = append(bad, it.Sellable.Code)
		}
	}
	if len(bad) > 0 {
		return apierror.Tax("these products have an invalid tax setup", bad)
	}
	return nil
}

func (c *Coordinator) checkoutStore(ctx context.Context) (store.Store, string, error) {
	if c.store != nil {
		scope, err := store.Enter(c.store, "checkout")
		if err != nil {
			return nil, "", apierror.Fatal("could not start the checkout", err)
		}
		return c.store, scope.Name(), nil
	}
	st, err := c.deps.Stores.NewStore(ctx)
	if err != nil {
		return nil, "", apierror.Fatal("could not open the store", err)
	}
	return st, "", nil
}

func (c *Coordinator) rollback(st store.Store, savepoint string) {
	var err error
	if savepoint != "" {
		err = st.RollbackToSavepoint(savepoint)
	} else {
		err = st.Rollback(true)
	}
	if err != nil {
		log.Error().Err(err).Str("savepoint", savepoint).Msg("checkout: rollback")
	}
}

// finish closes a committed store.
func (c *Coordinator) finish(st store.Store) {
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("checkout: close store")
	}
	if st == c.store {
		c.store, c.scopes = nil, nil
	}
}

// materialise writes the draft as a persistent sale: header, lines, delivery
// and token. Token sales reserve their stock; a checkout takes the rest.
func (c *Coordinator) materialise(ctx context.Context, p config.Parameters, st store.Store, off payment.Offset, method string, decrease bool) (*model.Sale, error) {
	d := c.draft
	tx := st.DB()

	var clientID *uuid.UUID
	if cl := d.Client(); cl != nil {
		id := cl.ID
		clientID = &id
	}

	sale := d.Sale()
	if sale != nil {
		if err := st.Fetch(ctx, sale); err != nil {
			return nil, fmt.Errorf("fetch sale %d: %w", sale.Identifier, err)
		}
	} else {
		ident, err := c.deps.Sales.NextIdentifier(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("next sale identifier: %w", err)
		}
		group := payment.GroupFor(clientID, method)
		if err := c.deps.Payments.CreateGroup(ctx, tx, group); err != nil {
			return nil, fmt.Errorf("create payment group: %w", err)
		}
		sale = &model.Sale{
			ID:              uuid.New(),
			Identifier:      ident,
			Status:          model.SaleInitial,
			BranchID:        c.branchID,
			StationID:       c.stationID,
			GroupID:         group.ID,
			CFOP:            p.DefaultSalesCFOP,
			OperationNature: p.DefaultOpNature,
			OpenDate:        nowFunc(),
		}
		if u := d.User(); u != nil {
			sale.SalespersonID = u.ID
		}
	}

	discount, err := d.EffectiveDiscount().Add(off.Discount)
	if err != nil {
		return nil, err
	}
	total, err := d.Total().Sub(off.Discount)
	if err != nil {
		return nil, err
	}
	sale.ClientID = clientID
	sale.Subtotal = d.Subtotal()
	sale.Discount = discount
	sale.Surcharge = d.Surcharge()
	sale.TotalAmount = total
	if tok := d.Token(); tok != nil && !d.IsDirectSale() {
		id := tok.ID
		sale.TokenID = &id
	}
	if d.Sale() == nil {
		err = c.deps.Sales.Create(ctx, tx, sale)
	} else {
		err = c.deps.Sales.Update(ctx, tx, sale)
	}
	if err != nil {
		return nil, fmt.Errorf("store sale: %w", err)
	}

	items, ids := saleItems(d, sale.ID)

	if sale.TokenID != nil {
		if cl := d.Client(); cl != nil {
			if err := d.CheckClientToken(ctx, c.lookup(tx), cl); err != nil {
				return nil, err
			}
		}
		err := c.deps.Tokens.Occupy(ctx, tx, *sale.TokenID, sale.ID)
		if errors.Is(err, repository.ErrTokenBusy) {
			return nil, ErrTokenBusy
		}
		if err != nil {
			return nil, err
		}
	}
	if !decrease && sale.TokenID != nil {
		if err := c.deps.Inventory.Reserve(ctx, tx, c.branchID, items); err != nil {
			return nil, err
		}
	}
	if decrease {
		if err := c.deps.Inventory.Decrease(ctx, tx, c.branchID, items); err != nil {
			return nil, err
		}
	}

	rows := make([]model.SaleItem, len(items))
	for i, si := range items {
		rows[i] = *si
	}
	if err := c.deps.Sales.ReplaceItems(ctx, tx, sale.ID, rows); err != nil {
		return nil, fmt.Errorf("store sale items: %w", err)
	}

	delivery := d.Delivery()
	if delivery != nil {
		delivery.SaleID = sale.ID
		delivery.ServiceItemID = ids[d.DeliveryItem()]
	}
	if err := c.deps.Sales.SaveDelivery(ctx, tx, sale.ID, delivery); err != nil {
		return nil, fmt.Errorf("store delivery: %w", err)
	}
	return sale, nil
}

// saleItems flattens the item forest in draft order. Items loaded from a
// saved sale keep their persisted ids.
func saleItems(d *draft.Draft, saleID uuid.UUID) ([]*model.SaleItem, map[*draft.Item]uuid.UUID) {
	var out []*model.SaleItem
	ids := make(map[*draft.Item]uuid.UUID)
	var add func(it *draft.Item, parent *uuid.UUID)
	add = func(it *draft.Item, parent *uuid.UUID) {
		id := it.ID
		if it.OriginalSaleItemID != nil {
			id = *it.OriginalSaleItemID
		}
		ids[it] = id
		si := &model.SaleItem{
			ID:                id,
			SaleID:            saleID,
			SellableID:        it.Sellable.ID,
			ParentItemID:      parent,
			Position:          len(out),
			Quantity:          it.Quantity,
			QuantityDecreased: it.QuantityDecreased,
			Price:             it.Price,
			BasePrice:         it.BasePrice,
			Deliver:           it.Deliver,
			EstimatedFixDate:  it.EstimatedFixDate,
			LoanItemID:        it.LoanItemID,
			Sellable:          it.Sellable,
			Batch:             it.Batch,
		}
		if it.Batch != nil {
			bid := it.Batch.ID
			si.BatchID = &bid
		}
		if it.Notes != "" {
			notes := it.Notes
			si.Notes = &notes
		}
		out = append(out, si)
		for _, ch := range it.Children {
			pid := id
			add(ch, &pid)
		}
	}
	for _, it := range d.Items() {
		add(it, nil)
	}
	return out, ids
}

// settleSale marks the sale confirmed and closes what it consumed: the
// trade, the token and the loans.
func (c *Coordinator) settleSale(ctx context.Context, tx *gorm.DB, sale *model.Sale, now time.Time) ([]*model.Loan, error) {
	d := c.draft
	sale.Status = model.SaleConfirmed
	sale.ConfirmDate = &now
	if err := c.deps.Sales.Update(ctx, tx, sale); err != nil {
		return nil, fmt.Errorf("confirm sale: %w", err)
	}

	if t := d.Trade(); t != nil {
		upd := *t
		id := sale.ID
		upd.NewSaleID = &id
		upd.Status = model.TradeConfirmed
		upd.ConfirmDate = &now
		if err := c.deps.Trades.Update(ctx, tx, &upd); err != nil {
			return nil, fmt.Errorf("confirm trade: %w", err)
		}
	}
	if sale.TokenID != nil {
		if err := c.deps.Tokens.Release(ctx, tx, *sale.TokenID); err != nil {
			return nil, fmt.Errorf("release token: %w", err)
		}
	}

	closed := make([]*model.Loan, 0, len(d.Loans()))
	for _, l := range d.Loans() {
		upd := *l
		upd.Status = model.LoanClosed
		upd.CloseDate = &now
		if err := c.deps.Loans.Close(ctx, tx, &upd); err != nil {
			return nil, fmt.Errorf("close loan: %w", err)
		}
		closed = append(closed, &upd)
	}
	return closed, nil
}

// closeEmptyToken cancels the sale an emptied token holds, puts its
// reserved stock back and frees the token.
func (c *Coordinator) closeEmptyToken(ctx context.Context, p config.Parameters) error {
	tok := c.draft.Token()
	if tok.IsOccupied() {
		st, err := c.deps.Stores.NewStore(ctx)
		if err != nil {
			return apierror.Fatal("could not open the store", err)
		}
		if err := c.releaseToken(ctx, st, tok); err != nil {
			c.rollback(st, "")
			return err
		}
		if err := st.Commit(); err != nil {
			c.rollback(st, "")
			return apierror.Fatal("could not close the token", err)
		}
		c.finish(st)
	}
	log.Info().Str("token", tok.Code).Msg("checkout: empty token closed")
	c.renew(p)
	c.setState(Cancelled)
	return nil
}

func (c *Coordinator) releaseToken(ctx context.Context, st store.Store, tok *model.SaleToken) error {
	tx := st.DB()
	sale, err := c.deps.Sales.FindByID(ctx, tx, *tok.SaleID)
	if err != nil {
		return fmt.Errorf("load sale of token %s: %w", tok.Code, err)
	}
	items := make([]*model.SaleItem, len(sale.Items))
	for i := range sale.Items {
		items[i] = &sale.Items[i]
	}
	if err := c.deps.Inventory.Release(ctx, tx, c.branchID, items); err != nil {
		return err
	}
	if err := c.deps.Sales.UpdateStatus(ctx, tx, sale.ID, model.SaleCancelled); err != nil {
		return err
	}
	return c.deps.Tokens.Release(ctx, tx, tok.ID)
}
