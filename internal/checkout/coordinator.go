// Package checkout drives one POS station: it assembles the sale draft from
// operator commands, mirrors it on the fiscal coupon and confirms it against
// the store. Commands are serialised by a busy flag; a second command
// arriving while one runs is rejected with ErrBusy.
package checkout

import (
	"context"
	"errors"
	"sync"

	"retailpos/internal/apierror"
	"retailpos/internal/catalog"
	"retailpos/internal/config"
	"retailpos/internal/coupon"
	"retailpos/internal/draft"
	"retailpos/internal/event"
	"retailpos/internal/inventory"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/payment"
	"retailpos/internal/pricing"
	"retailpos/internal/repository"
	"retailpos/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// State is the checkout state of a station.
type State int

const (
	Assembling State = iota
	Saved
	Confirming
	Closed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Assembling:
		return "assembling"
	case Saved:
		return "saved"
	case Confirming:
		return "confirming"
	case Closed:
		return "closed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	ErrBusy          = apierror.InvalidStatus("another command is running on this station")
	ErrEmptySale     = apierror.InvalidStatus("add at least one item before confirming the sale")
	ErrTokenRequired = apierror.InvalidStatus("open a token before editing the sale")
	ErrGridSellable  = apierror.Validation("sellable", "choose a variant of this product")
	ErrBatchRequired = apierror.Validation("batch", "choose a batch of this product")
	ErrNotFound      = apierror.NotFound("no product matches the code")
	ErrNoPending     = apierror.InvalidStatus("scan a product first")
	ErrDeliveryMode  = apierror.InvalidStatus("delivery is disabled on this POS")
	ErrSaveNeedsSale = apierror.InvalidStatus("only sales on a token can be saved")
	ErrSaveWithTrade = apierror.InvalidStatus("a sale with a trade or loan items must be checked out")
	ErrTokenBusy     = apierror.InvalidStatus("the token already holds another open sale")
	ErrTradeLinked   = apierror.InvalidStatus("a trade is already linked to this sale")
)

// Focus tells the terminal which entry takes the input after a scan.
type Focus string

const (
	FocusBarcode  Focus = "barcode"
	FocusQuantity Focus = "quantity"
)

// ScanResult reports what a scan did. Item is nil when the quantity must be
// confirmed first.
type ScanResult struct {
	Item     *draft.Item
	Sellable *model.Sellable
	Batch    *model.StorableBatch
	Quantity money.Quantity
	Focus    Focus
}

// AddRequest adds a sellable picked from the search.
type AddRequest struct {
	SellableID uuid.UUID
	BatchID    *uuid.UUID
	Quantity   money.Quantity
	// Price overrides the default price; nil keeps it.
	Price *money.Currency
}

// SaleDetailsPrinter queues the printing of a saved sale.
type SaleDetailsPrinter interface {
	EnqueueSaleDetails(ctx context.Context, saleID uuid.UUID) error
}

// Deps are the collaborators of a coordinator. Printer may be nil.
type Deps struct {
	Params    config.ParamSource
	Stores    store.Factory
	Catalog   *catalog.Catalog
	Sellables repository.SellableRepository
	Clients   repository.ClientRepository
	Sales     repository.SaleRepository
	Tokens    repository.TokenRepository
	Payments  repository.PaymentRepository
	Stock     repository.StockRepository
	Trades    repository.TradeRepository
	Loans     repository.LoanRepository
	Inventory *inventory.Service
	Composer  *payment.Composer
	Coupons   coupon.Factory
	Auth      pricing.Authorizer
	Bus       event.Emitter
	Printer   SaleDetailsPrinter
}

type pendingSellable struct {
	sellable *model.Sellable
	batch    *model.StorableBatch
}

// Coordinator is the checkout state machine of one station.
type Coordinator struct {
	deps      Deps
	branchID  uuid.UUID
	stationID uuid.UUID
	user      *model.LoginUser

	mu    sync.Mutex
	busy  bool
	state State
	abort context.CancelFunc

	draft   *draft.Draft
	coupon  coupon.Coupon
	pending *pendingSellable

	// store was handed over by a trade or loan flow; scopes are the
	// savepoints they entered on it.
	store  store.Store
	scopes []*store.Scope
}

func New(deps Deps, branchID, stationID uuid.UUID, user *model.LoginUser) *Coordinator {
	c := &Coordinator{deps: deps, branchID: branchID, stationID: stationID, user: user}
	c.renew(deps.Params.Snapshot())
	return c
}

// renew starts an empty draft and coupon.
func (c *Coordinator) renew(p config.Parameters) {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()
	c.draft = draft.New(c.branchID, c.stationID, user)
	c.draft.DeliveryServiceID = parseID(p.DeliveryService)
	c.coupon = c.deps.Coupons.Create(p.DeferredCoupon())
	c.pending = nil
}

func parseID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		log.Warn().Str("value", s).Msg("checkout: parameter is not a valid id")
		return nil
	}
	return &id
}

// handOver sets the operator of the sales started from now on.
func (c *Coordinator) handOver(user *model.LoginUser) {
	if user == nil {
		return
	}
	c.mu.Lock()
	if c.user == nil || c.user.ID != user.ID {
		c.user = user
	}
	c.mu.Unlock()
}

// State is the current checkout state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// ── Command plumbing ──────────────────────────────────────────────────────────

// run executes one command with the busy flag held and the parameters
// snapshotted once. Fatal errors discard the draft.
func (c *Coordinator) run(ctx context.Context, command string, fn func(p config.Parameters) error) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	p := c.deps.Params.Snapshot()
	log.Debug().Str("station_id", c.stationID.String()).Str("command", command).Msg("checkout: command")
	if err := fn(p); err != nil {
		return c.settle(ctx, p, err)
	}
	return nil
}

func (c *Coordinator) settle(ctx context.Context, p config.Parameters, err error) error {
	if apierror.IsKind(err, apierror.KindFatal) {
		log.Error().Err(err).Str("station_id", c.stationID.String()).Msg("checkout: fatal error, discarding the sale")
		c.discard(ctx, p)
	}
	return err
}

// discard voids the coupon, rolls back any handed-over store and starts over.
func (c *Coordinator) discard(ctx context.Context, p config.Parameters) {
	if err := c.coupon.Cancel(ctx); err != nil {
		log.Warn().Err(err).Msg("checkout: could not cancel the coupon")
	}
	c.dropStore()
	c.renew(p)
	c.setState(Cancelled)
}

// editable moves a finished station back to assembling and applies the
// token gate.
func (c *Coordinator) editable(p config.Parameters) error {
	c.mu.Lock()
	if c.state != Assembling && c.state != Confirming {
		c.state = Assembling
	}
	c.mu.Unlock()
	if p.UseSaleToken && c.draft.Token() == nil {
		return ErrTokenRequired
	}
	return nil
}

func (c *Coordinator) tx() *gorm.DB {
	if c.store == nil {
		return nil
	}
	return c.store.DB()
}

func (c *Coordinator) lookup(tx *gorm.DB) draft.RepoLookup {
	return draft.RepoLookup{Tokens: c.deps.Tokens, Sales: c.deps.Sales, Stock: c.deps.Stock, Tx: tx}
}

func (c *Coordinator) emit(ctx context.Context, e event.Event) {
	if err := c.deps.Bus.Emit(ctx, e); err != nil {
		log.Warn().Err(err).Str("event", string(e.EventName())).Msg("checkout: event handler failed")
	}
}

// ensureStore returns the handed-over store, opening one when there is none.
func (c *Coordinator) ensureStore(ctx context.Context) (store.Store, bool, error) {
	if c.store != nil {
		return c.store, false, nil
	}
	st, err := c.deps.Stores.NewStore(ctx)
	if err != nil {
		return nil, false, apierror.Fatal("could not open the store", err)
	}
	c.store = st
	return st, true, nil
}

func (c *Coordinator) dropStore() {
	if c.store != nil {
		if err := c.store.Rollback(true); err != nil && !errors.Is(err, store.ErrObsolete) {
			log.Warn().Err(err).Msg("checkout: rollback of handed-over store")
		}
	}
	c.store = nil
	c.scopes = nil
}

// ── Items ─────────────────────────────────────────────────────────────────────

// Scan resolves entry text and adds the sellable with quantity one, or with
// the weight of a scale label. With CONFIRM_QTY_ON_BARCODE_ACTIVATE the
// sellable is held until ConfirmQuantity.
func (c *Coordinator) Scan(ctx context.Context, text string) (*ScanResult, error) {
	var out *ScanResult
	err := c.run(ctx, "scan", func(p config.Parameters) error {
		if err := c.editable(p); err != nil {
			return err
		}
		if err := catalog.ValidateBarcode(text); err != nil {
			return err
		}
		res, err := c.deps.Catalog.Resolve(ctx, c.tx(), text, c.branchID, catalog.Options{
			ScaleFormat:   p.ScaleBarcodeFormat,
			DemoMode:      p.DemoMode,
			ScaleFallback: parseID(p.DefaultScaleToken),
		})
		if err != nil {
			return err
		}
		if res == nil {
			return ErrNotFound
		}

		qty := money.OneQty
		if res.Quantity != nil {
			qty = *res.Quantity
		}
		out = &ScanResult{Sellable: res.Sellable, Batch: res.Batch, Quantity: qty, Focus: FocusBarcode}
		if p.ConfirmQtyOnBarcodeActivate && res.Quantity == nil {
			c.pending = &pendingSellable{sellable: res.Sellable, batch: res.Batch}
			out.Focus = FocusQuantity
			return nil
		}
		out.Item, err = c.add(ctx, p, res.Sellable, res.Batch, qty, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmQuantity adds the sellable held by the last scan.
func (c *Coordinator) ConfirmQuantity(ctx context.Context, qty money.Quantity) (*draft.Item, error) {
	var it *draft.Item
	err := c.run(ctx, "confirm_quantity", func(p config.Parameters) error {
		if c.pending == nil {
			return ErrNoPending
		}
		if err := c.editable(p); err != nil {
			return err
		}
		var err error
		if it, err = c.add(ctx, p, c.pending.sellable, c.pending.batch, qty, nil); err != nil {
			return err
		}
		c.pending = nil
		return nil
	})
	return it, err
}

// AddSellable adds a sellable picked by id.
func (c *Coordinator) AddSellable(ctx context.Context, req AddRequest) (*draft.Item, error) {
	var it *draft.Item
	err := c.run(ctx, "add_sellable", func(p config.Parameters) error {
		if err := c.editable(p); err != nil {
			return err
		}
		s, err := c.deps.Sellables.FindByID(ctx, c.tx(), req.SellableID)
		if repository.IsNotFound(err) || (err == nil && !s.VisibleIn(c.branchID)) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var batch *model.StorableBatch
		if req.BatchID != nil {
			if batch = findBatch(s, *req.BatchID); batch == nil {
				return apierror.Validation("batch", "The batch does not belong to this product")
			}
		}
		it, err = c.add(ctx, p, s, batch, req.Quantity, req.Price)
		return err
	})
	return it, err
}

func findBatch(s *model.Sellable, id uuid.UUID) *model.StorableBatch {
	if s.Product == nil || s.Product.Storable == nil {
		return nil
	}
	for i := range s.Product.Storable.Batches {
		if s.Product.Storable.Batches[i].ID == id {
			return &s.Product.Storable.Batches[i]
		}
	}
	return nil
}

// add validates and adds one sellable. The coupon takes the item before the
// draft so that a device refusal leaves the draft unchanged.
func (c *Coordinator) add(ctx context.Context, p config.Parameters, s *model.Sellable, batch *model.StorableBatch, qty money.Quantity, price *money.Currency) (*draft.Item, error) {
	if s.IsGrid() {
		return nil, ErrGridSellable
	}
	if batch == nil && s.IsBatchTracked() {
		return nil, ErrBatchRequired
	}
	if id := c.draft.DeliveryServiceID; id != nil && s.ID == *id {
		return nil, draft.ErrDeliveryDirectAdd
	}

	cat := c.draft.ClientCategoryID()
	value := pricing.DefaultPrice(s, cat)
	if price != nil {
		if !p.POSAllowChangePrice && !price.Equal(value) {
			return nil, pricing.ErrPriceChangeLocked
		}
		value = *price
	}
	var err error
	if s.IsPackage() {
		// the package line is priced zero; its components carry the prices
		err = pricing.ValidateQuantity(s, qty)
	} else {
		err = pricing.CanAdd(s, qty, value, cat, c.draft.EffectiveUser(), p.AllowHigherSalePrice)
	}
	if err != nil {
		return nil, err
	}
	if err := c.draft.CheckAvailableStock(ctx, c.lookup(c.tx()), s, batch, qty, nil); err != nil {
		return nil, err
	}

	it, err := draft.NewItem(s, qty, value, batch)
	if err != nil {
		return nil, err
	}
	it.Deliver = c.draft.Delivery() != nil && !it.IsService()
	if err := c.coupon.AddItem(ctx, it); err != nil {
		return nil, err
	}
	if err := c.draft.AddItem(it); err != nil {
		c.unmirror(ctx, it)
		return nil, err
	}
	c.emit(ctx, event.POSAddSellableEvent{Sellable: s, Quantity: qty, Batch: batch})
	return it, nil
}

func (c *Coordinator) unmirror(ctx context.Context, it *draft.Item) {
	if err := c.coupon.RemoveItem(ctx, it); err != nil {
		log.Warn().Err(err).Str("item", it.Sellable.Code).Msg("checkout: could not remove item from coupon")
	}
}

// remirror sends an edited item to the coupon again.
func (c *Coordinator) remirror(ctx context.Context, it *draft.Item) error {
	if err := c.coupon.RemoveItem(ctx, it); err != nil {
		return err
	}
	return c.coupon.AddItem(ctx, it)
}

func (c *Coordinator) find(id uuid.UUID) (*draft.Item, error) {
	it := c.draft.Find(id)
	if it == nil {
		return nil, draft.ErrItemNotFound
	}
	return it, nil
}

// SetQuantity changes the quantity of an editable item.
func (c *Coordinator) SetQuantity(ctx context.Context, itemID uuid.UUID, qty money.Quantity) error {
	return c.run(ctx, "set_quantity", func(p config.Parameters) error {
		it, err := c.find(itemID)
		if err != nil {
			return err
		}
		if err := pricing.ValidateQuantity(it.Sellable, qty); err != nil {
			return err
		}
		old := it.Quantity
		if err := c.draft.SetQuantity(it, qty); err != nil {
			return err
		}
		revert := func() {
			if err := c.draft.SetQuantity(it, old); err != nil {
				log.Error().Err(err).Msg("checkout: could not restore item quantity")
			}
		}
		if err := c.draft.CheckAvailableStock(ctx, c.lookup(c.tx()), it.Sellable, it.Batch, qty, it); err != nil {
			revert()
			return err
		}
		if err := c.remirror(ctx, it); err != nil {
			revert()
			_ = c.coupon.AddItem(ctx, it)
			return err
		}
		return nil
	})
}

// SetPrice changes the price of an editable item, within the discount the
// operator (or the authorizing manager) may grant.
func (c *Coordinator) SetPrice(ctx context.Context, itemID uuid.UUID, price money.Currency) error {
	return c.run(ctx, "set_price", func(p config.Parameters) error {
		if !p.POSAllowChangePrice {
			return pricing.ErrPriceChangeLocked
		}
		it, err := c.find(itemID)
		if err != nil {
			return err
		}
		err = pricing.ValidatePrice(it.Sellable, price, c.draft.ClientCategoryID(), c.draft.EffectiveUser(), p.AllowHigherSalePrice)
		if err != nil {
			return err
		}
		old := it.Price
		if err := c.draft.SetPrice(it, price); err != nil {
			return err
		}
		if err := c.remirror(ctx, it); err != nil {
			if rerr := c.draft.SetPrice(it, old); rerr != nil {
				log.Error().Err(rerr).Msg("checkout: could not restore item price")
			}
			_ = c.coupon.AddItem(ctx, it)
			return err
		}
		return nil
	})
}

// RemoveItem drops an item and, for a package, its components.
func (c *Coordinator) RemoveItem(ctx context.Context, itemID uuid.UUID) error {
	return c.run(ctx, "remove_item", func(p config.Parameters) error {
		it, err := c.find(itemID)
		if err != nil {
			return err
		}
		if !it.CanRemove() {
			return draft.ErrNotRemovable
		}
		if !it.CanRemoveChild() {
			return draft.ErrChildNotRemovable
		}
		if err := c.coupon.RemoveItem(ctx, it); err != nil {
			return err
		}
		if it == c.draft.DeliveryItem() {
			err = c.draft.RemoveDelivery()
		} else {
			err = c.draft.RemoveItem(it)
		}
		if err != nil {
			_ = c.coupon.AddItem(ctx, it)
			return err
		}
		return nil
	})
}

// ── Client & token ────────────────────────────────────────────────────────────

// SetClient attaches the client (nil detaches). ClientSaleValidation
// subscribers may veto the client.
func (c *Coordinator) SetClient(ctx context.Context, clientID *uuid.UUID) error {
	return c.run(ctx, "set_client", func(p config.Parameters) error {
		if err := c.editable(p); err != nil {
			return err
		}
		var client *model.Client
		if clientID != nil {
			var err error
			client, err = c.deps.Clients.FindByID(ctx, c.tx(), *clientID)
			if repository.IsNotFound(err) {
				return apierror.NotFound("client not found")
			}
			if err != nil {
				return err
			}
			if err := c.deps.Bus.Emit(ctx, event.ClientSaleValidationEvent{Client: client}); err != nil {
				if apierror.KindOf(err) != apierror.KindUnknown {
					return err
				}
				return apierror.Validation("client", err.Error())
			}
		}
		return c.draft.SetClient(ctx, c.lookup(c.tx()), client, p.UseSaleToken)
	})
}

// SetToken binds the draft to a token, loading the sale it holds.
func (c *Coordinator) SetToken(ctx context.Context, code string) error {
	return c.run(ctx, "set_token", func(p config.Parameters) error {
		c.mu.Lock()
		if c.state != Assembling {
			c.state = Assembling
		}
		c.mu.Unlock()
		if err := c.draft.SetToken(ctx, c.lookup(c.tx()), code); err != nil {
			return err
		}
		if c.coupon.Deferred() {
			return nil
		}
		// lines of the previous token are still on the device
		if err := c.coupon.Cancel(ctx); err != nil {
			return err
		}
		c.coupon.Reset()
		for _, it := range c.draft.Items() {
			if err := c.coupon.AddItem(ctx, it); err != nil {
				return err
			}
		}
		return nil
	})
}

// ── Delivery ──────────────────────────────────────────────────────────────────

// SetDelivery adds the delivery, or updates it, together with the line of
// the DELIVERY_SERVICE sellable carrying its price.
func (c *Coordinator) SetDelivery(ctx context.Context, d *model.Delivery) error {
	return c.run(ctx, "set_delivery", func(p config.Parameters) error {
		if !p.HasDeliveryMode {
			return ErrDeliveryMode
		}
		if err := c.editable(p); err != nil {
			return err
		}
		id := parseID(p.DeliveryService)
		if id == nil {
			return apierror.Fatal("the DELIVERY_SERVICE parameter is not set", nil)
		}
		service, err := c.deps.Sellables.FindByID(ctx, c.tx(), *id)
		if repository.IsNotFound(err) {
			return apierror.Fatal("the DELIVERY_SERVICE sellable does not exist", err)
		}
		if err != nil {
			return err
		}
		c.draft.DeliveryServiceID = id

		prev := c.draft.DeliveryItem()
		if prev != nil {
			if err := c.coupon.RemoveItem(ctx, prev); err != nil {
				return err
			}
		}
		if err := c.draft.SetDelivery(d, service); err != nil {
			if prev != nil {
				_ = c.coupon.AddItem(ctx, prev)
			}
			return err
		}
		if err := c.coupon.AddItem(ctx, c.draft.DeliveryItem()); err != nil {
			if prev == nil {
				_ = c.draft.RemoveDelivery()
			}
			return err
		}
		return nil
	})
}

// RemoveDelivery drops the delivery and its line.
func (c *Coordinator) RemoveDelivery(ctx context.Context) error {
	return c.run(ctx, "remove_delivery", func(p config.Parameters) error {
		it := c.draft.DeliveryItem()
		if it == nil {
			return nil
		}
		if err := c.coupon.RemoveItem(ctx, it); err != nil {
			return err
		}
		return c.draft.RemoveDelivery()
	})
}

// ── Discounts ─────────────────────────────────────────────────────────────────

// AuthorizeManager lets a manager's discount limits apply to the sale.
func (c *Coordinator) AuthorizeManager(ctx context.Context, username, password string) (*model.LoginUser, error) {
	var m *model.LoginUser
	err := c.run(ctx, "authorize_manager", func(p config.Parameters) error {
		var err error
		if m, err = c.deps.Auth.AuthorizeManager(ctx, username, password); err != nil {
			return err
		}
		c.draft.SetManager(m)
		return nil
	})
	return m, err
}

func (c *Coordinator) SetDiscount(ctx context.Context, v money.Currency) error {
	return c.run(ctx, "set_discount", func(p config.Parameters) error {
		if err := pricing.ValidateSaleDiscount(c.draft.Subtotal(), v, c.draft.EffectiveUser()); err != nil {
			return err
		}
		return c.draft.SetDiscount(v)
	})
}

func (c *Coordinator) SetSurcharge(ctx context.Context, v money.Currency) error {
	return c.run(ctx, "set_surcharge", func(p config.Parameters) error {
		return c.draft.SetSurcharge(v)
	})
}

// ── Trade & loans ─────────────────────────────────────────────────────────────

// StartTrade links a pending returned sale whose credit pays part of this
// sale. The link lives in its own savepoint on the station store.
func (c *Coordinator) StartTrade(ctx context.Context, tradeID uuid.UUID) error {
	return c.run(ctx, "start_trade", func(p config.Parameters) error {
		if c.draft.Trade() != nil {
			return ErrTradeLinked
		}
		st, fresh, err := c.ensureStore(ctx)
		if err != nil {
			return err
		}
		abandon := func() {
			if fresh {
				c.dropStore()
			}
		}
		scope, err := store.Enter(st, "trade")
		if err != nil {
			abandon()
			return apierror.Fatal("could not start the trade", err)
		}
		trade, err := c.deps.Trades.FindByID(ctx, st.DB(), tradeID)
		if err == nil {
			err = c.draft.SetTrade(trade)
		}
		if err != nil {
			if rerr := scope.Rollback(); rerr != nil {
				log.Warn().Err(rerr).Msg("checkout: rollback of trade scope")
			}
			abandon()
			if repository.IsNotFound(err) {
				return apierror.NotFound("trade not found")
			}
			return err
		}
		c.scopes = append(c.scopes, scope)
		log.Info().Str("trade_id", tradeID.String()).Str("credit", trade.ReturnedTotal().String()).Msg("checkout: trade linked")
		return nil
	})
}

// LoanItemClose settles one lent item: Sold stays with the client and is
// charged on this sale, Returned goes back to stock.
type LoanItemClose struct {
	ItemID   uuid.UUID
	Sold     money.Quantity
	Returned money.Quantity
}

// LoanClose settles every item of one loan.
type LoanClose struct {
	LoanID uuid.UUID
	Items  []LoanItemClose
}

// CloseLoans returns loan goods to stock and puts the kept ones on the sale.
// When nothing was kept the loans are closed right away.
func (c *Coordinator) CloseLoans(ctx context.Context, closes []LoanClose) error {
	return c.run(ctx, "close_loans", func(p config.Parameters) error {
		if len(closes) == 0 {
			return apierror.Validation("loans", "Select at least one loan")
		}
		c.mu.Lock()
		if c.state != Assembling {
			c.state = Assembling
		}
		c.mu.Unlock()

		st, fresh, err := c.ensureStore(ctx)
		if err != nil {
			return err
		}
		scope, err := store.Enter(st, "loan")
		if err != nil {
			if fresh {
				c.dropStore()
			}
			return apierror.Fatal("could not start the loan return", err)
		}
		fail := func(err error) error {
			if fresh {
				c.dropStore()
			} else if rerr := scope.Rollback(); rerr != nil {
				log.Warn().Err(rerr).Msg("checkout: rollback of loan scope")
			}
			return err
		}

		loans := make([]*model.Loan, 0, len(closes))
		kept := false
		for _, lc := range closes {
			loan, err := c.settleLoan(ctx, st.DB(), lc)
			if err != nil {
				return fail(err)
			}
			if err := c.deps.Inventory.ReturnLoan(ctx, st.DB(), loan); err != nil {
				return fail(err)
			}
			for _, li := range loan.Items {
				if li.SaleQuantity.IsPositive() {
					kept = true
				}
			}
			loans = append(loans, loan)
		}

		if !kept && fresh {
			return c.closeReturnedLoans(ctx, st, loans, fail)
		}

		before := len(c.draft.Items())
		for _, loan := range loans {
			if err := c.draft.AddLoanItems(loan); err != nil {
				return fail(err)
			}
		}
		for _, it := range c.draft.Items()[before:] {
			if err := c.coupon.AddItem(ctx, it); err != nil {
				log.Warn().Err(err).Msg("checkout: loan item not mirrored, the coupon is rebuilt at checkout")
				if cerr := c.coupon.Cancel(ctx); cerr != nil {
					log.Warn().Err(cerr).Msg("checkout: voiding partial coupon")
				}
				c.coupon.Reset()
				break
			}
		}
		c.scopes = append(c.scopes, scope)
		return nil
	})
}

func (c *Coordinator) settleLoan(ctx context.Context, tx *gorm.DB, lc LoanClose) (*model.Loan, error) {
	loan, err := c.deps.Loans.FindByID(ctx, tx, lc.LoanID)
	if repository.IsNotFound(err) {
		return nil, apierror.NotFound("loan not found")
	}
	if err != nil {
		return nil, err
	}
	if loan.Status != model.LoanOpen {
		return nil, apierror.InvalidStatus("the loan is not open")
	}
	if loan.BranchID != c.branchID {
		return nil, apierror.Validation("loan", "The loan belongs to another branch")
	}
	settled := make(map[uuid.UUID]LoanItemClose, len(lc.Items))
	for _, ic := range lc.Items {
		settled[ic.ItemID] = ic
	}
	for i := range loan.Items {
		li := &loan.Items[i]
		ic, ok := settled[li.ID]
		if !ok {
			return nil, apierror.Validationf("loans", "Settle every item of the loan (%s is missing)", li.ID)
		}
		if ic.Sold.IsNegative() || ic.Returned.IsNegative() {
			return nil, apierror.Validation("quantity", "Quantities cannot be negative")
		}
		total, err := ic.Sold.Add(ic.Returned)
		if err != nil {
			return nil, err
		}
		if !total.Equal(li.Quantity) {
			return nil, apierror.Validationf("quantity", "Sold and returned must add up to the %s lent", li.Quantity)
		}
		li.SaleQuantity, li.ReturnQuantity = ic.Sold, ic.Returned
	}
	return loan, nil
}

// closeReturnedLoans closes loans whose goods all came back; no sale is
// needed for them.
func (c *Coordinator) closeReturnedLoans(ctx context.Context, st store.Store, loans []*model.Loan, fail func(error) error) error {
	for _, loan := range loans {
		loan.Status = model.LoanClosed
		now := nowFunc()
		loan.CloseDate = &now
		if err := c.deps.Loans.Close(ctx, st.DB(), loan); err != nil {
			return fail(err)
		}
	}
	if err := st.Commit(); err != nil {
		return fail(apierror.Fatal("could not save the loan return", err))
	}
	c.emit(ctx, event.CloseLoanWizardFinishEvent{Loans: loans, Source: "pos"})
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("checkout: close store after loan return")
	}
	c.store, c.scopes = nil, nil
	return nil
}

// ── Cancel & view ─────────────────────────────────────────────────────────────

// Cancel abandons the sale. While a checkout runs, the request is handed to
// it and honoured at the coupon's cancellation points.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Confirming {
		if c.abort != nil {
			c.abort()
		}
		c.mu.Unlock()
		log.Info().Str("station_id", c.stationID.String()).Msg("checkout: cancel requested during confirm")
		return nil
	}
	c.mu.Unlock()
	return c.run(ctx, "cancel", func(p config.Parameters) error {
		c.discard(ctx, p)
		return nil
	})
}

// ItemView is a draft line as shown on the terminal.
type ItemView struct {
	ID          uuid.UUID      `json:"id"`
	Code        string         `json:"code"`
	Description string         `json:"description"`
	Quantity    string         `json:"quantity"`
	Price       money.Currency `json:"price"`
	Total       money.Currency `json:"total"`
	Removable   bool           `json:"removable"`
	Deliver     bool           `json:"deliver"`
	Children    []ItemView     `json:"children,omitempty"`
}

// View is the terminal's picture of the station.
type View struct {
	State     string         `json:"state"`
	Coupon    string         `json:"coupon"`
	Items     []ItemView     `json:"items"`
	Subtotal  money.Currency `json:"subtotal"`
	Discount  money.Currency `json:"discount"`
	Surcharge money.Currency `json:"surcharge"`
	Total     money.Currency `json:"total"`
	ClientID  *uuid.UUID     `json:"client_id,omitempty"`
	Token     string         `json:"token,omitempty"`
	Delivery  bool           `json:"delivery"`
	TradeID   *uuid.UUID     `json:"trade_id,omitempty"`
	Loans     int            `json:"loans"`
}

// Snapshot returns the current view of the station.
func (c *Coordinator) Snapshot(ctx context.Context) (*View, error) {
	var v *View
	err := c.run(ctx, "snapshot", func(p config.Parameters) error {
		d := c.draft
		v = &View{
			State:     c.State().String(),
			Coupon:    c.coupon.State().String(),
			Items:     make([]ItemView, 0, len(d.Items())),
			Subtotal:  d.Subtotal(),
			Discount:  d.Discount(),
			Surcharge: d.Surcharge(),
			Total:     d.Total(),
			Delivery:  d.Delivery() != nil,
			Loans:     len(d.Loans()),
		}
		for _, it := range d.Items() {
			v.Items = append(v.Items, itemView(it))
		}
		if cl := d.Client(); cl != nil {
			id := cl.ID
			v.ClientID = &id
		}
		if t := d.Token(); t != nil {
			v.Token = t.Code
		}
		if t := d.Trade(); t != nil {
			id := t.ID
			v.TradeID = &id
		}
		return nil
	})
	return v, err
}

func itemView(it *draft.Item) ItemView {
	v := ItemView{
		ID:          it.ID,
		Code:        it.Sellable.Code,
		Description: it.FullDescription(),
		Quantity:    it.QuantityUnit(),
		Price:       it.Price,
		Total:       it.Total(),
		Removable:   it.CanRemove() && it.CanRemoveChild(),
		Deliver:     it.Deliver,
	}
	for _, ch := range it.Children {
		v.Children = append(v.Children, itemView(ch))
	}
	return v
}
