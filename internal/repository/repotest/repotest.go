// Package repotest provides in-memory repositories for unit tests. They keep
// pointers to the stored rows so tests can inspect what services wrote.
package repotest

import (
	"context"
	"strings"
	"sync"

	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	_ repository.SellableRepository       = (*Sellables)(nil)
	_ repository.StockRepository          = (*Stock)(nil)
	_ repository.TokenRepository          = (*Tokens)(nil)
	_ repository.SaleRepository           = (*Sales)(nil)
	_ repository.PaymentRepository        = (*Payments)(nil)
	_ repository.TillRepository           = (*Tills)(nil)
	_ repository.FiscalDocumentRepository = (*FiscalDocuments)(nil)
	_ repository.ClientRepository         = (*Clients)(nil)
	_ repository.TradeRepository          = (*Trades)(nil)
	_ repository.LoanRepository           = (*Loans)(nil)
	_ repository.UserRepository           = (*Users)(nil)
	_ repository.StationRepository        = (*Stations)(nil)
)

// ── Sellables ─────────────────────────────────────────────────────────────────

type batchEntry struct {
	batch    *model.StorableBatch
	sellable *model.Sellable
	branchID uuid.UUID
	qty      money.Quantity
}

type Sellables struct {
	mu      sync.Mutex
	list    []*model.Sellable
	batches []batchEntry
}

func (r *Sellables) Add(s *model.Sellable) *model.Sellable {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = model.SellableAvailable
	}
	r.list = append(r.list, s)
	return s
}

// AddBatch registers a batch of s with qty in stock at branchID.
func (r *Sellables) AddBatch(s *model.Sellable, number string, branchID uuid.UUID, qty money.Quantity) *model.StorableBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &model.StorableBatch{ID: uuid.New(), BatchNumber: number}
	if s.Product != nil && s.Product.Storable != nil {
		b.StorableID = s.Product.Storable.ID
		s.Product.Storable.Batches = append(s.Product.Storable.Batches, *b)
	}
	r.batches = append(r.batches, batchEntry{batch: b, sellable: s, branchID: branchID, qty: qty})
	return b
}

func (r *Sellables) DB() *gorm.DB { return nil }

func visible(s *model.Sellable, branchID uuid.UUID) bool { return s.VisibleIn(branchID) }

func (r *Sellables) FindByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*model.Sellable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.list {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Sellables) FindByBarcode(_ context.Context, _ *gorm.DB, barcode string, branchID uuid.UUID) (*model.Sellable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.list {
		if s.Barcode != nil && strings.EqualFold(*s.Barcode, barcode) && visible(s, branchID) {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Sellables) FindByCode(_ context.Context, _ *gorm.DB, code string, branchID uuid.UUID) (*model.Sellable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.list {
		if strings.EqualFold(s.Code, code) && visible(s, branchID) {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Sellables) FindByBatchNumber(_ context.Context, _ *gorm.DB, number string, branchID uuid.UUID) (*model.Sellable, *model.StorableBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.batches {
		if strings.EqualFold(e.batch.BatchNumber, number) && e.branchID == branchID &&
			e.qty.IsPositive() && visible(e.sellable, branchID) {
			return e.sellable, e.batch, nil
		}
	}
	return nil, nil, gorm.ErrRecordNotFound
}

func (r *Sellables) ListAvailable(_ context.Context, _ *gorm.DB, branchID uuid.UUID, limit int) ([]model.Sellable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Sellable
	for _, s := range r.list {
		if visible(s, branchID) {
			out = append(out, *s)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ── Stock ─────────────────────────────────────────────────────────────────────

type stockKey struct {
	storable, branch, batch uuid.UUID
}

type Stock struct {
	mu           sync.Mutex
	balances     map[stockKey]money.Quantity
	Transactions []model.StockTransaction
	Decreases    []*model.StockDecrease
}

// Set fixes the balance of a storable (and batch) in a branch.
func (r *Stock) Set(storableID, branchID uuid.UUID, batchID *uuid.UUID, qty money.Quantity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances == nil {
		r.balances = make(map[stockKey]money.Quantity)
	}
	r.balances[key(storableID, branchID, batchID)] = qty
}

func key(storableID, branchID uuid.UUID, batchID *uuid.UUID) stockKey {
	k := stockKey{storable: storableID, branch: branchID}
	if batchID != nil {
		k.batch = *batchID
	}
	return k
}

func (r *Stock) Balance(_ context.Context, _ *gorm.DB, storableID, branchID uuid.UUID, batchID *uuid.UUID) (money.Quantity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batchID != nil {
		return r.balances[key(storableID, branchID, batchID)], nil
	}
	total := money.ZeroQty
	for k, q := range r.balances {
		if k.storable == storableID && k.branch == branchID {
			total, _ = total.Add(q)
		}
	}
	return total, nil
}

func (r *Stock) Apply(_ context.Context, _ *gorm.DB, t *model.StockTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances == nil {
		r.balances = make(map[stockKey]money.Quantity)
	}
	k := key(t.StorableID, t.BranchID, t.BatchID)
	before := r.balances[k]
	after, err := before.Add(t.Quantity)
	if err != nil {
		return err
	}
	t.QuantityBefore, t.QuantityAfter = before, after
	r.balances[k] = after
	r.Transactions = append(r.Transactions, *t)
	return nil
}

func (r *Stock) CreateDecrease(_ context.Context, _ *gorm.DB, d *model.StockDecrease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	r.Decreases = append(r.Decreases, d)
	return nil
}

// ── Tokens ────────────────────────────────────────────────────────────────────

type Tokens struct {
	mu    sync.Mutex
	list  []*model.SaleToken
	Sales *Sales
}

func (r *Tokens) Add(t *model.SaleToken) *model.SaleToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = model.TokenAvailable
	}
	r.list = append(r.list, t)
	return t
}

func (r *Tokens) FindByCode(_ context.Context, _ *gorm.DB, code string, branchID uuid.UUID) (*model.SaleToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.list {
		if strings.EqualFold(t.Code, code) && t.BranchID == branchID {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Tokens) ClientOpenToken(_ context.Context, _ *gorm.DB, clientID, branchID uuid.UUID, exceptID *uuid.UUID) (*model.SaleToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.list {
		if !t.IsOccupied() || t.BranchID != branchID || (exceptID != nil && t.ID == *exceptID) {
			continue
		}
		if r.Sales == nil {
			continue
		}
		if s, ok := r.Sales.get(*t.SaleID); ok && s.ClientID != nil && *s.ClientID == clientID {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Tokens) Occupy(_ context.Context, _ *gorm.DB, tokenID, saleID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.list {
		if t.ID != tokenID {
			continue
		}
		if t.IsOccupied() && *t.SaleID != saleID {
			return repository.ErrTokenBusy
		}
		id := saleID
		t.Status, t.SaleID = model.TokenOccupied, &id
		return nil
	}
	return repository.ErrTokenBusy
}

func (r *Tokens) Release(_ context.Context, _ *gorm.DB, tokenID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.list {
		if t.ID == tokenID {
			t.Status, t.SaleID = model.TokenAvailable, nil
		}
	}
	return nil
}

// ── Sales ─────────────────────────────────────────────────────────────────────

type Sales struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*model.Sale
	next      int64
	Sellables *Sellables
	Clients   *Clients
}

func (r *Sales) get(id uuid.UUID) (*model.Sale, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// Put stores s as is, for fixtures.
func (r *Sales) Put(s *model.Sale) *model.Sale {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID == nil {
		r.byID = make(map[uuid.UUID]*model.Sale)
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.byID[s.ID] = s
	return s
}

// All returns every stored sale.
func (r *Sales) All() []*model.Sale {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Sale, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

func (r *Sales) Create(_ context.Context, _ *gorm.DB, s *model.Sale) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.Put(s)
	return nil
}

func (r *Sales) FindByID(ctx context.Context, _ *gorm.DB, id uuid.UUID) (*model.Sale, error) {
	s, ok := r.get(id)
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	for i := range s.Items {
		it := &s.Items[i]
		if it.Sellable == nil && r.Sellables != nil {
			it.Sellable, _ = r.Sellables.FindByID(ctx, nil, it.SellableID)
		}
	}
	if s.Client == nil && s.ClientID != nil && r.Clients != nil {
		s.Client, _ = r.Clients.FindByID(ctx, nil, *s.ClientID)
	}
	return s, nil
}

func (r *Sales) Update(_ context.Context, _ *gorm.DB, s *model.Sale) error {
	r.Put(s)
	return nil
}

func (r *Sales) UpdateStatus(_ context.Context, _ *gorm.DB, id uuid.UUID, status string) error {
	s, ok := r.get(id)
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.Status = status
	return nil
}

func (r *Sales) ReplaceItems(_ context.Context, _ *gorm.DB, saleID uuid.UUID, items []model.SaleItem) error {
	s, ok := r.get(saleID)
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.Items = append([]model.SaleItem(nil), items...)
	return nil
}

func (r *Sales) SaveDelivery(_ context.Context, _ *gorm.DB, saleID uuid.UUID, d *model.Delivery) error {
	s, ok := r.get(saleID)
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if d != nil {
		d.SaleID = saleID
	}
	s.Delivery = d
	return nil
}

func (r *Sales) NextIdentifier(context.Context, *gorm.DB) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	return r.next, nil
}

func (r *Sales) DB() *gorm.DB { return nil }

// ── Payments ──────────────────────────────────────────────────────────────────

type Payments struct {
	mu     sync.Mutex
	Groups []*model.PaymentGroup
	List   []*model.Payment
}

func (r *Payments) CreateGroup(_ context.Context, _ *gorm.DB, g *model.PaymentGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	r.Groups = append(r.Groups, g)
	return nil
}

func (r *Payments) Create(_ context.Context, _ *gorm.DB, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.List = append(r.List, p)
	return nil
}

func (r *Payments) ListByGroup(_ context.Context, _ *gorm.DB, groupID uuid.UUID) ([]model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Payment
	for _, p := range r.List {
		if p.GroupID == groupID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// ── Tills ─────────────────────────────────────────────────────────────────────

type Tills struct {
	mu      sync.Mutex
	list    []*model.Till
	Entries []*model.TillEntry
}

func (r *Tills) Open(_ context.Context, _ *gorm.DB, t *model.Till) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = model.TillOpen
	}
	r.list = append(r.list, t)
	return nil
}

func (r *Tills) FindOpen(_ context.Context, _ *gorm.DB, stationID uuid.UUID) (*model.Till, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.list {
		if t.StationID == stationID && t.Status == model.TillOpen {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Tills) Close(_ context.Context, _ *gorm.DB, t *model.Till) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Status = model.TillClosed
	return nil
}

func (r *Tills) AddEntry(_ context.Context, _ *gorm.DB, e *model.TillEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, e)
	return nil
}

func (r *Tills) ListEntries(_ context.Context, _ *gorm.DB, tillID uuid.UUID) ([]model.TillEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TillEntry
	for _, e := range r.Entries {
		if e.TillID == tillID {
			out = append(out, *e)
		}
	}
	return out, nil
}

// ── Fiscal documents ──────────────────────────────────────────────────────────

type FiscalDocuments struct {
	mu   sync.Mutex
	List []*model.FiscalDocument
}

func (r *FiscalDocuments) Create(_ context.Context, _ *gorm.DB, d *model.FiscalDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.List = append(r.List, d)
	return nil
}

func (r *FiscalDocuments) FindBySaleID(_ context.Context, _ *gorm.DB, saleID uuid.UUID) (*model.FiscalDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.List {
		if d.SaleID == saleID {
			return d, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Clients, trades, loans, users ─────────────────────────────────────────────

type Clients struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Client
}

func (r *Clients) Add(c *model.Client) *model.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID == nil {
		r.byID = make(map[uuid.UUID]*model.Client)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.byID[c.ID] = c
	return c
}

func (r *Clients) FindByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*model.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[id]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type Trades struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.ReturnedSale
}

func (r *Trades) Add(t *model.ReturnedSale) *model.ReturnedSale {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID == nil {
		r.byID = make(map[uuid.UUID]*model.ReturnedSale)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	r.byID[t.ID] = t
	return t
}

func (r *Trades) FindByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*model.ReturnedSale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[id]; ok {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Trades) Update(_ context.Context, _ *gorm.DB, t *model.ReturnedSale) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
	return nil
}

type Loans struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*model.Loan
	Closed []uuid.UUID
}

func (r *Loans) Add(l *model.Loan) *model.Loan {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID == nil {
		r.byID = make(map[uuid.UUID]*model.Loan)
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	for i := range l.Items {
		if l.Items[i].ID == uuid.Nil {
			l.Items[i].ID = uuid.New()
		}
		l.Items[i].LoanID = l.ID
	}
	r.byID[l.ID] = l
	return l
}

func (r *Loans) FindByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*model.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.byID[id]; ok {
		return l, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Loans) Close(_ context.Context, _ *gorm.DB, l *model.Loan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[l.ID] = l
	r.Closed = append(r.Closed, l.ID)
	return nil
}

type Users struct {
	mu   sync.Mutex
	list []*model.LoginUser
}

func (r *Users) Create(_ context.Context, u *model.LoginUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	r.list = append(r.list, u)
	return nil
}

func (r *Users) FindByUsername(_ context.Context, username string) (*model.LoginUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.list {
		if u.Username == username && u.IsActive {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Users) FindByID(_ context.Context, id uuid.UUID) (*model.LoginUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.list {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type Stations struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Station
}

func (r *Stations) Add(s *model.Station) *model.Station {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID == nil {
		r.byID = make(map[uuid.UUID]*model.Station)
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.byID[s.ID] = s
	return s
}

func (r *Stations) FindByID(_ context.Context, id uuid.UUID) (*model.Station, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok && s.IsActive {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}
