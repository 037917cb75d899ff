// Package inventory moves stock for sales, token reservations, loan returns
// and manual decreases. Every movement is recorded as a stock transaction.
package inventory

import (
	"context"
	"fmt"
	"time"

	"retailpos/internal/apierror"
	"retailpos/internal/event"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrNotEnoughStock is returned when a movement would leave a negative balance.
var ErrNotEnoughStock = apierror.Stock("available quantity is not enough")

type Service struct {
	stock repository.StockRepository
	bus   event.Emitter
}

func NewService(stock repository.StockRepository, bus event.Emitter) *Service {
	return &Service{stock: stock, bus: bus}
}

// Balance is the quantity of s in stock at branchID, zero for services.
func (s *Service) Balance(ctx context.Context, tx *gorm.DB, sellable *model.Sellable, branchID uuid.UUID, batchID *uuid.UUID) (money.Quantity, error) {
	if sellable.IsService() {
		return money.ZeroQty, nil
	}
	return s.stock.Balance(ctx, tx, sellable.Product.Storable.ID, branchID, batchID)
}

// Reserve takes the pending quantity of token sale items out of stock so the
// goods stay set aside while the sale is open.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, branchID uuid.UUID, items []*model.SaleItem) error {
	return s.takeOut(ctx, tx, branchID, items, model.StockTxReserve)
}

// Decrease takes the pending quantity of sale items out of stock at checkout.
func (s *Service) Decrease(ctx context.Context, tx *gorm.DB, branchID uuid.UUID, items []*model.SaleItem) error {
	return s.takeOut(ctx, tx, branchID, items, model.StockTxSale)
}

func (s *Service) takeOut(ctx context.Context, tx *gorm.DB, branchID uuid.UUID, items []*model.SaleItem, kind string) error {
	for _, it := range items {
		if it.Sellable == nil {
			return fmt.Errorf("sale item %s: sellable not loaded", it.ID)
		}
		if it.Sellable.IsService() {
			continue
		}
		pending, err := it.Quantity.Sub(it.QuantityDecreased)
		if err != nil {
			return err
		}
		if !pending.IsPositive() {
			continue
		}
		out, err := money.ZeroQty.Sub(pending)
		if err != nil {
			return err
		}
		ref := it.ID
		st := &model.StockTransaction{
			StorableID:  it.Sellable.Product.Storable.ID,
			BranchID:    branchID,
			BatchID:     it.BatchID,
			Type:        kind,
			Quantity:    out,
			ReferenceID: &ref,
		}
		if err := s.stock.Apply(ctx, tx, st); err != nil {
			return fmt.Errorf("apply stock transaction: %w", err)
		}
		if st.QuantityAfter.IsNegative() {
			log.Warn().
				Str("sellable", it.Sellable.Code).
				Str("balance", st.QuantityBefore.Fixed()).
				Str("requested", pending.Fixed()).
				Msg("inventory: not enough stock")
			return ErrNotEnoughStock
		}
		it.QuantityDecreased = it.Quantity
	}
	return nil
}

// Release puts back what sale items had taken out of stock, e.g. when an
// empty token is closed.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, branchID uuid.UUID, items []*model.SaleItem) error {
	for _, it := range items {
		if it.Sellable == nil || it.Sellable.IsService() || !it.QuantityDecreased.IsPositive() {
			continue
		}
		ref := it.ID
		st := &model.StockTransaction{
			StorableID:  it.Sellable.Product.Storable.ID,
			BranchID:    branchID,
			BatchID:     it.BatchID,
			Type:        model.StockTxRelease,
			Quantity:    it.QuantityDecreased,
			ReferenceID: &ref,
		}
		if err := s.stock.Apply(ctx, tx, st); err != nil {
			return fmt.Errorf("apply stock transaction: %w", err)
		}
		it.QuantityDecreased = money.ZeroQty
	}
	return nil
}

// ReturnLoan brings the returned quantities of a loan back into stock.
func (s *Service) ReturnLoan(ctx context.Context, tx *gorm.DB, loan *model.Loan) error {
	for i := range loan.Items {
		li := &loan.Items[i]
		if li.Sellable == nil || li.Sellable.IsService() || !li.ReturnQuantity.IsPositive() {
			continue
		}
		ref := li.ID
		st := &model.StockTransaction{
			StorableID:  li.Sellable.Product.Storable.ID,
			BranchID:    loan.BranchID,
			BatchID:     li.BatchID,
			Type:        model.StockTxLoan,
			Quantity:    li.ReturnQuantity,
			ReferenceID: &ref,
			Reason:      "loan return",
		}
		if err := s.stock.Apply(ctx, tx, st); err != nil {
			return fmt.Errorf("apply stock transaction: %w", err)
		}
	}
	return nil
}

// CreateDecrease records a manual stock decrease and takes its items out of
// stock, then emits StockDecreaseWizardFinish.
func (s *Service) CreateDecrease(ctx context.Context, tx *gorm.DB, d *model.StockDecrease) error {
	if len(d.Items) == 0 {
		return apierror.Validation("items", "Add at least one item to decrease")
	}
	if d.Reason == "" {
		return apierror.Validation("reason", "The reason is required")
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.ConfirmDate.IsZero() {
		d.ConfirmDate = time.Now()
	}
	if d.Status == "" {
		d.Status = "confirmed"
	}
	for i := range d.Items {
		it := &d.Items[i]
		if it.Sellable == nil {
			return fmt.Errorf("decrease item %s: sellable not loaded", it.SellableID)
		}
		if it.Sellable.IsService() {
			return apierror.Validationf("items", "%s is a service and has no stock", it.Sellable.Description)
		}
		if !it.Quantity.IsPositive() {
			return apierror.Validation("quantity", "Quantity must be greater than zero")
		}
		ref := d.ID
		st := &model.StockTransaction{
			StorableID:  it.Sellable.Product.Storable.ID,
			BranchID:    d.BranchID,
			BatchID:     it.BatchID,
			Type:        model.StockTxDecrease,
			ReferenceID: &ref,
			Reason:      d.Reason,
		}
		var err error
		if st.Quantity, err = money.ZeroQty.Sub(it.Quantity); err != nil {
			return err
		}
		if err := s.stock.Apply(ctx, tx, st); err != nil {
			return fmt.Errorf("apply stock transaction: %w", err)
		}
		if st.QuantityAfter.IsNegative() {
			return ErrNotEnoughStock
		}
	}
	if err := s.stock.CreateDecrease(ctx, tx, d); err != nil {
		return fmt.Errorf("create stock decrease: %w", err)
	}
	if err := s.bus.Emit(ctx, event.StockDecreaseWizardFinishEvent{Decrease: d}); err != nil {
		log.Error().Err(err).Str("decrease_id", d.ID.String()).Msg("inventory: stock decrease handlers failed")
	}
	return nil
}
