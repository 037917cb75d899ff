package service

import (
	"context"
	"fmt"
	"time"

	"retailpos/internal/apierror"
	"retailpos/internal/dto"
	"retailpos/internal/inventory"
	"retailpos/internal/model"
	"retailpos/internal/repository"
	"retailpos/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StockService records manual stock decreases (losses, internal use) in one
// unit of work: either every item leaves stock or none does.
type StockService interface {
	Decrease(ctx context.Context, branchID, userID uuid.UUID, req dto.StockDecreaseRequest) (*dto.StockDecreaseResponse, error)
}

type stockService struct {
	stores    store.Factory
	sellables repository.SellableRepository
	inventory *inventory.Service
}

func NewStockService(stores store.Factory, sellables repository.SellableRepository, inv *inventory.Service) StockService {
	return &stockService{stores: stores, sellables: sellables, inventory: inv}
}

func (s *stockService) Decrease(ctx context.Context, branchID, userID uuid.UUID, req dto.StockDecreaseRequest) (*dto.StockDecreaseResponse, error) {
	st, err := s.stores.NewStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("stock: closing store failed")
		}
	}()

	d := &model.StockDecrease{
		ID:            uuid.New(),
		BranchID:      branchID,
		ResponsibleID: userID,
		Reason:        req.Reason,
		ConfirmDate:   time.Now(),
		Items:         make([]model.StockDecreaseItem, 0, len(req.Items)),
	}

	// 1. Load every sellable inside the store
	for _, it := range req.Items {
		sellableID, err := uuid.Parse(it.SellableID)
		if err != nil {
			return nil, apierror.Validation("sellable_id", "Invalid sellable id")
		}
		sellable, err := s.sellables.FindByID(ctx, st.DB(), sellableID)
		if repository.IsNotFound(err) {
			return nil, apierror.NotFound("sellable " + it.SellableID + " not found")
		}
		if err != nil {
			return nil, err
		}
		var batchID *uuid.UUID
		if it.BatchID != nil {
			id, err := uuid.Parse(*it.BatchID)
			if err != nil {
				return nil, apierror.Validation("batch_id", "Invalid batch id")
			}
			batchID = &id
		}
		d.Items = append(d.Items, model.StockDecreaseItem{
			ID:              uuid.New(),
			StockDecreaseID: d.ID,
			SellableID:      sellableID,
			BatchID:         batchID,
			Quantity:        it.Quantity,
			Sellable:        sellable,
		})
	}

	// 2. Take the goods out and commit
	if err := s.inventory.CreateDecrease(ctx, st.DB(), d); err != nil {
		return nil, err
	}
	if err := st.Commit(); err != nil {
		return nil, err
	}

	log.Info().
		Str("decrease_id", d.ID.String()).
		Str("branch_id", branchID.String()).
		Int("items", len(d.Items)).
		Msg("stock: decrease confirmed")

	return &dto.StockDecreaseResponse{
		ID:          d.ID.String(),
		Status:      d.Status,
		ConfirmDate: d.ConfirmDate.Format(time.RFC3339),
		Items:       len(d.Items),
	}, nil
}
