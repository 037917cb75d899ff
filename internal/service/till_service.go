package service

import (
	"context"
	"time"

	"retailpos/internal/apierror"
	"retailpos/internal/dto"
	"retailpos/internal/model"
	"retailpos/internal/repository"

	"github.com/google/uuid"
)

var (
	ErrTillAlreadyOpen = apierror.InvalidStatus("a till is already open on this station")
	ErrNoOpenTill      = apierror.InvalidStatus("there is no open till on this station")
)

// TillService manages the cash register session of a station. Money
// payments taken by the POS post their own entries through payment.Composer;
// this service covers opening, manual entries and closing.
type TillService interface {
	Open(ctx context.Context, branchID, stationID, userID uuid.UUID, req dto.OpenTillRequest) (*dto.TillResponse, error)
	AddEntry(ctx context.Context, stationID uuid.UUID, req dto.TillEntryRequest) (*dto.TillResponse, error)
	Current(ctx context.Context, stationID uuid.UUID) (*dto.TillResponse, error)
	Close(ctx context.Context, stationID uuid.UUID) (*dto.TillResponse, error)
}

type tillService struct {
	repo repository.TillRepository
	now  func() time.Time
}

func NewTillService(repo repository.TillRepository) TillService {
	return &tillService{repo: repo, now: time.Now}
}

// ── Open ──────────────────────────────────────────────────────────────────────

func (s *tillService) Open(ctx context.Context, branchID, stationID, userID uuid.UUID, req dto.OpenTillRequest) (*dto.TillResponse, error) {
	if req.InitialCash.IsNegative() {
		return nil, apierror.Validation("initial_cash", "The initial cash cannot be negative")
	}
	if _, err := s.repo.FindOpen(ctx, nil, stationID); err == nil {
		return nil, ErrTillAlreadyOpen
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	till := &model.Till{
		ID:          uuid.New(),
		StationID:   stationID,
		BranchID:    branchID,
		OpenedByID:  userID,
		InitialCash: req.InitialCash,
		Status:      model.TillOpen,
		OpenedAt:    s.now(),
	}
	if err := s.repo.Open(ctx, nil, till); err != nil {
		return nil, err
	}
	return s.report(ctx, till)
}

// ── AddEntry ──────────────────────────────────────────────────────────────────
// Manual in/out movements. Entries are immutable; a correction is a new entry.

func (s *tillService) AddEntry(ctx context.Context, stationID uuid.UUID, req dto.TillEntryRequest) (*dto.TillResponse, error) {
	if req.Value.IsZero() {
		return nil, apierror.Validation("value", "The value cannot be zero")
	}
	till, err := s.open(ctx, stationID)
	if err != nil {
		return nil, err
	}
	entry := &model.TillEntry{
		ID:          uuid.New(),
		TillID:      till.ID,
		Value:       req.Value,
		Description: req.Description,
		CreatedAt:   s.now(),
	}
	if err := s.repo.AddEntry(ctx, nil, entry); err != nil {
		return nil, err
	}
	return s.report(ctx, till)
}

func (s *tillService) Current(ctx context.Context, stationID uuid.UUID) (*dto.TillResponse, error) {
	till, err := s.open(ctx, stationID)
	if err != nil {
		return nil, err
	}
	return s.report(ctx, till)
}

// ── Close ─────────────────────────────────────────────────────────────────────

func (s *tillService) Close(ctx context.Context, stationID uuid.UUID) (*dto.TillResponse, error) {
	till, err := s.open(ctx, stationID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	till.ClosedAt = &now
	if err := s.repo.Close(ctx, nil, till); err != nil {
		return nil, err
	}
	till.Status = model.TillClosed
	return s.report(ctx, till)
}

func (s *tillService) open(ctx context.Context, stationID uuid.UUID) (*model.Till, error) {
	till, err := s.repo.FindOpen(ctx, nil, stationID)
	if repository.IsNotFound(err) {
		return nil, ErrNoOpenTill
	}
	return till, err
}

// report lists the entries of till with the running balance.
func (s *tillService) report(ctx context.Context, till *model.Till) (*dto.TillResponse, error) {
	entries, err := s.repo.ListEntries(ctx, nil, till.ID)
	if err != nil {
		return nil, err
	}
	resp := &dto.TillResponse{
		ID:          till.ID.String(),
		StationID:   till.StationID.String(),
		Status:      till.Status,
		InitialCash: till.InitialCash,
		OpenedAt:    till.OpenedAt.Format(time.RFC3339),
		Entries:     make([]dto.TillEntryResponse, 0, len(entries)),
	}
	if till.ClosedAt != nil {
		closed := till.ClosedAt.Format(time.RFC3339)
		resp.ClosedAt = &closed
	}

	balance := till.InitialCash
	for _, e := range entries {
		if balance, err = balance.Add(e.Value); err != nil {
			return nil, err
		}
		er := dto.TillEntryResponse{
			ID:          e.ID.String(),
			Value:       e.Value,
			Description: e.Description,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		}
		if e.PaymentID != nil {
			pid := e.PaymentID.String()
			er.PaymentID = &pid
		}
		resp.Entries = append(resp.Entries, er)
	}
	resp.Balance = balance
	return resp, nil
}
