package repository

import (
	"context"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TillRepository interface {
	Open(ctx context.Context, tx *gorm.DB, t *model.Till) error
	FindOpen(ctx context.Context, tx *gorm.DB, stationID uuid.UUID) (*model.Till, error)
	// Close marks the till closed at t.ClosedAt.
	Close(ctx context.Context, tx *gorm.DB, t *model.Till) error
	AddEntry(ctx context.Context, tx *gorm.DB, e *model.TillEntry) error
	ListEntries(ctx context.Context, tx *gorm.DB, tillID uuid.UUID) ([]model.TillEntry, error)
}

type tillRepo struct{ db *gorm.DB }

func NewTillRepository(db *gorm.DB) TillRepository { return &tillRepo{db: db} }

func (r *tillRepo) Open(ctx context.Context, tx *gorm.DB, t *model.Till) error {
	return conn(ctx, r.db, tx).Create(t).Error
}

func (r *tillRepo) FindOpen(ctx context.Context, tx *gorm.DB, stationID uuid.UUID) (*model.Till, error) {
	var t model.Till
	err := conn(ctx, r.db, tx).Where("station_id = ? AND status = ?", stationID, model.TillOpen).First(&t).Error
	return &t, err
}

func (r *tillRepo) Close(ctx context.Context, tx *gorm.DB, t *model.Till) error {
	return conn(ctx, r.db, tx).Model(t).Updates(map[string]interface{}{
		"status":    model.TillClosed,
		"closed_at": t.ClosedAt,
	}).Error
}

func (r *tillRepo) AddEntry(ctx context.Context, tx *gorm.DB, e *model.TillEntry) error {
	return conn(ctx, r.db, tx).Create(e).Error
}

func (r *tillRepo) ListEntries(ctx context.Context, tx *gorm.DB, tillID uuid.UUID) ([]model.TillEntry, error) {
	var list []model.TillEntry
	err := conn(ctx, r.db, tx).Where("till_id = ?", tillID).Order("created_at ASC").Find(&list).Error
	return list, err
}
