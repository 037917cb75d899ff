package repository

import (
	"context"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TradeRepository interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.ReturnedSale, error)
	Update(ctx context.Context, tx *gorm.DB, r *model.ReturnedSale) error
}

type tradeRepo struct{ db *gorm.DB }

func NewTradeRepository(db *gorm.DB) TradeRepository { return &tradeRepo{db: db} }

func (r *tradeRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.ReturnedSale, error) {
	var t model.ReturnedSale
	err := conn(ctx, r.db, tx).Preload("Items").First(&t, "id = ?", id).Error
	return &t, err
}

func (r *tradeRepo) Update(ctx context.Context, tx *gorm.DB, t *model.ReturnedSale) error {
	return conn(ctx, r.db, tx).Omit(clause.Associations).Save(t).Error
}
