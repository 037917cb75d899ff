package repository

import (
	"context"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository interface {
	CreateGroup(ctx context.Context, tx *gorm.DB, g *model.PaymentGroup) error
	// Create stores the payment and its card data, if any.
	Create(ctx context.Context, tx *gorm.DB, p *model.Payment) error
	ListByGroup(ctx context.Context, tx *gorm.DB, groupID uuid.UUID) ([]model.Payment, error)
}

type paymentRepo struct{ db *gorm.DB }

func NewPaymentRepository(db *gorm.DB) PaymentRepository { return &paymentRepo{db: db} }

func (r *paymentRepo) CreateGroup(ctx context.Context, tx *gorm.DB, g *model.PaymentGroup) error {
	return conn(ctx, r.db, tx).Omit(clause.Associations).Create(g).Error
}

func (r *paymentRepo) Create(ctx context.Context, tx *gorm.DB, p *model.Payment) error {
	return conn(ctx, r.db, tx).Create(p).Error
}

func (r *paymentRepo) ListByGroup(ctx context.Context, tx *gorm.DB, groupID uuid.UUID) ([]model.Payment, error) {
	var list []model.Payment
	err := conn(ctx, r.db, tx).Preload("CardData").
		Where("group_id = ?", groupID).
		Order("installment ASC, created_at ASC").
		Find(&list).Error
	return list, err
}
