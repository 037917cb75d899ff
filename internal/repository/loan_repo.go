package repository

import (
	"context"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LoanRepository interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Loan, error)
	// Close stores the loan status and the sold/returned quantities of its items.
	Close(ctx context.Context, tx *gorm.DB, l *model.Loan) error
}

type loanRepo struct{ db *gorm.DB }

func NewLoanRepository(db *gorm.DB) LoanRepository { return &loanRepo{db: db} }

func (r *loanRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Loan, error) {
	var l model.Loan
	err := conn(ctx, r.db, tx).
		Preload("Items.Sellable.Unit").
		Preload("Items.Sellable.Product.Storable").
		Preload("Items.Batch").
		First(&l, "id = ?", id).Error
	return &l, err
}

func (r *loanRepo) Close(ctx context.Context, tx *gorm.DB, l *model.Loan) error {
	db := conn(ctx, r.db, tx)
	if err := db.Omit(clause.Associations).Save(l).Error; err != nil {
		return err
	}
	for i := range l.Items {
		it := &l.Items[i]
		err := db.Model(&model.LoanItem{}).Where("id = ?", it.ID).Updates(map[string]interface{}{
			"sale_quantity":   it.SaleQuantity,
			"return_quantity": it.ReturnQuantity,
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}
