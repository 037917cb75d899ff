package repository

import (
	"context"
	"errors"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrTokenBusy is returned by Occupy when the token already holds a sale.
var ErrTokenBusy = errors.New("token already holds an open sale")

type TokenRepository interface {
	FindByCode(ctx context.Context, tx *gorm.DB, code string, branchID uuid.UUID) (*model.SaleToken, error)
	// ClientOpenToken returns the occupied token whose sale belongs to the
	// client in the branch, ignoring exceptID.
	ClientOpenToken(ctx context.Context, tx *gorm.DB, clientID, branchID uuid.UUID, exceptID *uuid.UUID) (*model.SaleToken, error)
	Occupy(ctx context.Context, tx *gorm.DB, tokenID, saleID uuid.UUID) error
	Release(ctx context.Context, tx *gorm.DB, tokenID uuid.UUID) error
}

type tokenRepo struct{ db *gorm.DB }

func NewTokenRepository(db *gorm.DB) TokenRepository { return &tokenRepo{db: db} }

func (r *tokenRepo) FindByCode(ctx context.Context, tx *gorm.DB, code string, branchID uuid.UUID) (*model.SaleToken, error) {
	var t model.SaleToken
	err := conn(ctx, r.db, tx).
		Where("LOWER(code) = LOWER(?) AND branch_id = ?", code, branchID).
		First(&t).Error
	return &t, err
}

func (r *tokenRepo) ClientOpenToken(ctx context.Context, tx *gorm.DB, clientID, branchID uuid.UUID, exceptID *uuid.UUID) (*model.SaleToken, error) {
	var t model.SaleToken
	q := conn(ctx, r.db, tx).
		Joins("JOIN sales s ON s.id = sale_tokens.sale_id").
		Where("sale_tokens.status = ? AND sale_tokens.branch_id = ? AND s.client_id = ?",
			model.TokenOccupied, branchID, clientID)
	if exceptID != nil {
		q = q.Where("sale_tokens.id <> ?", *exceptID)
	}
	err := q.First(&t).Error
	return &t, err
}

func (r *tokenRepo) Occupy(ctx context.Context, tx *gorm.DB, tokenID, saleID uuid.UUID) error {
	res := conn(ctx, r.db, tx).Model(&model.SaleToken{}).
		Where("id = ? AND (status = ? OR sale_id = ?)", tokenID, model.TokenAvailable, saleID).
		Updates(map[string]interface{}{"status": model.TokenOccupied, "sale_id": saleID})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTokenBusy
	}
	return nil
}

func (r *tokenRepo) Release(ctx context.Context, tx *gorm.DB, tokenID uuid.UUID) error {
	return conn(ctx, r.db, tx).Model(&model.SaleToken{}).
		Where("id = ?", tokenID).
		Updates(map[string]interface{}{"status": model.TokenAvailable, "sale_id": nil}).Error
}
