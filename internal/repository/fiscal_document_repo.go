package repository

import (
	"context"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FiscalDocumentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, d *model.FiscalDocument) error
	FindBySaleID(ctx context.Context, tx *gorm.DB, saleID uuid.UUID) (*model.FiscalDocument, error)
}

type fiscalDocumentRepo struct{ db *gorm.DB }

func NewFiscalDocumentRepository(db *gorm.DB) FiscalDocumentRepository {
	return &fiscalDocumentRepo{db: db}
}

func (r *fiscalDocumentRepo) Create(ctx context.Context, tx *gorm.DB, d *model.FiscalDocument) error {
	return conn(ctx, r.db, tx).Create(d).Error
}

func (r *fiscalDocumentRepo) FindBySaleID(ctx context.Context, tx *gorm.DB, saleID uuid.UUID) (*model.FiscalDocument, error) {
	var d model.FiscalDocument
	err := conn(ctx, r.db, tx).Where("sale_id = ?", saleID).First(&d).Error
	return &d, err
}
