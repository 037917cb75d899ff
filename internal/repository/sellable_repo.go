package repository

import (
	"context"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SellableRepository is the read side of the catalog. Lookups by code only
// return available sellables visible in the branch; FindByID does not filter,
// since sales and loans keep referring to sellables later withdrawn.
type SellableRepository interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Sellable, error)
	FindByBarcode(ctx context.Context, tx *gorm.DB, barcode string, branchID uuid.UUID) (*model.Sellable, error)
	FindByCode(ctx context.Context, tx *gorm.DB, code string, branchID uuid.UUID) (*model.Sellable, error)
	// FindByBatchNumber returns the batch and its sellable when the batch has
	// stock in the branch.
	FindByBatchNumber(ctx context.Context, tx *gorm.DB, number string, branchID uuid.UUID) (*model.Sellable, *model.StorableBatch, error)
	ListAvailable(ctx context.Context, tx *gorm.DB, branchID uuid.UUID, limit int) ([]model.Sellable, error)
	DB() *gorm.DB
}

type sellableRepo struct{ db *gorm.DB }

func NewSellableRepository(db *gorm.DB) SellableRepository { return &sellableRepo{db: db} }

func (r *sellableRepo) DB() *gorm.DB { return r.db }

func (r *sellableRepo) preload(q *gorm.DB) *gorm.DB {
	return q.Preload("Unit").
		Preload("Category").
		Preload("Prices").
		Preload("Product.Storable.Batches").
		Preload("Product.Components", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Product.Components.ComponentSellable.Unit").
		Preload("Product.Components.ComponentSellable.Product.Storable")
}

func (r *sellableRepo) visible(q *gorm.DB, branchID uuid.UUID) *gorm.DB {
	return q.Where("sellables.status = ? AND (sellables.branch_id IS NULL OR sellables.branch_id = ?)",
		model.SellableAvailable, branchID)
}

func (r *sellableRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Sellable, error) {
	var s model.Sellable
	err := r.preload(conn(ctx, r.db, tx)).First(&s, "id = ?", id).Error
	return &s, err
}

func (r *sellableRepo) FindByBarcode(ctx context.Context, tx *gorm.DB, barcode string, branchID uuid.UUID) (*model.Sellable, error) {
	var s model.Sellable
	q := r.visible(r.preload(conn(ctx, r.db, tx)), branchID)
	err := q.Where("LOWER(sellables.barcode) = LOWER(?)", barcode).First(&s).Error
	return &s, err
}

func (r *sellableRepo) FindByCode(ctx context.Context, tx *gorm.DB, code string, branchID uuid.UUID) (*model.Sellable, error) {
	var s model.Sellable
	q := r.visible(r.preload(conn(ctx, r.db, tx)), branchID)
	err := q.Where("LOWER(sellables.code) = LOWER(?)", code).First(&s).Error
	return &s, err
}

func (r *sellableRepo) FindByBatchNumber(ctx context.Context, tx *gorm.DB, number string, branchID uuid.UUID) (*model.Sellable, *model.StorableBatch, error) {
	db := conn(ctx, r.db, tx)
	var batch model.StorableBatch
	err := db.Joins("JOIN product_stock_items psi ON psi.batch_id = storable_batches.id").
		Where("LOWER(storable_batches.batch_number) = LOWER(?) AND psi.branch_id = ? AND psi.quantity > 0", number, branchID).
		First(&batch).Error
	if err != nil {
		return nil, nil, err
	}
	var s model.Sellable
	q := r.visible(r.preload(db), branchID)
	err = q.Joins("JOIN products p ON p.sellable_id = sellables.id").
		Joins("JOIN storables st ON st.product_id = p.id").
		Where("st.id = ?", batch.StorableID).
		First(&s).Error
	if err != nil {
		return nil, nil, err
	}
	return &s, &batch, nil
}

func (r *sellableRepo) ListAvailable(ctx context.Context, tx *gorm.DB, branchID uuid.UUID, limit int) ([]model.Sellable, error) {
	var list []model.Sellable
	q := r.visible(conn(ctx, r.db, tx).Preload("Unit").Preload("Product"), branchID).Order("sellables.code ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&list).Error
	return list, err
}
