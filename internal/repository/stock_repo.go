package repository

import (
	"context"

	"retailpos/internal/model"
	"retailpos/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockRepository reads and moves storable balances. Apply is the only
// writer and always records a StockTransaction.
type StockRepository interface {
	// Balance is the quantity of the storable in the branch; with a batch it
	// is that batch's quantity, otherwise the sum over all batches.
	Balance(ctx context.Context, tx *gorm.DB, storableID, branchID uuid.UUID, batchID *uuid.UUID) (money.Quantity, error)
	// Apply adds t.Quantity (signed) to the balance, filling in the before
	// and after quantities, and stores t.
	Apply(ctx context.Context, tx *gorm.DB, t *model.StockTransaction) error
	CreateDecrease(ctx context.Context, tx *gorm.DB, d *model.StockDecrease) error
}

type stockRepo struct{ db *gorm.DB }

func NewStockRepository(db *gorm.DB) StockRepository { return &stockRepo{db: db} }

func (r *stockRepo) Balance(ctx context.Context, tx *gorm.DB, storableID, branchID uuid.UUID, batchID *uuid.UUID) (money.Quantity, error) {
	var row struct{ Total decimal.Decimal }
	q := conn(ctx, r.db, tx).Model(&model.ProductStockItem{}).
		Select("COALESCE(SUM(quantity), 0) AS total").
		Where("storable_id = ? AND branch_id = ?", storableID, branchID)
	if batchID != nil {
		q = q.Where("batch_id = ?", *batchID)
	}
	if err := q.Scan(&row).Error; err != nil {
		return money.ZeroQty, err
	}
	return money.NewQuantity(row.Total)
}

func (r *stockRepo) Apply(ctx context.Context, tx *gorm.DB, t *model.StockTransaction) error {
	db := conn(ctx, r.db, tx)
	var item model.ProductStockItem
	q := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("storable_id = ? AND branch_id = ?", t.StorableID, t.BranchID)
	if t.BatchID != nil {
		q = q.Where("batch_id = ?", *t.BatchID)
	} else {
		q = q.Where("batch_id IS NULL")
	}
	err := q.First(&item).Error
	if IsNotFound(err) {
		item = model.ProductStockItem{StorableID: t.StorableID, BranchID: t.BranchID, BatchID: t.BatchID}
		if err := db.Create(&item).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	after, err := item.Quantity.Add(t.Quantity)
	if err != nil {
		return err
	}
	t.QuantityBefore = item.Quantity
	t.QuantityAfter = after
	if err := db.Model(&item).Update("quantity", after).Error; err != nil {
		return err
	}
	return db.Create(t).Error
}

func (r *stockRepo) CreateDecrease(ctx context.Context, tx *gorm.DB, d *model.StockDecrease) error {
	return conn(ctx, r.db, tx).Create(d).Error
}
