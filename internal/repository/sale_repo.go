package repository

import (
	"context"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SaleRepository interface {
	Create(ctx context.Context, tx *gorm.DB, s *model.Sale) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Sale, error)
	Update(ctx context.Context, tx *gorm.DB, s *model.Sale) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error
	// ReplaceItems swaps the stored lines of the sale for items.
	ReplaceItems(ctx context.Context, tx *gorm.DB, saleID uuid.UUID, items []model.SaleItem) error
	// SaveDelivery replaces the delivery of the sale; nil removes it.
	SaveDelivery(ctx context.Context, tx *gorm.DB, saleID uuid.UUID, d *model.Delivery) error
	NextIdentifier(ctx context.Context, tx *gorm.DB) (int64, error)
	DB() *gorm.DB // exposes the DB for store creation
}

type saleRepo struct{ db *gorm.DB }

func NewSaleRepository(db *gorm.DB) SaleRepository { return &saleRepo{db: db} }

func (r *saleRepo) DB() *gorm.DB { return r.db }

func (r *saleRepo) Create(ctx context.Context, tx *gorm.DB, s *model.Sale) error {
	return conn(ctx, r.db, tx).Omit(clause.Associations).Create(s).Error
}

func (r *saleRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Sale, error) {
	var s model.Sale
	err := conn(ctx, r.db, tx).
		Preload("Client.Category").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Items.Sellable.Unit").
		Preload("Items.Sellable.Category").
		Preload("Items.Sellable.Prices").
		Preload("Items.Sellable.Product.Storable").
		Preload("Items.Batch").
		Preload("Delivery").
		Preload("Group.Payments").
		First(&s, "id = ?", id).Error
	return &s, err
}

func (r *saleRepo) Update(ctx context.Context, tx *gorm.DB, s *model.Sale) error {
	return conn(ctx, r.db, tx).Omit(clause.Associations).Save(s).Error
}

func (r *saleRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	return conn(ctx, r.db, tx).Model(&model.Sale{}).Where("id = ?", id).Update("status", status).Error
}

func (r *saleRepo) ReplaceItems(ctx context.Context, tx *gorm.DB, saleID uuid.UUID, items []model.SaleItem) error {
	db := conn(ctx, r.db, tx)
	if err := db.Where("sale_id = ?", saleID).Delete(&model.SaleItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return db.Omit(clause.Associations).Create(&items).Error
}

func (r *saleRepo) SaveDelivery(ctx context.Context, tx *gorm.DB, saleID uuid.UUID, d *model.Delivery) error {
	db := conn(ctx, r.db, tx)
	if err := db.Where("sale_id = ?", saleID).Delete(&model.Delivery{}).Error; err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	d.SaleID = saleID
	return db.Omit(clause.Associations).Create(d).Error
}

func (r *saleRepo) NextIdentifier(ctx context.Context, tx *gorm.DB) (int64, error) {
	// Uses a PostgreSQL sequence for atomic identifier generation
	var n int64
	err := conn(ctx, r.db, tx).Raw("SELECT nextval('sales_identifier_seq')").Scan(&n).Error
	return n, err
}
