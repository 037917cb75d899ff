package infra

import (
	"fmt"

	"retailpos/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the GORM connection, migrates every table of the sale
// lifecycle and applies the SQL patches AutoMigrate cannot express.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations creates or updates the schema. Integration tests call it on
// a fresh container.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Branch{},
		&model.Station{},
		&model.UserProfile{},
		&model.LoginUser{},
		&model.ClientCategory{},
		&model.Client{},
		&model.SellableUnit{},
		&model.SellableCategory{},
		&model.Product{},
		&model.Storable{},
		&model.StorableBatch{},
		&model.Sellable{},
		&model.SellableCategoryPrice{},
		&model.ProductComponent{},
		&model.ProductStockItem{},
		&model.PaymentGroup{},
		&model.Payment{},
		&model.CreditCardData{},
		&model.Sale{},
		&model.SaleItem{},
		&model.SaleToken{},
		&model.Transporter{},
		&model.Delivery{},
		&model.StockTransaction{},
		&model.StockDecrease{},
		&model.StockDecreaseItem{},
		&model.Till{},
		&model.TillEntry{},
		&model.ReturnedSale{},
		&model.ReturnedSaleItem{},
		&model.Loan{},
		&model.LoanItem{},
		&model.FiscalDocument{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	return applySchemaPatches(db)
}

// applySchemaPatches runs idempotent DDL that GORM cannot express.
func applySchemaPatches(db *gorm.DB) error {
	patches := []string{
		// sale identifiers are handed out by a sequence so concurrent stations never collide
		`CREATE SEQUENCE IF NOT EXISTS sales_identifier_seq START 1`,
		// one open till per station
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tills_open_station
		    ON tills (station_id) WHERE status = 'open'`,
		// stock lookups by storable and batch, NULL batches included
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_stock_items_storable_branch_batch
		    ON product_stock_items (storable_id, branch_id, COALESCE(batch_id, '00000000-0000-0000-0000-000000000000'::uuid))`,
	}

	for _, sql := range patches {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", sql[:min(len(sql), 60)], err)
		}
	}
	return nil
}
