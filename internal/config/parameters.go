package config

import (
	"sync/atomic"

	"github.com/spf13/viper"
)

// Parameters are the system parameters consulted by the sale engine. A value
// is immutable: commands take one Snapshot when they start and never read the
// source again, so a parameter change cannot flip policy mid-command.
type Parameters struct {
	// ConfirmQtyOnBarcodeActivate hands focus to the quantity entry after a
	// barcode resolves instead of adding the item right away.
	ConfirmQtyOnBarcodeActivate bool `mapstructure:"CONFIRM_QTY_ON_BARCODE_ACTIVATE"`
	POSAllowChangePrice         bool `mapstructure:"POS_ALLOW_CHANGE_PRICE"`
	// ConfirmSalesOnTill defers the fiscal coupon until checkout.
	ConfirmSalesOnTill bool `mapstructure:"CONFIRM_SALES_ON_TILL"`
	UseSaleToken       bool `mapstructure:"USE_SALE_TOKEN"`
	// POSSeparateCashier leaves money payments pending for the till app.
	POSSeparateCashier    bool   `mapstructure:"POS_SEPARATE_CASHIER"`
	POSFullScreen         bool   `mapstructure:"POS_FULL_SCREEN"`
	HasDeliveryMode       bool   `mapstructure:"HAS_DELIVERY_MODE"`
	ScaleBarcodeFormat    int    `mapstructure:"SCALE_BARCODE_FORMAT"`
	AllowHigherSalePrice  bool   `mapstructure:"ALLOW_HIGHER_SALE_PRICE"`
	UseTradeAsDiscount    bool   `mapstructure:"USE_TRADE_AS_DISCOUNT"`
	PrintSaleDetailsOnPOS bool   `mapstructure:"PRINT_SALE_DETAILS_ON_POS"`
	DeliveryService       string `mapstructure:"DELIVERY_SERVICE"`            // sellable id
	DefaultScaleToken     string `mapstructure:"DEFAULT_SCALE_TOKEN_PRODUCT"` // product id, optional
	DefaultSalesCFOP      string `mapstructure:"DEFAULT_SALES_CFOP"`          // fiscal operation id
	DefaultOpNature       string `mapstructure:"DEFAULT_OPERATION_NATURE"`
	// DemoMode caps the catalogue size.
	DemoMode bool `mapstructure:"DEMO_MODE"`
}

// DeferredCoupon reports whether the fiscal coupon is assembled at checkout.
func (p Parameters) DeferredCoupon() bool {
	return p.ConfirmSalesOnTill || p.UseSaleToken
}

func setParameterDefaults(v *viper.Viper) {
	v.SetDefault("CONFIRM_QTY_ON_BARCODE_ACTIVATE", false)
	v.SetDefault("POS_ALLOW_CHANGE_PRICE", true)
	v.SetDefault("CONFIRM_SALES_ON_TILL", false)
	v.SetDefault("USE_SALE_TOKEN", false)
	v.SetDefault("POS_SEPARATE_CASHIER", false)
	v.SetDefault("POS_FULL_SCREEN", false)
	v.SetDefault("HAS_DELIVERY_MODE", true)
	v.SetDefault("SCALE_BARCODE_FORMAT", 4)
	v.SetDefault("ALLOW_HIGHER_SALE_PRICE", true)
	v.SetDefault("USE_TRADE_AS_DISCOUNT", false)
	v.SetDefault("PRINT_SALE_DETAILS_ON_POS", false)
	v.SetDefault("DELIVERY_SERVICE", "")
	v.SetDefault("DEFAULT_SCALE_TOKEN_PRODUCT", "")
	v.SetDefault("DEFAULT_SALES_CFOP", "5.102")
	v.SetDefault("DEFAULT_OPERATION_NATURE", "Sale")
	v.SetDefault("DEMO_MODE", false)
}

// ParamSource hands out parameter snapshots.
type ParamSource interface {
	Snapshot() Parameters
}

// Store is a ParamSource whose value can be replaced at runtime (e.g. by an
// admin endpoint). Readers always see a complete, consistent value.
type Store struct {
	v atomic.Value
}

func NewStore(p Parameters) *Store {
	s := &Store{}
	s.v.Store(p)
	return s
}

func (s *Store) Snapshot() Parameters { return s.v.Load().(Parameters) }

func (s *Store) Replace(p Parameters) { s.v.Store(p) }

// Static is a fixed ParamSource.
type Static Parameters

func (s Static) Snapshot() Parameters { return Parameters(s) }
