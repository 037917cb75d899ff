package router

import (
	"time"

	"retailpos/internal/catalog"
	"retailpos/internal/checkout"
	"retailpos/internal/config"
	"retailpos/internal/coupon"
	"retailpos/internal/event"
	"retailpos/internal/handler"
	"retailpos/internal/infra"
	"retailpos/internal/inventory"
	"retailpos/internal/middleware"
	"retailpos/internal/model"
	"retailpos/internal/payment"
	"retailpos/internal/pricing"
	"retailpos/internal/repository"
	"retailpos/internal/service"
	"retailpos/internal/store"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Infra is what the composition root builds before the router: the event
// bus, the fiscal device with its breaker (nil for the virtual printer) and
// the job dispatcher.
type Infra struct {
	Bus           *event.Bus
	Device        coupon.Device
	DeviceBreaker *infra.DeviceBreaker
	Printer       checkout.SaleDetailsPrinter
}

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service/Coordinator ← Repository ← DB/Redis
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, in Infra) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.CORSOrigins...))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RateLimiter(1000, time.Minute)) // 1000 req/min per IP

	// ── Repositories ─────────────────────────────────────────────────────────
	userRepo := repository.NewUserRepository(db)
	stationRepo := repository.NewStationRepository(db)
	sellableRepo := repository.NewSellableRepository(db)
	clientRepo := repository.NewClientRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	stockRepo := repository.NewStockRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	loanRepo := repository.NewLoanRepository(db)
	tillRepo := repository.NewTillRepository(db)
	fiscalRepo := repository.NewFiscalDocumentRepository(db)

	// ── Domain ───────────────────────────────────────────────────────────────
	params := config.NewStore(cfg.Parameters)
	stores := store.NewFactory(db)
	catalogSvc := catalog.New(sellableRepo, cfg.Locale, catalog.NewRedisCache(rdb, cfg.SearchCacheTTL))
	inventorySvc := inventory.NewService(stockRepo, in.Bus)

	terminals := checkout.NewTerminals(checkout.Deps{
		Params:    params,
		Stores:    stores,
		Catalog:   catalogSvc,
		Sellables: sellableRepo,
		Clients:   clientRepo,
		Sales:     saleRepo,
		Tokens:    tokenRepo,
		Payments:  paymentRepo,
		Stock:     stockRepo,
		Trades:    tradeRepo,
		Loans:     loanRepo,
		Inventory: inventorySvc,
		Composer:  payment.NewComposer(paymentRepo, tillRepo),
		Coupons: coupon.NewFactory(in.Device, fiscalRepo, coupon.Options{
			RetryLimit: cfg.DeviceRetryLimit,
			RetryDelay: 500 * time.Millisecond, // another station may be closing its coupon
			Consent:    coupon.AlwaysRetry,
		}),
		Auth:    pricing.NewAuthorizer(userRepo),
		Bus:     in.Bus,
		Printer: in.Printer,
	})

	// ── Services ─────────────────────────────────────────────────────────────
	authSvc := service.NewAuthService(userRepo, stationRepo, cfg)
	tillSvc := service.NewTillService(tillRepo)
	stockSvc := service.NewStockService(stores, sellableRepo, inventorySvc)

	// ── Handlers ─────────────────────────────────────────────────────────────
	authH := handler.NewAuthHandler(authSvc)
	posH := handler.NewPOSHandler(terminals, userRepo)
	catalogH := handler.NewCatalogHandler(catalogSvc, params)
	tillH := handler.NewTillHandler(tillSvc)
	inventoryH := handler.NewInventoryHandler(stockSvc)
	healthH := handler.NewHealthHandler(db, rdb, in.DeviceBreaker, terminals)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", healthH.Health)

	auth := r.Group("/v1/auth")
	{
		auth.POST("/login", middleware.LoginRateLimiter(), authH.Login)
		auth.POST("/refresh", authH.Refresh)
	}

	// Protected routes; every session is bound to one station
	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret), middleware.StationRateLimiter(600, time.Minute))
	{
		cat := v1.Group("/catalog")
		{
			cat.GET("/search", catalogH.Search)
			cat.GET("/lookup/:text", catalogH.Lookup)
		}

		pos := v1.Group("/pos")
		{
			pos.GET("", posH.View)
			pos.POST("/scan", posH.Scan)
			pos.POST("/quantity", posH.ConfirmQuantity)
			pos.POST("/items", posH.AddSellable)
			pos.PUT("/items/:id/quantity", posH.SetQuantity)
			pos.PUT("/items/:id/price", posH.SetPrice)
			pos.DELETE("/items/:id", posH.RemoveItem)
			pos.PUT("/client", posH.SetClient)
			pos.PUT("/token", posH.SetToken)
			pos.PUT("/delivery", posH.SetDelivery)
			pos.DELETE("/delivery", posH.RemoveDelivery)
			pos.POST("/manager", posH.AuthorizeManager)
			pos.PUT("/discount", posH.SetDiscount)
			pos.PUT("/surcharge", posH.SetSurcharge)
			pos.POST("/trade", posH.StartTrade)
			pos.POST("/loans", posH.CloseLoans)
			pos.POST("/save", posH.Save)
			pos.POST("/checkout", posH.Checkout)
			pos.POST("/cancel", posH.Cancel)
		}

		till := v1.Group("/till")
		{
			till.GET("", tillH.Current)
			till.POST("/open", tillH.Open)
			till.POST("/entries", middleware.RequireRole(model.RoleManager, model.RoleAdmin), tillH.AddEntry)
			till.POST("/close", tillH.Close)
		}

		inv := v1.Group("/inventory", middleware.RequireRole(model.RoleManager, model.RoleAdmin))
		{
			inv.POST("/decreases", inventoryH.Decrease)
		}
	}

	// Swagger UI; only enabled outside production
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
