package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"retailpos/internal/config"
	"retailpos/internal/coupon"
	"retailpos/internal/event"
	"retailpos/internal/infra"
	"retailpos/internal/money"
	"retailpos/internal/repository"
	"retailpos/internal/router"
	"retailpos/internal/service"
	"retailpos/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	// Structured logger; dev: pretty, prod: JSON
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Env == "production" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		if cfg.JWTSecret == "" {
			log.Fatal().Msg("JWT_SECRET is required in production")
		}
	}

	if maxValue, err := decimal.NewFromString(cfg.MoneyMaxValue); err != nil {
		log.Fatal().Err(err).Str("value", cfg.MoneyMaxValue).Msg("invalid MONEY_MAX_VALUE")
	} else {
		money.SetMaxValue(maxValue)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	rdb, err := infra.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// ── Event bus ────────────────────────────────────────────────────────────
	bus := event.NewBus()
	bus.Subscribe(event.ClientSaleValidation, service.ClientStatusGuard)
	if cfg.PublishEvents {
		bus.SubscribeAll(event.NewRedisPublisher(rdb, cfg.EventsChannelNS).Handle)
	}

	// ── Fiscal device ────────────────────────────────────────────────────────
	in := router.Infra{Bus: bus}
	if cfg.FiscalDeviceURL == "" {
		log.Warn().Msg("FISCAL_DEVICE_URL not set, coupons go to the virtual printer")
		in.Device = coupon.NewVirtualPrinter("VIRTUAL")
	} else {
		in.DeviceBreaker = infra.NewFiscalBreaker()
		in.Device = infra.NewFiscalSidecar(cfg.FiscalDeviceURL, cfg.DeviceTimeout, in.DeviceBreaker)
	}

	// ── Workers ──────────────────────────────────────────────────────────────
	// Sale detail sheets are rendered off the request path; the email job
	// only runs when SMTP is configured.
	dispatcher := worker.NewDispatcher(rdb)
	in.Printer = dispatcher

	pool := worker.NewPool(rdb, worker.DefaultMaxAttempts)
	pool.Register(worker.QueueSaleDetails, worker.JobSaleDetails,
		worker.NewSaleDetailsWorker(repository.NewSaleRepository(db), dispatcher, cfg.StoreName, cfg.PDFStoragePath))
	mailer, err := infra.NewMailer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up SMTP")
	}
	defer mailer.Close()
	if mailer.Configured() {
		pool.Register(worker.QueueEmail, worker.JobEmail, worker.NewEmailWorker(mailer))
	} else {
		log.Warn().Msg("SMTP not configured, sale details are not emailed")
	}
	pool.Start(ctx, cfg.WorkerPoolSize)

	r := router.New(cfg, db, rdb, in)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // checkout waits on the fiscal device
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("RetailPOS backend listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("closing redis")
	}
	log.Info().Msg("server exited")
}
