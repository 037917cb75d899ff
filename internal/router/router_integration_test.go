//go:build integration

package router

// Runs the terminal API against real Postgres and Redis containers.
// Run with: go test -tags integration ./internal/router/... -v

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"retailpos/internal/config"
	"retailpos/internal/coupon"
	"retailpos/internal/event"
	"retailpos/internal/infra"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository/repotest"
	"retailpos/internal/worker"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testEnv struct {
	server  *httptest.Server
	db      *gorm.DB
	rdb     *redis.Client
	branch  model.Branch
	station model.Station
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcPostgres.WithDatabase("retailpos_test"),
		tcPostgres.WithUsername("retailpos"),
		tcPostgres.WithPassword("retailpos"),
		testcontainers.WithWaitStrategy(tcPostgres.BasicWaitStrategies()...),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })
	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rdC, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })
	rdURL, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.Config{
		Env:                "test",
		JWTSecret:          "integration-secret",
		JWTExpirationHours: 1,
		JWTRefreshHours:    2,
		SearchCacheTTL:     time.Minute,
		Locale:             "pt-BR",
		DeviceRetryLimit:   1,
		Parameters: config.Parameters{
			POSAllowChangePrice:   true,
			ScaleBarcodeFormat:    4,
			AllowHigherSalePrice:  true,
			PrintSaleDetailsOnPOS: true,
			DefaultSalesCFOP:      "5.102",
			DefaultOpNature:       "Sale",
		},
	}

	db, err := infra.NewDatabase(pgURL)
	require.NoError(t, err)
	rdb, err := infra.NewRedis(ctx, rdURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{db: db, rdb: rdb}
	env.branch = model.Branch{Name: "Main"}
	require.NoError(t, db.Create(&env.branch).Error)
	env.station = model.Station{BranchID: env.branch.ID, Name: "POS 01", IsActive: true}
	require.NoError(t, db.Create(&env.station).Error)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	profile := model.UserProfile{Name: "Managers", Role: model.RoleManager}
	require.NoError(t, db.Create(&profile).Error)
	require.NoError(t, db.Create(&model.LoginUser{
		Username: "ana", Name: "Ana", PasswordHash: string(hash), ProfileID: profile.ID, IsActive: true,
	}).Error)

	bus := event.NewBus()
	bus.SubscribeAll(event.NewRedisPublisher(rdb, "test:events:").Handle)
	engine := New(cfg, db, rdb, Infra{
		Bus:     bus,
		Device:  coupon.NewVirtualPrinter("IT-01"),
		Printer: worker.NewDispatcher(rdb),
	})
	env.server = httptest.NewServer(engine)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) product(t *testing.T, code, price, qty string) *model.Sellable {
	t.Helper()
	s := repotest.Product(code, "Product "+code, price)
	require.NoError(t, e.db.Create(s).Error)
	require.NoError(t, e.db.Create(&model.ProductStockItem{
		StorableID: s.Product.Storable.ID, BranchID: e.branch.ID, Quantity: money.MustQuantity(qty),
	}).Error)
	return s
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func TestIntegration_CashSale(t *testing.T) {
	env := setupTestEnv(t)
	x := env.product(t, "7891000100103", "12.50", "5")

	resp := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "ana", "password": "secret123", "station_id": env.station.ID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	decodeJSON(t, resp, &login)
	tok := login.AccessToken

	resp = env.do(t, http.MethodPost, "/v1/till/open", tok, map[string]string{"initial_cash": "100.00"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/pos/scan", tok, map[string]string{"text": "7891000100103"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/v1/pos/scan", tok, map[string]string{"text": "7891000100103"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/pos/checkout", tok, map[string]string{"method": model.MethodMoney})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sale struct {
		ID         string `json:"id"`
		Identifier int64  `json:"identifier"`
		Total      string `json:"total"`
	}
	decodeJSON(t, resp, &sale)
	assert.Equal(t, "25.00", sale.Total)
	assert.Positive(t, sale.Identifier)

	// The sale, its payment, the stock and the fiscal document are persisted
	var stored model.Sale
	require.NoError(t, env.db.Preload("Items").First(&stored, "id = ?", uuid.MustParse(sale.ID)).Error)
	assert.Equal(t, model.SaleConfirmed, stored.Status)
	assert.Len(t, stored.Items, 2) // every scan is its own line

	var stock model.ProductStockItem
	require.NoError(t, env.db.First(&stock, "storable_id = ?", x.Product.Storable.ID).Error)
	assert.Equal(t, "3", stock.Quantity.String())

	var docs int64
	require.NoError(t, env.db.Model(&model.FiscalDocument{}).Count(&docs).Error)
	assert.Equal(t, int64(1), docs)

	var entries int64
	require.NoError(t, env.db.Model(&model.TillEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)

	// The detail sheet job was queued for the worker pool
	n, err := env.rdb.LLen(context.Background(), worker.QueueSaleDetails).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIntegration_StockRefusal(t *testing.T) {
	env := setupTestEnv(t)
	env.product(t, "42", "3.00", "1")

	resp := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "ana", "password": "secret123", "station_id": env.station.ID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	decodeJSON(t, resp, &login)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/pos/scan", login.AccessToken, map[string]string{"text": "42"}).StatusCode)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/v1/pos/scan", login.AccessToken, map[string]string{"text": "42"}).StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/inventory/decreases", login.AccessToken, map[string]interface{}{
		"reason": "broken", "items": []map[string]string{{"sellable_id": uuid.NewString(), "quantity": "1"}},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
