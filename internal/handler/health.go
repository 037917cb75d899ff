package handler

import (
	"context"
	"net/http"
	"time"

	"retailpos/internal/checkout"
	"retailpos/internal/infra"
	"retailpos/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type pingFunc func(ctx context.Context) error

// HealthHandler reports DB and Redis connectivity plus the state of the
// fiscal device breaker and the job queues. It never exposes credentials
// or internals.
type HealthHandler struct {
	db        pingFunc
	redis     pingFunc
	breaker   *infra.DeviceBreaker // nil with the virtual printer
	queue     worker.Queue
	terminals *checkout.Terminals
}

func NewHealthHandler(db *gorm.DB, rdb redis.Cmdable, breaker *infra.DeviceBreaker, terminals *checkout.Terminals) *HealthHandler {
	return &HealthHandler{
		db: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		redis:     func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		breaker:   breaker,
		queue:     rdb,
		terminals: terminals,
	}
}

// Health godoc
// @Summary Service health
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	dbStatus := "connected"
	if h.db(ctx) != nil {
		dbStatus = "error"
	}

	redisStatus := "connected"
	if h.redis(ctx) != nil {
		redisStatus = "error"
	}

	status := http.StatusOK
	if dbStatus != "connected" || redisStatus != "connected" {
		status = http.StatusServiceUnavailable
	}

	device := "virtual"
	if h.breaker != nil {
		device = h.breaker.State().String()
	}

	body := gin.H{
		"ok":             status == http.StatusOK,
		"db":             dbStatus,
		"redis":          redisStatus,
		"fiscal_device":  device,
		"open_terminals": len(h.terminals.Active()),
	}
	if redisStatus == "connected" {
		dlq := gin.H{}
		for _, q := range []string{worker.QueueSaleDetails, worker.QueueEmail} {
			if n, err := worker.DeadLetters(ctx, h.queue, q); err == nil {
				dlq[q] = n
			}
		}
		body["dead_letters"] = dlq
	}
	c.JSON(status, body)
}
