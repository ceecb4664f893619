package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stockd/stockd/internal/batch"
	"github.com/stockd/stockd/internal/ledger"
	"github.com/stockd/stockd/internal/observability"
	"github.com/stockd/stockd/internal/platform/httpx"
	"github.com/stockd/stockd/internal/reservation"
	"github.com/stockd/stockd/internal/serial"
)

// RouterConfig aggregates everything the HTTP surface needs.
type RouterConfig struct {
	Config  *Config
	Metrics *observability.Metrics
	Pool    *pgxpool.Pool
	Redis   *redis.Client

	Ledger      *ledger.Handler
	Batch       *batch.Handler
	Reservation *reservation.Handler
	Serial      *serial.Handler

	Middlewares []func(http.Handler) http.Handler
}

// NewRouter builds the service router: health and metrics at the root,
// module handlers under /api/v1.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(cfg.Middlewares...)

	r.Get("/healthz", healthHandler(cfg.Pool, cfg.Redis))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Ledger != nil {
			r.Route("/inventory", cfg.Ledger.MountRoutes)
		}
		if cfg.Batch != nil {
			cfg.Batch.MountRoutes(r)
		}
		if cfg.Reservation != nil {
			cfg.Reservation.MountRoutes(r)
		}
		if cfg.Serial != nil {
			cfg.Serial.MountRoutes(r)
		}
	})

	return r
}

func healthHandler(pool *pgxpool.Pool, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"postgres": "ok", "redis": "ok"}
		healthy := true
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				status["postgres"] = err.Error()
				healthy = false
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				status["redis"] = err.Error()
				healthy = false
			}
		}
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		httpx.JSON(w, code, status)
	}
}
