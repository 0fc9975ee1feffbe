package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Pinger is a dependency the health endpoint checks alongside the database,
// such as the profile cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports database pool health plus any named dependencies.
// A failing dependency degrades the status but only the database makes the
// endpoint return 503.
func HealthHandler(pool *pgxpool.Pool, deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		depStatus := make(map[string]string, len(deps))
		degraded := false
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				depStatus[name] = err.Error()
				degraded = true
				continue
			}
			depStatus[name] = "ok"
		}

		err := pool.Ping(ctx)
		stats := GetPoolStats(pool)
		if err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":       "unhealthy",
				"error":        err.Error(),
				"pool":         stats,
				"dependencies": depStatus,
			})
		}

		status := "healthy"
		if degraded {
			status = "degraded"
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":       status,
			"pool":         stats,
			"dependencies": depStatus,
		})
	}
}
