package db

import (
	"context"
	"database/sql"
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
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Checker describes a storage backend for the health endpoint.
type Checker struct {
	Backend string
	Ping    func(ctx context.Context) error
	Stats   func() interface{}
}

func PostgresChecker(pool *pgxpool.Pool) Checker {
	return Checker{
		Backend: "postgres",
		Ping:    pool.Ping,
		Stats:   func() interface{} { return GetPoolStats(pool) },
	}
}

func SQLiteChecker(sqlDB *sql.DB) Checker {
	return Checker{
		Backend: "sqlite",
		Ping:    sqlDB.PingContext,
		Stats: func() interface{} {
			s := sqlDB.Stats()
			return map[string]int{"open_connections": s.OpenConnections, "in_use": s.InUse, "idle": s.Idle}
		},
	}
}

// HealthHandler pings the backend and reports 503 when it is unreachable.
func HealthHandler(chk Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"backend": chk.Backend}
		if chk.Stats != nil {
			body["pool"] = chk.Stats()
		}
		if err := chk.Ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body["status"] = "healthy"
		return c.JSON(http.StatusOK, body)
	}
}
