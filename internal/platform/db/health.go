package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 3 * time.Second

// PoolHealth is the body of /health/db.
type PoolHealth struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Total     int32  `json:"total_conns"`
	Idle      int32  `json:"idle_conns"`
	InUse     int32  `json:"acquired_conns"`
	Max       int32  `json:"max_conns"`
}

// HealthHandler reports 503 while the database cannot be pinged.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return healthHandler(pool.Ping, func(h *PoolHealth) {
		st := pool.Stat()
		h.Total, h.Idle, h.InUse, h.Max = st.TotalConns(), st.IdleConns(), st.AcquiredConns(), st.MaxConns()
	})
}

func healthHandler(ping func(context.Context) error, fill func(*PoolHealth)) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		start := time.Now()
		err := ping(ctx)
		h := &PoolHealth{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
		fill(h)
		if err != nil {
			h.Status, h.Error = "unhealthy", err.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		return c.JSON(http.StatusOK, h)
	}
}
