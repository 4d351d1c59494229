package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/devops-dashboard/internal/database"
)

// HealthHandler is the health-check endpoint used by load balancers and
// monitoring systems. It pings the database and, when configured, Redis.
type HealthHandler struct {
	DB    *database.DB
	Redis *redis.Client // nil when Redis is not configured
}

func NewHealthHandler(db *database.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{DB: db, Redis: rdb}
}

// Health returns 200 with per-dependency status, or 503 when any check fails.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := echo.Map{}
	healthy := true

	if err := h.DB.PingContext(ctx); err != nil {
		logrus.WithError(err).Warn("health: database ping failed")
		checks["database"] = "down"
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			logrus.WithError(err).Warn("health: redis ping failed")
			checks["redis"] = "down"
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	return c.JSON(code, echo.Map{"status": status, "checks": checks})
}
