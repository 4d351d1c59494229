package middleware

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
	"github.com/iliyamo/devops-dashboard/internal/config"
	"github.com/iliyamo/devops-dashboard/internal/ratelimit"
)

// RateLimit admits at most cfg.MaxAttempts requests per key and window.
// Rejections are 429 with Retry-After in whole seconds. A checker error is
// logged and the request let through; the Redis limiter already falls back
// to its local window before returning one.
func RateLimit(checker ratelimit.Checker, cfg config.RateLimitConfig) echo.MiddlewareFunc {
	if !cfg.Enabled || checker == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			d, err := checker.Check(c.Request().Context(), key)
			if err != nil {
				logrus.WithError(err).WithField("key", key).Warn("rate limit check failed")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}

			if !d.Allowed {
				if cfg.Debug {
					logrus.WithFields(logrus.Fields{"key": key, "retry_after": d.RetryAfter}).Info("rate limited")
				}
				return WriteError(c, apperr.RateLimited(d.RetryAfter))
			}
			return next(c)
		}
	}
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	parts := []string{"ip", ip}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip_route":
		parts = append(parts, "route", c.Request().Method+" "+c.Path())
	case "ip_account":
		parts = append(parts, "account", accountKey(c))
	}
	return strings.Join(parts, ":")
}
