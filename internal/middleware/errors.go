package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
)

// WriteError renders err as {"error": ...} with the status of its Kind.
// Dependency failures are logged with their cause and sent to Sentry; the
// caller only sees a generic message.
func WriteError(c echo.Context, err error) error {
	e := apperr.As(err)
	status := apperr.HTTPStatus(e.Kind)

	if e.Kind == apperr.KindDependency {
		logrus.WithFields(logrus.Fields{
			"request_id": RequestID(c),
			"method":     c.Request().Method,
			"path":       c.Path(),
		}).WithError(err).Error("request failed")
		captureException(c, err)
	}
	if e.Kind == apperr.KindRateLimited && e.RetryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retrySeconds(e.RetryAfter.Seconds())))
	}

	body := echo.Map{"error": e.PublicMessage()}
	if e.Reason != "" {
		body["reason"] = e.Reason
	}
	return c.JSON(status, body)
}

// HTTPErrorHandler lets errors returned by handlers and echo itself (404
// route, 405, bind errors) share one response shape.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		if he.Code >= http.StatusInternalServerError {
			logrus.WithError(err).WithField("request_id", RequestID(c)).Error("request failed")
			captureException(c, err)
			msg = "internal server error"
		}
		_ = c.JSON(he.Code, echo.Map{"error": msg})
		return
	}
	_ = WriteError(c, err)
}

func captureException(c echo.Context, err error) {
	hub := sentry.GetHubFromContext(c.Request().Context())
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(c.Request())
		scope.SetTag("request_id", RequestID(c))
		hub.CaptureException(err)
	})
}

func retrySeconds(s float64) int {
	n := int(math.Ceil(s))
	if n < 1 {
		n = 1
	}
	return n
}
