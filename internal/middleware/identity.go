package middleware

// identity.go holds the context keys the access pipeline writes and the
// helpers handlers use to read them back.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/devops-dashboard/internal/utils"
)

const (
	ctxClaims       = "session_claims"
	ctxSessionToken = "session_token"
	ctxRequestID    = "request_id"
)

// ClaimsFrom returns the claims attached by Access.
func ClaimsFrom(c echo.Context) (utils.SessionClaims, bool) {
	cl, ok := c.Get(ctxClaims).(utils.SessionClaims)
	return cl, ok
}

// SessionTokenFrom returns the raw bearer token Access admitted.
func SessionTokenFrom(c echo.Context) string {
	s, _ := c.Get(ctxSessionToken).(string)
	return s
}

// RequestID returns the id assigned by RequestLogger, or "".
func RequestID(c echo.Context) string {
	s, _ := c.Get(ctxRequestID).(string)
	return s
}

// accountKey identifies the caller for rate-limit keys. It returns "anon"
// before Access has run.
func accountKey(c echo.Context) string {
	if cl, ok := ClaimsFrom(c); ok {
		return strconv.FormatUint(cl.AccountID, 10)
	}
	return "anon"
}
