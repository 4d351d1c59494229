package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
	"github.com/iliyamo/devops-dashboard/internal/model"
)

// AccountLookup resolves the current role of an account. Missing or
// inactive accounts report an Authorization error.
type AccountLookup interface {
	AccountRole(ctx context.Context, accountID uint64) (model.Role, error)
}

// RequireRole rejects callers whose stored role is not role. The role is
// read from the store on every request so a demotion takes effect without
// waiting for the session token to expire. It must run after Access.
func RequireRole(accounts AccountLookup, role model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := ClaimsFrom(c)
			if !ok {
				return WriteError(c, apperr.ErrUnauthenticated)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
			got, err := accounts.AccountRole(ctx, claims.AccountID)
			cancel()
			if err != nil {
				return WriteError(c, err)
			}
			if got != role {
				return WriteError(c, apperr.Authorization(apperr.ReasonForbidden, "forbidden"))
			}
			return next(c)
		}
	}
}
