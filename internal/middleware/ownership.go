package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
	"github.com/iliyamo/devops-dashboard/internal/model"
)

// CredentialChecker reports whether an account holds an active credential.
type CredentialChecker interface {
	HasActive(ctx context.Context, accountID uint64, st model.ServiceType) (bool, error)
}

// RequireActiveCredential gates service-scoped routes: the service type is
// read from the path parameter param and the caller must own an active
// credential for it. It must run after Access.
func RequireActiveCredential(vault CredentialChecker, param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := ClaimsFrom(c)
			if !ok {
				return WriteError(c, apperr.ErrUnauthenticated)
			}
			st, ok := model.ParseServiceType(c.Param(param))
			if !ok {
				return WriteError(c, apperr.Validation("unknown service type"))
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
			active, err := vault.HasActive(ctx, claims.AccountID, st)
			cancel()
			if err != nil {
				return WriteError(c, err)
			}
			if !active {
				return WriteError(c, apperr.Authorization(apperr.ReasonNoActiveCredential, "no active credential for "+string(st)))
			}
			return next(c)
		}
	}
}
