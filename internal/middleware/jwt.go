package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
	"github.com/iliyamo/devops-dashboard/internal/utils"
)

// Revocations is the blacklist lookup Access needs.
type Revocations interface {
	IsBlacklisted(ctx context.Context, sessionToken string) (bool, error)
}

// storeTimeout bounds every store lookup made while admitting a request.
const storeTimeout = 5 * time.Second

// Access admits a request carrying a valid, unrevoked session token and
// attaches its claims to the context (see ClaimsFrom). Rejections:
//
//	no bearer token          -> Unauthenticated
//	bad signature or expired -> InvalidToken
//	blacklisted              -> Revoked
//	store unavailable        -> Dependency (the request is not admitted)
func Access(tokens *utils.TokenService, revocations Revocations) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Read the Authorization header; it must be "Bearer <token>".
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return WriteError(c, apperr.Authentication(apperr.ReasonUnauthenticated, "missing bearer token"))
			}

			// Check signature, expiry and token class. No storage involved.
			claims, err := tokens.VerifySessionToken(raw)
			if err != nil {
				// Expired and forged tokens share one reason; only the
				// message tells the client to refresh.
				msg := "invalid token"
				if apperr.As(err).Reason == apperr.ReasonExpired {
					msg = "token expired"
				}
				return WriteError(c, &apperr.Error{
					Kind:    apperr.KindAuthentication,
					Reason:  apperr.ReasonInvalidToken,
					Message: msg,
					Err:     err,
				})
			}

			// A logged-out token stays valid cryptographically until it
			// expires, so consult the blacklist.
			ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
			revoked, err := revocations.IsBlacklisted(ctx, raw)
			cancel()
			if err != nil {
				// Fail closed when the store cannot answer.
				return WriteError(c, err)
			}
			if revoked {
				return WriteError(c, apperr.Authentication(apperr.ReasonRevoked, "token revoked"))
			}

			// Store the claims and the raw token for handlers (logout needs
			// the token to blacklist it).
			c.Set(ctxClaims, claims)
			c.Set(ctxSessionToken, raw)
			return next(c)
		}
	}
}

// bearerToken extracts the token from an Authorization header. The scheme
// is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	// Split "<scheme> <token>" on the first space.
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
