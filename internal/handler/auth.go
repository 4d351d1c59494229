package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
	"github.com/iliyamo/devops-dashboard/internal/middleware"
	"github.com/iliyamo/devops-dashboard/internal/model"
	"github.com/iliyamo/devops-dashboard/internal/service"
)

// requestTimeout bounds the store work of a single request.
const requestTimeout = 5 * time.Second

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth *service.AuthService
}

func NewAuthHandler(a *service.AuthService) *AuthHandler {
	return &AuthHandler{Auth: a}
}

// ----- DTOs -----

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type authResp struct {
	User    model.PublicAccount `json:"user"`
	Access  tokenPart           `json:"access"`
	Refresh tokenPart           `json:"refresh"`
}

func sessionResp(s service.Session) authResp {
	return authResp{
		User:    s.Account.Public(),
		Access:  tokenPart{Token: s.AccessToken, Expires: s.AccessExpiresAt},
		Refresh: tokenPart{Token: s.RefreshToken, Expires: s.RefreshExpiresAt},
	}
}

// Register: create account and return tokens immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return middleware.WriteError(c, apperr.Validation("invalid body"))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	sess, err := h.Auth.Register(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusCreated, sessionResp(sess))
}

// Login: verify and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return middleware.WriteError(c, apperr.Validation("invalid body"))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	sess, err := h.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResp(sess))
}

// Refresh: exchange a refresh token for a new session. The refresh token is
// rotated; the presented one stops working.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return middleware.WriteError(c, apperr.Validation("invalid body"))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	sess, err := h.Auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResp(sess))
}

// Logout blacklists the bearer token. The body is optional; an empty body
// logs out every refresh token of the account.
func (h *AuthHandler) Logout(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return middleware.WriteError(c, apperr.ErrUnauthenticated)
	}
	var req refreshReq
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return middleware.WriteError(c, apperr.Validation("invalid body"))
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.Logout(ctx, claims, middleware.SessionTokenFrom(c), req.RefreshToken); err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me returns the caller's public account fields.
func (h *AuthHandler) Me(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return middleware.WriteError(c, apperr.ErrUnauthenticated)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	a, err := h.Auth.Profile(ctx, claims.AccountID)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, a.Public())
}
