package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
	"github.com/iliyamo/devops-dashboard/internal/middleware"
	"github.com/iliyamo/devops-dashboard/internal/model"
	"github.com/iliyamo/devops-dashboard/internal/service"
)

// AdminHandler serves the account administration endpoints. Routes are
// gated by middleware.RequireRole(model.RoleAdmin).
type AdminHandler struct {
	Auth *service.AuthService
}

func NewAdminHandler(a *service.AuthService) *AdminHandler {
	return &AdminHandler{Auth: a}
}

type setRoleReq struct {
	Role string `json:"role"`
}

// ListAccounts: GET /v1/admin/accounts?limit=&offset=
func (h *AdminHandler) ListAccounts(c echo.Context) error {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return middleware.WriteError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	list, err := h.Auth.ListAccounts(ctx, limit, offset)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	out := make([]model.PublicAccount, 0, len(list))
	for _, a := range list {
		out = append(out, a.Public())
	}
	return c.JSON(http.StatusOK, out)
}

// SetRole: PUT /v1/admin/accounts/:id/role
func (h *AdminHandler) SetRole(c echo.Context) error {
	claims, _ := middleware.ClaimsFrom(c)
	id, err := pathID(c)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	var req setRoleReq
	if err := c.Bind(&req); err != nil {
		return middleware.WriteError(c, apperr.Validation("invalid body"))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	a, err := h.Auth.SetRole(ctx, claims.AccountID, id, model.Role(req.Role))
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, a.Public())
}

// Deactivate: POST /v1/admin/accounts/:id/deactivate
func (h *AdminHandler) Deactivate(c echo.Context) error {
	claims, _ := middleware.ClaimsFrom(c)
	id, err := pathID(c)
	if err != nil {
		return middleware.WriteError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.DeactivateAccount(ctx, claims.AccountID, id); err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "account deactivated"})
}

func pathID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid id")
	}
	return id, nil
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validation("invalid " + name)
	}
	return n, nil
}
