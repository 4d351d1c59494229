package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
	"github.com/iliyamo/devops-dashboard/internal/middleware"
	"github.com/iliyamo/devops-dashboard/internal/model"
	"github.com/iliyamo/devops-dashboard/internal/service"
	"github.com/iliyamo/devops-dashboard/internal/utils"
)

// CredentialHandler exposes the vault to the owning account. Every route
// runs behind middleware.Access and only ever touches the caller's rows.
type CredentialHandler struct {
	Vault *service.Vault
}

func NewCredentialHandler(v *service.Vault) *CredentialHandler {
	return &CredentialHandler{Vault: v}
}

type credentialResp struct {
	model.CredentialMeta
	Secret map[string]string `json:"secret"`
}

type serviceStatusResp struct {
	Service   model.ServiceType `json:"service"`
	Connected bool              `json:"connected"`
	LastSync  time.Time         `json:"last_sync"`
}

// Save: PUT /v1/credentials/:service with the service's fields as a flat
// JSON object. Responds with metadata only.
func (h *CredentialHandler) Save(c echo.Context) error {
	claims, st, err := callerAndService(c)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	// decoded directly: echo's binder would copy path params into a map
	var payload map[string]string
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		return middleware.WriteError(c, apperr.Validation("body must be a JSON object of string fields"))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	cred, err := h.Vault.Save(ctx, claims.AccountID, st, payload)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, cred.Meta())
}

// Get: GET /v1/credentials/:service. Metadata plus the decrypted secret.
func (h *CredentialHandler) Get(c echo.Context) error {
	claims, st, err := callerAndService(c)
	if err != nil {
		return middleware.WriteError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	cred, err := h.Vault.Get(ctx, claims.AccountID, st)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, credentialResp{CredentialMeta: cred.Meta(), Secret: cred.Payload})
}

// List: GET /v1/credentials
func (h *CredentialHandler) List(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return middleware.WriteError(c, apperr.ErrUnauthenticated)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	list, err := h.Vault.ListForAccount(ctx, claims.AccountID)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	if list == nil {
		list = []model.CredentialMeta{}
	}
	return c.JSON(http.StatusOK, list)
}

// Disconnect: DELETE /v1/credentials/:service
func (h *CredentialHandler) Disconnect(c echo.Context) error {
	claims, st, err := callerAndService(c)
	if err != nil {
		return middleware.WriteError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Vault.Deactivate(ctx, claims.AccountID, st); err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": string(st) + " disconnected"})
}

// Status: GET /v1/services/:service/status. Runs behind
// middleware.RequireActiveCredential and records the use as a sync.
func (h *CredentialHandler) Status(c echo.Context) error {
	claims, st, err := callerAndService(c)
	if err != nil {
		return middleware.WriteError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	now := time.Now().UTC()
	if err := h.Vault.MarkSynced(ctx, claims.AccountID, st, now); err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, serviceStatusResp{Service: st, Connected: true, LastSync: now})
}

// ServiceTypes: GET /v1/credentials/types lists the accepted fields per service.
func (h *CredentialHandler) ServiceTypes(c echo.Context) error {
	type schemaResp struct {
		Service  model.ServiceType `json:"service"`
		Required []string          `json:"required"`
		Optional []string          `json:"optional"`
	}
	out := make([]schemaResp, 0)
	for _, st := range model.ServiceTypes() {
		s, _ := st.Schema()
		opt := s.Optional
		if opt == nil {
			opt = []string{}
		}
		out = append(out, schemaResp{Service: st, Required: s.Required, Optional: opt})
	}
	return c.JSON(http.StatusOK, out)
}

func callerAndService(c echo.Context) (utils.SessionClaims, model.ServiceType, error) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return utils.SessionClaims{}, "", apperr.ErrUnauthenticated
	}
	st, ok := model.ParseServiceType(c.Param("service"))
	if !ok {
		return utils.SessionClaims{}, "", apperr.Validation("unknown service type")
	}
	return claims, st, nil
}
