package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/devops-dashboard/internal/config"
	"github.com/iliyamo/devops-dashboard/internal/database/dbtest"
	"github.com/iliyamo/devops-dashboard/internal/handler"
	"github.com/iliyamo/devops-dashboard/internal/ratelimit"
	"github.com/iliyamo/devops-dashboard/internal/repository"
	"github.com/iliyamo/devops-dashboard/internal/service"
	"github.com/iliyamo/devops-dashboard/internal/utils"
)

type server struct {
	e    *echo.Echo
	auth *service.AuthService
}

func newServer(t *testing.T, maxAttempts int) *server {
	t.Helper()
	return newServerWith(t, config.RateLimitConfig{Enabled: true, MaxAttempts: maxAttempts, Window: 15 * time.Minute, KeyStrategy: "ip"})
}

func newServerWith(t *testing.T, rl config.RateLimitConfig) *server {
	t.Helper()
	db := dbtest.Open(t)

	issuer, err := utils.NewTokenService([]byte("session-secret"), []byte("refresh-secret"), time.Hour, 24*time.Hour)
	require.NoError(t, err)
	box, err := utils.NewSecretBoxHex(strings.Repeat("ab", 32))
	require.NoError(t, err)

	tokens := repository.NewTokenRepo(db)
	rev := service.NewRevocationStore(repository.NewBlacklistRepo(db), tokens, nil, config.RevocationCacheConfig{})
	auth := service.NewAuthService(repository.NewAccountRepo(db), tokens, rev,
		utils.NewPasswordHasher(bcrypt.MinCost), issuer, nil, service.LockoutPolicy{})
	vault := service.NewVault(repository.NewCredentialRepo(db), box, nil)

	e := New(Deps{
		Tokens:      issuer,
		Revocations: rev,
		Auth:        auth,
		Vault:       vault,
		Limiter:     ratelimit.NewLimiter(rl.MaxAttempts, rl.Window),
		RateLimit:   rl,
		Health:      handler.NewHealthHandler(db, nil),
	})
	return &server{e: e, auth: auth}
}

type response struct {
	code int
	body map[string]any
	raw  string
}

func (s *server) call(t *testing.T, method, path, token string, body any) response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	out := response{code: rec.Code, raw: rec.Body.String()}
	_ = json.Unmarshal(rec.Body.Bytes(), &out.body)
	return out
}

type tokens struct {
	access  string
	refresh string
}

func tokensOf(t *testing.T, r response) tokens {
	t.Helper()
	access, ok := r.body["access"].(map[string]any)
	require.True(t, ok, r.raw)
	refresh, ok := r.body["refresh"].(map[string]any)
	require.True(t, ok, r.raw)
	return tokens{access: access["token"].(string), refresh: refresh["token"].(string)}
}

func (s *server) register(t *testing.T, name, email string) tokens {
	t.Helper()
	r := s.call(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "Str0ng!Pass",
	})
	require.Equal(t, http.StatusCreated, r.code, r.raw)
	return tokensOf(t, r)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newServer(t, 100)

	r := s.call(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, r.code)
	assert.Equal(t, "ok", r.body["status"])
}

func TestAuthFlow(t *testing.T) {
	t.Parallel()
	s := newServer(t, 100)

	tk := s.register(t, "Alice", "alice@example.com")

	r := s.call(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Alice", "email": "alice@example.com", "password": "Str0ng!Pass",
	})
	assert.Equal(t, http.StatusConflict, r.code)

	r = s.call(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Bob", "email": "bob@example.com", "password": "password",
	})
	assert.Equal(t, http.StatusBadRequest, r.code)

	r = s.call(t, http.MethodGet, "/v1/me", tk.access, nil)
	require.Equal(t, http.StatusOK, r.code, r.raw)
	assert.Equal(t, "alice@example.com", r.body["email"])
	assert.Equal(t, "user", r.body["role"])
	assert.NotContains(t, r.raw, "password")

	wrong := s.call(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "alice@example.com", "password": "Wr0ng!Pass"})
	unknown := s.call(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "Wr0ng!Pass"})
	assert.Equal(t, http.StatusUnauthorized, wrong.code)
	assert.Equal(t, http.StatusUnauthorized, unknown.code)
	assert.Equal(t, wrong.body["error"], unknown.body["error"])

	r = s.call(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "alice@example.com"})
	assert.Equal(t, http.StatusBadRequest, r.code)

	r = s.call(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "alice@example.com", "password": "Str0ng!Pass"})
	require.Equal(t, http.StatusOK, r.code, r.raw)
	user := r.body["user"].(map[string]any)
	assert.NotEmpty(t, user["last_login"])
}

func TestRefreshRotationAndLogout(t *testing.T) {
	t.Parallel()
	s := newServer(t, 100)
	tk := s.register(t, "Alice", "alice@example.com")

	r := s.call(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, r.code)

	r = s.call(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": tk.refresh})
	require.Equal(t, http.StatusOK, r.code, r.raw)
	next := tokensOf(t, r)
	assert.NotEqual(t, tk.refresh, next.refresh)

	r = s.call(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": tk.refresh})
	assert.Equal(t, http.StatusUnauthorized, r.code)
	assert.Equal(t, "revoked", r.body["reason"])

	r = s.call(t, http.MethodPost, "/v1/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, r.code)

	r = s.call(t, http.MethodPost, "/v1/auth/logout", next.access, map[string]string{"refresh_token": next.refresh})
	require.Equal(t, http.StatusOK, r.code, r.raw)
	assert.NotEmpty(t, r.body["message"])

	r = s.call(t, http.MethodGet, "/v1/me", next.access, nil)
	assert.Equal(t, http.StatusUnauthorized, r.code)
	assert.Equal(t, "revoked", r.body["reason"])

	r = s.call(t, http.MethodPost, "/v1/auth/logout", next.access, nil)
	assert.Equal(t, http.StatusUnauthorized, r.code)

	r = s.call(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": next.refresh})
	assert.Equal(t, http.StatusUnauthorized, r.code)

	// the first session token was never logged out
	r = s.call(t, http.MethodGet, "/v1/me", tk.access, nil)
	assert.Equal(t, http.StatusOK, r.code)
}

func TestCredentialVault(t *testing.T) {
	t.Parallel()
	s := newServer(t, 100)
	a := s.register(t, "A", "a@example.com")
	b := s.register(t, "B", "b@example.com")

	r := s.call(t, http.MethodPut, "/v1/credentials/github", a.access, map[string]string{"username": "a"})
	assert.Equal(t, http.StatusBadRequest, r.code)
	r = s.call(t, http.MethodPut, "/v1/credentials/gitlab", a.access, map[string]string{"token": "x"})
	assert.Equal(t, http.StatusBadRequest, r.code)
	r = s.call(t, http.MethodPut, "/v1/credentials/github", "", map[string]string{"token": "x"})
	assert.Equal(t, http.StatusUnauthorized, r.code)

	r = s.call(t, http.MethodPut, "/v1/credentials/github", a.access, map[string]string{"token": "ghp_secret", "username": "a"})
	require.Equal(t, http.StatusOK, r.code, r.raw)
	assert.Equal(t, "github", r.body["service_type"])
	assert.NotContains(t, r.raw, "ghp_secret")

	r = s.call(t, http.MethodPut, "/v1/credentials/github", a.access, map[string]string{"token": "ghp_rotated"})
	require.Equal(t, http.StatusOK, r.code, r.raw)

	r = s.call(t, http.MethodGet, "/v1/credentials", a.access, nil)
	require.Equal(t, http.StatusOK, r.code)
	assert.Contains(t, r.raw, `"service_type":"github"`)
	assert.NotContains(t, r.raw, "ghp_")
	assert.Equal(t, 1, strings.Count(r.raw, "service_type"))

	r = s.call(t, http.MethodGet, "/v1/credentials/github", a.access, nil)
	require.Equal(t, http.StatusOK, r.code, r.raw)
	secret := r.body["secret"].(map[string]any)
	assert.Equal(t, "ghp_rotated", secret["token"])
	_, hasUser := secret["username"]
	assert.False(t, hasUser)

	// another account sees nothing
	r = s.call(t, http.MethodGet, "/v1/credentials/github", b.access, nil)
	assert.Equal(t, http.StatusNotFound, r.code)
	r = s.call(t, http.MethodGet, "/v1/credentials", b.access, nil)
	assert.Equal(t, "[]", strings.TrimSpace(r.raw))

	r = s.call(t, http.MethodGet, "/v1/services/github/status", b.access, nil)
	assert.Equal(t, http.StatusForbidden, r.code)
	assert.Equal(t, "no_active_credential", r.body["reason"])

	r = s.call(t, http.MethodGet, "/v1/services/github/status", a.access, nil)
	require.Equal(t, http.StatusOK, r.code, r.raw)
	assert.Equal(t, true, r.body["connected"])

	r = s.call(t, http.MethodGet, "/v1/credentials", a.access, nil)
	assert.Contains(t, r.raw, "last_sync")

	r = s.call(t, http.MethodDelete, "/v1/credentials/github", b.access, nil)
	assert.Equal(t, http.StatusNotFound, r.code)
	r = s.call(t, http.MethodDelete, "/v1/credentials/github", a.access, nil)
	assert.Equal(t, http.StatusOK, r.code)

	r = s.call(t, http.MethodGet, "/v1/services/github/status", a.access, nil)
	assert.Equal(t, http.StatusForbidden, r.code)
	r = s.call(t, http.MethodGet, "/v1/credentials/github", a.access, nil)
	assert.Equal(t, http.StatusNotFound, r.code)

	r = s.call(t, http.MethodGet, "/v1/credentials/types", a.access, nil)
	require.Equal(t, http.StatusOK, r.code)
	assert.Contains(t, r.raw, `"service":"kubernetes"`)
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	s := newServer(t, 100)
	user := s.register(t, "User", "user@example.com")

	_, err := s.auth.BootstrapAdmin(context.Background(), "Root", "root@example.com", "R00t!Pass")
	require.NoError(t, err)
	r := s.call(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "root@example.com", "password": "R00t!Pass"})
	require.Equal(t, http.StatusOK, r.code, r.raw)
	admin := tokensOf(t, r)

	r = s.call(t, http.MethodGet, "/v1/admin/accounts", user.access, nil)
	assert.Equal(t, http.StatusForbidden, r.code)

	r = s.call(t, http.MethodGet, "/v1/admin/accounts", admin.access, nil)
	require.Equal(t, http.StatusOK, r.code, r.raw)
	assert.Equal(t, 2, strings.Count(r.raw, `"email"`))

	r = s.call(t, http.MethodGet, "/v1/admin/accounts?limit=x", admin.access, nil)
	assert.Equal(t, http.StatusBadRequest, r.code)

	r = s.call(t, http.MethodGet, "/v1/me", user.access, nil)
	userID := uint64(r.body["id"].(float64))
	path := "/v1/admin/accounts/" + jsonNumber(userID)

	r = s.call(t, http.MethodPut, path+"/role", admin.access, map[string]string{"role": "root"})
	assert.Equal(t, http.StatusBadRequest, r.code)
	r = s.call(t, http.MethodPut, "/v1/admin/accounts/9999/role", admin.access, map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusNotFound, r.code)

	r = s.call(t, http.MethodPut, path+"/role", admin.access, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, r.code, r.raw)
	assert.Equal(t, "admin", r.body["role"])

	// promotion takes effect on the existing session token
	r = s.call(t, http.MethodGet, "/v1/admin/accounts", user.access, nil)
	assert.Equal(t, http.StatusOK, r.code)

	r = s.call(t, http.MethodPost, path+"/deactivate", admin.access, nil)
	require.Equal(t, http.StatusOK, r.code, r.raw)

	r = s.call(t, http.MethodGet, "/v1/me", user.access, nil)
	assert.Equal(t, http.StatusNotFound, r.code)
	r = s.call(t, http.MethodGet, "/v1/admin/accounts", user.access, nil)
	assert.Equal(t, http.StatusForbidden, r.code)
	r = s.call(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": user.refresh})
	assert.Equal(t, http.StatusUnauthorized, r.code)
	r = s.call(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "user@example.com", "password": "Str0ng!Pass"})
	assert.Equal(t, http.StatusUnauthorized, r.code)
}

func TestLoginRateLimit(t *testing.T) {
	t.Parallel()
	s := newServer(t, 5)

	creds := map[string]string{"email": "nobody@example.com", "password": "Wr0ng!Pass"}
	for i := 0; i < 5; i++ {
		r := s.call(t, http.MethodPost, "/v1/auth/login", "", creds)
		require.Equal(t, http.StatusUnauthorized, r.code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"email":"nobody@example.com","password":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func loginFrom(s *server, xff string) int {
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"email":"nobody@example.com","password":"Wr0ng!Pass"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXForwardedFor, xff)
	req.Header.Set(echo.HeaderXRealIP, xff)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec.Code
}

func TestLoginRateLimit_IgnoresForwardedHeaders(t *testing.T) {
	t.Parallel()
	s := newServer(t, 5)

	var codes []int
	for i := 0; i < 8; i++ {
		codes = append(codes, loginFrom(s, fmt.Sprintf("10.0.0.%d", i)))
	}
	assert.Equal(t, []int{401, 401, 401, 401, 401, 429, 429, 429}, codes)
}

func TestLoginRateLimit_TrustedProxyForwardsClient(t *testing.T) {
	t.Parallel()
	// httptest requests come from 192.0.2.1
	s := newServerWith(t, config.RateLimitConfig{
		Enabled:        true,
		MaxAttempts:    1,
		Window:         15 * time.Minute,
		KeyStrategy:    "ip",
		TrustedProxies: config.ParseCIDRs("192.0.2.1"),
	})

	assert.Equal(t, http.StatusUnauthorized, loginFrom(s, "203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(s, "203.0.113.7"))
	assert.Equal(t, http.StatusUnauthorized, loginFrom(s, "203.0.113.8"))
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
