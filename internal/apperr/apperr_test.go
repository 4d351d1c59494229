package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIs_MatchesKindAndReason(t *testing.T) {
	t.Parallel()

	err := Authentication(ReasonExpired, "token expired")

	assert.True(t, errors.Is(err, ErrAuthentication))
	assert.True(t, errors.Is(err, ErrExpired))
	assert.False(t, errors.Is(err, ErrRevoked))
	assert.False(t, errors.Is(err, ErrAuthorization))
}

func TestErrorIs_ThroughWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("login: %w", Conflict("email already registered"))
	assert.True(t, errors.Is(err, ErrConflict))

	e := As(err)
	assert.Equal(t, KindConflict, e.Kind)
}

func TestAs_UnknownErrorBecomesDependency(t *testing.T) {
	t.Parallel()

	e := As(errors.New("boom"))
	require.NotNil(t, e)
	assert.Equal(t, KindDependency, e.Kind)
	assert.Equal(t, "internal server error", e.PublicMessage())
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindAuthentication, http.StatusUnauthorized},
		{KindAuthorization, http.StatusForbidden},
		{KindConflict, http.StatusConflict},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindNotFound, http.StatusNotFound},
		{KindDependency, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.kind), tt.kind.String())
	}
}

func TestDependency_HidesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp 10.0.0.3:3306: connection refused")
	e := Dependency("load account", cause)

	assert.ErrorIs(t, e, cause)
	assert.NotContains(t, e.PublicMessage(), "10.0.0.3")
}

func TestRateLimited_CarriesRetryAfter(t *testing.T) {
	t.Parallel()

	e := RateLimited(42 * time.Second)
	assert.Equal(t, 42*time.Second, e.RetryAfter)
	assert.True(t, errors.Is(e, ErrRateLimited))
}
