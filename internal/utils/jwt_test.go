package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	s, err := NewTokenService([]byte("session-secret"), []byte("refresh-secret"), time.Hour, 7*24*time.Hour)
	require.NoError(t, err)
	return s
}

func TestNewTokenService_RejectsBadSecrets(t *testing.T) {
	t.Parallel()

	_, err := NewTokenService([]byte("same"), []byte("same"), time.Hour, time.Hour)
	assert.Error(t, err)

	_, err = NewTokenService(nil, []byte("x"), time.Hour, time.Hour)
	assert.Error(t, err)

	_, err = NewTokenService([]byte("a"), []byte("b"), 0, time.Hour)
	assert.Error(t, err)
}

func TestSessionToken_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestTokenService(t)
	claims := []SessionClaims{
		{AccountID: 1, Email: "alice@example.com", Name: "Alice"},
		{AccountID: 1<<53 + 7, Email: "b@x.io", Name: ""},
		{AccountID: 42, Email: "Mixed.Case@Example.COM", Name: "Bob \"the\" Builder"},
	}
	for _, in := range claims {
		raw, exp, err := s.IssueSessionToken(in)
		require.NoError(t, err)
		require.NotEmpty(t, raw)

		out, err := s.VerifySessionToken(raw)
		require.NoError(t, err)
		assert.Equal(t, in.AccountID, out.AccountID)
		assert.Equal(t, in.Email, out.Email)
		assert.Equal(t, in.Name, out.Name)
		assert.NotEmpty(t, out.TokenID)
		assert.True(t, exp.Equal(out.ExpiresAt))
		assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 2*time.Second)
	}
}

func TestSessionToken_UniquePerIssue(t *testing.T) {
	t.Parallel()

	s := newTestTokenService(t)
	a, _, err := s.IssueSessionToken(SessionClaims{AccountID: 1, Email: "a@b.co"})
	require.NoError(t, err)
	b, _, err := s.IssueSessionToken(SessionClaims{AccountID: 1, Email: "a@b.co"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSessionToken_Expired(t *testing.T) {
	t.Parallel()

	base := time.Now()
	s := newTestTokenService(t).WithClock(func() time.Time { return base })
	raw, _, err := s.IssueSessionToken(SessionClaims{AccountID: 9, Email: "a@b.co"})
	require.NoError(t, err)

	later := s.WithClock(func() time.Time { return base.Add(time.Hour + time.Second) })
	_, err = later.VerifySessionToken(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrExpired))

	justBefore := s.WithClock(func() time.Time { return base.Add(59 * time.Minute) })
	_, err = justBefore.VerifySessionToken(raw)
	assert.NoError(t, err)
}

func TestRefreshToken_Expired(t *testing.T) {
	t.Parallel()

	base := time.Now()
	s := newTestTokenService(t).WithClock(func() time.Time { return base })
	raw, _, err := s.IssueRefreshToken(3)
	require.NoError(t, err)

	later := s.WithClock(func() time.Time { return base.Add(8 * 24 * time.Hour) })
	_, err = later.VerifyRefreshToken(raw)
	assert.True(t, errors.Is(err, apperr.ErrExpired))
}

func TestToken_TamperRejected(t *testing.T) {
	t.Parallel()

	s := newTestTokenService(t)
	session, _, err := s.IssueSessionToken(SessionClaims{AccountID: 5, Email: "a@b.co", Name: "A"})
	require.NoError(t, err)
	refresh, _, err := s.IssueRefreshToken(5)
	require.NoError(t, err)

	for i := 0; i < len(session); i++ {
		_, err := s.VerifySessionToken(flipByte(session, i))
		require.Error(t, err, "session byte %d", i)
		assert.True(t, errors.Is(err, apperr.ErrInvalidSignature), "session byte %d: %v", i, err)
	}
	for i := 0; i < len(refresh); i++ {
		_, err := s.VerifyRefreshToken(flipByte(refresh, i))
		require.Error(t, err, "refresh byte %d", i)
		assert.True(t, errors.Is(err, apperr.ErrInvalidSignature), "refresh byte %d: %v", i, err)
	}
}

func TestToken_ClassesNotInterchangeable(t *testing.T) {
	t.Parallel()

	s := newTestTokenService(t)
	session, _, err := s.IssueSessionToken(SessionClaims{AccountID: 5, Email: "a@b.co"})
	require.NoError(t, err)
	refresh, _, err := s.IssueRefreshToken(5)
	require.NoError(t, err)

	_, err = s.VerifyRefreshToken(session)
	assert.True(t, errors.Is(err, apperr.ErrInvalidSignature))
	_, err = s.VerifySessionToken(refresh)
	assert.True(t, errors.Is(err, apperr.ErrInvalidSignature))
}

func TestToken_OtherSecretRejected(t *testing.T) {
	t.Parallel()

	s := newTestTokenService(t)
	other, err := NewTokenService([]byte("other-session"), []byte("other-refresh"), time.Hour, time.Hour)
	require.NoError(t, err)

	raw, _, err := other.IssueSessionToken(SessionClaims{AccountID: 1, Email: "a@b.co"})
	require.NoError(t, err)
	_, err = s.VerifySessionToken(raw)
	assert.True(t, errors.Is(err, apperr.ErrInvalidSignature))
}

func TestHashToken_Stable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}

// flipByte replaces the byte at i with a different character that keeps the
// token printable.
func flipByte(s string, i int) string {
	b := []byte(s)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}
