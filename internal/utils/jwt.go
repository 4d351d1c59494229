package utils // package utils provides helpers for token issuance, hashing and input checks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
)

const (
	tokenTypeSession = "session"
	tokenTypeRefresh = "refresh"
)

// SessionClaims are the identity facts carried by a session token. IssuedAt
// and ExpiresAt are filled in on issuance and on verification.
type SessionClaims struct {
	AccountID uint64
	Email     string
	Name      string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshClaims are the facts carried by a refresh token.
type RefreshClaims struct {
	AccountID uint64
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// wireClaims is the JSON body of both token classes. The typ field keeps a
// session token from being accepted as a refresh token even when an operator
// misconfigures the two secrets.
type wireClaims struct {
	AccountID uint64 `json:"account_id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies session and refresh tokens. Each class has
// its own HMAC secret so a leak of one cannot forge the other. Verification
// never touches storage.
type TokenService struct {
	sessionSecret []byte
	refreshSecret []byte
	sessionTTL    time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenService validates the secrets and lifetimes. Secrets must be
// non-empty and distinct.
func NewTokenService(sessionSecret, refreshSecret []byte, sessionTTL, refreshTTL time.Duration) (*TokenService, error) {
	// Both secrets are required.
	if len(sessionSecret) == 0 || len(refreshSecret) == 0 {
		return nil, errors.New("token secrets must not be empty")
	}
	// Each class gets its own secret.
	if hmac.Equal(sessionSecret, refreshSecret) {
		return nil, errors.New("session and refresh secrets must differ")
	}
	if sessionTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	return &TokenService{
		sessionSecret: sessionSecret,
		refreshSecret: refreshSecret,
		sessionTTL:    sessionTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// WithClock replaces the time source. Used by tests to step past expiry.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	cp := *s
	cp.now = now
	return &cp
}

func (s *TokenService) SessionTTL() time.Duration { return s.sessionTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueSessionToken signs {account id, email, name, iat, exp, jti} with the
// session secret. The expiry is fixed here.
func (s *TokenService) IssueSessionToken(c SessionClaims) (string, time.Time, error) {
	// JWT timestamps have second precision; truncate so the returned expiry
	// matches what a verifier will read back.
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(s.sessionTTL)
	// Identity claims plus typ, which pins the token to the session class.
	claims := wireClaims{
		AccountID: c.AccountID,
		Email:     c.Email,
		Name:      c.Name,
		Type:      tokenTypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(c.AccountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	// Sign with HS256 and the session secret.
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.sessionSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefreshToken signs {account id, iat, exp, jti} with the refresh
// secret. The jti makes every refresh token unique even within one second.
func (s *TokenService) IssueRefreshToken(accountID uint64) (string, time.Time, error) {
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(s.refreshTTL)
	// No email or name: a refresh token only names its account.
	claims := wireClaims{
		AccountID: accountID,
		Type:      tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(accountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	// Signed with the refresh secret, never the session one.
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, exp, nil
}

// VerifySessionToken checks signature, expiry and token class.
func (s *TokenService) VerifySessionToken(raw string) (SessionClaims, error) {
	wc, err := s.parse(raw, s.sessionSecret, tokenTypeSession)
	if err != nil {
		return SessionClaims{}, err
	}
	return SessionClaims{
		AccountID: wc.AccountID,
		Email:     wc.Email,
		Name:      wc.Name,
		TokenID:   wc.ID,
		IssuedAt:  wc.IssuedAt.Time.UTC(),
		ExpiresAt: wc.ExpiresAt.Time.UTC(),
	}, nil
}

// VerifyRefreshToken checks signature, expiry and token class.
func (s *TokenService) VerifyRefreshToken(raw string) (RefreshClaims, error) {
	wc, err := s.parse(raw, s.refreshSecret, tokenTypeRefresh)
	if err != nil {
		return RefreshClaims{}, err
	}
	return RefreshClaims{
		AccountID: wc.AccountID,
		TokenID:   wc.ID,
		IssuedAt:  wc.IssuedAt.Time.UTC(),
		ExpiresAt: wc.ExpiresAt.Time.UTC(),
	}, nil
}

func (s *TokenService) parse(raw string, secret []byte, typ string) (*wireClaims, error) {
	var wc wireClaims
	// The key func hands back the class secret. WithValidMethods rejects
	// "none" and any algorithm other than HS256 before the key is used.
	tok, err := jwt.ParseWithClaims(raw, &wc, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		// Expired is reported on its own only when the signature was good.
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, apperr.Authentication(apperr.ReasonExpired, "token expired")
		}
		// Anything else is a bad token; the parser error stays internal.
		return nil, &apperr.Error{
			Kind:    apperr.KindAuthentication,
			Reason:  apperr.ReasonInvalidSignature,
			Message: "invalid token",
			Err:     err,
		}
	}
	// A well-signed token of the other class, or one without an account,
	// is still invalid here.
	if !tok.Valid || wc.Type != typ || wc.AccountID == 0 {
		return nil, apperr.Authentication(apperr.ReasonInvalidSignature, "invalid token")
	}
	return &wc, nil
}

// HashToken returns the SHA-256 hex digest of a raw token. Only digests are
// stored so a leaked table cannot be replayed.
func HashToken(raw string) string {
	// Compute the digest of the raw bytes and hex-encode it.
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
