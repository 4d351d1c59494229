// Package apperr defines the error values returned by the auth and vault
// layers. Every rejected request carries exactly one Kind; handlers map the
// Kind to an HTTP status and never leak the wrapped cause.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindAuthorization
	KindConflict
	KindRateLimited
	KindNotFound
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindDependency:
		return "dependency"
	}
	return "unknown"
}

// Reason narrows authentication and authorization failures.
type Reason string

const (
	ReasonUnauthenticated    Reason = "unauthenticated"
	ReasonInvalidToken       Reason = "invalid_token"
	ReasonInvalidSignature   Reason = "invalid_signature"
	ReasonExpired            Reason = "expired"
	ReasonRevoked            Reason = "revoked"
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonForbidden          Reason = "forbidden"
	ReasonNoActiveCredential Reason = "no_active_credential"
)

// Error is the single error type produced by this subsystem.
type Error struct {
	Kind       Kind
	Reason     Reason
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and, when set on the target, Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels usable with errors.Is.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrAuthentication   = &Error{Kind: KindAuthentication}
	ErrAuthorization    = &Error{Kind: KindAuthorization}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrDependency       = &Error{Kind: KindDependency}
	ErrExpired          = &Error{Kind: KindAuthentication, Reason: ReasonExpired}
	ErrInvalidSignature = &Error{Kind: KindAuthentication, Reason: ReasonInvalidSignature}
	ErrRevoked          = &Error{Kind: KindAuthentication, Reason: ReasonRevoked}
	ErrUnauthenticated  = &Error{Kind: KindAuthentication, Reason: ReasonUnauthenticated}
	ErrInvalidToken     = &Error{Kind: KindAuthentication, Reason: ReasonInvalidToken}
	ErrForbidden        = &Error{Kind: KindAuthorization, Reason: ReasonForbidden}
	ErrNoActiveCred     = &Error{Kind: KindAuthorization, Reason: ReasonNoActiveCredential}
)

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Authentication(reason Reason, msg string) *Error {
	return &Error{Kind: KindAuthentication, Reason: reason, Message: msg}
}

func Authorization(reason Reason, msg string) *Error {
	return &Error{Kind: KindAuthorization, Reason: reason, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "too many attempts", RetryAfter: retryAfter}
}

// Dependency wraps a store or primitive failure. The cause is kept for logs only.
func Dependency(op string, err error) *Error {
	return &Error{Kind: KindDependency, Message: op, Err: err}
}

// As extracts an *Error, treating anything else as a dependency failure.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Dependency("unexpected error", err)
}

// HTTPStatus maps a Kind to its response status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// PublicMessage is the text safe to return to a caller.
func (e *Error) PublicMessage() string {
	if e.Kind == KindDependency {
		return "internal server error"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}
