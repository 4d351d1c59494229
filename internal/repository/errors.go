// Package repository defines the SQL access layer and the sentinel errors
// shared by every repo. Higher layers such as services translate these
// values into apperr kinds; handlers never see them directly.
package repository

import "errors"

// ErrNotFound is returned when the addressed row does not exist. Services
// translate this into a NotFound (404) or, for logins, into a generic
// authentication failure.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned by AccountRepo.Create when the unique email
// index rejects the insert.
var ErrEmailExists = errors.New("email already exists")

// ErrRefreshConsumed is returned by TokenRepo.Rotate when the presented
// refresh token row was already deleted, expired, or belongs to someone
// else. Exactly one of two concurrent rotations of the same token sees
// success; the other gets this error.
var ErrRefreshConsumed = errors.New("refresh token already used or revoked")
