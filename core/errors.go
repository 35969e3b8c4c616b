package core

import "errors"

// Token codec failures. Callers treat all three as "not authenticated",
// logging and metrics tell them apart.
var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("bad token signature")
	ErrExpired        = errors.New("token has expired")
)

// Store failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Auth engine failures.
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenReplayed      = errors.New("refresh token replayed")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrUnavailable        = errors.New("auth backend unavailable")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
)

// ErrUnauthenticated is the single rejection the verification middleware
// exposes, whatever the underlying cause was.
var ErrUnauthenticated = errors.New("unauthenticated")
