package ports

import (
	"context"
	"time"

	"github.com/layer-3/tokenward/core"
)

// SessionStore persists refresh-token sessions, one per logged-in client.
// Backend failures are reported wrapping core.ErrStoreUnavailable.
type SessionStore interface {
	// Create persists a new session and returns its id
	Create(ctx context.Context, subject, refreshTokenID string, ttl time.Duration, opts core.SessionOptions) (string, error)

	// Get returns a live session or core.ErrNotFound
	Get(ctx context.Context, sessionID string) (*core.Session, error)

	// Rotate replaces the current refresh token id only if it still equals
	// expectedRefreshTokenID (core.ErrConflict otherwise). A non-zero extendTo
	// later than the current expiry moves the expiry forward.
	Rotate(ctx context.Context, sessionID, expectedRefreshTokenID, newRefreshTokenID string, extendTo time.Time) (*core.Session, error)

	// Revoke deletes the session, core.ErrNotFound if it does not exist
	Revoke(ctx context.Context, sessionID string) error

	// ListBySubject returns the live sessions of subject, most recently rotated first
	ListBySubject(ctx context.Context, subject string) ([]core.Session, error)

	// PurgeExpired removes sessions past their expiry and reports how many
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// BlacklistStore holds access token ids revoked before their natural expiry
type BlacklistStore interface {
	// Add is idempotent
	Add(ctx context.Context, tokenID string, expiresAt time.Time) error

	// Contains is called on every authenticated request
	Contains(ctx context.Context, tokenID string) (bool, error)

	// PurgeExpired removes entries past their expiry and reports how many
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
