package core

import "time"

// TokenType distinguishes access tokens from refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the decoded, verified content of a token
type Claims struct {
	Type       TokenType
	Subject    string    // Opaque user identifier
	TokenID    string    // Unique per issuance, blacklist key for access tokens
	SessionID  string    // Refresh tokens only
	RememberMe bool      // Refresh tokens only, picks the sliding extension
	IssuedAt   time.Time // Second precision once encoded
	ExpiresAt  time.Time
}

// Expired reports whether the claims are past their expiry at now
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// TokenPair is what login and refresh hand back to the client
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// Session is one continuous logical login (one browser or device)
type Session struct {
	ID                    string
	Subject               string
	CurrentRefreshTokenID string // The only refresh token id redeemable for this session
	CreatedAt             time.Time
	LastRotatedAt         time.Time
	ExpiresAt             time.Time
	RememberMe            bool
	Client                ClientMetadata
}

// Live reports whether the session is still usable at now
func (s Session) Live(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// SessionOptions carries the advisory data recorded when a session is created
type SessionOptions struct {
	RememberMe bool
	Client     ClientMetadata
}

// BlacklistEntry is an access token revoked before its natural expiry
type BlacklistEntry struct {
	TokenID   string
	ExpiresAt time.Time
}

// Identity is what the verification middleware hands to downstream handlers
type Identity struct {
	Subject   string
	TokenID   string
	ExpiresAt time.Time
}

// PurgeResult reports one maintenance pass over both stores
type PurgeResult struct {
	Sessions  int
	Blacklist int
}
