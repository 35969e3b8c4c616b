package tokenizer

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/tokenward/core"
)

// TokenClaims combines standard claims with the token type and, for
// refresh tokens, the session the token is bound to
type TokenClaims struct {
	jwt.RegisteredClaims
	Type       core.TokenType `json:"typ"`
	SessionID  string         `json:"sid,omitempty"` // Refresh tokens only
	RememberMe bool           `json:"rmb,omitempty"`
}

func newTokenClaims(c core.Claims, issuer string) *TokenClaims {
	return &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   c.Subject,
			ID:        c.TokenID,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
		Type:       c.Type,
		SessionID:  c.SessionID,
		RememberMe: c.RememberMe,
	}
}

func (c *TokenClaims) domain() core.Claims {
	out := core.Claims{
		Type:       c.Type,
		Subject:    c.Subject,
		TokenID:    c.ID,
		SessionID:  c.SessionID,
		RememberMe: c.RememberMe,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}

func (c *TokenClaims) wellFormed() bool {
	if c.Type != core.TokenTypeAccess && c.Type != core.TokenTypeRefresh {
		return false
	}
	if c.Subject == "" || c.ID == "" {
		return false
	}
	if c.Type == core.TokenTypeRefresh && c.SessionID == "" {
		return false
	}
	return true
}
