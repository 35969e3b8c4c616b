package service

import (
	"context"
	"errors"

	"github.com/layer-3/tokenward/core"
)

// Rejection reasons reported to metrics and debug logs
const (
	reasonMalformed    = "malformed"
	reasonBadSignature = "bad_signature"
	reasonExpired      = "expired"
	reasonWrongType    = "wrong_type"
	reasonRevoked      = "revoked"
	reasonUnavailable  = "store_unavailable"
)

// Verify authenticates an access token for a protected request. Every
// failure, including an unreachable blacklist, is core.ErrUnauthenticated.
func (s *AuthService) Verify(ctx context.Context, accessToken string) (core.Identity, error) {
	claims, err := s.tokenizer.Verify(accessToken, s.opts.SigningKey)
	if err != nil {
		return core.Identity{}, s.reject(ctx, codecReason(err), err)
	}
	if claims.Type != core.TokenTypeAccess {
		return core.Identity{}, s.reject(ctx, reasonWrongType, nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	revoked, err := s.blacklist.Contains(callCtx, claims.TokenID)
	cancel()
	if err != nil {
		s.log.Warn(ctx, "blacklist unavailable, rejecting request", "error", err)
		return core.Identity{}, s.reject(ctx, reasonUnavailable, err)
	}
	if revoked {
		return core.Identity{}, s.reject(ctx, reasonRevoked, nil)
	}

	return core.Identity{
		Subject:   claims.Subject,
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (s *AuthService) reject(ctx context.Context, reason string, cause error) error {
	s.metrics.VerifyRejected(ctx, reason)
	s.log.Debug(ctx, "access token rejected", "reason", reason, "error", cause)
	return core.ErrUnauthenticated
}

func codecReason(err error) string {
	switch {
	case errors.Is(err, core.ErrExpired):
		return reasonExpired
	case errors.Is(err, core.ErrBadSignature):
		return reasonBadSignature
	default:
		return reasonMalformed
	}
}

// Verifier is the read path protected routes depend on
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (core.Identity, error)
}

var _ Verifier = (*AuthService)(nil)
