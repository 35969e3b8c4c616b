package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/tokenward/core"
)

// ListSessions returns the live sessions of subject, most recently used first
func (s *AuthService) ListSessions(ctx context.Context, subject string) ([]core.Session, error) {
	var sessions []core.Session
	err := s.withStore(ctx, "list sessions", func(ctx context.Context) error {
		var err error
		sessions, err = s.sessions.ListBySubject(ctx, subject)
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return sessions, nil
}

// RevokeSession ends one of subject's own sessions. Sessions of other
// subjects are reported as core.ErrNotFound.
func (s *AuthService) RevokeSession(ctx context.Context, subject, sessionID string) error {
	var session *core.Session
	err := s.withStore(ctx, "get session", func(ctx context.Context) error {
		var err error
		session, err = s.sessions.Get(ctx, sessionID)
		return err
	})
	switch {
	case errors.Is(err, core.ErrNotFound):
		return core.ErrNotFound
	case err != nil:
		return unavailable(err)
	case session.Subject != subject:
		return core.ErrNotFound
	}

	if _, err := s.revokeSessions(ctx, subject, []string{sessionID}); err != nil {
		return err
	}
	return nil
}

// RevokeAllSessionsForSubject ends every session of subject. Access tokens
// already handed out stay valid until they expire.
func (s *AuthService) RevokeAllSessionsForSubject(ctx context.Context, subject string) (int, error) {
	return s.revokeAllExcept(ctx, subject, "")
}

// RevokeOtherSessions ends every session of subject except keepSessionID
func (s *AuthService) RevokeOtherSessions(ctx context.Context, subject, keepSessionID string) (int, error) {
	if keepSessionID == "" {
		return 0, fmt.Errorf("%w: no session to keep", core.ErrInvalidToken)
	}
	return s.revokeAllExcept(ctx, subject, keepSessionID)
}

// LogoutAll blacklists the presented access token and ends every session of
// its subject
func (s *AuthService) LogoutAll(ctx context.Context, accessToken string) (int, error) {
	claims, err := s.tokenizer.Verify(accessToken, s.opts.SigningKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrInvalidToken, err)
	}
	if claims.Type != core.TokenTypeAccess {
		return 0, fmt.Errorf("%w: expected an access token", core.ErrInvalidToken)
	}

	if err := s.blacklistToken(ctx, claims); err != nil {
		return 0, err
	}
	n, err := s.RevokeAllSessionsForSubject(ctx, claims.Subject)
	if err != nil {
		return n, err
	}

	s.metrics.Logout(ctx)
	if err := s.eventPub.PublishLogout(ctx, claims.Subject, "", claims.TokenID); err != nil {
		s.log.Warn(ctx, "failed to publish logout event", "error", err)
	}
	return n, nil
}

func (s *AuthService) revokeAllExcept(ctx context.Context, subject, keep string) (int, error) {
	sessions, err := s.ListSessions(ctx, subject)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(sessions))
	for _, session := range sessions {
		if session.ID != keep {
			ids = append(ids, session.ID)
		}
	}
	return s.revokeSessions(ctx, subject, ids)
}

// revokeSessions deletes ids one by one. Sessions that vanished in the
// meantime do not count and are not errors.
func (s *AuthService) revokeSessions(ctx context.Context, subject string, ids []string) (int, error) {
	var revoked []string
	for _, id := range ids {
		err := s.withStore(ctx, "revoke session", func(ctx context.Context) error {
			return s.sessions.Revoke(ctx, id)
		})
		switch {
		case err == nil:
			revoked = append(revoked, id)
		case errors.Is(err, core.ErrNotFound):
		default:
			s.afterRevocation(ctx, subject, revoked)
			return len(revoked), unavailable(err)
		}
	}

	s.afterRevocation(ctx, subject, revoked)
	return len(revoked), nil
}

func (s *AuthService) afterRevocation(ctx context.Context, subject string, ids []string) {
	if len(ids) == 0 {
		return
	}
	s.metrics.SessionsRevoked(ctx, len(ids))
	s.log.Info(ctx, "sessions revoked", "subject", subject, "count", len(ids))
	if err := s.eventPub.PublishSessionsRevoked(ctx, subject, ids); err != nil {
		s.log.Warn(ctx, "failed to publish revocation event", "error", err)
	}
}
