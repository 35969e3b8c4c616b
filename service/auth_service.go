package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/tokenward/core"
	"github.com/layer-3/tokenward/internal/logging"
	"github.com/layer-3/tokenward/internal/metrics"
	"github.com/layer-3/tokenward/ports"
)

// Options tunes token lifetimes and store access
type Options struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration

	// SlidingSessions pushes the session expiry to now+RefreshTTL (or
	// now+RememberMeTTL) on every refresh
	SlidingSessions bool

	// Leeway must match the tokenizer's clock skew allowance. Revoked access
	// tokens stay blacklisted for this long past their expiry.
	Leeway time.Duration

	SigningKey []byte

	StoreTimeout time.Duration
	RetryBackoff time.Duration

	Now func() time.Time
}

// DefaultOptions returns the stock lifetimes. SigningKey still has to be set.
func DefaultOptions() Options {
	return Options{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		RememberMeTTL: 30 * 24 * time.Hour,
		StoreTimeout:  2 * time.Second,
		RetryBackoff:  50 * time.Millisecond,
	}
}

func (o Options) validate() error {
	switch {
	case len(o.SigningKey) == 0:
		return errors.New("signing key is required")
	case o.AccessTTL <= 0 || o.RefreshTTL <= 0 || o.RememberMeTTL <= 0:
		return errors.New("token lifetimes must be positive")
	case o.StoreTimeout <= 0:
		return errors.New("store timeout must be positive")
	case o.Leeway < 0:
		return errors.New("leeway must not be negative")
	}
	return nil
}

// AuthService handles authentication business logic. It holds no mutable
// state, all coordination between instances goes through the stores.
type AuthService struct {
	tokenizer   ports.Tokenizer
	sessions    ports.SessionStore
	blacklist   ports.BlacklistStore
	eventPub    ports.EventPublisher
	credentials ports.CredentialVerifier

	log     logging.Logger
	metrics *metrics.Recorder

	opts Options
	now  func() time.Time
}

// Option configures optional collaborators of AuthService
type Option func(*AuthService)

// WithCredentialVerifier enables Authenticate
func WithCredentialVerifier(v ports.CredentialVerifier) Option {
	return func(s *AuthService) { s.credentials = v }
}

func WithLogger(l logging.Logger) Option {
	return func(s *AuthService) { s.log = l }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *AuthService) { s.metrics = r }
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	sessions ports.SessionStore,
	blacklist ports.BlacklistStore,
	eventPub ports.EventPublisher,
	opts Options,
	extra ...Option,
) (*AuthService, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Millisecond
	}

	s := &AuthService{
		tokenizer: tokenizer,
		sessions:  sessions,
		blacklist: blacklist,
		eventPub:  eventPub,
		log:       logging.Nop(),
		metrics:   metrics.Nop(),
		opts:      opts,
		now:       opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, o := range extra {
		o(s)
	}
	s.log = s.log.With("component", "auth")
	return s, nil
}

// AccessTTL is the lifetime of every access token issued
func (s *AuthService) AccessTTL() time.Duration {
	return s.opts.AccessTTL
}

// Login opens a new session for subject and issues its first token pair.
// The caller has already established who subject is.
func (s *AuthService) Login(ctx context.Context, subject string, rememberMe bool, client core.ClientMetadata) (core.TokenPair, error) {
	if subject == "" {
		return core.TokenPair{}, fmt.Errorf("%w: empty subject", core.ErrInvalidCredentials)
	}

	ttl := s.opts.RefreshTTL
	if rememberMe {
		ttl = s.opts.RememberMeTTL
	}

	now := s.now()
	refreshID := uuid.NewString()

	var sessionID string
	err := s.withStore(ctx, "create session", func(ctx context.Context) error {
		id, err := s.sessions.Create(ctx, subject, refreshID, ttl, core.SessionOptions{
			RememberMe: rememberMe,
			Client:     client,
		})
		sessionID = id
		return err
	})
	if err != nil {
		s.metrics.Login(ctx, metrics.OutcomeUnavailable)
		return core.TokenPair{}, unavailable(err)
	}

	// The store stamps the session with its own clock, which is never
	// earlier than now, so the refresh token cannot outlive the session.
	pair, err := s.issuePair(subject, sessionID, refreshID, rememberMe, now, now.Add(ttl))
	if err != nil {
		return core.TokenPair{}, err
	}

	s.metrics.Login(ctx, metrics.OutcomeSuccess)
	s.log.Info(ctx, "session created", "subject", subject, "session_id", sessionID, "remember_me", rememberMe,
		"platform", string(client.Platform))
	return pair, nil
}

// Authenticate checks primary credentials once and then logs the subject in
func (s *AuthService) Authenticate(ctx context.Context, identifier, secret string, rememberMe bool, client core.ClientMetadata) (core.TokenPair, error) {
	if s.credentials == nil {
		return core.TokenPair{}, errors.New("no credential verifier configured")
	}

	subject, err := s.credentials.VerifyCredentials(ctx, identifier, secret)
	if err != nil {
		s.metrics.Login(ctx, metrics.OutcomeDenied)
		s.log.Info(ctx, "login denied", "ip", client.IPAddress, "error", err)
		if errors.Is(err, core.ErrAccountInactive) {
			return core.TokenPair{}, core.ErrAccountInactive
		}
		return core.TokenPair{}, core.ErrInvalidCredentials
	}

	return s.Login(ctx, subject, rememberMe, client)
}

// Refresh redeems a refresh token for a new pair bound to the same session.
// Presenting a superseded refresh token revokes the whole session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (core.TokenPair, error) {
	claims, err := s.tokenizer.Verify(refreshToken, s.opts.SigningKey)
	if err != nil {
		s.metrics.Refresh(ctx, metrics.OutcomeInvalid)
		s.log.Debug(ctx, "refresh token rejected", "error", err)
		return core.TokenPair{}, fmt.Errorf("%w: %w", core.ErrInvalidToken, err)
	}
	if claims.Type != core.TokenTypeRefresh {
		s.metrics.Refresh(ctx, metrics.OutcomeInvalid)
		return core.TokenPair{}, fmt.Errorf("%w: expected a refresh token", core.ErrInvalidToken)
	}

	now := s.now()
	newRefreshID := uuid.NewString()

	var extendTo time.Time
	if s.opts.SlidingSessions {
		ttl := s.opts.RefreshTTL
		if claims.RememberMe {
			ttl = s.opts.RememberMeTTL
		}
		extendTo = now.Add(ttl)
	}

	var session *core.Session
	err = s.withStore(ctx, "rotate session", func(ctx context.Context) error {
		var err error
		session, err = s.sessions.Rotate(ctx, claims.SessionID, claims.TokenID, newRefreshID, extendTo)
		return err
	})

	// A timed out attempt may have been applied before the retry hit the
	// conflict. newRefreshID is ours alone, so finding it installed means
	// this call won.
	if errors.Is(err, core.ErrConflict) {
		if applied, ok := s.rotatedTo(ctx, claims.SessionID, newRefreshID); ok {
			session, err = applied, nil
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, core.ErrNotFound):
		s.metrics.Refresh(ctx, metrics.OutcomeRevoked)
		return core.TokenPair{}, core.ErrSessionRevoked
	case errors.Is(err, core.ErrConflict):
		s.metrics.Refresh(ctx, metrics.OutcomeReplayed)
		s.handleReplay(ctx, claims)
		return core.TokenPair{}, core.ErrTokenReplayed
	default:
		s.metrics.Refresh(ctx, metrics.OutcomeUnavailable)
		return core.TokenPair{}, unavailable(err)
	}

	pair, err := s.issuePair(claims.Subject, session.ID, newRefreshID, session.RememberMe, now, session.ExpiresAt)
	if err != nil {
		return core.TokenPair{}, err
	}

	s.metrics.Refresh(ctx, metrics.OutcomeSuccess)
	s.log.Debug(ctx, "session rotated", "subject", claims.Subject, "session_id", session.ID)
	return pair, nil
}

func (s *AuthService) rotatedTo(ctx context.Context, sessionID, refreshID string) (*core.Session, bool) {
	var session *core.Session
	err := s.withStore(ctx, "get session", func(ctx context.Context) error {
		var err error
		session, err = s.sessions.Get(ctx, sessionID)
		return err
	})
	if err != nil || session.CurrentRefreshTokenID != refreshID {
		return nil, false
	}
	return session, true
}

// handleReplay revokes a session whose superseded refresh token came back
func (s *AuthService) handleReplay(ctx context.Context, claims core.Claims) {
	s.metrics.ReplayDetected(ctx)
	s.log.Error(ctx, "refresh token replay detected, revoking session",
		"subject", claims.Subject, "session_id", claims.SessionID, "token_id", claims.TokenID)

	err := s.withStore(ctx, "revoke replayed session", func(ctx context.Context) error {
		return s.sessions.Revoke(ctx, claims.SessionID)
	})
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		s.log.Error(ctx, "failed to revoke replayed session", "session_id", claims.SessionID, "error", err)
	}

	if err := s.eventPub.PublishReplayDetected(ctx, claims.Subject, claims.SessionID); err != nil {
		s.log.Warn(ctx, "failed to publish replay event", "error", err)
	}
}

// Logout blacklists the access token until its natural expiry and ends the
// session behind the refresh token. Either token may be omitted, and both
// are accepted past their expiry. Calling it twice is not an error.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" && refreshToken == "" {
		return fmt.Errorf("%w: no token presented", core.ErrInvalidToken)
	}

	// Decode both before touching any store
	var access, refresh *core.Claims
	if accessToken != "" {
		c, err := s.decodeAllowExpired(accessToken, core.TokenTypeAccess)
		if err != nil {
			return err
		}
		access = &c
	}
	if refreshToken != "" {
		c, err := s.decodeAllowExpired(refreshToken, core.TokenTypeRefresh)
		if err != nil {
			return err
		}
		refresh = &c
	}

	var subject, sessionID, tokenID string

	if access != nil {
		subject, tokenID = access.Subject, access.TokenID
		if err := s.blacklistToken(ctx, *access); err != nil {
			return err
		}
	}

	if refresh != nil {
		subject, sessionID = refresh.Subject, refresh.SessionID
		err := s.withStore(ctx, "revoke session", func(ctx context.Context) error {
			return s.sessions.Revoke(ctx, refresh.SessionID)
		})
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return unavailable(err)
		}
	}

	s.metrics.Logout(ctx)
	s.log.Info(ctx, "logged out", "subject", subject, "session_id", sessionID)

	if err := s.eventPub.PublishLogout(ctx, subject, sessionID, tokenID); err != nil {
		s.log.Warn(ctx, "failed to publish logout event", "error", err)
	}
	return nil
}

// blacklistToken revokes an access token until the tokenizer would reject
// it anyway, which is its expiry plus the clock skew leeway
func (s *AuthService) blacklistToken(ctx context.Context, claims core.Claims) error {
	until := claims.ExpiresAt.Add(s.opts.Leeway)
	if !until.After(s.now()) {
		return nil
	}
	err := s.withStore(ctx, "blacklist token", func(ctx context.Context) error {
		return s.blacklist.Add(ctx, claims.TokenID, until)
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// decodeAllowExpired verifies a token's signature and type but tolerates expiry
func (s *AuthService) decodeAllowExpired(token string, want core.TokenType) (core.Claims, error) {
	claims, err := s.tokenizer.Verify(token, s.opts.SigningKey)
	if err != nil && !errors.Is(err, core.ErrExpired) {
		return core.Claims{}, fmt.Errorf("%w: %w", core.ErrInvalidToken, err)
	}
	if claims.Type != want {
		return core.Claims{}, fmt.Errorf("%w: expected a %s token", core.ErrInvalidToken, want)
	}
	return claims, nil
}

func (s *AuthService) issuePair(subject, sessionID, refreshID string, rememberMe bool, now, refreshExpiresAt time.Time) (core.TokenPair, error) {
	access := core.Claims{
		Type:      core.TokenTypeAccess,
		Subject:   subject,
		TokenID:   uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.opts.AccessTTL),
	}
	refresh := core.Claims{
		Type:      core.TokenTypeRefresh,
		Subject:   subject,
		TokenID:   refreshID,
		SessionID:  sessionID,
		RememberMe: rememberMe,
		IssuedAt:   now,
		ExpiresAt:  refreshExpiresAt,
	}

	accessToken, err := s.tokenizer.Issue(access, s.opts.SigningKey)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to create access token: %w", err)
	}
	refreshToken, err := s.tokenizer.Issue(refresh, s.opts.SigningKey)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return core.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        sessionID,
	}, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", core.ErrUnavailable, err)
}
