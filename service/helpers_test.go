package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/tokenward/adapters/store"
	"github.com/layer-3/tokenward/adapters/tokenizer"
	"github.com/layer-3/tokenward/core"
	"github.com/layer-3/tokenward/ports"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type logoutEvent struct{ subject, sessionID, tokenID string }

type revokedEvent struct {
	subject string
	ids     []string
}

// recordingPublisher keeps every event it is handed
type recordingPublisher struct {
	mu      sync.Mutex
	logouts []logoutEvent
	replays []string
	revoked []revokedEvent
}

var _ ports.EventPublisher = (*recordingPublisher)(nil)

func (p *recordingPublisher) PublishLogout(_ context.Context, subject, sessionID, tokenID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, logoutEvent{subject, sessionID, tokenID})
	return nil
}

func (p *recordingPublisher) PublishReplayDetected(_ context.Context, _, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replays = append(p.replays, sessionID)
	return nil
}

func (p *recordingPublisher) PublishSessionsRevoked(_ context.Context, subject string, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, revokedEvent{subject, append([]string(nil), ids...)})
	return nil
}

func (p *recordingPublisher) Replays() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.replays...)
}

// outage makes a store fail a given number of calls, or every call
type outage struct {
	mu     sync.Mutex
	left   int
	always bool
	calls  int
}

func (o *outage) fail() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.always || o.left > 0 {
		o.left--
		return fmt.Errorf("%w: connection refused", core.ErrStoreUnavailable)
	}
	return nil
}

func (o *outage) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type flakySessions struct {
	ports.SessionStore
	*outage
}

func (f flakySessions) Create(ctx context.Context, subject, rid string, ttl time.Duration, opts core.SessionOptions) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	return f.SessionStore.Create(ctx, subject, rid, ttl, opts)
}

func (f flakySessions) Rotate(ctx context.Context, id, expected, next string, extendTo time.Time) (*core.Session, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.SessionStore.Rotate(ctx, id, expected, next, extendTo)
}

func (f flakySessions) Revoke(ctx context.Context, id string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.SessionStore.Revoke(ctx, id)
}

func (f flakySessions) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.SessionStore.PurgeExpired(ctx, now)
}

type flakyBlacklist struct {
	ports.BlacklistStore
	*outage
}

func (f flakyBlacklist) Add(ctx context.Context, id string, exp time.Time) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.BlacklistStore.Add(ctx, id, exp)
}

func (f flakyBlacklist) Contains(ctx context.Context, id string) (bool, error) {
	if err := f.fail(); err != nil {
		return false, err
	}
	return f.BlacklistStore.Contains(ctx, id)
}

// lateRotations applies the first Rotate but reports it as timed out, the
// way a reply lost to the call deadline looks to the caller
type lateRotations struct {
	ports.SessionStore
	mu      sync.Mutex
	applied int
}

func (l *lateRotations) Rotate(ctx context.Context, id, expected, next string, extendTo time.Time) (*core.Session, error) {
	session, err := l.SessionStore.Rotate(ctx, id, expected, next, extendTo)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied++
	if l.applied == 1 {
		return nil, context.DeadlineExceeded
	}
	return session, nil
}

// hangingSessions blocks every Create until the call context gives up
type hangingSessions struct {
	ports.SessionStore
}

func (hangingSessions) Create(ctx context.Context, _, _ string, _ time.Duration, _ core.SessionOptions) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type testEnv struct {
	svc       *AuthService
	clock     *fakeClock
	sessions  *store.MemorySessionStore
	blacklist *store.MemoryBlacklistStore
	events    *recordingPublisher
}

type envConfig struct {
	opts      Options
	sessions  func(ports.SessionStore) ports.SessionStore
	blacklist func(ports.BlacklistStore) ports.BlacklistStore
	extra     []Option
	// leeway is handed to both the tokenizer and the service
	leeway time.Duration
}

func newTestEnv(t *testing.T, configure ...func(*envConfig)) *testEnv {
	t.Helper()
	clock := newFakeClock()

	opts := DefaultOptions()
	opts.SigningKey = testKey
	opts.RetryBackoff = time.Millisecond
	opts.Now = clock.Now

	cfg := &envConfig{opts: opts}
	for _, c := range configure {
		c(cfg)
	}

	cfg.opts.Leeway = cfg.leeway
	tok, err := tokenizer.NewJWTTokenizer(tokenizer.DefaultAlgorithm,
		tokenizer.WithIssuer("tokenward-test"),
		tokenizer.WithClock(clock.Now),
		tokenizer.WithLeeway(cfg.leeway),
	)
	require.NoError(t, err)

	env := &testEnv{
		clock:     clock,
		sessions:  store.NewMemorySessionStore(clock.Now),
		blacklist: store.NewMemoryBlacklistStore(clock.Now),
		events:    &recordingPublisher{},
	}

	var sessions ports.SessionStore = env.sessions
	if cfg.sessions != nil {
		sessions = cfg.sessions(sessions)
	}
	var blacklist ports.BlacklistStore = env.blacklist
	if cfg.blacklist != nil {
		blacklist = cfg.blacklist(blacklist)
	}

	env.svc, err = NewAuthService(tok, sessions, blacklist, env.events, cfg.opts, cfg.extra...)
	require.NoError(t, err)
	return env
}

func (e *testEnv) login(t *testing.T, subject string) core.TokenPair {
	t.Helper()
	pair, err := e.svc.Login(context.Background(), subject, false, core.ClientMetadata{})
	require.NoError(t, err)
	return pair
}
