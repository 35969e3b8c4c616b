package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/tokenward/core"
	"github.com/layer-3/tokenward/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

// harness bundles a store with a way to move its notion of time forward
type harness struct {
	sessions  ports.SessionStore
	blacklist ports.BlacklistStore
	clock     *fakeClock
	advance   func(d time.Duration)
}

func runSessionStoreContract(t *testing.T, newHarness func(t *testing.T) harness) {
	ctx := context.Background()
	client := core.NewClientMetadata("Mozilla/5.0 (X11; Linux x86_64) Chrome/120", "10.0.0.1", "dev-1", "laptop")

	t.Run("create and get", func(t *testing.T) {
		h := newHarness(t)
		id, err := h.sessions.Create(ctx, "alice", "rt-1", time.Hour, core.SessionOptions{RememberMe: true, Client: client})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		s, err := h.sessions.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, s.ID)
		assert.Equal(t, "alice", s.Subject)
		assert.Equal(t, "rt-1", s.CurrentRefreshTokenID)
		assert.True(t, s.RememberMe)
		assert.Equal(t, client, s.Client)
		assert.WithinDuration(t, h.clock.Now(), s.CreatedAt, time.Millisecond)
		assert.WithinDuration(t, s.CreatedAt, s.LastRotatedAt, time.Millisecond)
		assert.WithinDuration(t, h.clock.Now().Add(time.Hour), s.ExpiresAt, time.Millisecond)
	})

	t.Run("ids are unique", func(t *testing.T) {
		h := newHarness(t)
		a, err := h.sessions.Create(ctx, "alice", "rt-1", time.Hour, core.SessionOptions{})
		require.NoError(t, err)
		b, err := h.sessions.Create(ctx, "alice", "rt-1", time.Hour, core.SessionOptions{})
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("get unknown", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.sessions.Get(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("rotate", func(t *testing.T) {
		h := newHarness(t)
		id, err := h.sessions.Create(ctx, "alice", "rt-1", time.Hour, core.SessionOptions{})
		require.NoError(t, err)

		h.advance(time.Minute)
		s, err := h.sessions.Rotate(ctx, id, "rt-1", "rt-2", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, "rt-2", s.CurrentRefreshTokenID)
		assert.Equal(t, "alice", s.Subject)
		assert.WithinDuration(t, h.clock.Now(), s.LastRotatedAt, time.Millisecond)

		got, err := h.sessions.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "rt-2", got.CurrentRefreshTokenID)
		assert.WithinDuration(t, s.ExpiresAt, got.ExpiresAt, time.Millisecond)
	})

	t.Run("rotate with stale id conflicts", func(t *testing.T) {
		h := newHarness(t)
		id, err := h.sessions.Create(ctx, "alice", "rt-1", time.Hour, core.SessionOptions{})
		require.NoError(t, err)

		_, err = h.sessions.Rotate(ctx, id, "rt-1", "rt-2", time.Time{})
		require.NoError(t, err)

		_, err = h.sessions.Rotate(ctx, id, "rt-1", "rt-3", time.Time{})
		assert.ErrorIs(t, err, core.ErrConflict)

		got, err := h.sessions.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "rt-2", got.CurrentRefreshTokenID)
	})

	t.Run("rotate unknown", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.sessions.Rotate(ctx, "missing", "rt-1", "rt-2", time.Time{})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("rotate extends but never shortens", func(t *testing.T) {
		h := newHarness(t)
		id, err := h.sessions.Create(ctx, "alice", "rt-1", time.Hour, core.SessionOptions{})
		require.NoError(t, err)
		original := h.clock.Now().Add(time.Hour)

		s, err := h.sessions.Rotate(ctx, id, "rt-1", "rt-2", h.clock.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.WithinDuration(t, original, s.ExpiresAt, time.Millisecond)

		later := h.clock.Now().Add(2 * time.Hour)
		s, err = h.sessions.Rotate(ctx, id, "rt-2", "rt-3", later)
		require.NoError(t, err)
		assert.WithinDuration(t, later, s.ExpiresAt, time.Millisecond)

		// Still alive past the original expiry
		h.advance(90 * time.Minute)
		_, err = h.sessions.Get(ctx, id)
		assert.NoError(t, err)
	})

	t.Run("expired session is gone", func(t *testing.T) {
		h := newHarness(t)
		id, err := h.sessions.Create(ctx, "alice", "rt-1", time.Hour, core.SessionOptions{})
		require.NoError(t, err)

		h.advance(time.Hour + time.Second)

		_, err = h.sessions.Get(ctx, id)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = h.sessions.Rotate(ctx, id, "rt-1", "rt-2", time.Time{})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("revoke", func(t *testing.T) {
		h := newHarness(t)
		id, err := h.sessions.Create(ctx, "alice", "rt-1", time.Hour, core.SessionOptions{})
		require.NoError(t, err)

		require.NoError(t, h.sessions.Revoke(ctx, id))

		_, err = h.sessions.Get(ctx, id)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = h.sessions.Rotate(ctx, id, "rt-1", "rt-2", time.Time{})
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.ErrorIs(t, h.sessions.Revoke(ctx, id), core.ErrNotFound)
	})

	t.Run("list by subject", func(t *testing.T) {
		h := newHarness(t)
		first, err := h.sessions.Create(ctx, "alice", "rt-a", time.Hour, core.SessionOptions{})
		require.NoError(t, err)
		h.advance(time.Second)
		second, err := h.sessions.Create(ctx, "alice", "rt-b", time.Hour, core.SessionOptions{})
		require.NoError(t, err)
		_, err = h.sessions.Create(ctx, "bob", "rt-c", time.Hour, core.SessionOptions{})
		require.NoError(t, err)

		list, err := h.sessions.ListBySubject(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second, list[0].ID)
		assert.Equal(t, first, list[1].ID)

		// Rotating moves a session to the front
		h.advance(time.Second)
		_, err = h.sessions.Rotate(ctx, first, "rt-a", "rt-a2", time.Time{})
		require.NoError(t, err)

		list, err = h.sessions.ListBySubject(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first, list[0].ID)

		require.NoError(t, h.sessions.Revoke(ctx, first))
		list, err = h.sessions.ListBySubject(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, second, list[0].ID)

		list, err = h.sessions.ListBySubject(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("purge expired", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.sessions.Create(ctx, "alice", "rt-1", time.Minute, core.SessionOptions{})
		require.NoError(t, err)
		keep, err := h.sessions.Create(ctx, "alice", "rt-2", time.Hour, core.SessionOptions{})
		require.NoError(t, err)

		h.advance(2 * time.Minute)
		_, err = h.sessions.PurgeExpired(ctx, h.clock.Now())
		require.NoError(t, err)

		list, err := h.sessions.ListBySubject(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, keep, list[0].ID)
	})

	t.Run("concurrent rotation has one winner", func(t *testing.T) {
		h := newHarness(t)
		id, err := h.sessions.Create(ctx, "alice", "rt-1", time.Hour, core.SessionOptions{})
		require.NoError(t, err)

		const n = 16
		var (
			wg        sync.WaitGroup
			wins      atomic.Int32
			conflicts atomic.Int32
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := h.sessions.Rotate(ctx, id, "rt-1", "rt-next", time.Time{})
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, core.ErrConflict):
					conflicts.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())
		assert.EqualValues(t, n-1, conflicts.Load())
	})
}

func runBlacklistStoreContract(t *testing.T, newHarness func(t *testing.T) harness) {
	ctx := context.Background()

	t.Run("add and contains", func(t *testing.T) {
		h := newHarness(t)
		ok, err := h.blacklist.Contains(ctx, "tok-1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, h.blacklist.Add(ctx, "tok-1", h.clock.Now().Add(time.Minute)))

		ok, err = h.blacklist.Contains(ctx, "tok-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = h.blacklist.Contains(ctx, "tok-2")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("add is idempotent", func(t *testing.T) {
		h := newHarness(t)
		exp := h.clock.Now().Add(time.Minute)
		require.NoError(t, h.blacklist.Add(ctx, "tok-1", exp))
		require.NoError(t, h.blacklist.Add(ctx, "tok-1", exp))

		ok, err := h.blacklist.Contains(ctx, "tok-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("re-adding keeps the later expiry", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.blacklist.Add(ctx, "tok-1", h.clock.Now().Add(10*time.Minute)))
		require.NoError(t, h.blacklist.Add(ctx, "tok-1", h.clock.Now().Add(time.Minute)))

		h.advance(5 * time.Minute)
		ok, err := h.blacklist.Contains(ctx, "tok-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("entries lapse with the token", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.blacklist.Add(ctx, "tok-1", h.clock.Now().Add(time.Minute)))

		h.advance(2 * time.Minute)
		ok, err := h.blacklist.Contains(ctx, "tok-1")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = h.blacklist.PurgeExpired(ctx, h.clock.Now())
		require.NoError(t, err)
	})
}
