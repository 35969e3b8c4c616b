package store

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/tokenward/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryHarness(t *testing.T) harness {
	clock := newFakeClock()
	return harness{
		sessions:  NewMemorySessionStore(clock.Now),
		blacklist: NewMemoryBlacklistStore(clock.Now),
		clock:     clock,
		advance:   clock.Advance,
	}
}

func TestMemorySessionStore(t *testing.T) {
	runSessionStoreContract(t, newMemoryHarness)
}

func TestMemoryBlacklistStore(t *testing.T) {
	runBlacklistStoreContract(t, newMemoryHarness)
}

func TestMemoryStores_PurgeCounts(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t)

	_, err := h.sessions.Create(ctx, "alice", "rt-1", time.Minute, core.SessionOptions{})
	require.NoError(t, err)
	_, err = h.sessions.Create(ctx, "bob", "rt-2", time.Minute, core.SessionOptions{})
	require.NoError(t, err)
	_, err = h.sessions.Create(ctx, "carol", "rt-3", time.Hour, core.SessionOptions{})
	require.NoError(t, err)
	require.NoError(t, h.blacklist.Add(ctx, "tok-1", h.clock.Now().Add(time.Minute)))
	require.NoError(t, h.blacklist.Add(ctx, "tok-2", h.clock.Now().Add(time.Hour)))

	h.advance(2 * time.Minute)

	n, err := h.sessions.PurgeExpired(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.blacklist.PurgeExpired(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Nothing left to purge
	n, err = h.sessions.PurgeExpired(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemorySessionStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t)

	id, err := h.sessions.Create(ctx, "alice", "rt-1", time.Hour, core.SessionOptions{})
	require.NoError(t, err)

	s, err := h.sessions.Get(ctx, id)
	require.NoError(t, err)
	s.CurrentRefreshTokenID = "tampered"

	again, err := h.sessions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", again.CurrentRefreshTokenID)
}
