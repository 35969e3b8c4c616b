package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/tokenward/core"
	"github.com/layer-3/tokenward/ports"
)

// Clock returns the current time
type Clock func() time.Time

func clockOrNow(now Clock) Clock {
	if now == nil {
		return time.Now
	}
	return now
}

// MemorySessionStore is an in-memory implementation of the SessionStore interface.
// Suitable for a single instance and for tests.
type MemorySessionStore struct {
	sessions map[string]core.Session
	mu       sync.RWMutex
	now      Clock
}

var _ ports.SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates a new in-memory session store
func NewMemorySessionStore(now Clock) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]core.Session),
		now:      clockOrNow(now),
	}
}

func (s *MemorySessionStore) Create(ctx context.Context, subject, refreshTokenID string, ttl time.Duration, opts core.SessionOptions) (string, error) {
	now := s.now()
	session := core.Session{
		ID:                    uuid.NewString(),
		Subject:               subject,
		CurrentRefreshTokenID: refreshTokenID,
		CreatedAt:             now,
		LastRotatedAt:         now,
		ExpiresAt:             now.Add(ttl),
		RememberMe:            opts.RememberMe,
		Client:                opts.Client,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session

	return session.ID, nil
}

func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok || !session.Live(s.now()) {
		return nil, core.ErrNotFound
	}
	return &session, nil
}

func (s *MemorySessionStore) Rotate(ctx context.Context, sessionID, expectedRefreshTokenID, newRefreshTokenID string, extendTo time.Time) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session, ok := s.sessions[sessionID]
	if !ok || !session.Live(now) {
		return nil, core.ErrNotFound
	}
	if session.CurrentRefreshTokenID != expectedRefreshTokenID {
		return nil, core.ErrConflict
	}

	session.CurrentRefreshTokenID = newRefreshTokenID
	session.LastRotatedAt = now
	if extendTo.After(session.ExpiresAt) {
		session.ExpiresAt = extendTo
	}
	s.sessions[sessionID] = session

	return &session, nil
}

func (s *MemorySessionStore) Revoke(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return core.ErrNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemorySessionStore) ListBySubject(ctx context.Context, subject string) ([]core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []core.Session
	for _, session := range s.sessions {
		if session.Subject == subject && session.Live(now) {
			out = append(out, session)
		}
	}
	sortByLastRotated(out)
	return out, nil
}

func (s *MemorySessionStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, session := range s.sessions {
		if !session.Live(now) {
			delete(s.sessions, id)
			purged++
		}
	}
	return purged, nil
}

// MemoryBlacklistStore is an in-memory implementation of the BlacklistStore interface
type MemoryBlacklistStore struct {
	revoked map[string]time.Time
	mu      sync.RWMutex
	now     Clock
}

var _ ports.BlacklistStore = (*MemoryBlacklistStore)(nil)

// NewMemoryBlacklistStore creates a new in-memory blacklist
func NewMemoryBlacklistStore(now Clock) *MemoryBlacklistStore {
	return &MemoryBlacklistStore{
		revoked: make(map[string]time.Time),
		now:     clockOrNow(now),
	}
}

// Add marks a token as revoked until expiresAt. Re-adding keeps the later expiry.
func (s *MemoryBlacklistStore) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, exists := s.revoked[tokenID]; exists && !expiresAt.After(current) {
		return nil
	}
	s.revoked[tokenID] = expiresAt
	return nil
}

// Contains checks if a token is revoked. Entries past their expiry no longer count.
func (s *MemoryBlacklistStore) Contains(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiresAt, exists := s.revoked[tokenID]
	if !exists {
		return false, nil
	}
	return expiresAt.After(s.now()), nil
}

func (s *MemoryBlacklistStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, expiresAt := range s.revoked {
		if !expiresAt.After(now) {
			delete(s.revoked, id)
			purged++
		}
	}
	return purged, nil
}

// Len counts stored entries, lapsed ones included until purged
func (s *MemoryBlacklistStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.revoked)
}

func sortByLastRotated(sessions []core.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].LastRotatedAt.Equal(sessions[j].LastRotatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].LastRotatedAt.After(sessions[j].LastRotatedAt)
	})
}
