package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wizesale/storefront/internal/repositories"
)

// SnapshotStore is the default in-process snapshot backend. Data does not
// survive restarts.
type SnapshotStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

var _ repositories.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore returns an empty store. clock may be nil.
func NewSnapshotStore(clock func() time.Time) *SnapshotStore {
	if clock == nil {
		clock = time.Now
	}
	return &SnapshotStore{entries: make(map[string]entry), now: clock}
}

// Load returns a copy of the stored bytes.
func (s *SnapshotStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.expired(s.now()) {
		return nil, repositories.NewNotFoundError("memory.load", key)
	}
	return append([]byte(nil), e.data...), nil
}

// Save stores a copy of data.
func (s *SnapshotStore) Save(_ context.Context, key string, data []byte, ttl time.Duration) error {
	e := entry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes key. Missing keys are ignored.
func (s *SnapshotStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Prune drops expired entries and returns how many were removed.
func (s *SnapshotStore) Prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
