package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store. Expired entries are purged lazily in
// batches: at most once per cleanup interval, piggybacked on regular calls,
// so no background goroutine is needed.
type MemoryStore struct {
	mu              sync.Mutex
	entries         map[string]time.Time
	lastCleanup     time.Time
	cleanupInterval time.Duration
	now             func() time.Time
}

// NewMemoryStore builds a MemoryStore. A non-positive cleanup interval
// falls back to DefaultCleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &MemoryStore{
		entries:         map[string]time.Time{},
		cleanupInterval: cleanupInterval,
		now:             time.Now,
	}
}

// MarkOnce implements Store.
func (s *MemoryStore) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return true, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupIfNeeded(now)
	if expiry, ok := s.entries[key]; ok && expiry.After(now) {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}

// Seen implements Store.
func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupIfNeeded(now)
	expiry, ok := s.entries[key]
	return ok && expiry.After(now), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Clear drops every entry.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]time.Time{}
}

// Len reports the number of live entries, expired ones included until the
// next sweep.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) cleanupIfNeeded(now time.Time) {
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}
	s.lastCleanup = now
	for key, expiry := range s.entries {
		if !expiry.After(now) {
			delete(s.entries, key)
		}
	}
}
