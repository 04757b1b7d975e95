// Package ratelimit implements the gateway's distributed sliding-window
// rate limiter with sticky blocking.
//
// Counters and block flags are the only cross-request mutable state in the
// gateway and live behind the Store interface. Correctness under multiple
// gateway instances depends entirely on the store's atomic
// increment-with-ttl and set-if-absent primitives; the gateway process
// itself holds no locks.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store is the capability interface over a shared, TTL-capable key-value
// store. Both operations must be atomic across all gateway instances
// sharing the store.
type Store interface {
	// IncrementWithTTL atomically increments key and sets its expiry to
	// window when this call created the key (count == 1).
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, error)

	// SetIfAbsent sets key with the given TTL only if it does not exist.
	// Returns true when this call created the key.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TTL returns the remaining lifetime of key, zero if the key is absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-process Store with the same atomicity contract as
// the Redis-backed store. It serves tests and store-less single-instance
// deployments; it cannot coordinate multiple gateway instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: s.now().Add(window)}
		s.entries[key] = entry
	}

	entry.count++
	return entry.count, nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok && s.now().Before(entry.expiresAt) {
		return false, nil
	}

	s.entries[key] = &memoryEntry{count: 1, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0, nil
	}

	remaining := entry.expiresAt.Sub(s.now())
	if remaining <= 0 {
		delete(s.entries, key)
		return 0, nil
	}
	return remaining, nil
}
