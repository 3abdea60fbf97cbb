package cache

import (
	"context"
	"sync"
	"time"

	"github.com/planform/backend/internal/domain/shared"
)

// claimEntry records a claimed event ID with its expiration
type claimEntry struct {
	expiresAt time.Time
}

// InMemoryDedupStore implements DedupStore with an in-memory map. Suitable
// for single-instance deployments and tests; a scaled fleet needs the Redis
// store since claims must be shared across instances.
type InMemoryDedupStore struct {
	mu        sync.Mutex
	entries   map[string]claimEntry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryDedupStore creates an in-memory dedup store with a background
// cleanup goroutine for expired claims
func NewInMemoryDedupStore() *InMemoryDedupStore {
	store := &InMemoryDedupStore{
		entries:  make(map[string]claimEntry),
		stopChan: make(chan struct{}),
	}

	store.wg.Add(1)
	go store.cleanupLoop()

	return store
}

// Claim claims a provider event ID if it is not already claimed
func (s *InMemoryDedupStore) Claim(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error) {
	key := shared.DedupKey(provider, eventID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[key]; exists && time.Now().Before(e.expiresAt) {
		return false, nil
	}

	s.entries[key] = claimEntry{expiresAt: time.Now().Add(ttl)}
	return true, nil
}

// Close stops the cleanup goroutine
func (s *InMemoryDedupStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	return nil
}

// cleanupLoop periodically removes expired claims
func (s *InMemoryDedupStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

// removeExpired deletes claims past their expiration
func (s *InMemoryDedupStore) removeExpired() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// Ensure InMemoryDedupStore implements DedupStore
var _ shared.DedupStore = (*InMemoryDedupStore)(nil)
