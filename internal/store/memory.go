package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory counter store.
type MemoryStore struct {
	mu    sync.Mutex
	store map[string]*memoryEntry

	stop chan struct{}
	once sync.Once
}

type memoryEntry struct {
	count     int
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory counter store. Expired entries are
// swept on cleanupInterval and also replaced lazily on access.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval == 0 {
		cleanupInterval = 1 * time.Minute
	}

	s := &MemoryStore{
		store: make(map[string]*memoryEntry),
		stop:  make(chan struct{}),
	}

	go s.cleanupExpired(cleanupInterval)

	return s
}

// GetName returns the provider name
func (s *MemoryStore) GetName() string {
	return "memory"
}

// CheckAndIncrement checks if a request is allowed and increments the counter
func (s *MemoryStore) CheckAndIncrement(ctx context.Context, key string, window time.Duration, maxRequests int) (bool, int, time.Time, error) {
	select {
	case <-ctx.Done():
		return false, 0, time.Time{}, fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, exists := s.store[key]

	// If entry doesn't exist or has expired, start a fresh window
	if !exists || now.After(entry.expiresAt) {
		expiresAt := now.Add(window)
		s.store[key] = &memoryEntry{
			count:     1,
			expiresAt: expiresAt,
		}
		return true, 1, expiresAt, nil
	}

	entry.count++

	allowed := entry.count <= maxRequests
	return allowed, entry.count, entry.expiresAt, nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for key, entry := range s.store {
				if now.After(entry.expiresAt) {
					delete(s.store, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
