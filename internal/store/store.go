package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AegisGate/aegis-gate/env"
	"github.com/AegisGate/aegis-gate/models"
)

// CounterStore is the storage backend for sliding-window request counters.
// Implementations must be safe for concurrent use. The in-memory provider
// serves single-instance deployments; the redis provider makes counters
// shared across instances.
type CounterStore interface {
	// GetName returns the name of the provider
	GetName() string
	// CheckAndIncrement increments the counter for key and reports whether
	// the count is still within maxRequests for the window.
	// Returns: (allowed bool, currentCount int, resetTime time.Time, error)
	CheckAndIncrement(ctx context.Context, key string, window time.Duration, maxRequests int) (bool, int, time.Time, error)
	// Close closes any resources held by the provider
	Close() error
}

// InitCounterStore builds the configured provider, defaulting to memory.
func InitCounterStore(config models.StoreConfig) (CounterStore, error) {
	switch config.Provider {
	case "", "memory":
		return NewMemoryStore(time.Minute), nil
	case "redis":
		url := os.Getenv(env.EnvRedisURL)
		if url == "" && config.Redis != nil {
			url = config.Redis.URL
		}
		if url == "" {
			return nil, fmt.Errorf("redis store requires a url (set %s or provide config)", env.EnvRedisURL)
		}
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return NewRedisStore(redis.NewClient(opts)), nil
	default:
		return nil, fmt.Errorf("unsupported store provider: %s", config.Provider)
	}
}
