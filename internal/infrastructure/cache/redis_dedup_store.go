package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/planform/backend/internal/domain/shared"
)

// RedisDedupStore implements DedupStore using Redis. This is the store for
// distributed deployments where a horizontally scaled fleet must share
// dedup state.
type RedisDedupStore struct {
	client *redis.Client
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisDedupStore creates a new Redis-backed dedup store
func NewRedisDedupStore(cfg RedisConfig) (*RedisDedupStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDedupStore{client: client}, nil
}

// NewRedisDedupStoreWithClient creates a store with an existing Redis client
func NewRedisDedupStoreWithClient(client *redis.Client) *RedisDedupStore {
	return &RedisDedupStore{client: client}
}

// Claim atomically claims a provider event ID using SETNX with TTL.
// Returns true if this call claimed the event first, false if it was
// already claimed. A store failure fails closed: the error wraps
// ErrDedupUnavailable and the caller must surface a retryable status rather
// than treat the event as new, otherwise a retried delivery during an
// outage window would double-apply a paid upgrade.
func (s *RedisDedupStore) Claim(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error) {
	key := shared.DedupKey(provider, eventID)

	claimed, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", shared.ErrDedupUnavailable, err)
	}

	return claimed, nil
}

// Close closes the Redis client
func (s *RedisDedupStore) Close() error {
	return s.client.Close()
}

// Ensure RedisDedupStore implements DedupStore
var _ shared.DedupStore = (*RedisDedupStore)(nil)
