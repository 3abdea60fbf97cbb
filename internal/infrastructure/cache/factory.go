package cache

import (
	"fmt"

	"github.com/planform/backend/internal/domain/shared"
)

// DedupStoreType identifies a dedup store backend
type DedupStoreType string

const (
	DedupStoreTypeRedis    DedupStoreType = "redis"
	DedupStoreTypeInMemory DedupStoreType = "inmemory"
)

// NewDedupStore creates a dedup store of the given type. Redis is the
// backend for any deployment with more than one instance.
func NewDedupStore(storeType DedupStoreType, redisCfg RedisConfig) (shared.DedupStore, error) {
	switch storeType {
	case DedupStoreTypeRedis:
		return NewRedisDedupStore(redisCfg)
	case DedupStoreTypeInMemory:
		return NewInMemoryDedupStore(), nil
	default:
		return nil, fmt.Errorf("unknown dedup store type: %s", storeType)
	}
}
