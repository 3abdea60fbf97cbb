package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDedupStore_Claim(t *testing.T) {
	store := NewInMemoryDedupStore()
	defer store.Close()
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "stripe", "evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "first claim wins")

	claimed, err = store.Claim(ctx, "stripe", "evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim is a duplicate")
}

func TestInMemoryDedupStore_ProviderScoping(t *testing.T) {
	store := NewInMemoryDedupStore()
	defer store.Close()
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "stripe", "evt_1", time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	// The same event ID from another provider is a distinct claim
	claimed, err = store.Claim(ctx, "paddle", "evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestInMemoryDedupStore_TTLExpiry(t *testing.T) {
	store := NewInMemoryDedupStore()
	defer store.Close()
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "stripe", "evt_1", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, claimed)

	time.Sleep(20 * time.Millisecond)

	claimed, err = store.Claim(ctx, "stripe", "evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "expired claim is reclaimable")
}

func TestInMemoryDedupStore_ConcurrentClaims(t *testing.T) {
	store := NewInMemoryDedupStore()
	defer store.Close()
	ctx := context.Background()

	const goroutines = 50
	var winners atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.Claim(ctx, "stripe", "evt_concurrent", time.Hour)
			assert.NoError(t, err)
			if claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one concurrent claim may win")
}

func TestInMemoryDedupStore_CloseIdempotent(t *testing.T) {
	store := NewInMemoryDedupStore()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestNewDedupStore_Factory(t *testing.T) {
	store, err := NewDedupStore(DedupStoreTypeInMemory, RedisConfig{})
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = NewDedupStore(DedupStoreType("memcached"), RedisConfig{})
	assert.Error(t, err)
}
