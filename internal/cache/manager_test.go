package cache

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSharedStore is an in-memory stand-in for internal/cache/redis.Store.
type fakeSharedStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeSharedStore() *fakeSharedStore {
	return &fakeSharedStore{data: make(map[string][]byte)}
}

func (f *fakeSharedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeSharedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeSharedStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func newTestManager(shared domain.SharedStore) *Manager {
	local := NewLocal(LocalConfig{MaxEntries: 100, CleanupInterval: time.Hour})
	return New(local, shared, nil, domain.DefaultCategories(), slog.Default())
}

func TestManagerWriteThrough(t *testing.T) {
	shared := newFakeSharedStore()
	m := newTestManager(shared)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, domain.CategoryPrices, "BTC", []byte("100")))

	v, found, err := shared.Get(ctx, categoryKey(domain.CategoryPrices, "BTC"))
	require.NoError(t, err)
	assert.True(t, found, "write-through propagates to shared tier synchronously")
	assert.Equal(t, []byte("100"), v)
}

func TestManagerCacheAsideSkipsLocalOnSet(t *testing.T) {
	shared := newFakeSharedStore()
	m := newTestManager(shared)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, domain.CategoryPools, "BTC-ETH", []byte("snapshot")))

	_, found := m.local.Get(categoryKey(domain.CategoryPools, "BTC-ETH"))
	assert.False(t, found, "cache-aside writes bypass the local tier")

	v, found, err := m.Get(ctx, domain.CategoryPools, "BTC-ETH")
	require.NoError(t, err)
	assert.True(t, found, "a subsequent read promotes the shared value into local")
	assert.Equal(t, []byte("snapshot"), v)

	_, promoted := m.local.Get(categoryKey(domain.CategoryPools, "BTC-ETH"))
	assert.True(t, promoted)
}

func TestManagerGetLocalHitSkipsShared(t *testing.T) {
	m := newTestManager(nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, domain.CategoryPrices, "BTC", []byte("100")))

	v, found, err := m.Get(ctx, domain.CategoryPrices, "BTC")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("100"), v)
}

func TestManagerInvalidate(t *testing.T) {
	shared := newFakeSharedStore()
	m := newTestManager(shared)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, domain.CategoryPrices, "BTC", []byte("100")))
	require.NoError(t, m.Invalidate(ctx, domain.CategoryPrices, "BTC"))

	_, found, err := m.Get(ctx, domain.CategoryPrices, "BTC")
	require.NoError(t, err)
	assert.False(t, found, "invalidate removes the key from both tiers")
}
