package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// openTestClient connects to CRYPTOTAX_TEST_REDIS_ADDR or skips.
func openTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CRYPTOTAX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRYPTOTAX_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{Addr: addr})
	require.NoError(t, err)
	require.NoError(t, c.Underlying().FlushDB(ctx).Err())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPriceKeyLayout(t *testing.T) {
	key := domain.NewPriceKey("btc", time.Date(2021, 3, 1, 9, 30, 45, 0, time.UTC), domain.ScopeCandle)
	assert.Equal(t, "price:2021-03-01-09-30-candle-BTC", priceKey(key))
}

func TestPriceCache_FirstWriterWins(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	cache := NewPriceCache(c, time.Minute)
	key := domain.NewPriceKey("ETH", time.Now(), domain.ScopeToken)

	_, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Save(ctx, key, 1234.5))
	require.NoError(t, cache.Save(ctx, key, 1))
	p, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1234.5, p)
}

func TestLockManager_Exclusive(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	locks := NewLockManager(c)

	unlock, err := locks.Acquire(ctx, "tax-report", time.Minute)
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, "tax-report", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := locks.Acquire(ctx, "tax-report", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiter_Window(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c, "coingecko", 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	waitCtx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(waitCtx))
}
