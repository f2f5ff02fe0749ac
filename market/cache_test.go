package market

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewCache(rdb, 5*time.Minute, 24*time.Hour), mr
}

func TestCache_QuoteRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := cache.Quote(ctx, "SPY")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.SetQuote(ctx, "SPY", 512.34))
	assert.True(t, mr.Exists("stock:SPY:price"))

	price, ok, err := cache.Quote(ctx, "SPY")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 512.34, price, 1e-9)

	mr.FastForward(6 * time.Minute)
	_, ok, err = cache.Quote(ctx, "SPY")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_QuotesSkipsMissesAndGarbage(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetQuote(ctx, "AAPL", 190))
	require.NoError(t, mr.Set("stock:META:price", "not-a-number"))

	prices, err := cache.Quotes(ctx, []string{"AAPL", "META", "NVDA"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAPL": 190}, prices)
}

func TestCache_CorruptQuoteIsAnError(t *testing.T) {
	cache, mr := newTestCache(t)
	require.NoError(t, mr.Set("stock:SPY:price", "abc"))

	_, _, err := cache.Quote(context.Background(), "SPY")
	assert.Error(t, err)
}

func TestCache_HistoryMarkerExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	fresh, err := cache.HistoryFresh(ctx, "SPY")
	require.NoError(t, err)
	assert.False(t, fresh)

	require.NoError(t, cache.MarkHistory(ctx, "SPY"))
	fresh, err = cache.HistoryFresh(ctx, "SPY")
	require.NoError(t, err)
	assert.True(t, fresh)

	mr.FastForward(25 * time.Hour)
	fresh, err = cache.HistoryFresh(ctx, "SPY")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestCache_InvalidateDropsQuotesOnly(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetQuote(ctx, "SPY", 500))
	require.NoError(t, cache.SetQuote(ctx, "AAPL", 190))
	require.NoError(t, cache.MarkHistory(ctx, "SPY"))

	require.NoError(t, cache.Invalidate(ctx, "SPY"))
	assert.False(t, mr.Exists("stock:SPY:price"))
	assert.True(t, mr.Exists("stock:AAPL:price"))
	assert.True(t, mr.Exists("stock:SPY:history"))

	assert.NoError(t, cache.Invalidate(ctx))
}
