package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

func quoteKey(symbol string) string   { return fmt.Sprintf("stock:%s:price", symbol) }
func historyKey(symbol string) string { return fmt.Sprintf("stock:%s:history", symbol) }

// Cache keeps current quotes and history freshness markers in Redis.
type Cache struct {
	rdb        *redis.Client
	quoteTTL   time.Duration
	historyTTL time.Duration
}

func NewCache(rdb *redis.Client, quoteTTL, historyTTL time.Duration) *Cache {
	return &Cache{rdb: rdb, quoteTTL: quoteTTL, historyTTL: historyTTL}
}

// Quote returns the cached price for symbol. ok is false on a miss.
func (c *Cache) Quote(ctx context.Context, symbol string) (price float64, ok bool, err error) {
	raw, err := c.rdb.Get(ctx, quoteKey(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cached quote: %w", err)
	}
	price, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid cached quote %q: %w", raw, err)
	}
	return price, true, nil
}

// Quotes reads several cached prices in one round trip. Misses are
// absent from the result.
func (c *Cache) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices := map[string]float64{}
	if len(symbols) == 0 {
		return prices, nil
	}
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = quoteKey(s)
	}
	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached quotes: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		if price, err := strconv.ParseFloat(raw, 64); err == nil {
			prices[symbols[i]] = price
		}
	}
	return prices, nil
}

func (c *Cache) SetQuote(ctx context.Context, symbol string, price float64) error {
	value := strconv.FormatFloat(price, 'f', -1, 64)
	if err := c.rdb.Set(ctx, quoteKey(symbol), value, c.quoteTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache quote: %w", err)
	}
	return nil
}

// HistoryFresh reports whether the stored closes for symbol were fetched
// within the history TTL.
func (c *Cache) HistoryFresh(ctx context.Context, symbol string) (bool, error) {
	n, err := c.rdb.Exists(ctx, historyKey(symbol)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check history marker: %w", err)
	}
	return n > 0, nil
}

func (c *Cache) MarkHistory(ctx context.Context, symbol string) error {
	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := c.rdb.Set(ctx, historyKey(symbol), stamp, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark history: %w", err)
	}
	return nil
}

// Invalidate drops the cached quotes for symbols.
func (c *Cache) Invalidate(ctx context.Context, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = quoteKey(s)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate quotes: %w", err)
	}
	return nil
}
