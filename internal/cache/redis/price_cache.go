package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// PriceCache is the fast layer of the price memo. Entries are plain string
// keys "price:<minute>-<scope>-<ASSET>" written with SETNX, so the first
// writer wins exactly like the durable store.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(key domain.PriceKey) string {
	return "price:" + key.String()
}

// Lookup returns the cached price for key, if any.
func (pc *PriceCache) Lookup(ctx context.Context, key domain.PriceKey) (float64, bool, error) {
	raw, err := pc.rdb.Get(ctx, priceKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse price %s: %w", key, err)
	}
	return price, true, nil
}

// Save stores price unless key is already cached.
func (pc *PriceCache) Save(ctx context.Context, key domain.PriceKey, price float64) error {
	value := strconv.FormatFloat(price, 'g', -1, 64)
	if err := pc.rdb.SetNX(ctx, priceKey(key), value, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", key, err)
	}
	return nil
}

var _ domain.PriceStore = (*PriceCache)(nil)
