package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// PriceStore is the durable layer of the price memo.
type PriceStore struct {
	pool *pgxpool.Pool
}

// NewPriceStore creates a PriceStore backed by pool.
func NewPriceStore(pool *pgxpool.Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Lookup returns the memoized price for key, if any.
func (s *PriceStore) Lookup(ctx context.Context, key domain.PriceKey) (float64, bool, error) {
	var price float64
	err := s.pool.QueryRow(ctx,
		`SELECT price FROM asset_price_cache WHERE minute = $1 AND scope = $2 AND asset = $3`,
		key.Minute, string(key.Scope), key.Asset,
	).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: lookup price %s: %w", key, err)
	}
	return price, true, nil
}

// Save records price for key unless a price is already stored.
func (s *PriceStore) Save(ctx context.Context, key domain.PriceKey, price float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO asset_price_cache (minute, scope, asset, price)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (minute, scope, asset) DO NOTHING`,
		key.Minute, string(key.Scope), key.Asset, price,
	)
	if err != nil {
		return fmt.Errorf("postgres: save price %s: %w", key, err)
	}
	return nil
}

var _ domain.PriceStore = (*PriceStore)(nil)
