// Package pricing resolves historical asset prices and memoizes every
// answer, so a report sees one price per asset, scope and minute.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"golang.org/x/sync/singleflight"
)

// TokenSource returns the historical price of a token-indexed asset quoted
// in vsCurrency.
type TokenSource interface {
	HistoricalPrice(ctx context.Context, id string, at time.Time, vsCurrency string) (float64, error)
}

// CandleSource returns the average price of the first candle of symbol
// opening at or after at.
type CandleSource interface {
	CandlePrice(ctx context.Context, symbol string, at time.Time) (float64, error)
}

// Options tunes a Resolver.
type Options struct {
	// Native is the currency every price is quoted in.
	Native string
	// Rename maps statement asset names to token source ids.
	Rename map[string]string
	// FiatProxy is the token whose quote in a fiat currency yields the
	// native price of that fiat.
	FiatProxy string
	// Fiat maps fiat asset names to the quote currency used with FiatProxy.
	Fiat          map[string]string
	RetryAttempts int
	RetryWait     time.Duration
}

// Resolver is the price resolution cache. Prices are native currency per
// unit of asset.
type Resolver struct {
	store  domain.PriceStore
	token  TokenSource
	candle CandleSource
	opts   Options

	renameFold map[string]string
	fiat       map[string]string

	group  singleflight.Group
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewResolver creates a Resolver memoizing into store.
func NewResolver(store domain.PriceStore, token TokenSource, candle CandleSource, opts Options, logger *slog.Logger) *Resolver {
	if opts.Native == "" {
		opts.Native = "USD"
	}
	if opts.FiatProxy == "" {
		opts.FiatProxy = "tether"
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}

	renameFold := make(map[string]string, len(opts.Rename))
	for from, to := range opts.Rename {
		renameFold[strings.ToUpper(from)] = to
	}
	fiat := make(map[string]string, len(opts.Fiat))
	for name, vs := range opts.Fiat {
		fiat[strings.ToUpper(name)] = strings.ToLower(vs)
	}

	return &Resolver{
		store:      store,
		token:      token,
		candle:     candle,
		opts:       opts,
		renameFold: renameFold,
		fiat:       fiat,
		sleep:      sleepContext,
		logger:     logger.With(slog.String("component", "pricing")),
	}
}

// Price returns the native price of one unit of asset at the minute
// containing at. The first resolved value for a key is final.
func (r *Resolver) Price(ctx context.Context, asset string, at time.Time, scope domain.Scope) (float64, error) {
	if r.pegged(asset) {
		return 1, nil
	}

	key := domain.NewPriceKey(asset, at, scope)
	if key.Asset == "" {
		return 0, fmt.Errorf("pricing: empty asset name")
	}

	price, ok, err := r.store.Lookup(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("pricing: lookup %s: %w", key, err)
	}
	if ok {
		return price, nil
	}

	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		// A concurrent flight may have finished between the lookup above
		// and joining the group.
		if price, ok, err := r.store.Lookup(ctx, key); err == nil && ok {
			return price, nil
		}
		return r.resolve(ctx, asset, key)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Convert expresses amount of from in units of to at the given instant,
// using token-scope prices.
func (r *Resolver) Convert(ctx context.Context, amount float64, from, to string, at time.Time) (float64, error) {
	if strings.EqualFold(from, to) {
		return amount, nil
	}
	fromPrice, err := r.Price(ctx, from, at, domain.ScopeToken)
	if err != nil {
		return 0, err
	}
	toPrice, err := r.Price(ctx, to, at, domain.ScopeToken)
	if err != nil {
		return 0, err
	}
	if toPrice == 0 {
		return 0, fmt.Errorf("%w: zero price for %s at %s", domain.ErrPriceUnavailable, to, at.Format(time.RFC3339))
	}
	return amount * fromPrice / toPrice, nil
}

func (r *Resolver) resolve(ctx context.Context, asset string, key domain.PriceKey) (float64, error) {
	var (
		price float64
		err   error
	)
	switch key.Scope {
	case domain.ScopeToken:
		price, err = r.tokenPrice(ctx, asset, key.Minute)
	case domain.ScopeCandle:
		price, err = r.candlePrice(ctx, key.Asset, key.Minute)
	default:
		return 0, fmt.Errorf("pricing: %w: %q", domain.ErrUnsupportedScope, key.Scope)
	}
	if err != nil {
		return 0, err
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return 0, fmt.Errorf("%w: invalid price %v for %s", domain.ErrPriceUnavailable, price, key)
	}

	if err := r.store.Save(ctx, key, price); err != nil {
		return 0, fmt.Errorf("pricing: memoize %s: %w", key, err)
	}
	// Save keeps an existing entry, so another writer may have won the key.
	stored, ok, err := r.store.Lookup(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("pricing: read back %s: %w", key, err)
	}
	if ok {
		price = stored
	}
	r.logger.DebugContext(ctx, "price resolved",
		slog.String("key", key.String()),
		slog.Float64("price", price),
	)
	return price, nil
}

func (r *Resolver) tokenPrice(ctx context.Context, asset string, at time.Time) (float64, error) {
	if vs, ok := r.fiat[strings.ToUpper(strings.TrimSpace(asset))]; ok {
		proxy, err := r.retry(ctx, r.opts.FiatProxy+" in "+vs, func(ctx context.Context) (float64, error) {
			return r.token.HistoricalPrice(ctx, r.opts.FiatProxy, at, vs)
		})
		if err != nil {
			return 0, err
		}
		if proxy <= 0 {
			return 0, fmt.Errorf("%w: non-positive %s quote in %s", domain.ErrPriceUnavailable, r.opts.FiatProxy, vs)
		}
		return 1 / proxy, nil
	}

	id := r.tokenID(asset)
	native := strings.ToLower(r.opts.Native)
	return r.retry(ctx, id, func(ctx context.Context) (float64, error) {
		return r.token.HistoricalPrice(ctx, id, at, native)
	})
}

func (r *Resolver) candlePrice(ctx context.Context, asset string, at time.Time) (float64, error) {
	symbol := asset + "USDT"
	price, err := r.candle.CandlePrice(ctx, symbol, at)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			return 0, fmt.Errorf("pricing: %s at %s: %w", symbol, at.Format(time.RFC3339), err)
		}
		return 0, fmt.Errorf("%w: unable to determine price of %s at %s: %w",
			domain.ErrPriceUnavailable, symbol, at.Format(time.RFC3339), err)
	}
	return price, nil
}

// tokenID applies the rename table: exact match first, then a
// case-insensitive one, else the name is used unchanged.
func (r *Resolver) tokenID(asset string) string {
	if id, ok := r.opts.Rename[asset]; ok {
		return id
	}
	if id, ok := r.renameFold[strings.ToUpper(asset)]; ok {
		return id
	}
	return asset
}

func (r *Resolver) pegged(asset string) bool {
	switch a := strings.ToUpper(strings.TrimSpace(asset)); a {
	case "USD", "USDT":
		return true
	default:
		return a == strings.ToUpper(r.opts.Native)
	}
}
