package domain

import (
	"fmt"
	"strings"
	"time"
)

// Scope selects which market data source values an asset.
type Scope string

const (
	// ScopeToken prices an asset from token aggregate history.
	ScopeToken Scope = "token"
	// ScopeCandle prices an asset from exchange candlesticks against USDT.
	ScopeCandle Scope = "candle"
)

// ParseScope validates a scope name read from config or flags.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeToken:
		return ScopeToken, nil
	case ScopeCandle:
		return ScopeCandle, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedScope, s)
}

// PriceKey identifies one memoized price. Timestamps are floored to the
// minute and asset names upper-cased, so lookups are insensitive to both.
type PriceKey struct {
	Minute time.Time
	Scope  Scope
	Asset  string
}

// NewPriceKey builds the canonical cache key for asset at ts.
func NewPriceKey(asset string, ts time.Time, scope Scope) PriceKey {
	return PriceKey{
		Minute: ts.UTC().Truncate(time.Minute),
		Scope:  scope,
		Asset:  strings.ToUpper(strings.TrimSpace(asset)),
	}
}

// String renders the key as a flat identifier usable by key-value caches.
func (k PriceKey) String() string {
	return k.Minute.Format("2006-01-02-15-04") + "-" + string(k.Scope) + "-" + k.Asset
}
