package exchange

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// BalanceTolerance absorbs float noise left when a holding is sold down to
// zero. Balances within it are neither errors nor priced.
const BalanceTolerance = 1e-9

// Entry is a signed holding change.
type Entry struct {
	Asset  string
	Amount float64
	At     time.Time
}

// OperationEntries flattens canonical operations into signed entries.
func OperationEntries(purchases []domain.PurchaseOperation, sales []domain.SaleOperation) []Entry {
	entries := make([]Entry, 0, len(purchases)+len(sales))
	for _, p := range purchases {
		entries = append(entries, Entry{Asset: p.Asset, Amount: p.Amount, At: p.Timestamp})
	}
	for _, s := range sales {
		entries = append(entries, Entry{Asset: s.Asset, Amount: -s.Amount, At: s.Timestamp})
	}
	return entries
}

// Balances derives the owned amount of every asset at cutoff. Inflows at
// or before cutoff count, outflows only strictly before it. An outflow of
// an asset never held, or a balance driven below zero, is
// domain.ErrNegativeBalance.
func Balances(entries []Entry, cutoff time.Time) (map[string]float64, error) {
	balances := make(map[string]float64)
	for _, e := range entries {
		if e.Amount >= 0 && !e.At.After(cutoff) {
			balances[e.Asset] += e.Amount
		}
	}
	for _, e := range entries {
		if e.Amount >= 0 || !e.At.Before(cutoff) {
			continue
		}
		if _, ok := balances[e.Asset]; !ok {
			return nil, fmt.Errorf("%w: %s sold at %s without any acquisition",
				domain.ErrNegativeBalance, e.Asset, e.At.Format(time.RFC3339))
		}
		balances[e.Asset] += e.Amount
	}
	for asset, amount := range balances {
		if amount < -BalanceTolerance {
			return nil, fmt.Errorf("%w: %s sold short by %v at %s",
				domain.ErrNegativeBalance, asset, -amount, cutoff.Format(time.RFC3339))
		}
	}
	return balances, nil
}

// ValueHoldings prices every positive balance at at and returns the total
// in currency. Prices are resolved in asset name order.
func ValueHoldings(ctx context.Context, prices Prices, balances map[string]float64, at time.Time, scope domain.Scope, acct Accounting) (float64, error) {
	assets := make([]string, 0, len(balances))
	for asset, amount := range balances {
		if amount > BalanceTolerance {
			assets = append(assets, asset)
		}
	}
	if len(assets) == 0 {
		return 0, nil
	}
	sort.Strings(assets)

	var native float64
	for _, asset := range assets {
		price, err := prices.Price(ctx, asset, at, scope)
		if err != nil {
			return 0, fmt.Errorf("value %s: %w", asset, err)
		}
		native += price * balances[asset]
	}
	return prices.Convert(ctx, native, acct.Native, acct.Secondary, at)
}
