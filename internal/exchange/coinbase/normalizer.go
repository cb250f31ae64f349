// Package coinbase normalizes Coinbase transaction history. Coinbase
// reports wallet movements: fiat spent and received become purchases and
// sales, and the crypto ledger values the holdings.
package coinbase

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/alanyoungcy/cryptotax/internal/exchange"
)

// Normalizer implements exchange.Normalizer for Coinbase.
type Normalizer struct {
	ops    domain.OperationStore
	store  domain.CoinbaseStore
	prices exchange.Prices
	acct   exchange.Accounting
	scope  domain.Scope
	logger *slog.Logger
}

// New creates a Coinbase Normalizer valuing holdings with prices of scope.
func New(ops domain.OperationStore, store domain.CoinbaseStore, prices exchange.Prices, acct exchange.Accounting, scope domain.Scope, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		ops:    ops,
		store:  store,
		prices: prices,
		acct:   acct,
		scope:  scope,
		logger: logger.With(slog.String("component", "coinbase")),
	}
}

func (n *Normalizer) Name() string { return domain.ExchangeCoinbase }

// LoadStatement stages every transaction row of statement verbatim.
func (n *Normalizer) LoadStatement(ctx context.Context, statement fs.FS) error {
	ops, err := readStatement(statement)
	if err != nil {
		return err
	}
	if err := n.store.InsertRawOperations(ctx, ops); err != nil {
		return fmt.Errorf("coinbase: stage raw operations: %w", err)
	}
	n.logger.InfoContext(ctx, "statement loaded", slog.Int("rows", len(ops)))
	return nil
}

// Consolidate rebuilds the fiat and crypto ledgers from every staged row.
// An unknown transaction type fails the whole step before anything is
// written.
func (n *Normalizer) Consolidate(ctx context.Context) error {
	raw, err := n.store.ListRawOperations(ctx)
	if err != nil {
		return fmt.Errorf("coinbase: list raw operations: %w", err)
	}

	var (
		fiat   []domain.CoinbaseFiatMovement
		crypto []domain.CoinbaseCryptoMovement
	)
	for _, op := range raw {
		f, c, err := derive(op)
		if err != nil {
			return fmt.Errorf("coinbase: %s at %s: %w", op.Operation, op.Timestamp.Format(time.RFC3339), err)
		}
		fiat = append(fiat, f...)
		crypto = append(crypto, c...)
	}

	if err := n.store.ReplaceMovements(ctx, fiat, crypto); err != nil {
		return fmt.Errorf("coinbase: save history: %w", err)
	}
	n.logger.InfoContext(ctx, "history consolidated",
		slog.Int("fiat_movements", len(fiat)),
		slog.Int("crypto_movements", len(crypto)),
	)
	return nil
}

// GeneratePurchases rebuilds the Coinbase purchase ledger with one purchase
// per fiat amount spent.
func (n *Normalizer) GeneratePurchases(ctx context.Context) error {
	moves, err := n.store.ListFiatMovements(ctx, domain.DirectionBuy)
	if err != nil {
		return fmt.Errorf("coinbase: list fiat deposits: %w", err)
	}
	purchases := make([]domain.PurchaseOperation, 0, len(moves))
	for _, m := range moves {
		op, err := n.operation(ctx, m)
		if err != nil {
			return err
		}
		purchases = append(purchases, domain.PurchaseOperation{Operation: op})
	}
	if err := n.ops.ReplacePurchases(ctx, n.Name(), purchases); err != nil {
		return fmt.Errorf("coinbase: save purchases: %w", err)
	}
	n.logger.InfoContext(ctx, "purchases generated", slog.Int("count", len(purchases)))
	return nil
}

// GenerateSales rebuilds the Coinbase sale ledger with one sale per fiat
// amount received. There are no position closes to merge, so compact only
// tags the sales.
func (n *Normalizer) GenerateSales(ctx context.Context, compact bool) error {
	moves, err := n.store.ListFiatMovements(ctx, domain.DirectionSell)
	if err != nil {
		return fmt.Errorf("coinbase: list fiat withdrawals: %w", err)
	}
	sales := make([]domain.SaleOperation, 0, len(moves))
	for _, m := range moves {
		op, err := n.operation(ctx, m)
		if err != nil {
			return err
		}
		sales = append(sales, domain.SaleOperation{Operation: op, Compacted: compact})
	}
	if err := n.ops.ReplaceSales(ctx, n.Name(), sales); err != nil {
		return fmt.Errorf("coinbase: save sales: %w", err)
	}
	n.logger.InfoContext(ctx, "sales generated", slog.Int("count", len(sales)), slog.Bool("compact", compact))
	return nil
}

// operation records a fiat leg. The amount is already fiat, so both
// accounting values are conversions of it.
func (n *Normalizer) operation(ctx context.Context, m domain.CoinbaseFiatMovement) (domain.Operation, error) {
	unitNative, err := n.prices.Convert(ctx, 1, m.Asset, n.acct.Native, m.Timestamp)
	if err != nil {
		return domain.Operation{}, fmt.Errorf("coinbase: convert %s at %s: %w", m.Asset, m.Timestamp.Format(time.RFC3339), err)
	}
	unitSecondary, err := n.prices.Convert(ctx, 1, m.Asset, n.acct.Secondary, m.Timestamp)
	if err != nil {
		return domain.Operation{}, fmt.Errorf("coinbase: convert %s at %s: %w", m.Asset, m.Timestamp.Format(time.RFC3339), err)
	}
	op := domain.Operation{
		Timestamp:          m.Timestamp,
		Asset:              m.Asset,
		Amount:             m.Amount,
		FiatNative:         m.Amount * unitNative,
		FiatSecondary:      m.Amount * unitSecondary,
		UnitPriceNative:    unitNative,
		UnitPriceSecondary: unitSecondary,
		Exchange:           n.Name(),
	}
	return op, op.Validate()
}

// PortfolioValue values the crypto ledger at at.
func (n *Normalizer) PortfolioValue(ctx context.Context, at time.Time) (float64, error) {
	moves, err := n.store.ListCryptoMovementsUntil(ctx, at)
	if err != nil {
		return 0, fmt.Errorf("coinbase: list crypto history: %w", err)
	}
	entries := make([]exchange.Entry, 0, len(moves))
	for _, m := range moves {
		entries = append(entries, exchange.Entry{Asset: m.Asset, Amount: m.Amount, At: m.Timestamp})
	}

	balances, err := exchange.Balances(entries, at)
	if err != nil {
		return 0, fmt.Errorf("coinbase: balances at %s: %w", at.Format(time.RFC3339), err)
	}
	value, err := exchange.ValueHoldings(ctx, n.prices, balances, at, n.scope, n.acct)
	if err != nil {
		return 0, fmt.Errorf("coinbase: %w", err)
	}
	return value, nil
}

// CleanAllHistory drops every staged Coinbase row and Coinbase operation.
func (n *Normalizer) CleanAllHistory(ctx context.Context) error {
	if err := n.store.Reset(ctx, n.Name()); err != nil {
		return fmt.Errorf("coinbase: clean history: %w", err)
	}
	return nil
}

var _ exchange.Normalizer = (*Normalizer)(nil)
