// Package etoro normalizes eToro account statements. eToro reports
// positions rather than wallet movements: an opened position is a
// purchase and a closed one is a sale.
package etoro

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/alanyoungcy/cryptotax/internal/exchange"
)

// Normalizer implements exchange.Normalizer for eToro.
type Normalizer struct {
	ops    domain.OperationStore
	store  domain.EtoroStore
	prices exchange.Prices
	acct   exchange.Accounting
	scope  domain.Scope
	logger *slog.Logger
}

// New creates an eToro Normalizer. scope selects the prices used for
// positions without a matching close and for portfolio valuation.
func New(ops domain.OperationStore, store domain.EtoroStore, prices exchange.Prices, acct exchange.Accounting, scope domain.Scope, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		ops:    ops,
		store:  store,
		prices: prices,
		acct:   acct,
		scope:  scope,
		logger: logger.With(slog.String("component", "etoro")),
	}
}

func (n *Normalizer) Name() string { return domain.ExchangeEtoro }

// LoadStatement stages the open and closed crypto positions of statement.
func (n *Normalizer) LoadStatement(ctx context.Context, statement fs.FS) error {
	opens, skippedOpen, err := readOpenPositions(statement)
	if err != nil {
		return err
	}
	closes, skippedClose, err := readClosePositions(statement)
	if err != nil {
		return err
	}

	if err := n.store.InsertOpenPositions(ctx, opens); err != nil {
		return fmt.Errorf("etoro: stage open positions: %w", err)
	}
	if err := n.store.InsertClosePositions(ctx, closes); err != nil {
		return fmt.Errorf("etoro: stage close positions: %w", err)
	}

	n.logger.InfoContext(ctx, "statement loaded",
		slog.Int("open_positions", len(opens)),
		slog.Int("close_positions", len(closes)),
		slog.Int("skipped_rows", skippedOpen+skippedClose),
	)
	return nil
}

// Consolidate resolves each staged open position to a canonical asset, a
// unit count and an opening rate. Matched closes provide both; otherwise
// the rate is the asset price at opening.
func (n *Normalizer) Consolidate(ctx context.Context) error {
	opens, err := n.store.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("etoro: list open positions: %w", err)
	}

	updated := make([]domain.EtoroOpenPosition, 0, len(opens))
	for _, pos := range opens {
		if pos.Consolidated {
			continue
		}
		asset, ok := pairAssets[pos.Asset]
		if !ok {
			return fmt.Errorf("etoro: position %s: %w: unknown pair %q", pos.PositionID, domain.ErrMalformedStatementRow, pos.Asset)
		}
		pos.Asset = asset

		closed, err := n.store.GetClosePosition(ctx, pos.PositionID)
		switch {
		case err == nil:
			pos.Units = closed.Units
			pos.OpenRate = closed.OpenRate
		case errors.Is(err, domain.ErrNotFound):
			price, err := n.prices.Price(ctx, asset, pos.OpenedAt, n.scope)
			if err != nil {
				return fmt.Errorf("etoro: price position %s: %w", pos.PositionID, err)
			}
			if price <= 0 {
				return fmt.Errorf("etoro: position %s: %w: non-positive %s price", pos.PositionID, domain.ErrPriceUnavailable, asset)
			}
			n.logger.WarnContext(ctx, "open position without close, pricing at open",
				slog.String("position_id", pos.PositionID),
				slog.String("asset", asset),
				slog.Float64("price", price),
			)
			pos.Units = pos.Invested / price
			pos.OpenRate = price
		default:
			return fmt.Errorf("etoro: close of position %s: %w", pos.PositionID, err)
		}

		pos.Consolidated = true
		updated = append(updated, pos)
	}

	if err := n.store.UpdateOpenPositions(ctx, updated); err != nil {
		return fmt.Errorf("etoro: save consolidated positions: %w", err)
	}
	return nil
}

// GeneratePurchases rebuilds the eToro purchase ledger with one purchase per
// consolidated open position.
func (n *Normalizer) GeneratePurchases(ctx context.Context) error {
	opens, err := n.store.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("etoro: list open positions: %w", err)
	}

	purchases := make([]domain.PurchaseOperation, 0, len(opens))
	for _, pos := range opens {
		if !pos.Consolidated {
			return fmt.Errorf("etoro: position %s is not consolidated", pos.PositionID)
		}
		op, err := n.operation(ctx, pos.OpenedAt, pos.Asset, pos.Units, pos.Invested, pos.OpenRate)
		if err != nil {
			return fmt.Errorf("etoro: purchase of position %s: %w", pos.PositionID, err)
		}
		purchases = append(purchases, domain.PurchaseOperation{Operation: op})
	}

	if err := n.ops.ReplacePurchases(ctx, n.Name(), purchases); err != nil {
		return fmt.Errorf("etoro: save purchases: %w", err)
	}
	n.logger.InfoContext(ctx, "purchases generated", slog.Int("count", len(purchases)))
	return nil
}

// sale accumulates one sale before currency conversion.
type sale struct {
	at       time.Time
	asset    string
	units    float64
	proceeds float64
	rate     float64
}

// GenerateSales rebuilds the eToro sale ledger with one sale per closed
// position. Proceeds are the invested amount plus the realized profit. With
// compact set, closes of the same asset in the same minute become one sale
// carrying the first close's time and rate. Every sale records compact.
func (n *Normalizer) GenerateSales(ctx context.Context, compact bool) error {
	closes, err := n.store.ListClosePositions(ctx)
	if err != nil {
		return fmt.Errorf("etoro: list close positions: %w", err)
	}

	var pending []*sale
	groups := make(map[string]*sale)
	for _, c := range closes {
		s := &sale{at: c.ClosedAt, asset: c.Asset, units: c.Units, proceeds: c.Invested + c.Profit, rate: c.CloseRate}
		if !compact {
			pending = append(pending, s)
			continue
		}
		key := c.ClosedAt.Truncate(time.Minute).Format("2006-01-02-15-04") + "-" + c.Asset
		if g, ok := groups[key]; ok {
			g.units += s.units
			g.proceeds += s.proceeds
			continue
		}
		groups[key] = s
		pending = append(pending, s)
	}

	sales := make([]domain.SaleOperation, 0, len(pending))
	for _, s := range pending {
		op, err := n.operation(ctx, s.at, s.asset, s.units, s.proceeds, s.rate)
		if err != nil {
			return fmt.Errorf("etoro: sale of %s at %s: %w", s.asset, s.at.Format(time.RFC3339), err)
		}
		sales = append(sales, domain.SaleOperation{Operation: op, Compacted: compact})
	}

	if err := n.ops.ReplaceSales(ctx, n.Name(), sales); err != nil {
		return fmt.Errorf("etoro: save sales: %w", err)
	}
	n.logger.InfoContext(ctx, "sales generated",
		slog.Int("closes", len(closes)),
		slog.Int("count", len(sales)),
		slog.Bool("compact", compact),
	)
	return nil
}

// operation builds a canonical row from native amounts, converting them to
// the secondary currency at at.
func (n *Normalizer) operation(ctx context.Context, at time.Time, asset string, units, fiat, unitPrice float64) (domain.Operation, error) {
	rate, err := n.prices.Convert(ctx, 1, n.acct.Native, n.acct.Secondary, at)
	if err != nil {
		return domain.Operation{}, err
	}
	op := domain.Operation{
		Timestamp:          at,
		Asset:              asset,
		Amount:             units,
		FiatNative:         fiat,
		FiatSecondary:      fiat * rate,
		UnitPriceNative:    unitPrice,
		UnitPriceSecondary: unitPrice * rate,
		Exchange:           n.Name(),
	}
	return op, op.Validate()
}

// PortfolioValue values the assets bought through eToro and still held at at.
func (n *Normalizer) PortfolioValue(ctx context.Context, at time.Time) (float64, error) {
	purchases, err := n.ops.ListPurchasesUntil(ctx, n.Name(), at)
	if err != nil {
		return 0, fmt.Errorf("etoro: list purchases: %w", err)
	}
	sales, err := n.ops.ListSalesBefore(ctx, n.Name(), at)
	if err != nil {
		return 0, fmt.Errorf("etoro: list sales: %w", err)
	}

	balances, err := exchange.Balances(exchange.OperationEntries(purchases, sales), at)
	if err != nil {
		return 0, fmt.Errorf("etoro: balances at %s: %w", at.Format(time.RFC3339), err)
	}
	value, err := exchange.ValueHoldings(ctx, n.prices, balances, at, n.scope, n.acct)
	if err != nil {
		return 0, fmt.Errorf("etoro: %w", err)
	}
	return value, nil
}

// CleanAllHistory drops every staged eToro row and eToro operation.
func (n *Normalizer) CleanAllHistory(ctx context.Context) error {
	if err := n.store.Reset(ctx, n.Name()); err != nil {
		return fmt.Errorf("etoro: clean history: %w", err)
	}
	return nil
}

var _ exchange.Normalizer = (*Normalizer)(nil)
