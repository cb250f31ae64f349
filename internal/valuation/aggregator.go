// Package valuation sums the portfolio value reported by every exchange.
package valuation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Valuer is an exchange able to value its own holdings.
type Valuer interface {
	Name() string
	PortfolioValue(ctx context.Context, at time.Time) (float64, error)
}

// Aggregator values the whole portfolio across exchanges.
type Aggregator struct {
	valuers []Valuer
	logger  *slog.Logger
}

// NewAggregator creates an Aggregator over valuers. With none it always
// values the portfolio at zero.
func NewAggregator(logger *slog.Logger, valuers ...Valuer) *Aggregator {
	return &Aggregator{
		valuers: valuers,
		logger:  logger.With(slog.String("component", "valuation")),
	}
}

// PortfolioValue returns the sum of every exchange's value at at. The
// first failing exchange aborts the sum.
func (a *Aggregator) PortfolioValue(ctx context.Context, at time.Time) (float64, error) {
	var total float64
	for _, v := range a.valuers {
		value, err := v.PortfolioValue(ctx, at)
		if err != nil {
			return 0, fmt.Errorf("valuation: %s: %w", v.Name(), err)
		}
		a.logger.DebugContext(ctx, "exchange valued",
			slog.String("exchange", v.Name()),
			slog.Time("at", at),
			slog.Float64("value", value),
		)
		total += value
	}
	return total, nil
}
