// Package tax computes the disposal history of a tax window using the
// proceeds-weighted average-cost method.
package tax

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/shopspring/decimal"
)

// Ledger is the read side of the canonical operation store.
type Ledger interface {
	ListSalesBetween(ctx context.Context, begin, end time.Time) ([]domain.SaleOperation, error)
	SumPurchaseCost(ctx context.Context, until time.Time) (float64, error)
}

// Valuer values the whole portfolio, in the tax currency, at an instant.
type Valuer interface {
	PortfolioValue(ctx context.Context, at time.Time) (float64, error)
}

// ReportSaver persists a finished report and assigns its identifiers.
type ReportSaver interface {
	Save(ctx context.Context, report *domain.TaxReport) error
}

// Engine turns the sales of a window into a chain of disposals.
type Engine struct {
	ledger  Ledger
	valuer  Valuer
	reports ReportSaver
	now     func() time.Time
	logger  *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(ledger Ledger, valuer Valuer, reports ReportSaver, logger *slog.Logger) *Engine {
	return &Engine{
		ledger:  ledger,
		valuer:  valuer,
		reports: reports,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "tax_engine")),
	}
}

// Generate computes one disposal per sale in [begin, end], persists the
// report and returns it. Every sale in the window must have been generated
// with the same compaction setting as compacted, otherwise nothing is saved
// and the error wraps domain.ErrCompactionMismatch.
func (e *Engine) Generate(ctx context.Context, begin, end time.Time, compacted bool) (*domain.TaxReport, error) {
	if end.Before(begin) {
		return nil, fmt.Errorf("tax: end %s before begin %s", end.Format(time.RFC3339), begin.Format(time.RFC3339))
	}

	sales, err := e.ledger.ListSalesBetween(ctx, begin, end)
	if err != nil {
		return nil, fmt.Errorf("tax: list sales: %w", err)
	}
	sort.SliceStable(sales, func(i, j int) bool {
		return sales[i].Timestamp.Before(sales[j].Timestamp)
	})
	for _, sale := range sales {
		if sale.Compacted != compacted {
			return nil, fmt.Errorf("tax: %s sale of %s at %s has compacted=%t, report requested compacted=%t: %w",
				sale.Exchange, sale.Asset, sale.Timestamp.Format(time.RFC3339), sale.Compacted, compacted,
				domain.ErrCompactionMismatch)
		}
	}

	report := &domain.TaxReport{
		CreatedAt: e.now().UTC(),
		Begin:     begin,
		End:       end,
		Compacted: compacted,
		GlobalPnL: decimal.Zero,
		Disposals: make([]domain.Disposal, 0, len(sales)),
	}

	var chain carry
	for _, sale := range sales {
		portfolio, err := e.valuer.PortfolioValue(ctx, sale.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("tax: portfolio value at %s: %w", sale.Timestamp.Format(time.RFC3339), err)
		}
		total, err := e.ledger.SumPurchaseCost(ctx, sale.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("tax: total purchase at %s: %w", sale.Timestamp.Format(time.RFC3339), err)
		}

		d, err := chain.dispose(sale.Timestamp, portfolio, sale.FiatSecondary, total)
		if err != nil {
			return nil, fmt.Errorf("tax: disposal of %s at %s: %w", sale.Asset, sale.Timestamp.Format(time.RFC3339), err)
		}
		chain = carry{prev: &d}

		report.Disposals = append(report.Disposals, d)
		report.GlobalPnL = report.GlobalPnL.Add(d.ProfitAndLoss)
	}

	if err := e.reports.Save(ctx, report); err != nil {
		return nil, fmt.Errorf("tax: save report: %w", err)
	}

	e.logger.InfoContext(ctx, "tax report generated",
		slog.Int64("report_id", report.ID),
		slog.Int("disposals", len(report.Disposals)),
		slog.String("global_pnl", report.GlobalPnL.StringFixed(2)),
		slog.Bool("compacted", compacted),
	)
	return report, nil
}

// carry holds the disposal preceding the one being computed.
type carry struct {
	prev *domain.Disposal
}

// previousDisposed is the cost basis consumed by every earlier sale of the
// report, each at its own consumption rate.
func (c carry) previousDisposed() decimal.Decimal {
	if c.prev == nil {
		return decimal.Zero
	}
	p := c.prev
	consumed := quo(p.BalancedPurchase.Mul(p.DisposalPrice), p.PortfolioValue)
	return round2(consumed.Add(p.PreviousDisposedPurchase))
}

func (c carry) dispose(at time.Time, portfolioValue, salePrice, totalPurchase float64) (domain.Disposal, error) {
	pv, err := exact(portfolioValue)
	if err != nil {
		return domain.Disposal{}, err
	}
	price, err := exact(salePrice)
	if err != nil {
		return domain.Disposal{}, err
	}
	total, err := exact(totalPurchase)
	if err != nil {
		return domain.Disposal{}, err
	}

	d := domain.Disposal{
		DisposalTime:             at,
		PortfolioValue:           round2(pv),
		DisposalPrice:            round2(price),
		TotalPurchase:            round2(total),
		PreviousDisposedPurchase: c.previousDisposed(),
	}
	if d.PortfolioValue.IsZero() {
		return domain.Disposal{}, domain.ErrZeroPortfolioValue
	}

	d.BalancedPurchase = round2(d.TotalPurchase.Sub(d.PreviousDisposedPurchase))
	consumed := quo(d.BalancedPurchase.Mul(d.DisposalPrice), d.PortfolioValue)
	d.ProfitAndLoss = round2(d.DisposalPrice.Sub(consumed))
	return d, nil
}
