package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/alanyoungcy/cryptotax/internal/report"
	"github.com/alanyoungcy/cryptotax/internal/tax"
	"github.com/alanyoungcy/cryptotax/internal/valuation"
)

// reportLockKey serialises report generation across processes sharing Redis.
const reportLockKey = "tax-report"

// Import runs one exchange's normalizer over a statement directory: load,
// consolidate, then purchases before sales. An unknown exchange fails
// before anything is read.
func (a *App) Import(ctx context.Context, exchangeName string, statement fs.FS, compact bool) error {
	if err := a.ready(); err != nil {
		return err
	}
	n, err := a.deps.Registry.Get(exchangeName)
	if err != nil {
		return fmt.Errorf("app: import: %w", err)
	}

	log := a.logger.With(slog.String("exchange", n.Name()))
	start := time.Now()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"load statement", func(ctx context.Context) error { return n.LoadStatement(ctx, statement) }},
		{"consolidate", n.Consolidate},
		{"generate purchases", n.GeneratePurchases},
		{"generate sales", func(ctx context.Context) error { return n.GenerateSales(ctx, compact) }},
	}
	for _, step := range steps {
		log.DebugContext(ctx, "import step", slog.String("step", step.name))
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("app: import %s: %s: %w", n.Name(), step.name, err)
		}
	}

	log.InfoContext(ctx, "statement imported",
		slog.Bool("compact", compact),
		slog.Duration("elapsed", time.Since(start)),
	)
	a.audit(ctx, "import", map[string]any{
		"exchange": n.Name(),
		"compact":  compact,
	})
	return nil
}

// Report computes the disposal history of [begin, end], writes the CSV to
// out and, when archiving is enabled, uploads it to the report archive.
func (a *App) Report(ctx context.Context, begin, end time.Time, compact bool, out io.Writer) (*domain.TaxReport, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if end.Before(begin) {
		return nil, fmt.Errorf("app: report: end %s before begin %s",
			end.Format(time.RFC3339), begin.Format(time.RFC3339))
	}

	if a.deps.Locks != nil {
		unlock, err := a.deps.Locks.Acquire(ctx, reportLockKey, a.cfg.Report.LockTTL.Duration)
		if err != nil {
			return nil, fmt.Errorf("app: report: %w", err)
		}
		defer unlock()
	}

	runID := uuid.NewString()
	log := a.logger.With(slog.String("run_id", runID))

	valuers := make([]valuation.Valuer, 0, len(a.deps.Registry.List()))
	for _, n := range a.deps.Registry.All() {
		valuers = append(valuers, n)
	}
	portfolio := valuation.NewAggregator(a.logger, valuers...)

	engine := tax.NewEngine(a.deps.Operations, portfolio, a.deps.Reports, a.logger)
	r, err := engine.Generate(ctx, begin.UTC(), end.UTC(), compact)
	if err != nil {
		return nil, fmt.Errorf("app: report: %w", err)
	}

	rendered, err := report.Render(r)
	if err != nil {
		return nil, fmt.Errorf("app: report: %w", err)
	}
	if out != nil {
		if _, err := io.Copy(out, bytes.NewReader(rendered)); err != nil {
			return nil, fmt.Errorf("app: report: write output: %w", err)
		}
	}

	detail := map[string]any{
		"run_id":     runID,
		"report_id":  r.ID,
		"begin":      r.Begin.Format(time.RFC3339),
		"end":        r.End.Format(time.RFC3339),
		"compacted":  r.Compacted,
		"disposals":  len(r.Disposals),
		"global_pnl": r.GlobalPnL.StringFixed(2),
	}

	if a.cfg.Report.Archive {
		if a.deps.Archiver == nil {
			return r, fmt.Errorf("app: report: archiving requested but no archive is configured")
		}
		path, err := a.deps.Archiver.Archive(ctx, r, rendered)
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			log.WarnContext(ctx, "report already archived", slog.String("path", report.ArchivePath(r)))
		case err != nil:
			return r, fmt.Errorf("app: report: %w", err)
		default:
			detail["archive_path"] = path
		}
	}

	log.InfoContext(ctx, "report generated",
		slog.Int64("report_id", r.ID),
		slog.Int("disposals", len(r.Disposals)),
		slog.String("global_pnl", r.GlobalPnL.StringFixed(2)),
	)
	a.audit(ctx, "report", detail)
	return r, nil
}

// Clean removes every staged row and canonical operation of one exchange.
func (a *App) Clean(ctx context.Context, exchangeName string) error {
	if err := a.ready(); err != nil {
		return err
	}
	n, err := a.deps.Registry.Get(exchangeName)
	if err != nil {
		return fmt.Errorf("app: clean: %w", err)
	}
	if err := n.CleanAllHistory(ctx); err != nil {
		return fmt.Errorf("app: clean %s: %w", n.Name(), err)
	}

	a.logger.InfoContext(ctx, "exchange history cleaned", slog.String("exchange", n.Name()))
	a.audit(ctx, "clean", map[string]any{"exchange": n.Name()})
	return nil
}

// Price resolves, and memoizes, the native-currency price of one asset.
func (a *App) Price(ctx context.Context, asset string, at time.Time, scope domain.Scope) (float64, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}
	price, err := a.deps.Resolver.Price(ctx, asset, at, scope)
	if err != nil {
		return 0, fmt.Errorf("app: price: %w", err)
	}
	return price, nil
}

// Statement pairs an exchange with the directory holding its statement.
type Statement struct {
	Exchange string
	Files    fs.FS
}

// Run imports every statement in order and then produces the report.
func (a *App) Run(ctx context.Context, statements []Statement, begin, end time.Time, compact bool, out io.Writer) (*domain.TaxReport, error) {
	for _, st := range statements {
		if err := a.Import(ctx, st.Exchange, st.Files, compact); err != nil {
			return nil, err
		}
	}
	return a.Report(ctx, begin, end, compact, out)
}

// audit appends to the audit log. A failed write is logged, not returned.
func (a *App) audit(ctx context.Context, event string, detail map[string]any) {
	if a.deps.Audit == nil {
		return
	}
	if err := a.deps.Audit.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "audit log write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
