package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// ReportStore implements domain.ReportStore. Amounts travel as text so
// NUMERIC values round-trip without passing through float64.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a ReportStore backed by pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Save inserts the report header and its disposals in one transaction and
// fills in the generated ids.
func (s *ReportStore) Save(ctx context.Context, report *domain.TaxReport) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO tax_report (creation_date, begin_date, end_date, compacted, global_pnl)
			 VALUES ($1, $2, $3, $4, $5::numeric)
			 RETURNING id`,
			report.CreatedAt.UTC(), report.Begin.UTC(), report.End.UTC(),
			report.Compacted, report.GlobalPnL.String(),
		).Scan(&report.ID)
		if err != nil {
			return fmt.Errorf("postgres: insert tax report: %w", err)
		}

		for i := range report.Disposals {
			d := &report.Disposals[i]
			d.ReportID = report.ID
			err := tx.QueryRow(ctx,
				`INSERT INTO tax_disposal_history (
					report_id, disposal_datetime, current_portfolio_value, disposal_price,
					current_total_purchase, current_previous_disposed_purchase,
					current_balanced_purchase, profit_and_loss
				) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric)
				RETURNING id`,
				d.ReportID, d.DisposalTime.UTC(),
				d.PortfolioValue.String(), d.DisposalPrice.String(),
				d.TotalPurchase.String(), d.PreviousDisposedPurchase.String(),
				d.BalancedPurchase.String(), d.ProfitAndLoss.String(),
			).Scan(&d.ID)
			if err != nil {
				return fmt.Errorf("postgres: insert disposal %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetByID loads a report with its disposals in insertion order.
func (s *ReportStore) GetByID(ctx context.Context, id int64) (domain.TaxReport, error) {
	var (
		r   domain.TaxReport
		pnl string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, creation_date, begin_date, end_date, compacted, global_pnl::text
		 FROM tax_report WHERE id = $1`, id,
	).Scan(&r.ID, &r.CreatedAt, &r.Begin, &r.End, &r.Compacted, &pnl)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TaxReport{}, fmt.Errorf("postgres: report %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TaxReport{}, fmt.Errorf("postgres: get report %d: %w", id, err)
	}
	r.CreatedAt, r.Begin, r.End = r.CreatedAt.UTC(), r.Begin.UTC(), r.End.UTC()
	if r.GlobalPnL, err = decimal.NewFromString(pnl); err != nil {
		return domain.TaxReport{}, fmt.Errorf("postgres: parse global pnl of report %d: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, report_id, disposal_datetime,
			current_portfolio_value::text, disposal_price::text, current_total_purchase::text,
			current_previous_disposed_purchase::text, current_balanced_purchase::text,
			profit_and_loss::text
		 FROM tax_disposal_history WHERE report_id = $1 ORDER BY id`, id,
	)
	if err != nil {
		return domain.TaxReport{}, fmt.Errorf("postgres: list disposals of report %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d      domain.Disposal
			fields [6]string
		)
		if err := rows.Scan(&d.ID, &d.ReportID, &d.DisposalTime,
			&fields[0], &fields[1], &fields[2], &fields[3], &fields[4], &fields[5],
		); err != nil {
			return domain.TaxReport{}, fmt.Errorf("postgres: scan disposal: %w", err)
		}
		d.DisposalTime = d.DisposalTime.UTC()
		targets := []*decimal.Decimal{
			&d.PortfolioValue, &d.DisposalPrice, &d.TotalPurchase,
			&d.PreviousDisposedPurchase, &d.BalancedPurchase, &d.ProfitAndLoss,
		}
		for i, raw := range fields {
			if *targets[i], err = decimal.NewFromString(raw); err != nil {
				return domain.TaxReport{}, fmt.Errorf("postgres: parse disposal %d: %w", d.ID, err)
			}
		}
		r.Disposals = append(r.Disposals, d)
	}
	if err := rows.Err(); err != nil {
		return domain.TaxReport{}, fmt.Errorf("postgres: list disposals rows: %w", err)
	}
	return r, nil
}

var _ domain.ReportStore = (*ReportStore)(nil)
