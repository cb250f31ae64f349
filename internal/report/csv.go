// Package report renders tax reports as delimited text.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/shopspring/decimal"
)

// TimeLayout is used for every timestamp in a rendered report.
const TimeLayout = "2006-01-02 15:04:05"

// Delimiter separates fields in a rendered report.
const Delimiter = ';'

var header = []string{
	"disposal_datetime",
	"current_portfolio_value",
	"disposal_price",
	"current_total_purchase",
	"current_previous_disposed_purchase",
	"current_balanced_purchase",
	"profit_and_loss",
}

// WriteCSV writes the disposal table followed by a blank row and the
// report metadata as key/value rows.
func WriteCSV(w io.Writer, r *domain.TaxReport) error {
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter

	rows := make([][]string, 0, len(r.Disposals)+7)
	rows = append(rows, header)
	for _, d := range r.Disposals {
		rows = append(rows, []string{
			d.DisposalTime.UTC().Format(TimeLayout),
			money(d.PortfolioValue),
			money(d.DisposalPrice),
			money(d.TotalPurchase),
			money(d.PreviousDisposedPurchase),
			money(d.BalancedPurchase),
			money(d.ProfitAndLoss),
		})
	}
	rows = append(rows,
		[]string{""},
		[]string{"creation_date", r.CreatedAt.UTC().Format(TimeLayout)},
		[]string{"begin_date", r.Begin.UTC().Format(TimeLayout)},
		[]string{"end_date", r.End.UTC().Format(TimeLayout)},
		[]string{"compacted", strconv.FormatBool(r.Compacted)},
		[]string{"global_pnl", money(r.GlobalPnL)},
	)

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("report: write csv: %w", err)
	}
	return nil
}

// Render returns the CSV form of r.
func Render(r *domain.TaxReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ArchivePath is the object path a report is archived under.
func ArchivePath(r *domain.TaxReport) string {
	const layout = "20060102T150405"
	return fmt.Sprintf("reports/%s_%s/%d.csv",
		r.Begin.UTC().Format(layout), r.End.UTC().Format(layout), r.ID)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
