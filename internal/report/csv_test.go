package report

import (
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *domain.TaxReport {
	d := decimal.RequireFromString
	return &domain.TaxReport{
		ID:        7,
		CreatedAt: time.Date(2022, 1, 3, 8, 0, 0, 0, time.UTC),
		Begin:     time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2021, 12, 31, 23, 59, 59, 0, time.UTC),
		Compacted: true,
		GlobalPnL: d("150"),
		Disposals: []domain.Disposal{
			{
				DisposalTime:             time.Date(2021, 3, 1, 9, 30, 0, 0, time.UTC),
				PortfolioValue:           d("2000"),
				DisposalPrice:            d("1000"),
				TotalPurchase:            d("1000"),
				PreviousDisposedPurchase: d("0"),
				BalancedPurchase:         d("1000"),
				ProfitAndLoss:            d("500.5"),
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteCSV(&sb, sampleReport()))

	want := strings.Join([]string{
		"disposal_datetime;current_portfolio_value;disposal_price;current_total_purchase;current_previous_disposed_purchase;current_balanced_purchase;profit_and_loss",
		"2021-03-01 09:30:00;2000.00;1000.00;1000.00;0.00;1000.00;500.50",
		"",
		"creation_date;2022-01-03 08:00:00",
		"begin_date;2021-01-01 00:00:00",
		"end_date;2021-12-31 23:59:59",
		"compacted;true",
		"global_pnl;150.00",
		"",
	}, "\n")
	assert.Equal(t, want, sb.String())
}

func TestWriteCSV_NoDisposals(t *testing.T) {
	r := sampleReport()
	r.Disposals = nil
	r.GlobalPnL = decimal.Zero

	out, err := Render(r)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "", lines[1])
	assert.Equal(t, "global_pnl;0.00", lines[6])
}

func TestArchivePath(t *testing.T) {
	assert.Equal(t, "reports/20210101T000000_20211231T235959/7.csv", ArchivePath(sampleReport()))
}
