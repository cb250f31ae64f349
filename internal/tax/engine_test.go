package tax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	sales []domain.SaleOperation
	cost  func(until time.Time) float64
}

func (f *fakeLedger) ListSalesBetween(_ context.Context, begin, end time.Time) ([]domain.SaleOperation, error) {
	var out []domain.SaleOperation
	for _, s := range f.sales {
		if !s.Timestamp.Before(begin) && !s.Timestamp.After(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeLedger) SumPurchaseCost(_ context.Context, until time.Time) (float64, error) {
	return f.cost(until), nil
}

type valuerFunc func(at time.Time) (float64, error)

func (f valuerFunc) PortfolioValue(_ context.Context, at time.Time) (float64, error) {
	return f(at)
}

type recordingSaver struct {
	saved []*domain.TaxReport
}

func (r *recordingSaver) Save(_ context.Context, report *domain.TaxReport) error {
	report.ID = int64(len(r.saved) + 1)
	r.saved = append(r.saved, report)
	return nil
}

func sale(at time.Time, asset string, proceeds float64) domain.SaleOperation {
	return domain.SaleOperation{Operation: domain.Operation{
		Timestamp:     at,
		Asset:         asset,
		Amount:        1,
		FiatSecondary: proceeds,
		Exchange:      domain.ExchangeEtoro,
	}}
}

func compacted(sales ...domain.SaleOperation) []domain.SaleOperation {
	for i := range sales {
		sales[i].Compacted = true
	}
	return sales
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2), field)
}

func newTestEngine(ledger Ledger, valuer Valuer, saver ReportSaver) *Engine {
	e := NewEngine(ledger, valuer, saver, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC) }
	return e
}

var (
	t0 = time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC)
	t1 = time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC)
)

func TestGenerate_SingleFullSale(t *testing.T) {
	ledger := &fakeLedger{
		sales: []domain.SaleOperation{sale(t1, "bitcoin", 1200)},
		cost:  func(time.Time) float64 { return 1000 },
	}
	saver := &recordingSaver{}
	e := newTestEngine(ledger, valuerFunc(func(time.Time) (float64, error) { return 1200, nil }), saver)

	report, err := e.Generate(context.Background(), t0, t2, false)
	require.NoError(t, err)
	require.Len(t, report.Disposals, 1)

	d := report.Disposals[0]
	assert.Equal(t, t1, d.DisposalTime)
	assertDecimal(t, "1200.00", d.PortfolioValue, "portfolio value")
	assertDecimal(t, "1200.00", d.DisposalPrice, "disposal price")
	assertDecimal(t, "1000.00", d.TotalPurchase, "total purchase")
	assertDecimal(t, "0.00", d.PreviousDisposedPurchase, "previous disposed")
	assertDecimal(t, "1000.00", d.BalancedPurchase, "balanced purchase")
	assertDecimal(t, "200.00", d.ProfitAndLoss, "pnl")
	assertDecimal(t, "200.00", report.GlobalPnL, "global pnl")

	require.Len(t, saver.saved, 1)
	assert.Equal(t, int64(1), report.ID)
	assert.False(t, report.Compacted)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), report.CreatedAt)
}

func TestGenerate_CarryForward(t *testing.T) {
	ledger := &fakeLedger{
		sales: compacted(
			sale(t2, "bitcoin", 300),
			sale(t1, "bitcoin", 600),
		),
		cost: func(time.Time) float64 { return 1000 },
	}
	values := map[time.Time]float64{t1: 1200, t2: 600}
	saver := &recordingSaver{}
	e := newTestEngine(ledger, valuerFunc(func(at time.Time) (float64, error) { return values[at], nil }), saver)

	report, err := e.Generate(context.Background(), t0, t2, true)
	require.NoError(t, err)
	require.Len(t, report.Disposals, 2)

	first, second := report.Disposals[0], report.Disposals[1]
	assert.Equal(t, t1, first.DisposalTime)
	assertDecimal(t, "1000.00", first.BalancedPurchase, "first balanced")
	assertDecimal(t, "100.00", first.ProfitAndLoss, "first pnl")

	assert.Equal(t, t2, second.DisposalTime)
	assertDecimal(t, "500.00", second.PreviousDisposedPurchase, "second previous disposed")
	assertDecimal(t, "500.00", second.BalancedPurchase, "second balanced")
	assertDecimal(t, "50.00", second.ProfitAndLoss, "second pnl")

	assertDecimal(t, "150.00", report.GlobalPnL, "global pnl")
	assert.True(t, report.Compacted)
}

func TestGenerate_CarryForwardIsMonotonic(t *testing.T) {
	sales := []domain.SaleOperation{
		sale(t0.Add(1*time.Hour), "ethereum", 333.33),
		sale(t0.Add(2*time.Hour), "ethereum", 125.5),
		sale(t0.Add(3*time.Hour), "bitcoin", 987.65),
		sale(t0.Add(4*time.Hour), "bitcoin", 12.34),
	}
	ledger := &fakeLedger{sales: sales, cost: func(time.Time) float64 { return 4321.09 }}
	e := newTestEngine(ledger, valuerFunc(func(time.Time) (float64, error) { return 7777.77, nil }), &recordingSaver{})

	report, err := e.Generate(context.Background(), t0, t2, false)
	require.NoError(t, err)
	require.Len(t, report.Disposals, 4)

	sum := decimal.Zero
	for i, d := range report.Disposals {
		if i > 0 {
			assert.True(t, d.PreviousDisposedPurchase.GreaterThanOrEqual(report.Disposals[i-1].PreviousDisposedPurchase))
		}
		assert.True(t, d.BalancedPurchase.Equal(d.TotalPurchase.Sub(d.PreviousDisposedPurchase)))
		assert.True(t, d.ProfitAndLoss.Equal(d.ProfitAndLoss.RoundBank(2)))
		sum = sum.Add(d.ProfitAndLoss)
	}
	assert.True(t, sum.Equal(report.GlobalPnL))
}

func TestGenerate_CompactionMismatch(t *testing.T) {
	ledger := &fakeLedger{
		sales: append(compacted(sale(t1, "bitcoin", 100)), sale(t2, "bitcoin", 100)),
		cost:  func(time.Time) float64 { return 100 },
	}
	saver := &recordingSaver{}
	e := newTestEngine(ledger, valuerFunc(func(time.Time) (float64, error) { return 1000, nil }), saver)

	_, err := e.Generate(context.Background(), t0, t2, true)
	require.ErrorIs(t, err, domain.ErrCompactionMismatch)
	_, err = e.Generate(context.Background(), t0, t2, false)
	require.ErrorIs(t, err, domain.ErrCompactionMismatch)
	assert.Empty(t, saver.saved)

	// A window holding only the compacted sale is consistent.
	report, err := e.Generate(context.Background(), t0, t1, true)
	require.NoError(t, err)
	assert.Len(t, report.Disposals, 1)
}

func TestGenerate_ZeroPortfolioValueFails(t *testing.T) {
	ledger := &fakeLedger{
		sales: []domain.SaleOperation{sale(t1, "bitcoin", 100)},
		cost:  func(time.Time) float64 { return 100 },
	}
	saver := &recordingSaver{}
	e := newTestEngine(ledger, valuerFunc(func(time.Time) (float64, error) { return 0.001, nil }), saver)

	_, err := e.Generate(context.Background(), t0, t2, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrZeroPortfolioValue))
	assert.Empty(t, saver.saved)
}

func TestGenerate_ValuationErrorStops(t *testing.T) {
	ledger := &fakeLedger{
		sales: []domain.SaleOperation{sale(t1, "bitcoin", 100)},
		cost:  func(time.Time) float64 { return 100 },
	}
	saver := &recordingSaver{}
	e := newTestEngine(ledger, valuerFunc(func(time.Time) (float64, error) {
		return 0, domain.ErrNegativeBalance
	}), saver)

	_, err := e.Generate(context.Background(), t0, t2, false)
	require.ErrorIs(t, err, domain.ErrNegativeBalance)
	assert.Empty(t, saver.saved)
}

func TestGenerate_EmptyWindow(t *testing.T) {
	ledger := &fakeLedger{
		sales: []domain.SaleOperation{sale(t2, "bitcoin", 100)},
		cost:  func(time.Time) float64 { return 0 },
	}
	saver := &recordingSaver{}
	e := newTestEngine(ledger, valuerFunc(func(time.Time) (float64, error) { return 1, nil }), saver)

	report, err := e.Generate(context.Background(), t0, t1, false)
	require.NoError(t, err)
	assert.Empty(t, report.Disposals)
	assert.True(t, report.GlobalPnL.IsZero())
	assert.Len(t, saver.saved, 1)
}

func TestGenerate_RejectsInvertedWindow(t *testing.T) {
	e := newTestEngine(&fakeLedger{cost: func(time.Time) float64 { return 0 }},
		valuerFunc(func(time.Time) (float64, error) { return 1, nil }), &recordingSaver{})

	_, err := e.Generate(context.Background(), t2, t0, false)
	require.Error(t, err)
}

func TestExactRounding(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.015, "1.01"},
		{2.675, "2.67"},
		{0.125, "0.12"},
		{0.375, "0.38"},
		{1000, "1000.00"},
		{-0.0, "0.00"},
	}
	for _, tt := range tests {
		d, err := exact(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, round2(d).StringFixed(2), "input %v", tt.in)
	}
}

func TestExactRejectsNonFinite(t *testing.T) {
	_, err := exact(math.Inf(1))
	assert.Error(t, err)
	_, err = exact(math.NaN())
	assert.Error(t, err)
}
