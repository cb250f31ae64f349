package etoro

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/alanyoungcy/cryptotax/internal/exchange"
	"github.com/alanyoungcy/cryptotax/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transactions = `Date,Account Balance,Type,Details,Position ID,Amount,Realized Equity Change,Realized Equity,NWA
2021-01-02 08:00:00,1000,Deposit,,,"1000,00",0,1000,0
2021-01-04 10:00:00,500,Open Position,BTC/USD,100,"500,00",0,1000,0
2021-01-04 10:05:00,400,Open Position,BTC/USD,103,100,0,1000,0
2021-01-05 11:00:00,200,Open Position,ETH/USD,101,200,0,1000,0
2021-01-06 12:00:00,0,Open Position,TSLA/USD,102,300,0,1000,0
`

const closedPositions = `Position ID,Action,Copy Trader Name,Amount,Units,Open Rate,Close Rate,Spread,Profit,Open Date,Close Date,Leverage
100,Buy Bitcoin,,"500,00","0,01","50000,00","60000,00",0,"100,00",04/01/2021 10:00,01/03/2021 09:30,1
103,Buy Bitcoin,,100,"0,002",50000,60001,0,20,04/01/2021 10:05,01/03/2021 09:30,1
102,Buy Tesla,,300,1,300,320,0,20,06/01/2021 12:00,02/03/2021 10:00,1
`

var (
	saleTime = time.Date(2021, 3, 1, 9, 30, 0, 0, time.UTC)
	eurRate  = 0.8
)

type stubPrices struct {
	prices map[string]float64
	calls  map[string]int
}

func newStubPrices() *stubPrices {
	return &stubPrices{
		prices: map[string]float64{"bitcoin": 55000, "ethereum": 1000},
		calls:  map[string]int{},
	}
}

func (s *stubPrices) Price(_ context.Context, asset string, _ time.Time, _ domain.Scope) (float64, error) {
	s.calls[asset]++
	p, ok := s.prices[asset]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return p, nil
}

func (s *stubPrices) Convert(_ context.Context, amount float64, from, to string, _ time.Time) (float64, error) {
	if strings.EqualFold(from, to) {
		return amount, nil
	}
	return amount * eurRate, nil
}

func statement() fstest.MapFS {
	return fstest.MapFS{
		TransactionsFile:    {Data: []byte(transactions)},
		ClosedPositionsFile: {Data: []byte(closedPositions)},
	}
}

func newTestNormalizer(db *memory.DB, prices exchange.Prices) *Normalizer {
	return New(db.Operations(), db.Etoro(), prices, exchange.Accounting{Native: "USD", Secondary: "EUR"},
		domain.ScopeToken, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func importStatement(t *testing.T, n *Normalizer, compact bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, n.LoadStatement(ctx, statement()))
	require.NoError(t, n.Consolidate(ctx))
	require.NoError(t, n.GeneratePurchases(ctx))
	require.NoError(t, n.GenerateSales(ctx, compact))
}

func TestLoadStatement_StagesCryptoRowsOnly(t *testing.T) {
	db := memory.New()
	n := newTestNormalizer(db, newStubPrices())
	require.NoError(t, n.LoadStatement(context.Background(), statement()))

	opens, err := db.Etoro().ListOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, opens, 3)
	assert.Equal(t, "100", opens[0].PositionID)
	assert.Equal(t, "BTC/USD", opens[0].Asset)
	assert.Equal(t, 500.0, opens[0].Invested)
	assert.Equal(t, time.Date(2021, 1, 4, 10, 0, 0, 0, time.UTC), opens[0].OpenedAt)

	closes, err := db.Etoro().ListClosePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, closes, 2)
	assert.Equal(t, "bitcoin", closes[0].Asset)
	assert.Equal(t, saleTime, closes[0].ClosedAt)
	assert.Equal(t, 0.01, closes[0].Units)
	assert.Equal(t, 60000.0, closes[0].CloseRate)
	assert.Equal(t, 100.0, closes[0].Profit)
}

func TestConsolidate(t *testing.T) {
	db := memory.New()
	prices := newStubPrices()
	n := newTestNormalizer(db, prices)
	ctx := context.Background()
	require.NoError(t, n.LoadStatement(ctx, statement()))
	require.NoError(t, n.Consolidate(ctx))

	opens, err := db.Etoro().ListOpenPositions(ctx)
	require.NoError(t, err)
	byID := map[string]domain.EtoroOpenPosition{}
	for _, p := range opens {
		assert.True(t, p.Consolidated)
		byID[p.PositionID] = p
	}

	assert.Equal(t, "bitcoin", byID["100"].Asset)
	assert.Equal(t, 0.01, byID["100"].Units)
	assert.Equal(t, 50000.0, byID["100"].OpenRate)

	assert.Equal(t, "ethereum", byID["101"].Asset)
	assert.InDelta(t, 0.2, byID["101"].Units, 1e-12)
	assert.Equal(t, 1000.0, byID["101"].OpenRate)
	assert.Equal(t, 1, prices.calls["ethereum"])

	// A second pass leaves consolidated positions alone.
	require.NoError(t, n.Consolidate(ctx))
	assert.Equal(t, 1, prices.calls["ethereum"])
}

func TestGenerateOperations(t *testing.T) {
	db := memory.New()
	n := newTestNormalizer(db, newStubPrices())
	importStatement(t, n, false)
	ctx := context.Background()

	purchases, err := db.Operations().ListPurchasesUntil(ctx, domain.ExchangeEtoro, saleTime)
	require.NoError(t, err)
	require.Len(t, purchases, 3)
	assert.Equal(t, "bitcoin", purchases[0].Asset)
	assert.Equal(t, 500.0, purchases[0].FiatNative)
	assert.InDelta(t, 400, purchases[0].FiatSecondary, 1e-9)
	assert.InDelta(t, 40000, purchases[0].UnitPriceSecondary, 1e-9)

	sales, err := db.Operations().ListSalesBetween(ctx, saleTime, saleTime)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, 600.0, sales[0].FiatNative)
	assert.InDelta(t, 480, sales[0].FiatSecondary, 1e-9)
	assert.Equal(t, 120.0, sales[1].FiatNative)
	for _, s := range sales {
		assert.Equal(t, domain.ExchangeEtoro, s.Exchange)
	}
}

func TestGenerateSales_Compact(t *testing.T) {
	db := memory.New()
	n := newTestNormalizer(db, newStubPrices())
	importStatement(t, n, true)

	sales, err := db.Operations().ListSalesBetween(context.Background(), saleTime, saleTime)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, saleTime, sales[0].Timestamp)
	assert.InDelta(t, 0.012, sales[0].Amount, 1e-12)
	assert.InDelta(t, 720, sales[0].FiatNative, 1e-9)
	assert.InDelta(t, 576, sales[0].FiatSecondary, 1e-9)
	assert.Equal(t, 60000.0, sales[0].UnitPriceNative)
}

const laterTransactions = `Date,Account Balance,Type,Details,Position ID,Amount,Realized Equity Change,Realized Equity,NWA
2021-01-04 10:00:00,500,Open Position,BTC/USD,100,"500,00",0,1000,0
2021-04-01 10:00:00,400,Open Position,BTC/USD,104,100,0,1000,0
`

const laterClosedPositions = `Position ID,Action,Copy Trader Name,Amount,Units,Open Rate,Close Rate,Spread,Profit,Open Date,Close Date,Leverage
100,Buy Bitcoin,,"500,00","0,01","50000,00","60000,00",0,"100,00",04/01/2021 10:00,01/03/2021 09:30,1
104,Buy Bitcoin,,100,"0,002",50000,55000,0,10,01/04/2021 10:00,03/05/2021 10:00,1
`

func TestImport_SequentialStatementsDoNotDuplicate(t *testing.T) {
	db := memory.New()
	n := newTestNormalizer(db, newStubPrices())
	ctx := context.Background()
	year := func() (time.Time, time.Time) {
		return time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)
	}
	counts := func() (int, int) {
		begin, end := year()
		purchases, err := db.Operations().ListPurchasesUntil(ctx, domain.ExchangeEtoro, end)
		require.NoError(t, err)
		sales, err := db.Operations().ListSalesBetween(ctx, begin, end)
		require.NoError(t, err)
		return len(purchases), len(sales)
	}

	importStatement(t, n, false)
	purchases, sales := counts()
	assert.Equal(t, 3, purchases)
	assert.Equal(t, 2, sales)

	later := fstest.MapFS{
		TransactionsFile:    {Data: []byte(laterTransactions)},
		ClosedPositionsFile: {Data: []byte(laterClosedPositions)},
	}
	require.NoError(t, n.LoadStatement(ctx, later))
	require.NoError(t, n.Consolidate(ctx))
	require.NoError(t, n.GeneratePurchases(ctx))
	require.NoError(t, n.GenerateSales(ctx, false))

	purchases, sales = counts()
	assert.Equal(t, 4, purchases, "overlapping position 100 staged once")
	assert.Equal(t, 3, sales)

	importStatement(t, n, false)
	purchases, sales = counts()
	assert.Equal(t, 4, purchases)
	assert.Equal(t, 3, sales)

	total, err := db.Operations().SumPurchaseCost(ctx, time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.InDelta(t, (500+100+200+100)*eurRate, total, 1e-9)
}

func TestGenerateSales_RecordsCompaction(t *testing.T) {
	db := memory.New()
	n := newTestNormalizer(db, newStubPrices())
	ctx := context.Background()

	importStatement(t, n, true)
	sales, err := db.Operations().ListSalesBetween(ctx, saleTime, saleTime)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.True(t, sales[0].Compacted)

	require.NoError(t, n.GenerateSales(ctx, false))
	sales, err = db.Operations().ListSalesBetween(ctx, saleTime, saleTime)
	require.NoError(t, err)
	require.Len(t, sales, 2, "regenerating replaces the compacted rows")
	for _, s := range sales {
		assert.False(t, s.Compacted)
	}
}

func TestPortfolioValue(t *testing.T) {
	db := memory.New()
	n := newTestNormalizer(db, newStubPrices())
	importStatement(t, n, true)
	ctx := context.Background()

	v, err := n.PortfolioValue(ctx, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, v)

	// A sale exactly at the cutoff is not yet deducted.
	v, err = n.PortfolioValue(ctx, saleTime)
	require.NoError(t, err)
	assert.InDelta(t, (0.012*55000+0.2*1000)*eurRate, v, 1e-6)

	v, err = n.PortfolioValue(ctx, saleTime.Add(time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 0.2*1000*eurRate, v, 1e-6)
}

func TestPortfolioValue_SoldShort(t *testing.T) {
	db := memory.New()
	n := newTestNormalizer(db, newStubPrices())
	ctx := context.Background()
	require.NoError(t, db.Operations().InsertSales(ctx, []domain.SaleOperation{{Operation: domain.Operation{
		Timestamp: saleTime, Asset: "bitcoin", Amount: 1, Exchange: domain.ExchangeEtoro,
	}}}))

	_, err := n.PortfolioValue(ctx, saleTime.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrNegativeBalance)
}

func TestCleanAllHistory(t *testing.T) {
	db := memory.New()
	n := newTestNormalizer(db, newStubPrices())
	importStatement(t, n, false)
	ctx := context.Background()

	require.NoError(t, n.CleanAllHistory(ctx))

	purchases, err := db.Operations().ListPurchasesUntil(ctx, "", saleTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, purchases)
	opens, err := db.Etoro().ListOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, opens)
}

func TestLoadStatement_Malformed(t *testing.T) {
	tests := []struct {
		name string
		tx   string
	}{
		{"bad date", "Date,B,Type,Details,Position ID,Amount\nyesterday,0,Open Position,BTC/USD,1,10\n"},
		{"bad amount", "Date,B,Type,Details,Position ID,Amount\n2021-01-04 10:00:00,0,Open Position,BTC/USD,1,ten\n"},
		{"ambiguous amount", "Date,B,Type,Details,Position ID,Amount\n2021-01-04 10:00:00,0,Open Position,BTC/USD,1,\"1.000,50\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(memory.New(), newStubPrices())
			err := n.LoadStatement(context.Background(), fstest.MapFS{
				TransactionsFile:    {Data: []byte(tt.tx)},
				ClosedPositionsFile: {Data: []byte(closedPositions)},
			})
			require.ErrorIs(t, err, domain.ErrMalformedStatementRow)
		})
	}
}

func TestLoadStatement_MissingSheet(t *testing.T) {
	n := newTestNormalizer(memory.New(), newStubPrices())
	err := n.LoadStatement(context.Background(), fstest.MapFS{
		TransactionsFile: {Data: []byte(transactions)},
	})
	require.Error(t, err)
}
