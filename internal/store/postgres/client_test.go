package postgres

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://tax:pw@db:5432/cryptotax?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "cryptotax", User: "tax", Password: "pw"}))
	assert.Equal(t, "postgres://u:p@h:6543/d?sslmode=require",
		DSN(ClientConfig{Host: "h", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	data, err := migrationsFS.ReadFile("migrations/" + entries[0].Name())
	require.NoError(t, err)
	for _, table := range []string{
		"purchase_operation_history", "sale_operation_history", "asset_price_cache",
		"tax_report", "tax_disposal_history", "audit_log",
	} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table, table)
	}
}

// openTestClient connects to CRYPTOTAX_TEST_POSTGRES_DSN or skips.
func openTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("CRYPTOTAX_TEST_POSTGRES_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("CRYPTOTAX_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	_, err = c.Pool().Exec(ctx, `TRUNCATE purchase_operation_history, sale_operation_history,
		asset_price_cache, tax_disposal_history, tax_report, audit_log,
		etoro_open_positions, etoro_close_positions,
		coinbase_raw_operations, coinbase_fiat_history, coinbase_crypto_history`)
	require.NoError(t, err)
	return c
}

func TestIntegration_OperationsAndReset(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	stores := c.Stores()
	at := time.Date(2021, 3, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, stores.Operations.InsertPurchases(ctx, []domain.PurchaseOperation{
		{Operation: domain.Operation{Timestamp: at, Asset: "bitcoin", Amount: 1, FiatSecondary: 100, Exchange: domain.ExchangeEtoro}},
		{Operation: domain.Operation{Timestamp: at, Asset: "EUR", Amount: 50, FiatSecondary: 50, Exchange: domain.ExchangeCoinbase}},
	}))
	require.NoError(t, stores.Operations.InsertSales(ctx, []domain.SaleOperation{
		{Operation: domain.Operation{Timestamp: at, Asset: "bitcoin", Amount: 1, FiatSecondary: 120, Exchange: domain.ExchangeEtoro}},
	}))

	total, err := stores.Operations.SumPurchaseCost(ctx, at)
	require.NoError(t, err)
	assert.InDelta(t, 150, total, 1e-9)

	before, err := stores.Operations.ListSalesBefore(ctx, domain.ExchangeEtoro, at)
	require.NoError(t, err)
	assert.Empty(t, before)

	require.NoError(t, stores.Etoro.Reset(ctx, domain.ExchangeEtoro))
	total, err = stores.Operations.SumPurchaseCost(ctx, at)
	require.NoError(t, err)
	assert.InDelta(t, 50, total, 1e-9)
}

func TestIntegration_ReplaceAndStagingDedup(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	stores := c.Stores()
	at := time.Date(2021, 3, 1, 9, 30, 0, 0, time.UTC)

	sales := []domain.SaleOperation{
		{Operation: domain.Operation{Timestamp: at, Asset: "bitcoin", Amount: 1, FiatSecondary: 120, Exchange: domain.ExchangeEtoro}, Compacted: true},
	}
	require.NoError(t, stores.Operations.InsertSales(ctx, []domain.SaleOperation{
		{Operation: domain.Operation{Timestamp: at, Asset: "EUR", Amount: 5, FiatSecondary: 5, Exchange: domain.ExchangeCoinbase}},
	}))
	require.NoError(t, stores.Operations.ReplaceSales(ctx, domain.ExchangeEtoro, sales))
	require.NoError(t, stores.Operations.ReplaceSales(ctx, domain.ExchangeEtoro, sales))

	got, err := stores.Operations.ListSalesBetween(ctx, at, at)
	require.NoError(t, err)
	require.Len(t, got, 2)
	byExchange := map[string]domain.SaleOperation{}
	for _, s := range got {
		byExchange[s.Exchange] = s
	}
	assert.True(t, byExchange[domain.ExchangeEtoro].Compacted)
	assert.False(t, byExchange[domain.ExchangeCoinbase].Compacted)

	open := []domain.EtoroOpenPosition{{PositionID: "100", OpenedAt: at, Asset: "BTC/USD", Invested: 500}}
	require.NoError(t, stores.Etoro.InsertOpenPositions(ctx, open))
	require.NoError(t, stores.Etoro.InsertOpenPositions(ctx, open))
	opens, err := stores.Etoro.ListOpenPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, opens, 1)

	raw := []domain.CoinbaseRawOperation{{Timestamp: at, Operation: "BUY", Asset: "BTC", Quantity: 0.1, Subtotal: 100}}
	require.NoError(t, stores.Coinbase.InsertRawOperations(ctx, raw))
	require.NoError(t, stores.Coinbase.InsertRawOperations(ctx, raw))
	rows, err := stores.Coinbase.ListRawOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	fiat := []domain.CoinbaseFiatMovement{{Timestamp: at, Asset: "EUR", Amount: 100, Direction: domain.DirectionBuy}}
	require.NoError(t, stores.Coinbase.ReplaceMovements(ctx, fiat, nil))
	require.NoError(t, stores.Coinbase.ReplaceMovements(ctx, fiat, nil))
	buys, err := stores.Coinbase.ListFiatMovements(ctx, domain.DirectionBuy)
	require.NoError(t, err)
	assert.Len(t, buys, 1)
}

func TestIntegration_PriceFirstWriterWins(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	prices := c.Stores().Prices
	key := domain.NewPriceKey("btc", time.Date(2021, 3, 1, 9, 30, 12, 0, time.UTC), domain.ScopeToken)

	require.NoError(t, prices.Save(ctx, key, 1))
	require.NoError(t, prices.Save(ctx, key, 2))
	p, ok, err := prices.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.0, p)
}

func TestIntegration_ReportRoundTrip(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	reports := c.Stores().Reports
	at := time.Date(2021, 3, 1, 9, 30, 0, 0, time.UTC)

	report := &domain.TaxReport{
		CreatedAt: at, Begin: at, End: at, GlobalPnL: decimal.RequireFromString("-12.35"),
		Disposals: []domain.Disposal{{DisposalTime: at, ProfitAndLoss: decimal.RequireFromString("-12.35")}},
	}
	require.NoError(t, reports.Save(ctx, report))

	got, err := reports.GetByID(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, "-12.35", got.GlobalPnL.StringFixed(2))
	require.Len(t, got.Disposals, 1)
	assert.Equal(t, report.ID, got.Disposals[0].ReportID)

	_, err = reports.GetByID(ctx, report.ID+1000)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
