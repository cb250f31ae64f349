package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2021, 2, 3, 4, 5, 0, 0, time.UTC)

func TestBalances_AsymmetricBoundary(t *testing.T) {
	entries := []Entry{
		{Asset: "bitcoin", Amount: 1, At: t0},
		{Asset: "bitcoin", Amount: 2, At: t0.Add(time.Hour)},
		{Asset: "bitcoin", Amount: -0.5, At: t0.Add(time.Hour)},
		{Asset: "bitcoin", Amount: -1, At: t0.Add(2 * time.Hour)},
	}

	got, err := Balances(entries, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 3, got["bitcoin"], 1e-12, "purchase at cutoff counts, sale at cutoff does not")

	got, err = Balances(entries, t0.Add(90*time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got["bitcoin"], 1e-12)

	got, err = Balances(entries, t0.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBalances_Monotonic(t *testing.T) {
	entries := []Entry{
		{Asset: "ethereum", Amount: 5, At: t0},
		{Asset: "ethereum", Amount: -2, At: t0.Add(time.Minute)},
		{Asset: "ethereum", Amount: 1, At: t0.Add(2 * time.Minute)},
		{Asset: "ethereum", Amount: -3, At: t0.Add(3 * time.Minute)},
	}
	early, err := Balances(entries, t0.Add(time.Minute))
	require.NoError(t, err)
	late, err := Balances(entries, t0.Add(10*time.Minute))
	require.NoError(t, err)

	// purchases in (T', T] minus sales in [T', T)
	assert.InDelta(t, early["ethereum"]+1-2-3, late["ethereum"], 1e-12)
	assert.GreaterOrEqual(t, late["ethereum"], 0.0)
}

func TestBalances_SoldShort(t *testing.T) {
	_, err := Balances([]Entry{
		{Asset: "bitcoin", Amount: 1, At: t0},
		{Asset: "bitcoin", Amount: -1.5, At: t0.Add(time.Minute)},
	}, t0.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrNegativeBalance)

	_, err = Balances([]Entry{
		{Asset: "tron", Amount: -1, At: t0},
	}, t0.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrNegativeBalance)
}

func TestBalances_ToleratesFloatNoise(t *testing.T) {
	got, err := Balances([]Entry{
		{Asset: "bitcoin", Amount: 0.1, At: t0},
		{Asset: "bitcoin", Amount: 0.2, At: t0},
		{Asset: "bitcoin", Amount: -0.30000000000000004, At: t0.Add(time.Minute)},
	}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0, got["bitcoin"], 1e-12)
}

type stubPrices struct {
	prices map[string]float64
	seen   []string
}

func (s *stubPrices) Price(_ context.Context, asset string, _ time.Time, _ domain.Scope) (float64, error) {
	s.seen = append(s.seen, asset)
	p, ok := s.prices[asset]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return p, nil
}

func (s *stubPrices) Convert(_ context.Context, amount float64, from, to string, _ time.Time) (float64, error) {
	return amount * s.prices[from] / s.prices[to], nil
}

func TestValueHoldings(t *testing.T) {
	prices := &stubPrices{prices: map[string]float64{"bitcoin": 100, "ethereum": 10, "USD": 1, "EUR": 1.25}}
	balances := map[string]float64{"ethereum": 2, "bitcoin": 1, "tron": 0, "dash": -1, "dust": 1e-12}

	v, err := ValueHoldings(context.Background(), prices, balances, t0, domain.ScopeToken, Accounting{Native: "USD", Secondary: "EUR"})
	require.NoError(t, err)
	assert.InDelta(t, 96, v, 1e-9)
	assert.Equal(t, []string{"bitcoin", "ethereum"}, prices.seen)
}

func TestValueHoldings_NothingHeld(t *testing.T) {
	prices := &stubPrices{}
	v, err := ValueHoldings(context.Background(), prices, map[string]float64{"bitcoin": 0}, t0, domain.ScopeToken, Accounting{Native: "USD", Secondary: "EUR"})
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Empty(t, prices.seen)
}
