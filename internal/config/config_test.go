package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cryptotax.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Pricing.RetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.Pricing.RetryWait.Duration)
	assert.Equal(t, "bitcoin", cfg.Pricing.Rename["BTC"])
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[accounting]
secondary = "GBP"

[report]
begin = "2021-01-01-00-00-00"
end = "2021-12-31-23-59-59"
compact = true

[pricing]
retry_wait = "250ms"

[pricing.binance]
window = "15m"

[exchanges.scope]
coinbase = "candle"

[store]
driver = "memory"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "USD", cfg.Accounting.Native)
	assert.Equal(t, "GBP", cfg.Accounting.Secondary)
	assert.Equal(t, 250*time.Millisecond, cfg.Pricing.RetryWait.Duration)
	assert.Equal(t, 15*time.Minute, cfg.Pricing.Binance.Window.Duration)
	assert.True(t, cfg.Report.Compact)
	assert.Equal(t, domain.ScopeCandle, cfg.Exchanges.ScopeFor(domain.ExchangeCoinbase))
	assert.Equal(t, domain.ScopeToken, cfg.Exchanges.ScopeFor("kraken"))

	begin, end, err := cfg.Report.Window()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), begin)
	assert.Equal(t, time.Date(2021, 12, 31, 23, 59, 59, 0, time.UTC), end)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CRYPTOTAX_STORE_DRIVER", "memory")
	t.Setenv("CRYPTOTAX_COINGECKO_API_KEY", "cg-key")
	t.Setenv("CRYPTOTAX_EXCHANGES_ENABLED", " etoro , ")
	t.Setenv("CRYPTOTAX_PRICING_RETRY_ATTEMPTS", "not-a-number")
	t.Setenv("CRYPTOTAX_REPORT_COMPACT", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "cg-key", cfg.Pricing.CoinGecko.APIKey)
	assert.Equal(t, []string{"etoro"}, cfg.Exchanges.Enabled)
	assert.Equal(t, 20, cfg.Pricing.RetryAttempts)
	assert.True(t, cfg.Report.Compact)
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(writeConfig(t, "log_level = [unterminated"))
	require.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	cfg.Accounting.Secondary = "EURO"
	cfg.Exchanges.Enabled = []string{"etoro", "kraken"}
	cfg.Pricing.DefaultScope = "orderbook"
	cfg.Store.Driver = "sqlite"
	cfg.Report.Begin = "2022-01-01-00-00-00"
	cfg.Report.End = "2021-01-01-00-00-00"
	cfg.Report.Archive = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown log_level "verbose"`,
		`secondary currency "EURO"`,
		`unknown exchange "kraken"`,
		"default_scope",
		`unknown driver "sqlite"`,
		"end must not be before begin",
		"archive requires s3.enabled",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_SameCurrencies(t *testing.T) {
	cfg := Defaults()
	cfg.Accounting.Secondary = "usd"
	assert.ErrorContains(t, cfg.Validate(), "must differ")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Password = "hunter2"
	cfg.S3.SecretKey = "s3cr3t"
	cfg.Pricing.CoinGecko.APIKey = "key"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Store.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Pricing.CoinGecko.APIKey)
	assert.Empty(t, out.Redis.Password)

	out.Pricing.Rename["BTC"] = "changed"
	assert.Equal(t, "bitcoin", cfg.Pricing.Rename["BTC"])
	assert.Equal(t, "hunter2", cfg.Store.Password)
}
