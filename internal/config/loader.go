package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CRYPTOTAX_"

// Load reads the TOML file at path over Defaults, loads .env when present
// and applies CRYPTOTAX_* overrides. An empty path skips the file. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-run settings
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Accounting ──
	setStr(&cfg.Accounting.Native, "ACCOUNTING_NATIVE")
	setStr(&cfg.Accounting.Secondary, "ACCOUNTING_SECONDARY")

	// ── Exchanges ──
	setStringSlice(&cfg.Exchanges.Enabled, "EXCHANGES_ENABLED")

	// ── Report ──
	setStr(&cfg.Report.Begin, "REPORT_BEGIN")
	setStr(&cfg.Report.End, "REPORT_END")
	setBool(&cfg.Report.Compact, "REPORT_COMPACT")
	setStr(&cfg.Report.Output, "REPORT_OUTPUT")
	setBool(&cfg.Report.Archive, "REPORT_ARCHIVE")

	// ── Pricing ──
	setStr(&cfg.Pricing.DefaultScope, "PRICING_DEFAULT_SCOPE")
	setStr(&cfg.Pricing.FiatProxy, "PRICING_FIAT_PROXY")
	setInt(&cfg.Pricing.RetryAttempts, "PRICING_RETRY_ATTEMPTS")
	setDuration(&cfg.Pricing.RetryWait, "PRICING_RETRY_WAIT")
	setStr(&cfg.Pricing.CoinGecko.BaseURL, "COINGECKO_BASE_URL")
	setStr(&cfg.Pricing.CoinGecko.APIKey, "COINGECKO_API_KEY")
	setInt(&cfg.Pricing.CoinGecko.RequestsPerMinute, "COINGECKO_REQUESTS_PER_MINUTE")
	setStr(&cfg.Pricing.Binance.BaseURL, "BINANCE_BASE_URL")

	// ── Store ──
	setStr(&cfg.Store.Driver, "STORE_DRIVER")
	setStr(&cfg.Store.DSN, "STORE_DSN")
	setStr(&cfg.Store.DSN, "DATABASE_URL") // common alias
	setStr(&cfg.Store.Host, "STORE_HOST")
	setInt(&cfg.Store.Port, "STORE_PORT")
	setStr(&cfg.Store.Database, "STORE_DATABASE")
	setStr(&cfg.Store.User, "STORE_USER")
	setStr(&cfg.Store.Password, "STORE_PASSWORD")
	setStr(&cfg.Store.SSLMode, "STORE_SSL_MODE")
	setInt(&cfg.Store.PoolMaxConns, "STORE_POOL_MAX_CONNS")
	setInt(&cfg.Store.PoolMinConns, "STORE_POOL_MIN_CONNS")
	setBool(&cfg.Store.RunMigrations, "STORE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Typed helpers. Each mutates the target only when the prefixed variable is
// set, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
