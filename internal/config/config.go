// Package config defines the cryptotax configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// WindowLayout is the layout of report.begin and report.end.
const WindowLayout = "2006-01-02-15-04-05"

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CRYPTOTAX_* environment
// variables.
type Config struct {
	Accounting AccountingConfig `toml:"accounting"`
	Exchanges  ExchangesConfig  `toml:"exchanges"`
	Report     ReportConfig     `toml:"report"`
	Pricing    PricingConfig    `toml:"pricing"`
	Store      StoreConfig      `toml:"store"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	LogLevel   string           `toml:"log_level"`
}

// AccountingConfig names the two accounting currencies. Every price is
// quoted in Native; reports are computed in Secondary.
type AccountingConfig struct {
	Native    string `toml:"native"`
	Secondary string `toml:"secondary"`
}

// ExchangesConfig selects the normalizers to run and the price source each
// one values holdings with.
type ExchangesConfig struct {
	Enabled []string          `toml:"enabled"`
	Scope   map[string]string `toml:"scope"`
}

// ScopeFor returns the configured valuation scope of exchange, defaulting
// to the token scope.
func (e ExchangesConfig) ScopeFor(exchange string) domain.Scope {
	for name, s := range e.Scope {
		if strings.EqualFold(name, exchange) {
			if scope, err := domain.ParseScope(s); err == nil {
				return scope
			}
		}
	}
	return domain.ScopeToken
}

// ReportConfig describes the tax window and where the report goes.
type ReportConfig struct {
	Begin   string   `toml:"begin"`
	End     string   `toml:"end"`
	Compact bool     `toml:"compact"`
	Output  string   `toml:"output"`
	Archive bool     `toml:"archive"`
	LockTTL duration `toml:"lock_ttl"`
}

// Window parses Begin and End.
func (r ReportConfig) Window() (time.Time, time.Time, error) {
	begin, err := time.Parse(WindowLayout, r.Begin)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("report.begin: %w", err)
	}
	end, err := time.Parse(WindowLayout, r.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("report.end: %w", err)
	}
	return begin, end, nil
}

// PricingConfig drives the price resolver and its two sources.
type PricingConfig struct {
	DefaultScope  string            `toml:"default_scope"`
	Rename        map[string]string `toml:"rename"`
	FiatProxy     string            `toml:"fiat_proxy"`
	Fiat          map[string]string `toml:"fiat"`
	RetryAttempts int               `toml:"retry_attempts"`
	RetryWait     duration          `toml:"retry_wait"`
	CacheTTL      duration          `toml:"cache_ttl"`
	CoinGecko     CoinGeckoConfig   `toml:"coingecko"`
	Binance       BinanceConfig     `toml:"binance"`
}

// CoinGeckoConfig configures the token-indexed price source.
type CoinGeckoConfig struct {
	BaseURL           string `toml:"base_url"`
	APIKey            string `toml:"api_key"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// BinanceConfig configures the candle price source.
type BinanceConfig struct {
	BaseURL         string   `toml:"base_url"`
	Interval        string   `toml:"interval"`
	Window          duration `toml:"window"`
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerTimeout  duration `toml:"breaker_timeout"`
}

// StoreConfig selects and configures persistence.
type StoreConfig struct {
	Driver        string `toml:"driver"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the report archive bucket settings. S3 is optional.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// duration decodes TOML strings such as "5s" or "10m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Accounting: AccountingConfig{Native: "USD", Secondary: "EUR"},
		Exchanges: ExchangesConfig{
			Enabled: []string{"etoro", "coinbase"},
			Scope:   map[string]string{"etoro": "token", "coinbase": "token"},
		},
		Report: ReportConfig{
			Output:  "tax_report.csv",
			LockTTL: duration{10 * time.Minute},
		},
		Pricing: PricingConfig{
			DefaultScope: "token",
			Rename: map[string]string{
				"BTC": "bitcoin",
				"XLM": "stellar",
				"ADA": "cardano",
			},
			FiatProxy:     "tether",
			Fiat:          map[string]string{"EUR": "eur", "EURO": "eur"},
			RetryAttempts: 20,
			RetryWait:     duration{5 * time.Second},
			CoinGecko: CoinGeckoConfig{
				BaseURL:           "https://api.coingecko.com/api/v3",
				RequestsPerMinute: 30,
			},
			Binance: BinanceConfig{
				BaseURL:         "https://api.binance.com",
				Interval:        "3m",
				Window:          duration{10 * time.Minute},
				BreakerFailures: 5,
				BreakerTimeout:  duration{30 * time.Second},
			},
		},
		Store: StoreConfig{
			Driver:        DriverPostgres,
			Host:          "localhost",
			Port:          5432,
			Database:      "cryptotax",
			User:          "cryptotax",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var knownExchanges = map[string]bool{
	strings.ToLower(domain.ExchangeEtoro):    true,
	strings.ToLower(domain.ExchangeCoinbase): true,
}

// Validate checks the configuration for logical consistency and returns
// every problem found at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Accounting
	for _, cur := range []struct{ name, code string }{
		{"native", c.Accounting.Native},
		{"secondary", c.Accounting.Secondary},
	} {
		if money.GetCurrency(strings.ToUpper(cur.code)) == nil {
			errs = append(errs, fmt.Sprintf("accounting: %s currency %q is not an ISO 4217 code", cur.name, cur.code))
		}
	}
	if strings.EqualFold(c.Accounting.Native, c.Accounting.Secondary) {
		errs = append(errs, "accounting: native and secondary currencies must differ")
	}

	// Exchanges
	for _, name := range c.Exchanges.Enabled {
		if !knownExchanges[strings.ToLower(name)] {
			errs = append(errs, fmt.Sprintf("exchanges: unknown exchange %q", name))
		}
	}
	for name, s := range c.Exchanges.Scope {
		if _, err := domain.ParseScope(s); err != nil {
			errs = append(errs, fmt.Sprintf("exchanges: scope of %s: %v", name, err))
		}
	}

	// Report
	if c.Report.Begin != "" || c.Report.End != "" {
		if begin, end, err := c.Report.Window(); err != nil {
			errs = append(errs, "report: "+err.Error())
		} else if end.Before(begin) {
			errs = append(errs, "report: end must not be before begin")
		}
	}

	// Pricing
	if _, err := domain.ParseScope(c.Pricing.DefaultScope); err != nil {
		errs = append(errs, fmt.Sprintf("pricing: default_scope: %v", err))
	}
	if c.Pricing.RetryAttempts < 1 {
		errs = append(errs, "pricing: retry_attempts must be >= 1")
	}
	if c.Pricing.RetryWait.Duration < 0 {
		errs = append(errs, "pricing: retry_wait must not be negative")
	}
	if len(c.Pricing.Fiat) > 0 && c.Pricing.FiatProxy == "" {
		errs = append(errs, "pricing: fiat_proxy is required when fiat currencies are listed")
	}
	if c.Pricing.CoinGecko.RequestsPerMinute < 0 {
		errs = append(errs, "pricing.coingecko: requests_per_minute must be >= 0")
	}
	if c.Pricing.Binance.Window.Duration <= 0 {
		errs = append(errs, "pricing.binance: window must be > 0")
	}

	// Store
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			if c.Store.Host == "" {
				errs = append(errs, "store: host must not be empty (or set store.dsn)")
			}
			if c.Store.Port <= 0 || c.Store.Port > 65535 {
				errs = append(errs, fmt.Sprintf("store: port must be 1-65535, got %d", c.Store.Port))
			}
			if c.Store.Database == "" {
				errs = append(errs, "store: database must not be empty")
			}
		}
		if c.Store.PoolMaxConns < 1 {
			errs = append(errs, "store: pool_max_conns must be >= 1")
		}
		if c.Store.PoolMinConns > c.Store.PoolMaxConns {
			errs = append(errs, "store: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver))
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}
	if c.Report.Archive && !c.S3.Enabled {
		errs = append(errs, "report: archive requires s3.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
