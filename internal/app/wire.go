package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/cryptotax/internal/blob/s3"
	"github.com/alanyoungcy/cryptotax/internal/cache/redis"
	"github.com/alanyoungcy/cryptotax/internal/config"
	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/alanyoungcy/cryptotax/internal/exchange"
	"github.com/alanyoungcy/cryptotax/internal/exchange/coinbase"
	"github.com/alanyoungcy/cryptotax/internal/exchange/etoro"
	"github.com/alanyoungcy/cryptotax/internal/platform/binance"
	"github.com/alanyoungcy/cryptotax/internal/platform/coingecko"
	"github.com/alanyoungcy/cryptotax/internal/pricing"
	"github.com/alanyoungcy/cryptotax/internal/store/memory"
	"github.com/alanyoungcy/cryptotax/internal/store/postgres"
)

// Dependencies bundles everything the use cases need. Locks and Archiver
// are nil when Redis or S3 is disabled.
type Dependencies struct {
	// Stores
	Operations domain.OperationStore
	Prices     domain.PriceStore
	Reports    domain.ReportStore
	Audit      domain.AuditStore
	Etoro      domain.EtoroStore
	Coinbase   domain.CoinbaseStore

	// Optional infrastructure
	Locks    domain.LockManager
	Archiver domain.ReportArchiver

	Resolver *pricing.Resolver
	Registry *exchange.Registry
}

// Sources are the upstream price feeds behind the resolver.
type Sources struct {
	Token  pricing.TokenSource
	Candle pricing.CandleSource
}

// Wire constructs the concrete dependencies selected by cfg and returns a
// cleanup func that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Stores ---
	switch cfg.Store.Driver {
	case config.DriverMemory:
		db := memory.New()
		deps.Operations = db.Operations()
		deps.Prices = db.Prices()
		deps.Reports = db.Reports()
		deps.Audit = db.Audit()
		deps.Etoro = db.Etoro()
		deps.Coinbase = db.Coinbase()
	case config.DriverPostgres:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Store.DSN,
			Host:     cfg.Store.Host,
			Port:     cfg.Store.Port,
			Database: cfg.Store.Database,
			User:     cfg.Store.User,
			Password: cfg.Store.Password,
			SSLMode:  cfg.Store.SSLMode,
			MaxConns: cfg.Store.PoolMaxConns,
			MinConns: cfg.Store.PoolMinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Store.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		stores := pgClient.Stores()
		deps.Operations = stores.Operations
		deps.Prices = stores.Prices
		deps.Reports = stores.Reports
		deps.Audit = stores.Audit
		deps.Etoro = stores.Etoro
		deps.Coinbase = stores.Coinbase
	default:
		return nil, nil, fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver)
	}

	// --- Price sources ---
	gecko := coingecko.NewClient(cfg.Pricing.CoinGecko.BaseURL, cfg.Pricing.CoinGecko.APIKey,
		cfg.Pricing.CoinGecko.RequestsPerMinute)
	candles := binance.NewClient(cfg.Pricing.Binance.BaseURL, binance.Options{
		Interval:        cfg.Pricing.Binance.Interval,
		Window:          cfg.Pricing.Binance.Window.Duration,
		BreakerFailures: uint32(cfg.Pricing.Binance.BreakerFailures),
		BreakerTimeout:  cfg.Pricing.Binance.BreakerTimeout.Duration,
	})

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Prices = pricing.NewTiered(logger,
			redis.NewPriceCache(redisClient, cfg.Pricing.CacheTTL.Duration),
			deps.Prices,
		)
		deps.Locks = redis.NewLockManager(redisClient)
		if rpm := cfg.Pricing.CoinGecko.RequestsPerMinute; rpm > 0 {
			gecko.SetSharedLimiter(redis.NewRateLimiter(redisClient, "coingecko", rpm, time.Minute))
		}
	}

	// --- S3 report archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewReportArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Audit,
		)
	}

	if err := deps.finish(cfg, Sources{Token: gecko, Candle: candles}, logger); err != nil {
		cleanup()
		return nil, nil, err
	}
	return deps, cleanup, nil
}

// finish builds the resolver over deps.Prices and registers the enabled
// exchanges. Stores must already be set.
func (d *Dependencies) finish(cfg *config.Config, src Sources, logger *slog.Logger) error {
	d.Resolver = pricing.NewResolver(d.Prices, src.Token, src.Candle, pricing.Options{
		Native:        cfg.Accounting.Native,
		Rename:        cfg.Pricing.Rename,
		FiatProxy:     cfg.Pricing.FiatProxy,
		Fiat:          cfg.Pricing.Fiat,
		RetryAttempts: cfg.Pricing.RetryAttempts,
		RetryWait:     cfg.Pricing.RetryWait.Duration,
	}, logger)

	acct := exchange.Accounting{Native: cfg.Accounting.Native, Secondary: cfg.Accounting.Secondary}
	d.Registry = exchange.NewRegistry()
	for _, name := range cfg.Exchanges.Enabled {
		scope := cfg.Exchanges.ScopeFor(name)
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case domain.ExchangeEtoro:
			d.Registry.Register(name, etoro.New(d.Operations, d.Etoro, d.Resolver, acct, scope, logger))
		case domain.ExchangeCoinbase:
			d.Registry.Register(name, coinbase.New(d.Operations, d.Coinbase, d.Resolver, acct, scope, logger))
		default:
			return fmt.Errorf("wire: exchange %q: %w", name, domain.ErrUnsupportedExchange)
		}
	}
	return nil
}
