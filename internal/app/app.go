// Package app wires the cryptotax dependencies and exposes the use cases
// the CLI drives: importing statements, generating reports, cleaning an
// exchange and resolving single prices.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/cryptotax/internal/config"
)

// App is the root application object. It owns the configuration, logger,
// wired dependencies and a list of cleanup functions that are called in
// reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	closers []func()
}

// New creates a new App from the given configuration and logger. Open must
// be called before any use case.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Open wires every dependency selected by the configuration.
func (a *App) Open(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("store", a.cfg.Store.Driver),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.deps = deps
	a.closers = append(a.closers, cleanup)
	return nil
}

// Dependencies returns the wired dependencies, or nil before Open.
func (a *App) Dependencies() *Dependencies {
	return a.deps
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) ready() error {
	if a.deps == nil {
		return fmt.Errorf("app: not opened")
	}
	return nil
}
