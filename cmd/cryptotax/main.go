// Command cryptotax imports exchange statements into a canonical operation
// ledger and computes tax disposal reports from it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/cryptotax/internal/app"
	"github.com/alanyoungcy/cryptotax/internal/config"
)

var configPath string

// rootCmd is the base command of the cryptotax CLI.
var rootCmd = &cobra.Command{
	Use:   "cryptotax",
	Short: "Crypto tax lot accounting",
	Long: `cryptotax normalizes eToro and Coinbase statements into purchase and
sale operations, values the portfolio at every sale and writes the resulting
disposal history as a semicolon separated CSV report.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml",
		"path to configuration file (missing file means defaults plus environment)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// loadConfig reads and validates the configuration. A config path that does
// not exist is treated as empty so the CLI runs on defaults and env alone.
func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp loads the configuration and wires an App. The caller must Close it.
func openApp(ctx context.Context, mutate func(*config.Config)) (*app.App, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Debug("configuration loaded", slog.Any("config", config.RedactedConfig(cfg)))

	a := app.New(cfg, logger)
	if err := a.Open(ctx); err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, cfg, nil
}
