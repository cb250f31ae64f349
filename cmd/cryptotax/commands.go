package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/cryptotax/internal/app"
	"github.com/alanyoungcy/cryptotax/internal/config"
	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// Command flags
var (
	importExchange  string
	importStatement string
	compactSales    bool

	reportBegin   string
	reportEnd     string
	reportOutput  string
	reportArchive bool

	cleanExchange string

	priceAsset string
	priceAt    string
	priceScope string

	runStatements []string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import one exchange statement",
	Long: `Load a statement directory, consolidate it and rebuild the exchange's
purchase and sale operations. Rows already imported are not duplicated.

Examples:
  cryptotax import --exchange etoro --statement ./statements/etoro
  cryptotax import --exchange coinbase --statement ./statements/coinbase --compact`,
	RunE: runImport,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the tax report of a window",
	Long: `Compute one disposal per sale inside [begin, end] and write the report.
Dates use the layout 2006-01-02-15-04-05, RFC 3339 or 2006-01-02.

Examples:
  cryptotax report --begin 2021-01-01-00-00-00 --end 2021-12-31-23-59-59
  cryptotax report --output - --archive`,
	RunE: runReport,
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every imported row of one exchange",
	RunE:  runClean,
}

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Resolve and memoize one historical price",
	Long: `Resolve the native-currency price of an asset at an instant. The answer
is memoized, so this also pre-warms the price cache.

Example:
  cryptotax price --asset BTC --at 2021-03-01T09:30:00Z --scope token`,
	RunE: runPrice,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Import statements and generate the report in one go",
	Long: `Import every --statement in the order given, then generate the report.

Example:
  cryptotax run --statement etoro=./etoro --statement coinbase=./coinbase`,
	RunE: runAll,
}

func init() {
	rootCmd.AddCommand(importCmd, reportCmd, cleanCmd, priceCmd, runCmd)

	importCmd.Flags().StringVar(&importExchange, "exchange", "", "exchange name (etoro|coinbase)")
	importCmd.Flags().StringVar(&importStatement, "statement", "", "directory holding the statement files")
	importCmd.Flags().BoolVar(&compactSales, "compact", false, "merge same-minute sales of one asset")
	_ = importCmd.MarkFlagRequired("exchange")
	_ = importCmd.MarkFlagRequired("statement")

	for _, c := range []*cobra.Command{reportCmd, runCmd} {
		c.Flags().StringVar(&reportBegin, "begin", "", "window start (default report.begin)")
		c.Flags().StringVar(&reportEnd, "end", "", "window end (default report.end)")
		c.Flags().StringVar(&reportOutput, "output", "", "report file, - for stdout (default report.output)")
		c.Flags().BoolVar(&reportArchive, "archive", false, "upload the report to the S3 archive")
		c.Flags().BoolVar(&compactSales, "compact", false, "report over sales imported with --compact")
	}
	runCmd.Flags().StringArrayVar(&runStatements, "statement", nil, "exchange=directory, repeatable")
	_ = runCmd.MarkFlagRequired("statement")

	cleanCmd.Flags().StringVar(&cleanExchange, "exchange", "", "exchange name (etoro|coinbase)")
	_ = cleanCmd.MarkFlagRequired("exchange")

	priceCmd.Flags().StringVar(&priceAsset, "asset", "", "asset name, e.g. BTC")
	priceCmd.Flags().StringVar(&priceAt, "at", "", "instant to price (default now)")
	priceCmd.Flags().StringVar(&priceScope, "scope", "", "price scope token|candle (default pricing.default_scope)")
	_ = priceCmd.MarkFlagRequired("asset")
}

func runImport(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(importStatement); err != nil {
		return fmt.Errorf("statement directory: %w", err)
	}
	a, cfg, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	compact := cfg.Report.Compact
	if cmd.Flags().Changed("compact") {
		compact = compactSales
	}
	return a.Import(cmd.Context(), importExchange, os.DirFS(importStatement), compact)
}

// reportFlags folds the report flags into the configuration.
func reportFlags(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		if cmd.Flags().Changed("output") {
			cfg.Report.Output = reportOutput
		}
		if cmd.Flags().Changed("archive") {
			cfg.Report.Archive = reportArchive
		}
		if cmd.Flags().Changed("compact") {
			cfg.Report.Compact = compactSales
		}
	}
}

func reportWindow(cfg *config.Config) (time.Time, time.Time, error) {
	beginStr, endStr := cfg.Report.Begin, cfg.Report.End
	if reportBegin != "" {
		beginStr = reportBegin
	}
	if reportEnd != "" {
		endStr = reportEnd
	}
	if beginStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("report window: --begin and --end (or report.begin and report.end) are required")
	}
	begin, err := parseTime(beginStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("begin: %w", err)
	}
	end, err := parseTime(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	return begin, end, nil
}

// reportWriter opens the report destination. A file report is written to
// a temporary file next to path and only renamed into place when finish is
// called with a nil error, so a failed run leaves no partial report behind.
// finish returns runErr unchanged when it is non-nil.
func reportWriter(cmd *cobra.Command, path string) (io.Writer, func(runErr error) error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func(runErr error) error { return runErr }, nil
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, nil, fmt.Errorf("create report file: %w", err)
	}
	finish := func(runErr error) error {
		closeErr := f.Close()
		if runErr == nil && closeErr != nil {
			runErr = fmt.Errorf("write report file: %w", closeErr)
		}
		if runErr == nil {
			if err := os.Chmod(f.Name(), 0o644); err != nil {
				runErr = fmt.Errorf("report file mode: %w", err)
			} else if err := os.Rename(f.Name(), path); err != nil {
				runErr = fmt.Errorf("move report file into place: %w", err)
			}
		}
		if runErr != nil {
			_ = os.Remove(f.Name())
		}
		return runErr
	}
	return f, finish, nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	a, cfg, err := openApp(cmd.Context(), reportFlags(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	begin, end, err := reportWindow(cfg)
	if err != nil {
		return err
	}
	out, finish, err := reportWriter(cmd, cfg.Report.Output)
	if err != nil {
		return err
	}
	_, err = a.Report(cmd.Context(), begin, end, cfg.Report.Compact, out)
	return finish(err)
}

func runClean(cmd *cobra.Command, _ []string) error {
	a, _, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Clean(cmd.Context(), cleanExchange)
}

func runPrice(cmd *cobra.Command, _ []string) error {
	a, cfg, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	at := time.Now().UTC()
	if priceAt != "" {
		if at, err = parseTime(priceAt); err != nil {
			return fmt.Errorf("at: %w", err)
		}
	}
	scopeName := cfg.Pricing.DefaultScope
	if priceScope != "" {
		scopeName = priceScope
	}
	scope, err := domain.ParseScope(scopeName)
	if err != nil {
		return err
	}

	price, err := a.Price(cmd.Context(), priceAsset, at, scope)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s;%s;%s;%s\n",
		strings.ToUpper(priceAsset), at.Format(time.RFC3339), scope,
		strconv.FormatFloat(price, 'f', -1, 64))
	return err
}

func runAll(cmd *cobra.Command, _ []string) error {
	statements, err := parseStatements(runStatements)
	if err != nil {
		return err
	}
	a, cfg, err := openApp(cmd.Context(), reportFlags(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	begin, end, err := reportWindow(cfg)
	if err != nil {
		return err
	}
	out, finish, err := reportWriter(cmd, cfg.Report.Output)
	if err != nil {
		return err
	}
	_, err = a.Run(cmd.Context(), statements, begin, end, cfg.Report.Compact, out)
	return finish(err)
}

func parseStatements(specs []string) ([]app.Statement, error) {
	out := make([]app.Statement, 0, len(specs))
	for _, s := range specs {
		name, dir, ok := strings.Cut(s, "=")
		if !ok || name == "" || dir == "" {
			return nil, fmt.Errorf("statement %q: want exchange=directory", s)
		}
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("statement %s: %w", name, err)
		}
		out = append(out, app.Statement{Exchange: name, Files: os.DirFS(dir)})
	}
	return out, nil
}

var timeLayouts = []string{config.WindowLayout, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// parseTime accepts the report window layout, RFC 3339 or a bare date, all
// read as UTC when no zone is given.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
