package etoro

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// Files an eToro statement directory must contain, one per workbook sheet.
const (
	TransactionsFile    = "transactions_report.csv"
	ClosedPositionsFile = "closed_positions.csv"
)

const openPositionType = "Open Position"

// pairAssets maps the traded crypto pairs to canonical asset names.
var pairAssets = map[string]string{
	"BTC/USD":  "bitcoin",
	"ETH/USD":  "ethereum",
	"LTC/USD":  "litecoin",
	"TRX/USD":  "tron",
	"ADA/USD":  "cardano",
	"NEO/USD":  "neo",
	"XLM/USD":  "stellar",
	"XTZ/USD":  "tezos",
	"IOTA/USD": "miota",
	"XRP/USD":  "ripple",
	"DASH/USD": "dash",
	"BNB/USD":  "bnb",
}

// buyActions holds the upper-cased "Buy <NAME>" labels of supported assets.
var buyActions = func() map[string]bool {
	m := make(map[string]bool, len(pairAssets))
	for _, name := range pairAssets {
		m["BUY "+strings.ToUpper(name)] = true
	}
	return m
}()

// Transactions Report columns.
const (
	txColDate     = 0
	txColType     = 2
	txColDetails  = 3
	txColPosition = 4
	txColAmount   = 5
)

// Closed Positions columns.
const (
	cpColPosition = 0
	cpColAction   = 1
	cpColAmount   = 3
	cpColUnits    = 4
	cpColOpenRate = 5
	cpColRate     = 6
	cpColProfit   = 8
	cpColClosed   = 10
)

var openLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

var closeLayouts = []string{
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
}

// readOpenPositions extracts the crypto "Open Position" rows of the
// transactions sheet. Other rows, the header included, are skipped.
func readOpenPositions(statement fs.FS) ([]domain.EtoroOpenPosition, int, error) {
	var (
		out     []domain.EtoroOpenPosition
		skipped int
	)
	err := eachRow(statement, TransactionsFile, txColAmount+1, func(line int, row []string) error {
		if strings.TrimSpace(row[txColType]) != openPositionType {
			skipped++
			return nil
		}
		pair := strings.ToUpper(strings.TrimSpace(row[txColDetails]))
		if _, ok := pairAssets[pair]; !ok {
			skipped++
			return nil
		}

		openedAt, err := parseTime(row[txColDate], openLayouts)
		if err != nil {
			return malformed(TransactionsFile, line, err)
		}
		invested, err := parseNumber(row[txColAmount])
		if err != nil {
			return malformed(TransactionsFile, line, err)
		}
		id := strings.TrimSpace(row[txColPosition])
		if id == "" {
			return malformed(TransactionsFile, line, errors.New("missing position id"))
		}

		out = append(out, domain.EtoroOpenPosition{
			PositionID: id,
			OpenedAt:   openedAt,
			Asset:      pair,
			Invested:   invested,
		})
		return nil
	})
	return out, skipped, err
}

// readClosePositions extracts the closed rows whose action buys a
// supported crypto asset.
func readClosePositions(statement fs.FS) ([]domain.EtoroClosePosition, int, error) {
	var (
		out     []domain.EtoroClosePosition
		skipped int
	)
	err := eachRow(statement, ClosedPositionsFile, cpColClosed+1, func(line int, row []string) error {
		action := strings.TrimSpace(row[cpColAction])
		if !buyActions[strings.ToUpper(action)] {
			skipped++
			return nil
		}

		closedAt, err := parseTime(row[cpColClosed], closeLayouts)
		if err != nil {
			return malformed(ClosedPositionsFile, line, err)
		}
		var nums [5]float64
		for i, col := range []int{cpColAmount, cpColUnits, cpColOpenRate, cpColRate, cpColProfit} {
			if nums[i], err = parseNumber(row[col]); err != nil {
				return malformed(ClosedPositionsFile, line, fmt.Errorf("column %d: %w", col, err))
			}
		}

		out = append(out, domain.EtoroClosePosition{
			PositionID: strings.TrimSpace(row[cpColPosition]),
			ClosedAt:   closedAt,
			Asset:      strings.ToLower(action[len("Buy "):]),
			Invested:   nums[0],
			Units:      nums[1],
			OpenRate:   nums[2],
			CloseRate:  nums[3],
			Profit:     nums[4],
		})
		return nil
	})
	return out, skipped, err
}

// eachRow streams the records of name, skipping rows shorter than minCols.
// Line numbers are 1-based.
func eachRow(statement fs.FS, name string, minCols int, fn func(line int, row []string) error) error {
	f, err := statement.Open(name)
	if err != nil {
		return fmt.Errorf("etoro: open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("etoro: read %s: %w", name, err)
		}
		if len(row) < minCols {
			continue
		}
		if err := fn(line, row); err != nil {
			return err
		}
	}
}

// parseNumber accepts both comma and period decimal separators.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") && strings.Contains(s, ".") {
		return 0, fmt.Errorf("%w: %q", domain.ErrAmbiguousAmount, s)
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

func parseTime(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func malformed(file string, line int, err error) error {
	return fmt.Errorf("etoro: %s line %d: %w: %w", file, line, domain.ErrMalformedStatementRow, err)
}
