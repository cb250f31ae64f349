package coinbase

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

const headerMarker = "Timestamp"

// Transaction history columns.
const (
	colTimestamp = 0
	colType      = 1
	colAsset     = 2
	colQuantity  = 3
	colSpotPrice = 4
	colSubtotal  = 5
	colNotes     = 8
)

var timestampLayouts = []string{
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	"2006-01-02 15:04:05 UTC",
}

// readStatement parses every CSV file at the root of statement in name
// order. Lines before the header row are skipped.
func readStatement(statement fs.FS) ([]domain.CoinbaseRawOperation, error) {
	names, err := fs.Glob(statement, "*.csv")
	if err != nil {
		return nil, fmt.Errorf("coinbase: list statement: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("coinbase: no csv files in statement: %w", fs.ErrNotExist)
	}
	sort.Strings(names)

	var out []domain.CoinbaseRawOperation
	for _, name := range names {
		ops, err := readFile(statement, name)
		if err != nil {
			return nil, err
		}
		out = append(out, ops...)
	}
	return out, nil
}

func readFile(statement fs.FS, name string) ([]domain.CoinbaseRawOperation, error) {
	f, err := statement.Open(name)
	if err != nil {
		return nil, fmt.Errorf("coinbase: open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var (
		out         []domain.CoinbaseRawOperation
		headerFound bool
	)
	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("coinbase: read %s: %w", name, err)
		}
		if !headerFound {
			headerFound = len(row) > 0 && strings.TrimSpace(row[0]) == headerMarker
			continue
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}

		op, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("coinbase: %s line %d: %w: %w", name, line, domain.ErrMalformedStatementRow, err)
		}
		out = append(out, op)
	}
	if !headerFound {
		return nil, fmt.Errorf("coinbase: %s: %w: header row not found", name, domain.ErrMalformedStatementRow)
	}
	return out, nil
}

func parseRow(row []string) (domain.CoinbaseRawOperation, error) {
	if len(row) <= colNotes {
		return domain.CoinbaseRawOperation{}, fmt.Errorf("expected %d columns, got %d", colNotes+1, len(row))
	}

	ts, err := parseTimestamp(row[colTimestamp])
	if err != nil {
		return domain.CoinbaseRawOperation{}, err
	}
	quantity, err := parseOptional(row[colQuantity])
	if err != nil {
		return domain.CoinbaseRawOperation{}, fmt.Errorf("quantity: %w", err)
	}
	spot, err := parseOptional(row[colSpotPrice])
	if err != nil {
		return domain.CoinbaseRawOperation{}, fmt.Errorf("spot price: %w", err)
	}
	subtotal, err := parseOptional(row[colSubtotal])
	if err != nil {
		return domain.CoinbaseRawOperation{}, fmt.Errorf("subtotal: %w", err)
	}

	return domain.CoinbaseRawOperation{
		Timestamp: ts,
		Operation: strings.ToUpper(strings.TrimSpace(row[colType])),
		Asset:     strings.TrimSpace(row[colAsset]),
		Quantity:  quantity,
		SpotPrice: spot,
		Subtotal:  subtotal,
		Note:      strings.TrimSpace(row[colNotes]),
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// parseOptional reads a number, treating an empty cell as zero.
func parseOptional(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
