// Package exchange defines the capability set every exchange variant
// implements and the ledger arithmetic they share.
package exchange

import (
	"context"
	"io/fs"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// Normalizer turns one exchange's statements into canonical purchase and
// sale operations and values that exchange's holdings.
type Normalizer interface {
	// Name is the identity tag written on every operation the variant emits.
	Name() string
	// LoadStatement stages the raw rows of a statement directory.
	LoadStatement(ctx context.Context, statement fs.FS) error
	// Consolidate derives the variant's working ledgers from staged rows.
	Consolidate(ctx context.Context) error
	GeneratePurchases(ctx context.Context) error
	// GenerateSales writes sale operations. With compact set, sales of the
	// same asset within the same minute are merged where the variant
	// supports it.
	GenerateSales(ctx context.Context, compact bool) error
	// PortfolioValue values the variant's own holdings at at, in the
	// secondary accounting currency.
	PortfolioValue(ctx context.Context, at time.Time) (float64, error)
	// CleanAllHistory removes the variant's staged rows and operations.
	CleanAllHistory(ctx context.Context) error
}

// Prices is the part of the price resolver the variants depend on.
type Prices interface {
	Price(ctx context.Context, asset string, at time.Time, scope domain.Scope) (float64, error)
	Convert(ctx context.Context, amount float64, from, to string, at time.Time) (float64, error)
}

// Accounting names the two currencies operations are recorded in.
type Accounting struct {
	Native    string
	Secondary string
}
