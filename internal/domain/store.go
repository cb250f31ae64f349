package domain

import (
	"context"
	"time"
)

// OperationStore persists the canonical purchase and sale ledgers shared by
// every exchange.
type OperationStore interface {
	InsertPurchases(ctx context.Context, ops []PurchaseOperation) error
	InsertSales(ctx context.Context, ops []SaleOperation) error
	// ReplacePurchases atomically swaps every purchase tagged with exchange
	// for ops. Regenerating a ledger never duplicates rows.
	ReplacePurchases(ctx context.Context, exchange string, ops []PurchaseOperation) error
	// ReplaceSales is ReplacePurchases for the sale ledger.
	ReplaceSales(ctx context.Context, exchange string, ops []SaleOperation) error
	// ListPurchasesUntil returns purchases with Timestamp <= until. An empty
	// exchange matches every exchange.
	ListPurchasesUntil(ctx context.Context, exchange string, until time.Time) ([]PurchaseOperation, error)
	// ListSalesBefore returns sales with Timestamp < before.
	ListSalesBefore(ctx context.Context, exchange string, before time.Time) ([]SaleOperation, error)
	// ListSalesBetween returns every sale within [begin, end] in ascending
	// time order, ties broken by insertion order.
	ListSalesBetween(ctx context.Context, begin, end time.Time) ([]SaleOperation, error)
	// SumPurchaseCost sums FiatSecondary over purchases with Timestamp <= until.
	SumPurchaseCost(ctx context.Context, until time.Time) (float64, error)
}

// PriceStore is one layer of the price memo. Save never replaces an
// existing entry.
type PriceStore interface {
	Lookup(ctx context.Context, key PriceKey) (float64, bool, error)
	Save(ctx context.Context, key PriceKey, price float64) error
}

// ReportStore persists tax reports together with their disposals.
type ReportStore interface {
	Save(ctx context.Context, report *TaxReport) error
	GetByID(ctx context.Context, id int64) (TaxReport, error)
}

// EtoroStore stages eToro statement rows. Position ids are unique per
// table: a row whose id is already staged is ignored, so loading an
// overlapping statement adds only the new positions.
type EtoroStore interface {
	InsertOpenPositions(ctx context.Context, positions []EtoroOpenPosition) error
	InsertClosePositions(ctx context.Context, positions []EtoroClosePosition) error
	ListOpenPositions(ctx context.Context) ([]EtoroOpenPosition, error)
	ListClosePositions(ctx context.Context) ([]EtoroClosePosition, error)
	// GetClosePosition returns the first close row for positionID or ErrNotFound.
	GetClosePosition(ctx context.Context, positionID string) (EtoroClosePosition, error)
	UpdateOpenPositions(ctx context.Context, positions []EtoroOpenPosition) error
	// Reset drops the staged rows and every canonical operation tagged
	// with exchange in a single transaction.
	Reset(ctx context.Context, exchange string) error
}

// CoinbaseStore stages Coinbase statement rows and the ledgers derived
// from them.
type CoinbaseStore interface {
	// InsertRawOperations stages rows, ignoring any row identical to one
	// already staged.
	InsertRawOperations(ctx context.Context, ops []CoinbaseRawOperation) error
	ListRawOperations(ctx context.Context) ([]CoinbaseRawOperation, error)
	// ReplaceMovements atomically swaps both derived ledgers for the given
	// rows.
	ReplaceMovements(ctx context.Context, fiat []CoinbaseFiatMovement, crypto []CoinbaseCryptoMovement) error
	ListFiatMovements(ctx context.Context, dir Direction) ([]CoinbaseFiatMovement, error)
	ListCryptoMovementsUntil(ctx context.Context, until time.Time) ([]CoinbaseCryptoMovement, error)
	Reset(ctx context.Context, exchange string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
