package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// OperationStore implements domain.OperationStore over the purchase and
// sale history tables.
type OperationStore struct {
	pool *pgxpool.Pool
}

// NewOperationStore creates an OperationStore backed by pool.
func NewOperationStore(pool *pgxpool.Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

const (
	purchaseTable = "purchase_operation_history"
	saleTable     = "sale_operation_history"

	operationCols = `id, timestamp, asset, amount, fiat_native, fiat_secondary,
	unit_price_native, unit_price_secondary, exchange`
	saleCols = operationCols + `, compacted`

	insertPurchaseSQL = `INSERT INTO ` + purchaseTable + ` (
			timestamp, asset, amount, fiat_native, fiat_secondary,
			unit_price_native, unit_price_secondary, exchange
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	insertSaleSQL = `INSERT INTO ` + saleTable + ` (
			timestamp, asset, amount, fiat_native, fiat_secondary,
			unit_price_native, unit_price_secondary, exchange, compacted
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

// batcher is satisfied by both *pgxpool.Pool and pgx.Tx.
type batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func operationArgs(o domain.Operation) []any {
	return []any{
		o.Timestamp.UTC(), o.Asset, o.Amount, o.FiatNative, o.FiatSecondary,
		o.UnitPriceNative, o.UnitPriceSecondary, o.Exchange,
	}
}

func purchaseBatch(ops []domain.PurchaseOperation) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, o := range ops {
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("postgres: insert into %s: %w", purchaseTable, err)
		}
		batch.Queue(insertPurchaseSQL, operationArgs(o.Operation)...)
	}
	return batch, nil
}

func saleBatch(ops []domain.SaleOperation) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, o := range ops {
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("postgres: insert into %s: %w", saleTable, err)
		}
		batch.Queue(insertSaleSQL, append(operationArgs(o.Operation), o.Compacted)...)
	}
	return batch, nil
}

func sendOperations(ctx context.Context, b batcher, table string, batch *pgx.Batch) error {
	n := batch.Len()
	if n == 0 {
		return nil
	}
	br := b.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert into %s item %d: %w", table, i, err)
		}
	}
	return nil
}

// replace deletes the rows of exchange from table and inserts batch in one
// transaction.
func (s *OperationStore) replace(ctx context.Context, table, exchange string, batch *pgx.Batch) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE exchange = $1`, exchange); err != nil {
			return fmt.Errorf("postgres: clear %s for %s: %w", table, exchange, err)
		}
		return sendOperations(ctx, tx, table, batch)
	})
}

// InsertPurchases appends purchases to the purchase history.
func (s *OperationStore) InsertPurchases(ctx context.Context, ops []domain.PurchaseOperation) error {
	batch, err := purchaseBatch(ops)
	if err != nil {
		return err
	}
	return sendOperations(ctx, s.pool, purchaseTable, batch)
}

// InsertSales appends sales to the sale history.
func (s *OperationStore) InsertSales(ctx context.Context, ops []domain.SaleOperation) error {
	batch, err := saleBatch(ops)
	if err != nil {
		return err
	}
	return sendOperations(ctx, s.pool, saleTable, batch)
}

// ReplacePurchases swaps the purchases of exchange for ops atomically.
func (s *OperationStore) ReplacePurchases(ctx context.Context, exchange string, ops []domain.PurchaseOperation) error {
	batch, err := purchaseBatch(ops)
	if err != nil {
		return err
	}
	return s.replace(ctx, purchaseTable, exchange, batch)
}

// ReplaceSales swaps the sales of exchange for ops atomically.
func (s *OperationStore) ReplaceSales(ctx context.Context, exchange string, ops []domain.SaleOperation) error {
	batch, err := saleBatch(ops)
	if err != nil {
		return err
	}
	return s.replace(ctx, saleTable, exchange, batch)
}

func scanOperation(row pgx.Row, extra ...any) (domain.Operation, error) {
	var o domain.Operation
	dest := append([]any{
		&o.ID, &o.Timestamp, &o.Asset, &o.Amount, &o.FiatNative, &o.FiatSecondary,
		&o.UnitPriceNative, &o.UnitPriceSecondary, &o.Exchange,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Operation{}, err
	}
	o.Timestamp = o.Timestamp.UTC()
	return o, nil
}

func scanPurchases(rows pgx.Rows) ([]domain.PurchaseOperation, error) {
	defer rows.Close()
	var out []domain.PurchaseOperation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PurchaseOperation{Operation: o})
	}
	return out, rows.Err()
}

func scanSales(rows pgx.Rows) ([]domain.SaleOperation, error) {
	defer rows.Close()
	var out []domain.SaleOperation
	for rows.Next() {
		var compacted bool
		o, err := scanOperation(rows, &compacted)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.SaleOperation{Operation: o, Compacted: compacted})
	}
	return out, rows.Err()
}

func (s *OperationStore) list(ctx context.Context, table, cols, cmp, exchange string, bound time.Time) (pgx.Rows, error) {
	query := `SELECT ` + cols + ` FROM ` + table + ` WHERE timestamp ` + cmp + ` $1`
	args := []any{bound.UTC()}
	if exchange != "" {
		query += ` AND exchange = $2`
		args = append(args, exchange)
	}
	query += ` ORDER BY timestamp, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", table, err)
	}
	return rows, nil
}

// ListPurchasesUntil returns purchases at or before until.
func (s *OperationStore) ListPurchasesUntil(ctx context.Context, exchange string, until time.Time) ([]domain.PurchaseOperation, error) {
	rows, err := s.list(ctx, purchaseTable, operationCols, "<=", exchange, until)
	if err != nil {
		return nil, err
	}
	out, err := scanPurchases(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", purchaseTable, err)
	}
	return out, nil
}

// ListSalesBefore returns sales strictly before before.
func (s *OperationStore) ListSalesBefore(ctx context.Context, exchange string, before time.Time) ([]domain.SaleOperation, error) {
	rows, err := s.list(ctx, saleTable, saleCols, "<", exchange, before)
	if err != nil {
		return nil, err
	}
	out, err := scanSales(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", saleTable, err)
	}
	return out, nil
}

// ListSalesBetween returns every sale inside [begin, end], oldest first.
func (s *OperationStore) ListSalesBetween(ctx context.Context, begin, end time.Time) ([]domain.SaleOperation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+saleCols+` FROM `+saleTable+`
		 WHERE timestamp >= $1 AND timestamp <= $2
		 ORDER BY timestamp, id`,
		begin.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sales between: %w", err)
	}
	out, err := scanSales(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sales between: %w", err)
	}
	return out, nil
}

// SumPurchaseCost totals the tax-currency cost of purchases at or before
// until, across every exchange.
func (s *OperationStore) SumPurchaseCost(ctx context.Context, until time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(fiat_secondary), 0) FROM `+purchaseTable+` WHERE timestamp <= $1`,
		until.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum purchase cost: %w", err)
	}
	return total, nil
}

// deleteExchangeOperations removes canonical rows tagged with exchange.
func deleteExchangeOperations(ctx context.Context, tx pgx.Tx, exchange string) error {
	for _, table := range []string{purchaseTable, saleTable} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE exchange = $1`, exchange); err != nil {
			return fmt.Errorf("postgres: clear %s for %s: %w", table, exchange, err)
		}
	}
	return nil
}

var _ domain.OperationStore = (*OperationStore)(nil)
