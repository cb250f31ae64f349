package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// CoinbaseStore implements domain.CoinbaseStore.
type CoinbaseStore struct {
	pool *pgxpool.Pool
}

// NewCoinbaseStore creates a CoinbaseStore backed by pool.
func NewCoinbaseStore(pool *pgxpool.Pool) *CoinbaseStore {
	return &CoinbaseStore{pool: pool}
}

// InsertRawOperations stages rows, skipping rows identical to a staged one.
func (s *CoinbaseStore) InsertRawOperations(ctx context.Context, ops []domain.CoinbaseRawOperation) error {
	if len(ops) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range ops {
		batch.Queue(
			`INSERT INTO coinbase_raw_operations (timestamp, operation, asset, quantity, spot_price, subtotal, note)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT ON CONSTRAINT coinbase_raw_operations_row_key DO NOTHING`,
			o.Timestamp.UTC(), o.Operation, o.Asset, o.Quantity, o.SpotPrice, o.Subtotal, o.Note,
		)
	}
	return sendCoinbaseBatch(ctx, s.pool, batch, "raw operation")
}

func (s *CoinbaseStore) ListRawOperations(ctx context.Context) ([]domain.CoinbaseRawOperation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, operation, asset, quantity, spot_price, subtotal, note
		 FROM coinbase_raw_operations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list coinbase raw operations: %w", err)
	}
	defer rows.Close()

	var out []domain.CoinbaseRawOperation
	for rows.Next() {
		var o domain.CoinbaseRawOperation
		if err := rows.Scan(&o.ID, &o.Timestamp, &o.Operation, &o.Asset, &o.Quantity, &o.SpotPrice, &o.Subtotal, &o.Note); err != nil {
			return nil, fmt.Errorf("postgres: scan coinbase raw operation: %w", err)
		}
		o.Timestamp = o.Timestamp.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// ReplaceMovements truncates both derived ledgers and writes fiat and
// crypto in one transaction.
func (s *CoinbaseStore) ReplaceMovements(ctx context.Context, fiat []domain.CoinbaseFiatMovement, crypto []domain.CoinbaseCryptoMovement) error {
	batch := &pgx.Batch{}
	queue := func(table string, ts time.Time, asset string, amount float64, dir domain.Direction) {
		batch.Queue(
			`INSERT INTO `+table+` (timestamp, asset, amount, direction) VALUES ($1, $2, $3, $4)`,
			ts.UTC(), asset, amount, string(dir),
		)
	}
	for _, m := range fiat {
		queue("coinbase_fiat_history", m.Timestamp, m.Asset, m.Amount, m.Direction)
	}
	for _, m := range crypto {
		queue("coinbase_crypto_history", m.Timestamp, m.Asset, m.Amount, m.Direction)
	}

	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE coinbase_fiat_history, coinbase_crypto_history`); err != nil {
			return fmt.Errorf("postgres: truncate coinbase history: %w", err)
		}
		return sendCoinbaseBatch(ctx, tx, batch, "movement")
	})
}

func sendCoinbaseBatch(ctx context.Context, b batcher, batch *pgx.Batch, what string) error {
	n := batch.Len()
	if n == 0 {
		return nil
	}
	br := b.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert coinbase %s %d: %w", what, i, err)
		}
	}
	return nil
}

func (s *CoinbaseStore) ListFiatMovements(ctx context.Context, dir domain.Direction) ([]domain.CoinbaseFiatMovement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, asset, amount, direction FROM coinbase_fiat_history
		 WHERE direction = $1 ORDER BY id`, string(dir))
	if err != nil {
		return nil, fmt.Errorf("postgres: list coinbase fiat history: %w", err)
	}
	defer rows.Close()

	var out []domain.CoinbaseFiatMovement
	for rows.Next() {
		var m domain.CoinbaseFiatMovement
		if err := rows.Scan(&m.Timestamp, &m.Asset, &m.Amount, &m.Direction); err != nil {
			return nil, fmt.Errorf("postgres: scan coinbase fiat movement: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *CoinbaseStore) ListCryptoMovementsUntil(ctx context.Context, until time.Time) ([]domain.CoinbaseCryptoMovement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, asset, amount, direction FROM coinbase_crypto_history
		 WHERE timestamp <= $1 ORDER BY timestamp, id`, until.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list coinbase crypto history: %w", err)
	}
	defer rows.Close()

	var out []domain.CoinbaseCryptoMovement
	for rows.Next() {
		var m domain.CoinbaseCryptoMovement
		if err := rows.Scan(&m.Timestamp, &m.Asset, &m.Amount, &m.Direction); err != nil {
			return nil, fmt.Errorf("postgres: scan coinbase crypto movement: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// Reset truncates every Coinbase staging table and drops the canonical rows
// of exchange in one transaction.
func (s *CoinbaseStore) Reset(ctx context.Context, exchange string) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`TRUNCATE coinbase_raw_operations, coinbase_fiat_history, coinbase_crypto_history`,
		); err != nil {
			return fmt.Errorf("postgres: truncate coinbase staging: %w", err)
		}
		return deleteExchangeOperations(ctx, tx, exchange)
	})
}

var _ domain.CoinbaseStore = (*CoinbaseStore)(nil)
