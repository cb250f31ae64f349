package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// EtoroStore implements domain.EtoroStore over the eToro staging tables.
type EtoroStore struct {
	pool *pgxpool.Pool
}

// NewEtoroStore creates an EtoroStore backed by pool.
func NewEtoroStore(pool *pgxpool.Pool) *EtoroStore {
	return &EtoroStore{pool: pool}
}

const closeCols = `position_id, closed_at, asset, invested, units, open_rate, close_rate, profit`

// InsertOpenPositions stages open rows. Rows whose position id is already
// staged are skipped.
func (s *EtoroStore) InsertOpenPositions(ctx context.Context, positions []domain.EtoroOpenPosition) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(
			`INSERT INTO etoro_open_positions (position_id, opened_at, asset, invested, units, open_rate, consolidated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (position_id) DO NOTHING`,
			p.PositionID, p.OpenedAt.UTC(), p.Asset, p.Invested, p.Units, p.OpenRate, p.Consolidated,
		)
	}
	return s.sendBatch(ctx, batch, len(positions), "open position")
}

// InsertClosePositions stages closed rows, skipping known position ids.
func (s *EtoroStore) InsertClosePositions(ctx context.Context, positions []domain.EtoroClosePosition) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(
			`INSERT INTO etoro_close_positions (`+closeCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (position_id) DO NOTHING`,
			p.PositionID, p.ClosedAt.UTC(), p.Asset, p.Invested, p.Units, p.OpenRate, p.CloseRate, p.Profit,
		)
	}
	return s.sendBatch(ctx, batch, len(positions), "close position")
}

func (s *EtoroStore) sendBatch(ctx context.Context, batch *pgx.Batch, n int, what string) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert etoro %s %d: %w", what, i, err)
		}
	}
	return nil
}

// ListOpenPositions returns staged open rows in statement order.
func (s *EtoroStore) ListOpenPositions(ctx context.Context) ([]domain.EtoroOpenPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position_id, opened_at, asset, invested, units, open_rate, consolidated
		 FROM etoro_open_positions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list etoro open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.EtoroOpenPosition
	for rows.Next() {
		var p domain.EtoroOpenPosition
		if err := rows.Scan(&p.PositionID, &p.OpenedAt, &p.Asset, &p.Invested, &p.Units, &p.OpenRate, &p.Consolidated); err != nil {
			return nil, fmt.Errorf("postgres: scan etoro open position: %w", err)
		}
		p.OpenedAt = p.OpenedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanClose(row pgx.Row) (domain.EtoroClosePosition, error) {
	var p domain.EtoroClosePosition
	err := row.Scan(&p.PositionID, &p.ClosedAt, &p.Asset, &p.Invested, &p.Units, &p.OpenRate, &p.CloseRate, &p.Profit)
	p.ClosedAt = p.ClosedAt.UTC()
	return p, err
}

// ListClosePositions returns staged closed rows in statement order.
func (s *EtoroStore) ListClosePositions(ctx context.Context) ([]domain.EtoroClosePosition, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+closeCols+` FROM etoro_close_positions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list etoro close positions: %w", err)
	}
	defer rows.Close()

	var out []domain.EtoroClosePosition
	for rows.Next() {
		p, err := scanClose(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan etoro close position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetClosePosition returns the first closed row for positionID.
func (s *EtoroStore) GetClosePosition(ctx context.Context, positionID string) (domain.EtoroClosePosition, error) {
	p, err := scanClose(s.pool.QueryRow(ctx,
		`SELECT `+closeCols+` FROM etoro_close_positions WHERE position_id = $1 ORDER BY id LIMIT 1`,
		positionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EtoroClosePosition{}, fmt.Errorf("postgres: close position %s: %w", positionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.EtoroClosePosition{}, fmt.Errorf("postgres: get close position %s: %w", positionID, err)
	}
	return p, nil
}

// UpdateOpenPositions writes consolidated fields back in one transaction.
func (s *EtoroStore) UpdateOpenPositions(ctx context.Context, positions []domain.EtoroOpenPosition) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, p := range positions {
			tag, err := tx.Exec(ctx,
				`UPDATE etoro_open_positions
				 SET asset = $2, units = $3, open_rate = $4, consolidated = $5
				 WHERE position_id = $1`,
				p.PositionID, p.Asset, p.Units, p.OpenRate, p.Consolidated,
			)
			if err != nil {
				return fmt.Errorf("postgres: update open position %s: %w", p.PositionID, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("postgres: open position %s: %w", p.PositionID, domain.ErrNotFound)
			}
		}
		return nil
	})
}

// Reset truncates the staging tables and drops the canonical rows of
// exchange atomically.
func (s *EtoroStore) Reset(ctx context.Context, exchange string) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE etoro_open_positions, etoro_close_positions`); err != nil {
			return fmt.Errorf("postgres: truncate etoro staging: %w", err)
		}
		return deleteExchangeOperations(ctx, tx, exchange)
	})
}

var _ domain.EtoroStore = (*EtoroStore)(nil)
