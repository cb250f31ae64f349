package memory

import (
	"context"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// CoinbaseStore implements domain.CoinbaseStore.
type CoinbaseStore struct {
	db *DB
}

// rawKey identifies a statement row by content, ignoring its staging id.
type rawKey struct {
	at                          int64
	operation, asset, note      string
	quantity, spotPrice, amount float64
}

func keyOf(op domain.CoinbaseRawOperation) rawKey {
	return rawKey{
		at:        op.Timestamp.UnixNano(),
		operation: op.Operation,
		asset:     op.Asset,
		note:      op.Note,
		quantity:  op.Quantity,
		spotPrice: op.SpotPrice,
		amount:    op.Subtotal,
	}
}

// InsertRawOperations stages rows not already staged with identical content.
func (s *CoinbaseStore) InsertRawOperations(_ context.Context, ops []domain.CoinbaseRawOperation) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	seen := make(map[rawKey]struct{}, len(s.db.coinbaseRaw)+len(ops))
	for _, op := range s.db.coinbaseRaw {
		seen[keyOf(op)] = struct{}{}
	}
	for _, op := range ops {
		k := keyOf(op)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		op.ID = s.db.nextID()
		s.db.coinbaseRaw = append(s.db.coinbaseRaw, op)
	}
	return nil
}

func (s *CoinbaseStore) ListRawOperations(_ context.Context) ([]domain.CoinbaseRawOperation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return append([]domain.CoinbaseRawOperation(nil), s.db.coinbaseRaw...), nil
}

// ReplaceMovements swaps both derived ledgers under one lock.
func (s *CoinbaseStore) ReplaceMovements(_ context.Context, fiat []domain.CoinbaseFiatMovement, crypto []domain.CoinbaseCryptoMovement) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.coinbaseFiat = append([]domain.CoinbaseFiatMovement(nil), fiat...)
	s.db.coinbaseCrypto = append([]domain.CoinbaseCryptoMovement(nil), crypto...)
	return nil
}

func (s *CoinbaseStore) ListFiatMovements(_ context.Context, dir domain.Direction) ([]domain.CoinbaseFiatMovement, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []domain.CoinbaseFiatMovement
	for _, m := range s.db.coinbaseFiat {
		if m.Direction == dir {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *CoinbaseStore) ListCryptoMovementsUntil(_ context.Context, until time.Time) ([]domain.CoinbaseCryptoMovement, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []domain.CoinbaseCryptoMovement
	for _, m := range s.db.coinbaseCrypto {
		if !m.Timestamp.After(until) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *CoinbaseStore) Reset(_ context.Context, exchange string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.coinbaseRaw = nil
	s.db.coinbaseFiat = nil
	s.db.coinbaseCrypto = nil
	s.db.dropExchange(exchange)
	return nil
}

var _ domain.CoinbaseStore = (*CoinbaseStore)(nil)
