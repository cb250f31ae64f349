package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// OperationStore implements domain.OperationStore.
type OperationStore struct {
	db *DB
}

func (s *OperationStore) InsertPurchases(_ context.Context, ops []domain.PurchaseOperation) error {
	if err := validatePurchases(ops); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.appendPurchases(ops)
	return nil
}

func (s *OperationStore) InsertSales(_ context.Context, ops []domain.SaleOperation) error {
	if err := validateSales(ops); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.appendSales(ops)
	return nil
}

// ReplacePurchases drops the purchases of exchange and appends ops under one
// lock, so readers never observe the ledger half rebuilt.
func (s *OperationStore) ReplacePurchases(_ context.Context, exchange string, ops []domain.PurchaseOperation) error {
	if err := validatePurchases(ops); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	kept := s.db.purchases[:0]
	for _, p := range s.db.purchases {
		if p.Exchange != exchange {
			kept = append(kept, p)
		}
	}
	s.db.purchases = kept
	s.db.appendPurchases(ops)
	return nil
}

func (s *OperationStore) ReplaceSales(_ context.Context, exchange string, ops []domain.SaleOperation) error {
	if err := validateSales(ops); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	kept := s.db.sales[:0]
	for _, op := range s.db.sales {
		if op.Exchange != exchange {
			kept = append(kept, op)
		}
	}
	s.db.sales = kept
	s.db.appendSales(ops)
	return nil
}

func validatePurchases(ops []domain.PurchaseOperation) error {
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("memory: insert purchase: %w", err)
		}
	}
	return nil
}

func validateSales(ops []domain.SaleOperation) error {
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("memory: insert sale: %w", err)
		}
	}
	return nil
}

func (s *OperationStore) ListPurchasesUntil(_ context.Context, exchange string, until time.Time) ([]domain.PurchaseOperation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []domain.PurchaseOperation
	for _, p := range s.db.purchases {
		if (exchange == "" || p.Exchange == exchange) && !p.Timestamp.After(until) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *OperationStore) ListSalesBefore(_ context.Context, exchange string, before time.Time) ([]domain.SaleOperation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []domain.SaleOperation
	for _, op := range s.db.sales {
		if (exchange == "" || op.Exchange == exchange) && op.Timestamp.Before(before) {
			out = append(out, op)
		}
	}
	return out, nil
}

func (s *OperationStore) ListSalesBetween(_ context.Context, begin, end time.Time) ([]domain.SaleOperation, error) {
	s.db.mu.RLock()
	var out []domain.SaleOperation
	for _, op := range s.db.sales {
		if !op.Timestamp.Before(begin) && !op.Timestamp.After(end) {
			out = append(out, op)
		}
	}
	s.db.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *OperationStore) SumPurchaseCost(_ context.Context, until time.Time) (float64, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var total float64
	for _, p := range s.db.purchases {
		if !p.Timestamp.After(until) {
			total += p.FiatSecondary
		}
	}
	return total, nil
}

var _ domain.OperationStore = (*OperationStore)(nil)
