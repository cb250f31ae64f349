package memory

import (
	"context"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// PriceStore implements domain.PriceStore. The first value saved for a key
// is kept.
type PriceStore struct {
	db *DB
}

func (s *PriceStore) Lookup(_ context.Context, key domain.PriceKey) (float64, bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	price, ok := s.db.prices[key.String()]
	return price, ok, nil
}

func (s *PriceStore) Save(_ context.Context, key domain.PriceKey, price float64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.prices[key.String()]; !ok {
		s.db.prices[key.String()] = price
	}
	return nil
}

// Len reports how many prices are memoized.
func (s *PriceStore) Len() int {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return len(s.db.prices)
}

var _ domain.PriceStore = (*PriceStore)(nil)
