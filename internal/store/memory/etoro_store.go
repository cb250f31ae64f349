package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// EtoroStore implements domain.EtoroStore.
type EtoroStore struct {
	db *DB
}

// InsertOpenPositions stages rows whose position id is not staged yet.
func (s *EtoroStore) InsertOpenPositions(_ context.Context, positions []domain.EtoroOpenPosition) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	seen := make(map[string]struct{}, len(s.db.etoroOpen)+len(positions))
	for _, p := range s.db.etoroOpen {
		seen[p.PositionID] = struct{}{}
	}
	for _, p := range positions {
		if _, dup := seen[p.PositionID]; dup {
			continue
		}
		seen[p.PositionID] = struct{}{}
		s.db.etoroOpen = append(s.db.etoroOpen, p)
	}
	return nil
}

// InsertClosePositions stages rows whose position id is not staged yet.
func (s *EtoroStore) InsertClosePositions(_ context.Context, positions []domain.EtoroClosePosition) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	seen := make(map[string]struct{}, len(s.db.etoroClose)+len(positions))
	for _, p := range s.db.etoroClose {
		seen[p.PositionID] = struct{}{}
	}
	for _, p := range positions {
		if _, dup := seen[p.PositionID]; dup {
			continue
		}
		seen[p.PositionID] = struct{}{}
		s.db.etoroClose = append(s.db.etoroClose, p)
	}
	return nil
}

func (s *EtoroStore) ListOpenPositions(_ context.Context) ([]domain.EtoroOpenPosition, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return append([]domain.EtoroOpenPosition(nil), s.db.etoroOpen...), nil
}

func (s *EtoroStore) ListClosePositions(_ context.Context) ([]domain.EtoroClosePosition, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return append([]domain.EtoroClosePosition(nil), s.db.etoroClose...), nil
}

func (s *EtoroStore) GetClosePosition(_ context.Context, positionID string) (domain.EtoroClosePosition, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, c := range s.db.etoroClose {
		if c.PositionID == positionID {
			return c, nil
		}
	}
	return domain.EtoroClosePosition{}, fmt.Errorf("memory: close position %s: %w", positionID, domain.ErrNotFound)
}

func (s *EtoroStore) UpdateOpenPositions(_ context.Context, positions []domain.EtoroOpenPosition) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	index := make(map[string]int, len(s.db.etoroOpen))
	for i, p := range s.db.etoroOpen {
		index[p.PositionID] = i
	}
	for _, p := range positions {
		i, ok := index[p.PositionID]
		if !ok {
			return fmt.Errorf("memory: open position %s: %w", p.PositionID, domain.ErrNotFound)
		}
		s.db.etoroOpen[i] = p
	}
	return nil
}

func (s *EtoroStore) Reset(_ context.Context, exchange string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.etoroOpen = nil
	s.db.etoroClose = nil
	s.db.dropExchange(exchange)
	return nil
}

var _ domain.EtoroStore = (*EtoroStore)(nil)
