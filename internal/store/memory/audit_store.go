package memory

import (
	"context"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	db *DB
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.audit = append(s.db.audit, domain.AuditEntry{
		ID:        s.db.nextID(),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns the newest entries first.
func (s *AuditStore) List(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]domain.AuditEntry, 0, len(s.db.audit))
	for i := len(s.db.audit) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.db.audit[i])
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
