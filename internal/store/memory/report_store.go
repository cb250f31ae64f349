package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// ReportStore implements domain.ReportStore.
type ReportStore struct {
	db *DB
}

func (s *ReportStore) Save(_ context.Context, report *domain.TaxReport) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	report.ID = s.db.nextID()
	for i := range report.Disposals {
		report.Disposals[i].ID = s.db.nextID()
		report.Disposals[i].ReportID = report.ID
	}

	stored := *report
	stored.Disposals = append([]domain.Disposal(nil), report.Disposals...)
	s.db.reports = append(s.db.reports, stored)
	return nil
}

func (s *ReportStore) GetByID(_ context.Context, id int64) (domain.TaxReport, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, r := range s.db.reports {
		if r.ID == id {
			r.Disposals = append([]domain.Disposal(nil), r.Disposals...)
			return r, nil
		}
	}
	return domain.TaxReport{}, fmt.Errorf("memory: report %d: %w", id, domain.ErrNotFound)
}

var _ domain.ReportStore = (*ReportStore)(nil)
