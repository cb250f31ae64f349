package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/alanyoungcy/cryptotax/internal/report"
)

// ReportArchiver implements domain.ReportArchiver. Archives are write-once:
// an object already stored under a report's path is never replaced.
type ReportArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewReportArchiver creates a ReportArchiver.
func NewReportArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *ReportArchiver {
	return &ReportArchiver{writer: writer, reader: reader, audit: audit}
}

// disposalRecord is the JSONL shape of one archived disposal.
type disposalRecord struct {
	ReportID                 int64  `json:"report_id"`
	DisposalTime             string `json:"disposal_datetime"`
	PortfolioValue           string `json:"current_portfolio_value"`
	DisposalPrice            string `json:"disposal_price"`
	TotalPurchase            string `json:"current_total_purchase"`
	PreviousDisposedPurchase string `json:"current_previous_disposed_purchase"`
	BalancedPurchase         string `json:"current_balanced_purchase"`
	ProfitAndLoss            string `json:"profit_and_loss"`
}

// Archive uploads the rendered CSV and a JSONL copy of the disposals next to
// it, then records the event in the audit log. It returns the CSV path.
func (a *ReportArchiver) Archive(ctx context.Context, r *domain.TaxReport, rendered []byte) (string, error) {
	path := report.ArchivePath(r)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive report %d: %w", r.ID, err)
	}
	if exists {
		return "", fmt.Errorf("s3blob: archive %s: %w", path, domain.ErrAlreadyExists)
	}

	records := make([]disposalRecord, len(r.Disposals))
	for i, d := range r.Disposals {
		records[i] = disposalRecord{
			ReportID:                 r.ID,
			DisposalTime:             d.DisposalTime.UTC().Format(time.RFC3339),
			PortfolioValue:           d.PortfolioValue.StringFixed(2),
			DisposalPrice:            d.DisposalPrice.StringFixed(2),
			TotalPurchase:            d.TotalPurchase.StringFixed(2),
			PreviousDisposedPurchase: d.PreviousDisposedPurchase.StringFixed(2),
			BalancedPurchase:         d.BalancedPurchase.StringFixed(2),
			ProfitAndLoss:            d.ProfitAndLoss.StringFixed(2),
		}
	}
	lines, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive report %d marshal: %w", r.ID, err)
	}

	// The CSV goes last so its presence marks a complete archive.
	jsonlPath := strings.TrimSuffix(path, ".csv") + ".jsonl"
	if err := a.writer.Put(ctx, jsonlPath, bytes.NewReader(lines), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive report %d disposals: %w", r.ID, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(rendered), "text/csv"); err != nil {
		return "", fmt.Errorf("s3blob: archive report %d csv: %w", r.ID, err)
	}

	if err := a.audit.Log(ctx, "report.archived", map[string]any{
		"report_id": r.ID,
		"path":      path,
		"disposals": len(r.Disposals),
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive report %d audit log: %w", r.ID, err)
	}
	return path, nil
}

// marshalJSONL encodes records one compact JSON object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.ReportArchiver = (*ReportArchiver)(nil)
