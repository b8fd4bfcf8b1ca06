package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketescrow/internal/domain"
)

const reportContentType = "application/json"

// SettlementReport is the archived body for a finalized market.
type SettlementReport struct {
	Market     domain.Market           `json:"market"`
	Settlement domain.SettlementRecord `json:"settlement"`
	ArchivedAt time.Time               `json:"archived_at"`
}

// EscalationReport is the archived body for a market sent to admin review.
type EscalationReport struct {
	Market     domain.Market             `json:"market"`
	Forfeiture domain.TreasuryForfeiture `json:"forfeiture"`
	ArchivedAt time.Time                 `json:"archived_at"`
}

// Archiver implements domain.SettlementArchiver. Reports are immutable and
// keyed by market, so rewriting one for the same market is harmless.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	now    func() time.Time
}

// NewArchiver creates an Archiver writing under prefix (may be empty).
func NewArchiver(writer domain.BlobWriter, prefix string) *Archiver {
	return &Archiver{writer: writer, prefix: prefix, now: time.Now}
}

// ArchiveSettlement uploads the settlement report and returns its key.
func (a *Archiver) ArchiveSettlement(ctx context.Context, m domain.Market, rec domain.SettlementRecord) (string, error) {
	key := a.reportKey("settlements", rec.FinalizedAt, m.ID)
	report := SettlementReport{Market: m, Settlement: rec, ArchivedAt: a.now().UTC()}
	if err := a.put(ctx, key, report); err != nil {
		return "", fmt.Errorf("s3blob: archive settlement %s: %w", m.ID, err)
	}
	return key, nil
}

// ArchiveEscalation uploads the escalation report and returns its key.
func (a *Archiver) ArchiveEscalation(ctx context.Context, m domain.Market, f domain.TreasuryForfeiture) (string, error) {
	at := f.CreatedAt
	if m.DeadlineExceededAt != nil {
		at = *m.DeadlineExceededAt
	}
	key := a.reportKey("escalations", at, m.ID)
	report := EscalationReport{Market: m, Forfeiture: f, ArchivedAt: a.now().UTC()}
	if err := a.put(ctx, key, report); err != nil {
		return "", fmt.Errorf("s3blob: archive escalation %s: %w", m.ID, err)
	}
	return key, nil
}

func (a *Archiver) put(ctx context.Context, key string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return a.writer.Put(ctx, key, bytes.NewReader(body), reportContentType)
}

// reportKey partitions reports by UTC day:
//
//	settlements/2025-01-31/<market-id>.json
//	escalations/2025-02-02/<market-id>.json
func (a *Archiver) reportKey(kind string, at time.Time, marketID string) string {
	key := fmt.Sprintf("%s/%s/%s.json", kind, at.UTC().Format(time.DateOnly), marketID)
	if a.prefix == "" {
		return key
	}
	return a.prefix + "/" + key
}

var _ domain.SettlementArchiver = (*Archiver)(nil)
