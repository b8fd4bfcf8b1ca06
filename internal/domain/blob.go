package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// SettlementArchiver keeps a cold copy of every terminal market outcome.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, m Market, rec SettlementRecord) (string, error)
	ArchiveEscalation(ctx context.Context, m Market, f TreasuryForfeiture) (string, error)
}
