package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/phoenixfi/bondtreasury/internal/domain"
)

// archiveBatchSize bounds how many audit rows are drained per upload.
const archiveBatchSize = 1000

// Archiver drains old audit-log entries into S3: rows older than the
// retention cutoff are serialized to JSONL, uploaded, and only then deleted
// from the primary store.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveAudit uploads every audit entry created before the cutoff and
// deletes the archived rows. It returns the number of archived entries.
// Deletion happens only after all uploads succeeded, so a failed upload
// leaves the primary store intact.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for batch := 0; ; batch++ {
		entries, err := a.audit.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		buf, err := marshalJSONL(entries)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit marshal: %w", err)
		}

		key := archiveKey(before, batch)
		if err := a.writer.Put(ctx, key, buf, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive audit upload: %w", err)
		}

		// Delete exactly the rows that were uploaded. ListBefore returns the
		// oldest rows first, so deleting up to the last entry's timestamp is
		// safe even while new rows keep arriving.
		last := entries[len(entries)-1].CreatedAt
		deleted, err := a.audit.DeleteBefore(ctx, last.Add(time.Nanosecond))
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit delete: %w", err)
		}
		total += deleted

		a.logger.InfoContext(ctx, "audit batch archived",
			slog.String("key", key),
			slog.Int("entries", len(entries)),
			slog.Int64("deleted", deleted),
		)

		if len(entries) < archiveBatchSize {
			break
		}
	}
	return total, nil
}

// Run archives on a fixed interval until the context is cancelled. retention
// is how long entries stay in the primary store before being drained.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := a.ArchiveAudit(ctx, time.Now().Add(-retention))
			if err != nil {
				a.logger.ErrorContext(ctx, "audit archive run failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "audit archive run complete",
					slog.Int64("archived", count),
				)
			}
		}
	}
}

// archiveKey builds the S3 key for one archive upload, partitioned by the
// year-month of the cutoff:
//
//	archive/audit/2026-08/batch-0000.jsonl
func archiveKey(before time.Time, batch int) string {
	return fmt.Sprintf("archive/audit/%s/batch-%04d.jsonl", before.Format("2006-01"), batch)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
