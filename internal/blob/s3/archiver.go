package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbitonlabs/arbiton/internal/domain"
)

// flushThreshold is the number of buffered records per kind that triggers an
// upload without waiting for an explicit Flush call.
const flushThreshold = 200

// Archiver implements domain.ArchiveStore by buffering ArchiveRecords
// in-process, grouped by Kind, and flushing each group to S3 as a
// newline-delimited JSON (JSONL) object once the buffer crosses
// flushThreshold or Flush is called explicitly (e.g. on shutdown).
//
// Buffering trades a small risk of losing the last partial batch on a crash
// for far fewer S3 PUT calls than one object per truncated PipelineContext
// or resolved Incident.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	log    *slog.Logger

	mu      sync.Mutex
	buffers map[string][]domain.ArchiveRecord
}

var _ domain.ArchiveStore = (*Archiver)(nil)

// NewArchiver creates an Archiver that uploads through writer and, if audit
// is non-nil, records one audit log entry per flush.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		audit:   audit,
		log:     logger.With(slog.String("component", "archiver")),
		buffers: make(map[string][]domain.ArchiveRecord),
	}
}

// Append buffers the record under its Kind and flushes that kind's buffer
// once it reaches flushThreshold.
func (a *Archiver) Append(ctx context.Context, record domain.ArchiveRecord) error {
	a.mu.Lock()
	a.buffers[record.Kind] = append(a.buffers[record.Kind], record)
	shouldFlush := len(a.buffers[record.Kind]) >= flushThreshold
	a.mu.Unlock()

	if shouldFlush {
		return a.flushKind(ctx, record.Kind)
	}
	return nil
}

// Flush uploads every buffered kind's pending records regardless of size,
// for use on graceful shutdown so nothing buffered is lost.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	kinds := make([]string, 0, len(a.buffers))
	for kind, records := range a.buffers {
		if len(records) > 0 {
			kinds = append(kinds, kind)
		}
	}
	a.mu.Unlock()

	var firstErr error
	for _, kind := range kinds {
		if err := a.flushKind(ctx, kind); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Archiver) flushKind(ctx context.Context, kind string) error {
	a.mu.Lock()
	records := a.buffers[kind]
	delete(a.buffers, kind)
	a.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, time.Now())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":  path,
			"count": len(records),
		}); err != nil {
			a.log.WarnContext(ctx, "archive flush: audit log failed",
				slog.String("kind", kind), slog.String("error", err.Error()))
		}
	}

	a.log.InfoContext(ctx, "archived records",
		slog.String("kind", kind), slog.String("path", path), slog.Int("count", len(records)))
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive batch, partitioned by kind
// and the UTC year-month-day-time (down to nanoseconds) of the flush, so
// successive flushes of the same kind on the same day never collide.
//
//	archive/pipeline_context/2026-07-31T153000.000000000.jsonl
//	archive/incident/2026-07-31T153000.000000000.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.UTC().Format("2006-01-02T150405.000000000"))
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
