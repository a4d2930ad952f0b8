package domain

import (
	"context"
	"time"
)

// AuditEntry is a single append-only row recording a safety-plane event
// (breaker trip/recovery, emergency-stop phase transition, incident
// timeline entry). This is operational history, not accounting state.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts provides pagination and time filtering for audit queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditStore persists the safety plane's operational audit trail.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ArchiveRecord is one JSONL-archived item sent to cold storage when the
// pipeline's or incident manager's in-memory history is truncated.
type ArchiveRecord struct {
	Kind      string // "pipeline_context" or "incident"
	ID        string
	Payload   map[string]any
	Timestamp time.Time
}

// ArchiveStore writes truncated history to a cold-storage archive.
type ArchiveStore interface {
	Append(ctx context.Context, record ArchiveRecord) error
}
