package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arbitonlabs/arbiton/internal/domain"
)

// history ring-buffers terminal PipelineContexts up to a fixed retention
// count; once full, the oldest entry is evicted and, if an archive store is
// configured, flushed to cold storage first so the cap does not silently
// destroy data.
type history struct {
	mu        sync.Mutex
	retention int
	entries   []domain.PipelineContext
	archive   domain.ArchiveStore
	log       *slog.Logger
}

func newHistory(retention int, archive domain.ArchiveStore, log *slog.Logger) *history {
	return &history{
		retention: retention,
		entries:   make([]domain.PipelineContext, 0, retention),
		archive:   archive,
		log:       log.With(slog.String("component", "pipeline_history")),
	}
}

// record appends a terminal context, archiving and truncating the oldest
// entry if the ring buffer is at capacity.
func (h *history) record(pc domain.PipelineContext) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) >= h.retention {
		oldest := h.entries[0]
		h.entries = h.entries[1:]
		h.archiveOldest(oldest)
	}
	h.entries = append(h.entries, pc)
}

func (h *history) archiveOldest(pc domain.PipelineContext) {
	if h.archive == nil {
		return
	}
	record := domain.ArchiveRecord{
		Kind: "pipeline_context",
		ID:   pc.Opportunity.ID,
		Payload: map[string]any{
			"stage":              string(pc.Stage),
			"reject_reason":      pc.RejectReason,
			"opportunity_type":   string(pc.Opportunity.Type),
			"execution_priority": pc.ExecutionPriority,
			"score_total":        pc.Scores.Total,
		},
		Timestamp: pc.LastUpdated,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.archive.Append(ctx, record); err != nil {
		h.log.Warn("failed to archive truncated pipeline context",
			slog.String("id", pc.Opportunity.ID),
			slog.String("error", err.Error()),
		)
	}
}

// snapshot returns a copy of the retained contexts, oldest first.
func (h *history) snapshot() []domain.PipelineContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.PipelineContext, len(h.entries))
	copy(out, h.entries)
	return out
}
