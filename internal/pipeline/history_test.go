package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingArchiveStore struct {
	mu      sync.Mutex
	records []domain.ArchiveRecord
	err     error
}

func (s *recordingArchiveStore) Append(ctx context.Context, record domain.ArchiveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *recordingArchiveStore) snapshot() []domain.ArchiveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ArchiveRecord, len(s.records))
	copy(out, s.records)
	return out
}

func TestHistoryTruncatesAndArchivesOldest(t *testing.T) {
	store := &recordingArchiveStore{}
	h := newHistory(2, store, discardLogger())

	for i := 0; i < 3; i++ {
		h.record(domain.PipelineContext{
			Opportunity: domain.Opportunity{ID: string(rune('a' + i))},
			Stage:       domain.StageQueuedForExecution,
			LastUpdated: time.Now(),
		})
	}

	entries := h.snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Opportunity.ID)
	assert.Equal(t, "c", entries[1].Opportunity.ID)

	archived := store.snapshot()
	require.Len(t, archived, 1)
	assert.Equal(t, "a", archived[0].ID)
	assert.Equal(t, "pipeline_context", archived[0].Kind)
}

func TestHistoryWithoutArchiveStoreStillTruncates(t *testing.T) {
	h := newHistory(1, nil, discardLogger())

	h.record(domain.PipelineContext{Opportunity: domain.Opportunity{ID: "first"}})
	h.record(domain.PipelineContext{Opportunity: domain.Opportunity{ID: "second"}})

	entries := h.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Opportunity.ID)
}

func TestHistoryArchiveFailureDoesNotBlockTruncation(t *testing.T) {
	store := &recordingArchiveStore{err: assert.AnError}
	h := newHistory(1, store, discardLogger())

	h.record(domain.PipelineContext{Opportunity: domain.Opportunity{ID: "first"}})
	h.record(domain.PipelineContext{Opportunity: domain.Opportunity{ID: "second"}})

	entries := h.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Opportunity.ID)
}
