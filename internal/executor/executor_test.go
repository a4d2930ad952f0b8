package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []domain.Opportunity
	err   error
	res   domain.ExecutionResult
}

func (f *fakeExecutor) Execute(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opp)
	return f.res, f.err
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func pipelineContext(id string, detectedAt time.Time) domain.PipelineContext {
	return domain.PipelineContext{
		Opportunity: domain.Opportunity{
			ID:         id,
			Type:       domain.OpportunityPriceArbitrage,
			DetectedAt: detectedAt,
		},
		Stage: domain.StageQueuedForExecution,
	}
}

func TestExecutorForwardsToDomainExecutor(t *testing.T) {
	ch := make(chan domain.PipelineContext, 1)
	fake := &fakeExecutor{res: domain.ExecutionResult{Success: true}}
	e := New(ch, fake, Config{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	ch <- pipelineContext("opp-1", time.Now())
	require.Eventually(t, func() bool { return fake.callCount() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestExecutorSkipsDuplicateIDs(t *testing.T) {
	ch := make(chan domain.PipelineContext, 2)
	fake := &fakeExecutor{res: domain.ExecutionResult{Success: true}}
	e := New(ch, fake, Config{DedupTTL: time.Minute}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	now := time.Now()
	ch <- pipelineContext("dup", now)
	require.Eventually(t, func() bool { return fake.callCount() == 1 }, time.Second, time.Millisecond)

	ch <- pipelineContext("dup", now)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fake.callCount(), "duplicate opportunity ID must not be forwarded twice within TTL")

	cancel()
	<-done
}

func TestExecutorSkipsStaleOpportunities(t *testing.T) {
	ch := make(chan domain.PipelineContext, 1)
	fake := &fakeExecutor{res: domain.ExecutionResult{Success: true}}
	e := New(ch, fake, Config{MaxAge: 10 * time.Millisecond}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	ch <- pipelineContext("stale", time.Now().Add(-time.Minute))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fake.callCount(), "opportunity older than MaxAge must be skipped")

	cancel()
	<-done
}

func TestExecutorLogsExecutionError(t *testing.T) {
	ch := make(chan domain.PipelineContext, 1)
	fake := &fakeExecutor{err: errors.New("rpc unavailable")}
	e := New(ch, fake, Config{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	ch <- pipelineContext("opp-err", time.Now())
	require.Eventually(t, func() bool { return fake.callCount() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestExecutorDrainsBufferedOpportunitiesOnShutdown(t *testing.T) {
	ch := make(chan domain.PipelineContext, 4)
	fake := &fakeExecutor{res: domain.ExecutionResult{Success: true}}
	e := New(ch, fake, Config{}, discardLogger())

	ch <- pipelineContext("a", time.Now())
	ch <- pipelineContext("b", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.callCount(), "buffered opportunities must be drained before shutdown returns")
}

func TestDedupCleanupRemovesExpiredEntries(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)
	assert.False(t, d.IsDuplicate("x"))
	assert.True(t, d.IsDuplicate("x"))

	time.Sleep(20 * time.Millisecond)
	d.Cleanup()
	assert.False(t, d.IsDuplicate("x"), "entry should have aged out of the dedup table")
}
