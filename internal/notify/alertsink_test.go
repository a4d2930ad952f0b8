package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name     string
	titles   []string
	messages []string
	err      error
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAlertSinkCriticalBypassesEventFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	notifier := NewNotifier([]Sender{sender}, []string{"only_this_event"}, discardLogger())
	sink := NewAlertSink(notifier)

	err := sink.Send(context.Background(), "breaker.tripped", map[string]any{"name": "dailyLoss"}, domain.AlertPriorityCritical)
	require.NoError(t, err)
	require.Len(t, sender.titles, 1)
	assert.Contains(t, sender.titles[0], "CRITICAL")
	assert.Contains(t, sender.messages[0], "name: dailyLoss")
}

func TestAlertSinkWarningRespectsEventFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	notifier := NewNotifier([]Sender{sender}, []string{"only_this_event"}, discardLogger())
	sink := NewAlertSink(notifier)

	err := sink.Send(context.Background(), "incident.detected", map[string]any{"id": "inc-1"}, domain.AlertPriorityWarning)
	require.NoError(t, err)
	assert.Empty(t, sender.titles, "event not in allow-list should be filtered out")
}

func TestAlertSinkPropagatesSenderError(t *testing.T) {
	sender := &recordingSender{name: "test", err: errors.New("boom")}
	notifier := NewNotifier([]Sender{sender}, nil, discardLogger())
	sink := NewAlertSink(notifier)

	err := sink.Send(context.Background(), "incident.detected", map[string]any{"id": "inc-1"}, domain.AlertPriorityInfo)
	assert.Error(t, err)
}
