package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/arbitonlabs/arbiton/internal/domain"
)

// AlertSink adapts a Notifier to domain.AlertSink, the narrow collaborator
// consumed by the safety plane (breaker trips, incident lifecycle, emergency
// stop transitions). It renders the payload map into the title/message shape
// Notifier's Senders expect and routes on priority: critical alerts bypass
// the notifier's per-event allow-list via NotifyAll, everything else goes
// through the filtered Notify path keyed on category.
type AlertSink struct {
	notifier *Notifier
}

var _ domain.AlertSink = (*AlertSink)(nil)

// NewAlertSink wraps notifier as a domain.AlertSink.
func NewAlertSink(notifier *Notifier) *AlertSink {
	return &AlertSink{notifier: notifier}
}

// Send implements domain.AlertSink.
func (a *AlertSink) Send(ctx context.Context, category string, payload map[string]any, priority domain.AlertPriority) error {
	title := fmt.Sprintf("[%s] %s", strings.ToUpper(string(priority)), category)
	message := renderPayload(payload)

	if priority == domain.AlertPriorityCritical {
		return a.notifier.NotifyAll(ctx, title, message)
	}
	return a.notifier.Notify(ctx, category, title, message)
}

// renderPayload formats an alert payload as sorted "key: value" lines so
// notification text is stable across runs (map iteration order is not).
func renderPayload(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, payload[k]))
	}
	return strings.Join(lines, "\n")
}
