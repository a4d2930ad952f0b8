package router

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouterConfig() config.RouterConfig {
	cfg := config.RouterConfig{BatchSize: 10, MaxQueueSize: 40, ErrorBudget: 3}
	cfg.BatchInterval.Duration = 10 * time.Millisecond
	return cfg
}

func TestRouterMatchesAndEnqueues(t *testing.T) {
	r := New(testRouterConfig(), nil, slog.Default())
	r.RegisterRoute(domain.Route{
		Name:     "swaps",
		Match:    regexp.MustCompile("^swap$"),
		Handler:  "swap_handler",
		Priority: domain.PriorityHigh,
	}, nil)

	r.Ingest(context.Background(), domain.RawEvent{EventType: "swap", TxHash: "0x1"})
	r.Ingest(context.Background(), domain.RawEvent{EventType: "mint", TxHash: "0x2"})

	assert.Equal(t, 1, r.QueueDepth(domain.PriorityHigh))
	assert.Equal(t, 0, r.QueueDepth(domain.PriorityLow))
}

func TestRouterDropsOldestOnOverflow(t *testing.T) {
	cfg := testRouterConfig()
	cfg.MaxQueueSize = 8 // 2 per priority queue
	r := New(cfg, nil, slog.Default())
	r.RegisterRoute(domain.Route{Name: "all", Priority: domain.PriorityLow, Handler: "h"}, nil)

	for i := 0; i < 5; i++ {
		r.Ingest(context.Background(), domain.RawEvent{EventType: "e", TxHash: string(rune('a' + i))})
	}

	assert.Equal(t, 2, r.QueueDepth(domain.PriorityLow))
}

func TestRouterDispatchesBatchesToHandler(t *testing.T) {
	r := New(testRouterConfig(), nil, slog.Default())
	r.RegisterRoute(domain.Route{Name: "all", Priority: domain.PriorityCritical, Handler: "critical_handler"}, nil)

	var mu sync.Mutex
	var received []domain.RawEvent
	r.RegisterHandler("critical_handler", 3, func(ctx context.Context, events []domain.RawEvent) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, events...)
		return nil
	})

	for i := 0; i < 3; i++ {
		r.Ingest(context.Background(), domain.RawEvent{EventType: "e", TxHash: string(rune('a' + i))})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)
}

func TestDefaultNormalizeCastsNumericFieldsAndAttachesRoute(t *testing.T) {
	route := domain.Route{Name: "swaps"}
	e := domain.RawEvent{
		EventType: "swap",
		Payload:   map[string]any{"amount": int64(42), "count": int(3)},
	}

	out := defaultNormalize(route, e)
	assert.Equal(t, float64(42), out.Payload["amount"])
	assert.Equal(t, float64(3), out.Payload["count"])
	assert.Equal(t, "swaps", out.Payload["_route"])
}
