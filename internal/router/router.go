// Package router implements the event router (C5): it categorizes raw
// chain/platform events against a set of registered routes, optionally
// cache-checks and transforms each match, and fans it out onto one of
// four strict-priority queues drained in batches by per-priority
// dispatcher goroutines.
package router

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbitonlabs/arbiton/internal/cache"
	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Handler processes a batch of events routed to one handler name. Errors
// are counted against that handler's error budget; they are logged and
// do not stop routing.
type Handler func(ctx context.Context, events []domain.RawEvent) error

// Transformer rewrites a matched event before it is enqueued.
type Transformer func(route domain.Route, event domain.RawEvent) domain.RawEvent

type queue struct {
	mu      sync.Mutex
	items   *list.List
	maxSize int
}

func newQueue(maxSize int) *queue {
	return &queue{items: list.New(), maxSize: maxSize}
}

// push appends e, dropping the oldest entry if the queue is at capacity.
func (q *queue) push(e domain.RawEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() >= q.maxSize {
		q.items.Remove(q.items.Front())
	}
	q.items.PushBack(e)
}

// drain removes up to n items in FIFO order.
func (q *queue) drain(n int) []domain.RawEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.RawEvent, 0, n)
	for len(out) < n {
		front := q.items.Front()
		if front == nil {
			break
		}
		out = append(out, front.Value.(domain.RawEvent))
		q.items.Remove(front)
	}
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type registeredRoute struct {
	route       domain.Route
	transformer Transformer
}

// Router dispatches RawEvents to registered handlers through 4 fixed
// priority queues.
type Router struct {
	log   *slog.Logger
	cfg   config.RouterConfig
	cache *cache.Manager

	mu       sync.RWMutex
	routes   []registeredRoute
	handlers map[string]Handler
	budgets  map[string]int // remaining error budget per handler

	queues map[domain.Priority]*queue
}

// New creates a Router. cacheMgr may be nil to disable route cache-checks.
func New(cfg config.RouterConfig, cacheMgr *cache.Manager, log *slog.Logger) *Router {
	maxPerQueue := cfg.MaxQueueSize / 4
	if maxPerQueue <= 0 {
		maxPerQueue = 100
	}
	queues := make(map[domain.Priority]*queue, len(domain.Priorities))
	for _, p := range domain.Priorities {
		queues[p] = newQueue(maxPerQueue)
	}
	return &Router{
		log:      log.With(slog.String("component", "router")),
		cfg:      cfg,
		cache:    cacheMgr,
		handlers: make(map[string]Handler),
		budgets:  make(map[string]int),
		queues:   queues,
	}
}

// RegisterRoute adds a routing rule. transformer may be nil to use the
// default normalizer when route.Transform is set.
func (r *Router) RegisterRoute(route domain.Route, transformer Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, registeredRoute{route: route, transformer: transformer})
}

// RegisterHandler registers the handler invoked on each batch drained for
// handlerName, with an error budget of budget failures (the configured
// ErrorBudget when budget <= 0) before the handler is logged as exhausted
// (routing continues regardless).
func (r *Router) RegisterHandler(handlerName string, budget int, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerName] = h
	if budget <= 0 {
		budget = r.cfg.ErrorBudget
	}
	r.budgets[handlerName] = budget
}

// Ingest matches event against every registered route; each match is
// optionally cache-checked, transformed, and enqueued on its route's
// priority queue.
func (r *Router) Ingest(ctx context.Context, event domain.RawEvent) {
	r.mu.RLock()
	routes := append([]registeredRoute(nil), r.routes...)
	r.mu.RUnlock()

	for _, rr := range routes {
		if !rr.route.Matches(event) {
			continue
		}

		if rr.route.CacheOn && r.cache != nil {
			key := cacheKey(rr.route.Name, event)
			if _, hit, err := r.cache.Get(ctx, domain.CategoryTransactions, key); err == nil && hit {
				continue
			} else if err == nil {
				_ = r.cache.Set(ctx, domain.CategoryTransactions, key, []byte{1})
			}
		}

		out := event
		if rr.route.Transform {
			if rr.transformer != nil {
				out = rr.transformer(rr.route, event)
			} else {
				out = defaultNormalize(rr.route, event)
			}
		}

		q, ok := r.queues[rr.route.Priority]
		if !ok {
			q = r.queues[domain.PriorityLow]
		}
		q.push(out)
	}
}

func cacheKey(routeName string, e domain.RawEvent) string {
	return fmt.Sprintf("%s:%s:%s:%d:%s", routeName, e.EventType, e.Contract, e.Block, e.TxHash)
}

// defaultNormalize casts known numeric-looking payload fields to float64
// and attaches route metadata, without resorting to reflection-based
// generic marshaling.
func defaultNormalize(route domain.Route, e domain.RawEvent) domain.RawEvent {
	payload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		switch val := v.(type) {
		case int:
			payload[k] = float64(val)
		case int64:
			payload[k] = float64(val)
		case uint64:
			payload[k] = float64(val)
		case float32:
			payload[k] = float64(val)
		default:
			payload[k] = v
		}
	}
	payload["_route"] = route.Name
	e.Payload = payload
	return e
}

// Run starts one dispatcher goroutine per priority queue, each draining up
// to BatchSize events per BatchInterval tick and invoking the handler
// registered under its route's handler name. Blocks until ctx is
// cancelled.
func (r *Router) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range domain.Priorities {
		p := p
		g.Go(func() error {
			return r.runPriority(gctx, p)
		})
	}
	return g.Wait()
}

func (r *Router) runPriority(ctx context.Context, priority domain.Priority) error {
	interval := r.cfg.BatchInterval.Duration
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	q := r.queues[priority]
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.drainAndDispatch(ctx, q, batchSize)
		}
	}
}

func (r *Router) drainAndDispatch(ctx context.Context, q *queue, batchSize int) {
	events := q.drain(batchSize)
	if len(events) == 0 {
		return
	}

	byHandler := make(map[string][]domain.RawEvent)
	r.mu.RLock()
	for _, rr := range r.routes {
		for _, e := range events {
			if rr.route.Matches(e) {
				byHandler[rr.route.Handler] = append(byHandler[rr.route.Handler], e)
			}
		}
	}
	r.mu.RUnlock()

	for name, batch := range byHandler {
		r.dispatch(ctx, name, batch)
	}
}

func (r *Router) dispatch(ctx context.Context, handlerName string, batch []domain.RawEvent) {
	r.mu.RLock()
	h := r.handlers[handlerName]
	r.mu.RUnlock()
	if h == nil {
		return
	}

	if err := h(ctx, batch); err != nil {
		r.mu.Lock()
		r.budgets[handlerName]--
		remaining := r.budgets[handlerName]
		r.mu.Unlock()

		r.log.Warn("handler error",
			slog.String("handler", handlerName),
			slog.Int("batch_size", len(batch)),
			slog.Int("error_budget_remaining", remaining),
			slog.Any("error", err),
		)
		if remaining <= 0 {
			r.log.Error("handler error budget exhausted", slog.String("handler", handlerName))
		}
	}
}

// QueueDepth returns the current backlog for a priority, for status
// reporting.
func (r *Router) QueueDepth(priority domain.Priority) int {
	r.mu.RLock()
	q, ok := r.queues[priority]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return q.len()
}
