package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
)

// Worker owns the per-symbol price map fed by an inbound PricePoint
// channel (the pricefeed Manager's onPoint callback writes into it) and
// periodically aggregates each symbol, forwarding results and any
// emitted Opportunities to the supplied callbacks.
type Worker struct {
	log *slog.Logger
	cfg config.AggregatorConfig

	onAggregate   func(domain.AggregatedPrice)
	onOpportunity func(domain.Opportunity)

	mu     sync.Mutex
	prices map[string][]domain.PricePoint

	inbound chan domain.PricePoint
}

// maxPointsPerSymbol bounds the per-symbol buffer so a symbol with many
// sources or a stalled aggregation tick cannot grow the map unboundedly.
const maxPointsPerSymbol = 64

// NewWorker creates a Worker. inboundBuffer sizes the channel returned by
// Inbound.
func NewWorker(cfg config.AggregatorConfig, inboundBuffer int, onAggregate func(domain.AggregatedPrice), onOpportunity func(domain.Opportunity), log *slog.Logger) *Worker {
	if inboundBuffer <= 0 {
		inboundBuffer = 256
	}
	return &Worker{
		log:           log.With(slog.String("component", "aggregator")),
		cfg:           cfg,
		onAggregate:   onAggregate,
		onOpportunity: onOpportunity,
		prices:        make(map[string][]domain.PricePoint),
		inbound:       make(chan domain.PricePoint, inboundBuffer),
	}
}

// Inbound returns the channel the pricefeed manager should forward
// PricePoints into.
func (w *Worker) Inbound() chan<- domain.PricePoint {
	return w.inbound
}

// Run drains the inbound channel, updating the per-symbol price map, and
// aggregates on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-w.inbound:
			if !ok {
				return nil
			}
			w.record(p)
		case now := <-ticker.C:
			w.aggregateAll(now)
		}
	}
}

func (w *Worker) record(p domain.PricePoint) {
	if !p.Valid() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	points := append(w.prices[p.Symbol], p)
	if len(points) > maxPointsPerSymbol {
		points = points[len(points)-maxPointsPerSymbol:]
	}
	w.prices[p.Symbol] = points
}

func (w *Worker) aggregateAll(now time.Time) {
	w.mu.Lock()
	symbols := make([]string, 0, len(w.prices))
	snapshot := make(map[string][]domain.PricePoint, len(w.prices))
	for sym, points := range w.prices {
		symbols = append(symbols, sym)
		snapshot[sym] = append([]domain.PricePoint(nil), points...)
	}
	w.mu.Unlock()

	for _, sym := range symbols {
		agg, opps, ok := Aggregate(sym, snapshot[sym], now, w.cfg)
		if !ok {
			continue
		}
		if w.onAggregate != nil {
			w.onAggregate(agg)
		}
		for _, opp := range opps {
			if w.onOpportunity != nil {
				w.onOpportunity(opp)
			}
		}
	}
}

// Snapshot returns the current buffered points for symbol, for status
// reporting and tests.
func (w *Worker) Snapshot(symbol string) []domain.PricePoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.PricePoint(nil), w.prices[symbol]...)
}
