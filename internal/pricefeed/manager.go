// Package pricefeed implements the PriceFeed fan-in (C3): it owns a set of
// domain.PriceSource variants, tracks each source's reliability, applies
// failover/backoff on repeated failure, and forwards fresh PricePoints to
// the aggregator while watching for per-symbol price anomalies.
package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/arbitonlabs/arbiton/internal/transport"
	"github.com/google/uuid"
)

const (
	recentWindowSize = 50
	recentWindowAge  = 30 * time.Second
)

type registeredSource struct {
	id      string
	source  domain.PriceSource
	symbols []string
	weight  float64
}

// Manager fans in multiple PriceSources, tracks per-source reliability, and
// forwards aggregated-eligible points downstream.
type Manager struct {
	log *slog.Logger
	cfg config.PriceFeedConfig

	onPoint       func(domain.PricePoint)
	onOpportunity func(domain.Opportunity)

	mu          sync.Mutex
	sources     []*registeredSource
	reliability map[string]*domain.ReliabilityRecord
	recent      map[string][]domain.PricePoint // symbol -> trailing window across all sources
}

// New creates a Manager. onPoint receives every valid PricePoint observed
// (destined for the aggregator's inbound channel); onOpportunity receives
// critical price_anomaly Opportunities detected directly by the feed.
func New(cfg config.PriceFeedConfig, onPoint func(domain.PricePoint), onOpportunity func(domain.Opportunity), log *slog.Logger) *Manager {
	return &Manager{
		log:           log.With(slog.String("component", "pricefeed")),
		cfg:           cfg,
		onPoint:       onPoint,
		onOpportunity: onOpportunity,
		reliability:   make(map[string]*domain.ReliabilityRecord),
		recent:        make(map[string][]domain.PricePoint),
	}
}

// Register adds a source to the fan-in set, to be started by Run.
func (m *Manager) Register(id string, source domain.PriceSource, symbols []string, weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, &registeredSource{id: id, source: source, symbols: symbols, weight: weight})
	m.reliability[id] = &domain.ReliabilityRecord{SuccessRate: 1.0}
}

// Run starts every registered source concurrently and blocks until ctx is
// cancelled, at which point every source is closed.
func (m *Manager) Run(ctx context.Context, pollInterval time.Duration) error {
	m.mu.Lock()
	sources := append([]*registeredSource(nil), m.sources...)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, rs := range sources {
		wg.Add(1)
		go func(rs *registeredSource) {
			defer wg.Done()
			m.runSource(ctx, rs, pollInterval)
		}(rs)
	}

	<-ctx.Done()
	for _, rs := range sources {
		if err := rs.source.Close(); err != nil {
			m.log.Warn("source close failed", slog.String("source", rs.id), slog.Any("error", err))
		}
	}
	wg.Wait()
	return ctx.Err()
}

// runSource repeatedly subscribes rs, applying the failure-threshold and
// backoff scheme (shared with transport's backoff helper): after
// failoverThreshold consecutive failures the source is held back until its
// next scheduled retry instead of being called every loop iteration.
func (m *Manager) runSource(ctx context.Context, rs *registeredSource, pollInterval time.Duration) {
	backoff := transport.NewBackoff(time.Second, 2*time.Minute)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		err := rs.source.Subscribe(ctx, rs.symbols, func(p domain.PricePoint) {
			m.handlePoint(rs.id, p)
		})

		m.mu.Lock()
		rec := m.reliability[rs.id]
		if err != nil {
			rec.RecordFailure()
		} else {
			rec.RecordSuccess(time.Since(start), time.Now())
		}
		failed := rec.ConsecutiveFailures >= m.failoverThreshold()
		rec.Failed = failed
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			m.log.Warn("source subscribe failed", slog.String("source", rs.id), slog.Any("error", err))
		}

		wait := pollInterval
		if failed {
			wait = backoff.Next()
		} else {
			backoff.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (m *Manager) failoverThreshold() int {
	if m.cfg.FailoverThreshold > 0 {
		return m.cfg.FailoverThreshold
	}
	return 5
}

// handlePoint records the point in the trailing window, checks for
// anomalies against other sources' recent quotes, and forwards it to the
// aggregator callback.
func (m *Manager) handlePoint(sourceID string, p domain.PricePoint) {
	if !p.Valid() {
		return
	}

	m.mu.Lock()
	window := m.appendRecentLocked(p)
	m.mu.Unlock()

	if mean, ok := meanExcludingSource(window, sourceID, p.ObservedAt); ok && mean > 0 {
		threshold := m.cfg.AnomalyThreshold
		if threshold <= 0 {
			threshold = 0.05
		}
		deviation := absFloat(p.Price-mean) / mean
		if deviation > threshold && m.onOpportunity != nil {
			m.onOpportunity(m.buildAnomalyOpportunity(p, mean, deviation, threshold))
		}
	}

	if m.onPoint != nil {
		m.onPoint(p)
	}
}

func (m *Manager) appendRecentLocked(p domain.PricePoint) []domain.PricePoint {
	window := append(m.recent[p.Symbol], p)
	cutoff := p.ObservedAt.Add(-recentWindowAge)
	trimmed := window[:0]
	for _, pt := range window {
		if pt.ObservedAt.After(cutoff) {
			trimmed = append(trimmed, pt)
		}
	}
	if len(trimmed) > recentWindowSize {
		trimmed = trimmed[len(trimmed)-recentWindowSize:]
	}
	m.recent[p.Symbol] = trimmed
	return trimmed
}

func meanExcludingSource(window []domain.PricePoint, sourceID string, now time.Time) (float64, bool) {
	var sum float64
	var count int
	for _, pt := range window {
		if pt.SourceID == sourceID {
			continue
		}
		sum += pt.Price
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

func (m *Manager) buildAnomalyOpportunity(p domain.PricePoint, mean, deviation, threshold float64) domain.Opportunity {
	confidence := deviation / threshold
	if confidence > 1.0 {
		confidence = 1.0
	}
	return domain.Opportunity{
		ID:         uuid.NewString(),
		Type:       domain.OpportunityPriceAnomaly,
		Symbol:     p.Symbol,
		Source:     p.SourceID,
		DetectedAt: p.ObservedAt,
		Urgency:    domain.UrgencyCritical,
		Status:     domain.StatusDetected,
		Confidence: confidence,
		Anomaly: &domain.AnomalyPayload{
			Symbol:        p.Symbol,
			ObservedPrice: p.Price,
			RecentMean:    mean,
			DeviationPct:  deviation,
		},
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Reliability returns a snapshot of a registered source's reliability
// record, for status reporting.
func (m *Manager) Reliability(sourceID string) (domain.ReliabilityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.reliability[sourceID]
	if !ok {
		return domain.ReliabilityRecord{}, fmt.Errorf("pricefeed: unknown source %s", sourceID)
	}
	return *rec, nil
}
