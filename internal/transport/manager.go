package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
)

// ProbeFunc performs the unary health-probe request against an endpoint's
// base URL (e.g. "get latest block number"). Callers supply one per
// deployment; a nil ProbeFunc falls back to a plain HTTP GET.
type ProbeFunc func(ctx context.Context, client *http.Client, url string) error

// Manager owns a set of transport endpoints, scores them, and exposes the
// primary/failover selection plus streaming subscribe and unary request
// APIs.
type Manager struct {
	log       *slog.Logger
	endpoints map[string]*endpoint
	order     []string // configuration order, for deterministic iteration
	probe     ProbeFunc

	mu sync.RWMutex
}

// New builds a Manager from the transport configuration.
func New(cfg config.TransportConfig, probe ProbeFunc, log *slog.Logger) *Manager {
	m := &Manager{
		log:       log.With(slog.String("component", "transport")),
		endpoints: make(map[string]*endpoint, len(cfg.Endpoints)),
		probe:     probe,
	}
	for _, ec := range cfg.Endpoints {
		m.endpoints[ec.ID] = newEndpoint(ec, cfg.MaxReconnectDelay.Duration, cfg.MaxReconnectAttempts)
		m.order = append(m.order, ec.ID)
	}
	return m
}

// Start connects every configured endpoint and begins periodic health
// probing. It blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context, healthProbeInterval time.Duration) error {
	for id, ep := range m.endpoints {
		if err := ep.connect(ctx); err != nil {
			m.log.Warn("initial connect failed", slog.String("endpoint", id), slog.Any("error", err))
		}
	}

	if healthProbeInterval <= 0 {
		healthProbeInterval = 15 * time.Second
	}
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.Close()
		case <-ticker.C:
			m.runHealthProbes(ctx)
		}
	}
}

func (m *Manager) runHealthProbes(ctx context.Context) {
	for id, ep := range m.endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := ep.probe(probeCtx, m.probe); err != nil {
			m.log.Debug("health probe failed", slog.String("endpoint", id), slog.Any("error", err))
		}
		cancel()
	}
}

// Close shuts down every endpoint.
func (m *Manager) Close() error {
	var firstErr error
	for _, ep := range m.endpoints {
		if err := ep.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Score implements the endpoint scoring formula.
func Score(s endpointSnapshot, now time.Time) float64 {
	if !s.Healthy {
		return -1
	}
	avgLatencyMs := float64(s.AvgLatency / time.Millisecond)
	uptimeTerm := s.UptimeMinutes / 10
	if uptimeTerm > 10 {
		uptimeTerm = 10
	}
	score := float64(10-s.Priority)*10 +
		s.SuccessRate*30 +
		(1000-avgLatencyMs)/10 -
		float64(s.ConsecutiveFailures)*5 +
		uptimeTerm
	return score
}

// rankedEndpoints returns healthy endpoints ordered by score descending,
// ties broken by priority ascending (lower priority value wins).
func (m *Manager) rankedEndpoints() []endpointSnapshot {
	now := time.Now()
	snaps := make([]endpointSnapshot, 0, len(m.endpoints))
	for _, id := range m.order {
		snaps = append(snaps, m.endpoints[id].snapshot(now))
	}

	scored := make([]struct {
		snap  endpointSnapshot
		score float64
	}, 0, len(snaps))
	for _, s := range snaps {
		if !s.Healthy {
			continue
		}
		scored = append(scored, struct {
			snap  endpointSnapshot
			score float64
		}{s, Score(s, now)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].snap.Priority < scored[j].snap.Priority
	})

	out := make([]endpointSnapshot, len(scored))
	for i, s := range scored {
		out[i] = s.snap
	}
	return out
}

// Primary returns the currently best-scoring healthy endpoint id.
func (m *Manager) Primary() (string, error) {
	ranked := m.rankedEndpoints()
	if len(ranked) == 0 {
		return "", domain.ErrNoEndpointAvailable
	}
	return ranked[0].ID, nil
}

// Failover returns the second-best healthy endpoint id, used when the
// primary becomes unhealthy mid-subscription.
func (m *Manager) Failover() (string, error) {
	ranked := m.rankedEndpoints()
	if len(ranked) < 2 {
		if len(ranked) == 1 {
			return ranked[0].ID, nil
		}
		return "", domain.ErrNoEndpointAvailable
	}
	return ranked[1].ID, nil
}

// Subscribe registers handler on the endpoint that is primary at the time
// of the call. The registration does not follow a failover: if that
// endpoint's connection drops, handler receives messages again only once
// the same endpoint reconnects, and it is not moved to a new primary.
func (m *Manager) Subscribe(ctx context.Context, handler MessageHandler) error {
	if _, err := m.Primary(); err != nil {
		return err
	}

	// Attach to every endpoint and forward only what arrives from whichever
	// endpoint is primary at delivery time.
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		id := id
		m.endpoints[id].onMessage(func(raw []byte) {
			if primary, err := m.Primary(); err == nil && primary == id {
				handler(raw)
			}
		})
	}
	return nil
}

// Request issues a unary RPC call against the current primary endpoint,
// subject to its rate limiter; on rate-limit rejection the call fails with
// domain.ErrRateLimited without being attempted.
func (m *Manager) Request(ctx context.Context, path string) (*http.Response, error) {
	primaryID, err := m.Primary()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	ep := m.endpoints[primaryID]
	m.mu.RUnlock()

	if !ep.allow() {
		return nil, fmt.Errorf("transport: endpoint %s: %w", primaryID, domain.ErrRateLimited)
	}

	url := ep.cfg.URL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := ep.httpClient.Do(req)
	if err != nil {
		ep.recordFailure()
		return nil, fmt.Errorf("transport: endpoint %s: request: %w", primaryID, err)
	}
	return resp, nil
}
