package safety

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
)

// MetricsProvider supplies one telemetry snapshot per monitoring tick. The
// engine implements this from live transport/price-feed/system state; loss
// fields are overwritten by Manager's own lossAccount before the snapshot
// reaches the breaker registry.
type MetricsProvider func(ctx context.Context) domain.SafetyMetrics

// IncidentSampler supplies the named-metric sample each incident-detection
// tick evaluates baselines against (e.g. "error_rate", "latency_ms").
type IncidentSampler func(ctx context.Context) map[string]float64

// Manager composes the circuit breaker registry, emergency stop, and
// incident manager into the single isTradingAllowed gate the pipeline
// consumes, per the one-way safety-plane-publishes/pipeline-consumes
// redesign (domain.TradingGate). It also runs the periodic checker loops
// the engine's errgroup supervises.
type Manager struct {
	cfg config.SafetyConfig
	log *slog.Logger

	registry  *Registry
	emergency *EmergencyStopManager
	incidents *IncidentManager
	loss      *lossAccount
	locks     domain.LockManager

	metrics MetricsProvider
	sampler IncidentSampler
}

var _ domain.TradingGate = (*Manager)(nil)

// New builds a Manager. metrics and sampler may be nil: without metrics,
// CheckBreakers evaluates zero-value telemetry plus the loss-account
// figures; without a sampler, DetectIncidents does nothing.
func New(cfg config.SafetyConfig, alerts domain.AlertSink, metrics MetricsProvider, sampler IncidentSampler, log *slog.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		log:       log.With(slog.String("component", "safety_manager")),
		emergency: NewEmergencyStopManager(cfg.EmergencyStop, alerts, log),
		incidents: NewIncidentManager(cfg.Incident, alerts, log),
		loss:      newLossAccount(time.Now()),
		metrics:   metrics,
		sampler:   sampler,
	}
	m.registry = NewRegistry(cfg, m.onBreakerTrip, log)
	return m
}

func (m *Manager) onBreakerTrip(name, reason string) {
	m.log.Warn("circuit breaker tripped", slog.String("breaker", name), slog.String("reason", reason))
}

// IsTradingAllowed implements domain.TradingGate: every breaker must be
// armed and no emergency stop may be active.
func (m *Manager) IsTradingAllowed() (bool, string) {
	if m.emergency.Active() {
		return false, "emergency_stop"
	}
	return m.registry.IsTradingAllowed()
}

// RecordTradeResult feeds one realized trade outcome into the rolling loss
// windows the dailyLoss/hourlyLoss/consecutiveLoss/drawdown breakers check.
func (m *Manager) RecordTradeResult(pnl float64, now time.Time) {
	m.loss.Record(pnl, now)
}

// CheckBreakers pulls one telemetry snapshot from the configured provider,
// overlays the current loss-account figures, and runs one breaker
// evaluation cycle.
func (m *Manager) CheckBreakers(ctx context.Context) {
	var snapshot domain.SafetyMetrics
	if m.metrics != nil {
		snapshot = m.metrics(ctx)
	}
	dailyPnL, hourlyPnL, drawdown, consecutive := m.loss.snapshot()
	snapshot.DailyPnL = dailyPnL
	snapshot.HourlyPnL = hourlyPnL
	snapshot.DrawdownPct = drawdown
	snapshot.ConsecutiveLosses = consecutive
	snapshot.Timestamp = time.Now()

	m.registry.Check(snapshot)
}

// DetectIncidents pulls one named-metric sample and runs one anomaly
// detection + escalation tick.
func (m *Manager) DetectIncidents(ctx context.Context, now time.Time) {
	if m.sampler == nil {
		return
	}
	sample := m.sampler(ctx)
	m.incidents.Detect(ctx, now, sample)
	m.incidents.TickEscalation(ctx, now)
}

// TriggerEmergencyStop begins the phased shutdown; see
// EmergencyStopManager.Trigger.
func (m *Manager) TriggerEmergencyStop(ctx context.Context, reason string, level StopLevel, triggeredBy string, drain DrainFunc, liquidate LiquidateFunc, shutdown ShutdownFunc) error {
	return m.emergency.Trigger(ctx, reason, level, triggeredBy, drain, liquidate, shutdown)
}

// SetLockManager installs a distributed lock used to keep the periodic
// checker loops singleton when multiple engine instances share one Redis.
// Nil (the default) runs the checks locally on every tick, unlocked.
func (m *Manager) SetLockManager(locks domain.LockManager) {
	m.locks = locks
}

// Registry exposes the breaker registry for status reporting.
func (m *Manager) Registry() *Registry { return m.registry }

// Incidents exposes the incident manager for status reporting and response
// registration.
func (m *Manager) Incidents() *IncidentManager { return m.incidents }

// EmergencyStop exposes the emergency stop manager for status reporting and
// operator-initiated recovery.
func (m *Manager) EmergencyStop() *EmergencyStopManager { return m.emergency }

// Run drives the two periodic checker loops (breaker evaluation at
// cfg.MonitoringInterval, incident detection at cfg.Incident.
// DetectionInterval) until ctx is cancelled. Intended to run as one of the
// engine's errgroup-supervised component loops.
func (m *Manager) Run(ctx context.Context) error {
	monitorEvery := m.cfg.MonitoringInterval.Duration
	if monitorEvery <= 0 {
		monitorEvery = 5 * time.Second
	}
	detectEvery := m.cfg.Incident.DetectionInterval.Duration
	if detectEvery <= 0 {
		detectEvery = 10 * time.Second
	}

	monitorTicker := time.NewTicker(monitorEvery)
	defer monitorTicker.Stop()
	detectTicker := time.NewTicker(detectEvery)
	defer detectTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-monitorTicker.C:
			if unlock, ok := m.acquireCheckLock(ctx, "safety:monitor", monitorEvery); ok {
				m.CheckBreakers(ctx)
				unlock()
			}
		case now := <-detectTicker.C:
			if unlock, ok := m.acquireCheckLock(ctx, "safety:incident", detectEvery); ok {
				m.DetectIncidents(ctx, now)
				unlock()
			}
		}
	}
}

// acquireCheckLock tries to claim the named singleton-checker lock for ttl.
// With no LockManager configured it always proceeds, unlocked. If the lock
// is held by another instance it reports ok=false so this tick is skipped;
// any other lock error fails open, since skipping a safety check entirely
// is worse than running it redundantly on more than one instance.
func (m *Manager) acquireCheckLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool) {
	if m.locks == nil {
		return func() {}, true
	}
	unlock, err := m.locks.Acquire(ctx, key, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, false
		}
		m.log.Warn("safety checker lock acquire failed, running locally", slog.String("key", key), slog.String("error", err.Error()))
		return func() {}, true
	}
	return unlock, true
}
