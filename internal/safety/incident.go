package safety

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
)

// metricBaseline maintains an EMA estimate of a metric's mean and standard
// deviation, following the exponentially-weighted variance update (Welford-
// style EMA variant suited to streaming data without a fixed window).
type metricBaseline struct {
	mean        float64
	variance    float64
	initialized bool
}

// baselineAlpha is a fixed smoothing factor, independent of
// detectionInterval: with alpha = 2/(N+1) it gives an effective span of
// about N = 99 samples, not a 24h window. It keeps the update O(1) per
// sample without needing to store the window.
const baselineAlpha = 0.02

func (b *metricBaseline) update(x float64) {
	if !b.initialized {
		b.mean = x
		b.variance = 0
		b.initialized = true
		return
	}
	delta := x - b.mean
	b.mean += baselineAlpha * delta
	b.variance = (1 - baselineAlpha) * (b.variance + baselineAlpha*delta*delta)
}

func (b *metricBaseline) zscore(x float64) float64 {
	std := math.Sqrt(b.variance)
	if std == 0 {
		if x == b.mean {
			return 0
		}
		// A perfectly stable baseline (zero observed variance) still
		// flags any deviation as maximally anomalous rather than
		// silently dividing by zero into a false "normal" reading.
		return math.Inf(1)
	}
	return math.Abs(x-b.mean) / std
}

// ResponseFunc runs an incident's automated response procedure; returning
// an error triggers the registered FailoverFunc for that incident type.
type ResponseFunc func(ctx context.Context, incident *domain.Incident) error

// ValidatorFunc is one required post-response/failover recovery check.
type ValidatorFunc func(ctx context.Context, incident *domain.Incident) bool

// IncidentManager runs the continuous anomaly detector: EMA baselines per
// metric, pattern/cascade detection, escalation ladder, and an automated
// response -> failover -> recovery-validation pipeline.
type IncidentManager struct {
	cfg    config.IncidentConfig
	alerts domain.AlertSink
	log    *slog.Logger

	responses  map[string]ResponseFunc
	failovers  map[string]ResponseFunc
	validators []ValidatorFunc

	mu         sync.Mutex
	baselines  map[string]*metricBaseline
	active     map[string]*domain.Incident
	nextID     int
}

func NewIncidentManager(cfg config.IncidentConfig, alerts domain.AlertSink, log *slog.Logger) *IncidentManager {
	return &IncidentManager{
		cfg:       cfg,
		alerts:    alerts,
		log:       log.With(slog.String("component", "incident_manager")),
		responses: make(map[string]ResponseFunc),
		failovers: make(map[string]ResponseFunc),
		baselines: make(map[string]*metricBaseline),
		active:    make(map[string]*domain.Incident),
	}
}

// RegisterResponse wires the automated response procedure for incidents of
// the given type (e.g. "rpc_failure", "high_error_rate").
func (m *IncidentManager) RegisterResponse(incidentType string, fn ResponseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[incidentType] = fn
}

// RegisterFailover wires the failover action run when an incident type's
// response procedure fails.
func (m *IncidentManager) RegisterFailover(incidentType string, fn ResponseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failovers[incidentType] = fn
}

// RegisterValidator adds a recovery validator every incident's resolution
// must pass before its response/failover pipeline is considered successful.
func (m *IncidentManager) RegisterValidator(fn ValidatorFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators = append(m.validators, fn)
}

// Detect updates baselines for every named metric in the sample and opens
// Incidents for any that cross anomalyThreshold standard deviations from
// their baseline. Returns the incidents newly opened this call.
func (m *IncidentManager) Detect(ctx context.Context, now time.Time, sample map[string]float64) []*domain.Incident {
	m.mu.Lock()
	var opened []*domain.Incident
	for metric, value := range sample {
		b, ok := m.baselines[metric]
		if !ok {
			b = &metricBaseline{}
			m.baselines[metric] = b
		}
		wasInitialized := b.initialized
		z := b.zscore(value)
		b.update(value)

		if !wasInitialized {
			continue
		}
		if existing, isActive := m.active[metric]; isActive && !existing.Resolved() {
			if z <= 0.7*m.cfg.AnomalyThreshold {
				m.resolveLocked(existing, now)
			}
			continue
		}
		if z > m.cfg.AnomalyThreshold {
			incident := m.openLocked(metric, z, now)
			opened = append(opened, incident)
		}
	}
	cascade := m.detectCascadeLocked(now)
	m.mu.Unlock()

	if cascade != nil {
		opened = append(opened, cascade)
	}
	for _, inc := range opened {
		m.notify(ctx, "incident.detected", inc)
		go m.respond(ctx, inc)
	}
	return opened
}

func severityFor(z, threshold float64) domain.IncidentSeverity {
	switch {
	case z > threshold*2:
		return domain.SeverityCritical
	case z > threshold*1.5:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

func (m *IncidentManager) openLocked(metricType string, z float64, now time.Time) *domain.Incident {
	m.nextID++
	incident := &domain.Incident{
		ID:         fmt.Sprintf("inc-%d-%s", m.nextID, metricType),
		Type:       metricType,
		Severity:   severityFor(z, m.cfg.AnomalyThreshold),
		Status:     domain.IncidentDetected,
		DetectedAt: now,
		Timeline: []domain.IncidentEvent{
			{Seq: 1, At: now, Status: domain.IncidentDetected, Detail: "anomaly z-score breach"},
		},
	}
	m.active[metricType] = incident
	return incident
}

func (m *IncidentManager) resolveLocked(incident *domain.Incident, now time.Time) {
	incident.Status = domain.IncidentResolved
	incident.Timeline = append(incident.Timeline, domain.IncidentEvent{
		Seq: len(incident.Timeline) + 1, At: now, Status: domain.IncidentResolved, Detail: "metric returned within tolerance",
	})
}

// detectCascadeLocked opens a critical cascade incident when at least
// cascadeMinIncidents distinct unresolved incidents were detected within
// cascadeTimeout before now.
func (m *IncidentManager) detectCascadeLocked(now time.Time) *domain.Incident {
	if _, exists := m.active["cascade"]; exists {
		return nil
	}
	var recent []*domain.Incident
	for typ, inc := range m.active {
		if typ == "cascade" || inc.Resolved() {
			continue
		}
		if now.Sub(inc.DetectedAt) <= m.cfg.CascadeTimeout.Duration {
			recent = append(recent, inc)
		}
	}
	if len(recent) < m.cfg.CascadeMinIncidents {
		return nil
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].DetectedAt.Before(recent[j].DetectedAt) })
	cascade := &domain.Incident{
		ID:         "inc-cascade-" + now.UTC().Format("20060102T150405.000000000"),
		Type:       "cascade",
		Severity:   domain.SeverityCritical,
		Status:     domain.IncidentDetected,
		DetectedAt: now,
		Timeline: []domain.IncidentEvent{
			{Seq: 1, At: now, Status: domain.IncidentDetected, Detail: "cascade of related incidents"},
		},
	}
	m.active["cascade"] = cascade
	return cascade
}

// escalationInterval derives the per-incident escalation timer from the
// detection interval; there is no standalone config knob for it, so it
// scales with how frequently the detector samples.
func (m *IncidentManager) escalationInterval() time.Duration {
	interval := m.cfg.DetectionInterval.Duration
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return interval * 6
}

// TickEscalation advances every unresolved incident's escalation level once
// its timer has elapsed without resolution, firing the level's response
// again (a stronger signal: notify, then emergency-notify, then disaster-
// recovery/on-call at the ceiling).
func (m *IncidentManager) TickEscalation(ctx context.Context, now time.Time) {
	m.mu.Lock()
	var escalated []*domain.Incident
	for _, inc := range m.active {
		if inc.Resolved() || inc.Status == domain.IncidentMaxEscalationReached {
			continue
		}
		last := inc.DetectedAt
		if inc.LastEscalatedAt.After(last) {
			last = inc.LastEscalatedAt
		}
		if now.Sub(last) < m.escalationInterval() {
			continue
		}
		inc.EscalationLevel++
		inc.LastEscalatedAt = now
		if inc.EscalationLevel >= 3 {
			inc.Status = domain.IncidentMaxEscalationReached
		}
		inc.Timeline = append(inc.Timeline, domain.IncidentEvent{
			Seq: len(inc.Timeline) + 1, At: now, Status: inc.Status, Detail: "escalation timer elapsed",
		})
		escalated = append(escalated, inc)
	}
	m.mu.Unlock()

	for _, inc := range escalated {
		m.notify(ctx, "incident.escalated", inc)
	}
}

// respond runs the registered response procedure for an incident type, a
// failover on failure, then validates recovery against every registered
// validator, retrying the response up to maxRecoveryAttempts before giving
// up (the incident stays at its current escalation level for TickEscalation
// to continue advancing).
func (m *IncidentManager) respond(ctx context.Context, incident *domain.Incident) {
	m.mu.Lock()
	response := m.responses[incident.Type]
	failover := m.failovers[incident.Type]
	validators := append([]ValidatorFunc(nil), m.validators...)
	m.mu.Unlock()

	if response == nil {
		return
	}

	for attempt := 0; attempt < m.cfg.MaxRecoveryAttempts; attempt++ {
		incident.Status = domain.IncidentResponding
		err := response(ctx, incident)
		success := err == nil
		incident.Responses = append(incident.Responses, domain.ResponseAttempt{
			At: time.Now(), Action: "response", Success: success, Detail: errString(err),
		})

		if !success && failover != nil {
			incident.Status = domain.IncidentFailoverInProgress
			ferr := failover(ctx, incident)
			incident.Responses = append(incident.Responses, domain.ResponseAttempt{
				At: time.Now(), Action: "failover", Success: ferr == nil, Detail: errString(ferr),
			})
			success = ferr == nil
		}

		if !success {
			incident.Status = domain.IncidentResponseFailed
			incident.RecoveryAttempts++
			continue
		}

		incident.Status = domain.IncidentValidatingRecovery
		allPassed := true
		for _, v := range validators {
			if !v(ctx, incident) {
				allPassed = false
				break
			}
		}
		if allPassed {
			m.mu.Lock()
			m.resolveLocked(incident, time.Now())
			m.mu.Unlock()
			m.notify(ctx, "incident.resolved", incident)
			return
		}
		incident.RecoveryAttempts++
	}
	incident.Status = domain.IncidentResponseFailed
	m.notify(ctx, "incident.max_recovery_attempts", incident)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (m *IncidentManager) notify(ctx context.Context, category string, incident *domain.Incident) {
	if m.alerts == nil {
		return
	}
	payload := map[string]any{
		"id": incident.ID, "type": incident.Type, "severity": string(incident.Severity),
		"status": string(incident.Status), "escalation_level": incident.EscalationLevel,
	}
	priority := domain.AlertPriorityWarning
	if incident.Severity == domain.SeverityCritical {
		priority = domain.AlertPriorityCritical
	}
	if err := m.alerts.Send(ctx, category, payload, priority); err != nil {
		m.log.Warn("failed to send incident alert", slog.String("error", err.Error()))
	}
}

// Active returns a snapshot of every incident not yet resolved.
func (m *IncidentManager) Active() []domain.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Incident, 0, len(m.active))
	for _, inc := range m.active {
		if !inc.Resolved() {
			out = append(out, *inc)
		}
	}
	return out
}
