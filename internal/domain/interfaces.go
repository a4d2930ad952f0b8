package domain

import (
	"context"
	"time"
)

// ExecutionResult is returned by the external Executor after attempting an
// Opportunity.
type ExecutionResult struct {
	Success bool
	PnL     float64
	GasUsed uint64
	TxRef   string
}

// Executor is the external collaborator that actually builds, signs, and
// broadcasts transactions. It is consumed, never implemented, by the
// opportunity pipeline. Implementations must be idempotent with respect to
// the opportunity id: execute is called at most once per id.
type Executor interface {
	Execute(ctx context.Context, opp Opportunity) (ExecutionResult, error)
}

// RiskAssessor is the external collaborator consulted during the
// risk_assessment stage. Implementations must respect the caller-provided
// deadline on ctx.
type RiskAssessor interface {
	Assess(ctx context.Context, opp Opportunity) (RiskAssessment, error)
}

// AlertPriority ranks an AlertSink message.
type AlertPriority string

const (
	AlertPriorityInfo     AlertPriority = "info"
	AlertPriorityWarning  AlertPriority = "warning"
	AlertPriorityCritical AlertPriority = "critical"
)

// AlertSink is the external collaborator consumed by the safety plane to
// surface breaker trips, incidents, and emergency-stop transitions.
// Implementations must be best-effort and must not block the caller for
// longer than their configured timeout.
type AlertSink interface {
	Send(ctx context.Context, category string, payload map[string]any, priority AlertPriority) error
}

// PriceSource is implemented by callers and fanned in by the PriceFeed
// manager (C3). Implementations must deliver only PricePoints satisfying
// Valid() (price > 0).
type PriceSource interface {
	Kind() string
	Fetch(ctx context.Context, symbol string) (PricePoint, error)
	Subscribe(ctx context.Context, symbols []string, onPoint func(PricePoint)) error
	Close() error
}

// ReliabilityRecord tracks a PriceSource's recent health, maintained by the
// PriceFeed manager's EMA scheme.
type ReliabilityRecord struct {
	SuccessRate         float64 // EMA in [0.1, 1.0]
	AvgLatency          time.Duration
	ConsecutiveFailures int
	LastSuccess         time.Time
	Failed              bool
}

// RecordSuccess applies the success-path EMA update.
func (r *ReliabilityRecord) RecordSuccess(latency time.Duration, now time.Time) {
	r.SuccessRate = min(r.SuccessRate*0.99+0.01, 1.0)
	if r.AvgLatency == 0 {
		r.AvgLatency = latency
	} else {
		r.AvgLatency = (r.AvgLatency*9 + latency) / 10
	}
	r.ConsecutiveFailures = 0
	r.LastSuccess = now
	r.Failed = false
}

// RecordFailure applies the failure-path EMA update.
func (r *ReliabilityRecord) RecordFailure() {
	r.SuccessRate = max(r.SuccessRate*0.95, 0.1)
	r.ConsecutiveFailures++
}
