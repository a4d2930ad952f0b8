package domain

import "time"

// BreakerGroup classifies a CircuitBreaker into the fixed registry groups
// named in the safety plane design.
type BreakerGroup string

const (
	BreakerGroupMarket    BreakerGroup = "market"
	BreakerGroupSystem    BreakerGroup = "system"
	BreakerGroupLoss      BreakerGroup = "loss"
	BreakerGroupEmergency BreakerGroup = "emergency"
)

// BreakerDuration is the auto-recovery duration class of a breaker.
type BreakerDuration string

const (
	DurationShort     BreakerDuration = "short"     // 5 min
	DurationMedium    BreakerDuration = "medium"    // 30 min
	DurationLong      BreakerDuration = "long"      // 1 hour
	DurationEmergency BreakerDuration = "emergency" // 4 hours
)

// DurationFor returns the wall-clock duration for a BreakerDuration class.
func DurationFor(d BreakerDuration) time.Duration {
	switch d {
	case DurationShort:
		return 5 * time.Minute
	case DurationMedium:
		return 30 * time.Minute
	case DurationLong:
		return time.Hour
	case DurationEmergency:
		return 4 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// BreakerState is the finite-state position of a CircuitBreaker.
type BreakerState string

const (
	BreakerArmed   BreakerState = "armed"
	BreakerTripped BreakerState = "tripped"
)

// CircuitBreaker is a named safety gate. Fields mirror the runtime state of
// one breaker in the registry; mutation is owned exclusively by the safety
// plane.
type CircuitBreaker struct {
	Name         string
	Group        BreakerGroup
	Duration     BreakerDuration
	State        BreakerState
	TrippedAt    time.Time
	TripCount    int
	LastReason   string
	AutoRecovery bool
	Critical     bool // marketCrash, dailyLoss, drawdown, emergency
}

// ReadyToRecover reports whether a tripped, auto-recovering breaker has
// waited out its duration class as of now.
func (cb CircuitBreaker) ReadyToRecover(now time.Time) bool {
	if cb.State != BreakerTripped || !cb.AutoRecovery {
		return false
	}
	return now.Sub(cb.TrippedAt) >= DurationFor(cb.Duration)
}

// IncidentSeverity ranks how serious a detected anomaly is.
type IncidentSeverity string

const (
	SeverityLow      IncidentSeverity = "low"
	SeverityMedium   IncidentSeverity = "medium"
	SeverityHigh     IncidentSeverity = "high"
	SeverityCritical IncidentSeverity = "critical"
)

// IncidentStatus is the incident-response state machine position.
type IncidentStatus string

const (
	IncidentDetected               IncidentStatus = "detected"
	IncidentResponding             IncidentStatus = "responding"
	IncidentFailoverInProgress     IncidentStatus = "failover_in_progress"
	IncidentValidatingRecovery     IncidentStatus = "validating_recovery"
	IncidentResolved               IncidentStatus = "resolved"
	IncidentResponseFailed         IncidentStatus = "response_failed"
	IncidentFailoverFailed         IncidentStatus = "failover_failed"
	IncidentMaxEscalationReached   IncidentStatus = "maximum_escalation_reached"
)

// IncidentEvent is one numbered entry in an incident's timeline.
type IncidentEvent struct {
	Seq       int
	At        time.Time
	Status    IncidentStatus
	Detail    string
}

// ResponseAttempt records one automated-response or failover attempt.
type ResponseAttempt struct {
	At      time.Time
	Action  string
	Success bool
	Detail  string
}

// Incident is a detected anomaly record, process-wide state owned
// exclusively by the safety plane's IncidentManager.
type Incident struct {
	ID              string
	Type            string
	Severity        IncidentSeverity
	EscalationLevel int
	Timeline        []IncidentEvent
	Responses       []ResponseAttempt
	Status          IncidentStatus
	DetectedAt      time.Time
	LastEscalatedAt time.Time
	RecoveryAttempts int
}

// Resolved reports the invariant that an incident can only reach
// IncidentResolved once every required validator has passed; callers set
// Status themselves but this helper documents the invariant at call sites.
func (i Incident) Resolved() bool {
	return i.Status == IncidentResolved
}

// SafetyMetrics is the periodic telemetry snapshot the circuit-breaker
// checker and incident detector evaluate against configured thresholds.
// Populated by the engine from live system and market state; the safety
// plane only reads it.
type SafetyMetrics struct {
	Timestamp          time.Time
	Volatility         float64       // realized, fraction (0.08 = 8%)
	MinLiquidityUSD    float64
	GasPriceGwei       float64
	SpreadDeviationPct float64       // fraction
	ErrorRate          float64       // fraction of calls failing
	RPCFailureRate     float64       // fraction of calls failing
	ExecutionDelay     time.Duration
	MemoryUsagePct     float64       // fraction of configured limit
	NetworkLatency     time.Duration
	CPUUsagePct        float64       // fraction
	DailyPnL           float64
	HourlyPnL          float64
	ConsecutiveLosses  int
	DrawdownPct        float64       // fraction
}

// TradingGate is the safety plane's one-way published snapshot, consumed by
// the pipeline's execution_decision stage. The safety plane is the sole
// writer; the pipeline only reads, avoiding the engine/pipeline/safety-plane
// callback cycle.
type TradingGate interface {
	// IsTradingAllowed reports whether every breaker is armed and no
	// emergency stop is active. When false, reason names the gate
	// responsible (a breaker name or "emergency_stop").
	IsTradingAllowed() (allowed bool, reason string)
}
