// Package safety implements the layered safety plane (C8): a fixed circuit
// breaker registry, an emergency-stop phased shutdown, and an incident
// anomaly detector, composed by Manager into the single isTradingAllowed
// gate the opportunity pipeline consumes.
package safety

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
)

var errThresholdBreached = errors.New("safety: breaker threshold breached")

// breakerDef describes one named breaker in the fixed registry: its group,
// auto-recovery duration class, whether it cascades a forced trip of the
// emergency breaker, and the predicate evaluated against each telemetry
// snapshot.
type breakerDef struct {
	name     string
	group    domain.BreakerGroup
	duration domain.BreakerDuration
	critical bool
	breached func(domain.SafetyMetrics) bool
}

// trackedBreaker wraps one gobreaker.CircuitBreaker[struct{}] per named
// breaker. The breaker never guards real request traffic; Check feeds it a
// synthetic success/failure derived from def.breached so gobreaker's own
// trip/timeout/half-open state machine drives duration-class auto-recovery.
type trackedBreaker struct {
	def breakerDef
	cb  *gobreaker.CircuitBreaker[struct{}]
	cascadeFlag atomic.Bool

	mu         sync.Mutex
	trippedAt  time.Time
	tripCount  int
	lastReason string

	onTrip func(name, reason string)
}

func newTrackedBreaker(def breakerDef, onTrip func(name, reason string)) *trackedBreaker {
	tb := &trackedBreaker{def: def, onTrip: onTrip}
	tb.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        def.name,
		MaxRequests: 1,
		Timeout:     domain.DurationFor(def.duration),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to != gobreaker.StateOpen {
				return
			}
			tb.mu.Lock()
			tb.trippedAt = time.Now()
			tb.tripCount++
			tb.lastReason = name + "_threshold_breached"
			reason := tb.lastReason
			tb.mu.Unlock()
			if tb.onTrip != nil {
				tb.onTrip(name, reason)
			}
		},
	})
	return tb
}

// check runs one evaluation cycle against m, feeding gobreaker a synthetic
// failure when the breaker's predicate is breached.
func (tb *trackedBreaker) check(m domain.SafetyMetrics) {
	_, _ = tb.cb.Execute(func() (struct{}, error) {
		if tb.def.breached(m) {
			return struct{}{}, errThresholdBreached
		}
		return struct{}{}, nil
	})
}

// State reports armed/tripped from gobreaker's underlying state: closed is
// armed, both open and half-open (still probing) count as tripped so the
// pipeline never sees a half-recovered breaker as fully safe.
func (tb *trackedBreaker) State() domain.BreakerState {
	if tb.cb.State() == gobreaker.StateClosed {
		return domain.BreakerArmed
	}
	return domain.BreakerTripped
}

func (tb *trackedBreaker) snapshot() domain.CircuitBreaker {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return domain.CircuitBreaker{
		Name:         tb.def.name,
		Group:        tb.def.group,
		Duration:     tb.def.duration,
		State:        tb.State(),
		TrippedAt:    tb.trippedAt,
		TripCount:    tb.tripCount,
		LastReason:   tb.lastReason,
		AutoRecovery: tb.def.duration != domain.DurationEmergency,
		Critical:     tb.def.critical,
	}
}

// Registry holds the fixed breaker set described by the circuit-breaker
// spec: market, system, and loss groups plus the cascade-only emergency
// breaker.
type Registry struct {
	log       *slog.Logger
	breakers  map[string]*trackedBreaker
	order     []string // deterministic, excludes "emergency"
	emergency *trackedBreaker
}

// NewRegistry builds the fixed breaker set from cfg's thresholds and loss
// limits. onTrip is invoked (off the evaluation goroutine's call stack is
// fine; gobreaker calls it synchronously from Execute) whenever any breaker
// transitions armed -> tripped, letting Manager forward the event to an
// AlertSink.
func NewRegistry(cfg config.SafetyConfig, onTrip func(name, reason string), log *slog.Logger) *Registry {
	threshold := func(name string) float64 {
		if t, ok := cfg.BreakerThresholds[name]; ok {
			return t.Threshold
		}
		return 0
	}

	marketAndSystemDefs := []breakerDef{
		{"extremeVolatility", domain.BreakerGroupMarket, domain.DurationMedium, false,
			func(m domain.SafetyMetrics) bool { return m.Volatility > threshold("extremeVolatility") }},
		{"lowLiquidity", domain.BreakerGroupMarket, domain.DurationShort, false,
			func(m domain.SafetyMetrics) bool { return m.MinLiquidityUSD < threshold("lowLiquidity") }},
		{"highGasPrice", domain.BreakerGroupMarket, domain.DurationShort, false,
			func(m domain.SafetyMetrics) bool { return m.GasPriceGwei > threshold("highGasPrice") }},
		{"marketCrash", domain.BreakerGroupMarket, domain.DurationLong, true,
			func(m domain.SafetyMetrics) bool { return m.Volatility > threshold("marketCrash") }},
		{"unusualSpread", domain.BreakerGroupMarket, domain.DurationShort, false,
			func(m domain.SafetyMetrics) bool { return m.SpreadDeviationPct > threshold("unusualSpread") }},
		{"highErrorRate", domain.BreakerGroupSystem, domain.DurationMedium, false,
			func(m domain.SafetyMetrics) bool { return m.ErrorRate > threshold("highErrorRate") }},
		{"rpcFailure", domain.BreakerGroupSystem, domain.DurationMedium, false,
			func(m domain.SafetyMetrics) bool { return m.RPCFailureRate > threshold("rpcFailure") }},
		{"executionDelay", domain.BreakerGroupSystem, domain.DurationShort, false,
			func(m domain.SafetyMetrics) bool {
				return m.ExecutionDelay > time.Duration(threshold("executionDelay")*float64(time.Second))
			}},
		{"memoryPressure", domain.BreakerGroupSystem, domain.DurationMedium, false,
			func(m domain.SafetyMetrics) bool { return m.MemoryUsagePct > threshold("memoryPressure") }},
		{"networkCongestion", domain.BreakerGroupSystem, domain.DurationShort, false,
			func(m domain.SafetyMetrics) bool {
				return m.NetworkLatency > time.Duration(threshold("networkCongestion")*float64(time.Millisecond))
			}},
		{"dailyLoss", domain.BreakerGroupLoss, domain.DurationLong, true,
			func(m domain.SafetyMetrics) bool { return -m.DailyPnL > cfg.MaxDailyLoss }},
		{"hourlyLoss", domain.BreakerGroupLoss, domain.DurationMedium, false,
			func(m domain.SafetyMetrics) bool { return -m.HourlyPnL > cfg.MaxHourlyLoss }},
		{"consecutiveLoss", domain.BreakerGroupLoss, domain.DurationMedium, false,
			func(m domain.SafetyMetrics) bool { return m.ConsecutiveLosses >= cfg.MaxConsecutiveLoss }},
		{"drawdown", domain.BreakerGroupLoss, domain.DurationLong, true,
			func(m domain.SafetyMetrics) bool { return m.DrawdownPct > cfg.MaxDrawdownPct }},
	}

	r := &Registry{
		log:      log.With(slog.String("component", "safety_registry")),
		breakers: make(map[string]*trackedBreaker, len(marketAndSystemDefs)+1),
	}
	for _, def := range marketAndSystemDefs {
		tb := newTrackedBreaker(def, onTrip)
		r.breakers[def.name] = tb
		r.order = append(r.order, def.name)
	}

	emergencyDef := breakerDef{"emergency", domain.BreakerGroupEmergency, domain.DurationEmergency, true, nil}
	r.emergency = newTrackedBreaker(emergencyDef, onTrip)
	r.emergency.def.breached = func(domain.SafetyMetrics) bool { return r.emergency.cascadeFlag.Load() }
	r.breakers["emergency"] = r.emergency

	return r
}

// Check evaluates every breaker against one telemetry snapshot, then
// cascades a forced trip of the emergency breaker if any critical breaker
// is currently tripped.
func (r *Registry) Check(m domain.SafetyMetrics) {
	criticalTripped := false
	for _, name := range r.order {
		tb := r.breakers[name]
		tb.check(m)
		if tb.def.critical && tb.State() == domain.BreakerTripped {
			criticalTripped = true
		}
	}
	r.emergency.cascadeFlag.Store(criticalTripped)
	r.emergency.check(m)
}

// IsTradingAllowed reports false and the name of the first tripped breaker
// found, or true if every breaker (including emergency) is armed.
func (r *Registry) IsTradingAllowed() (bool, string) {
	for _, name := range r.order {
		if r.breakers[name].State() == domain.BreakerTripped {
			return false, name
		}
	}
	if r.emergency.State() == domain.BreakerTripped {
		return false, "emergency"
	}
	return true, ""
}

// Snapshot returns the current state of every breaker, market/system/loss
// groups followed by emergency.
func (r *Registry) Snapshot() []domain.CircuitBreaker {
	out := make([]domain.CircuitBreaker, 0, len(r.breakers))
	for _, name := range r.order {
		out = append(out, r.breakers[name].snapshot())
	}
	out = append(out, r.emergency.snapshot())
	return out
}
