package safety

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
)

// StopPhase is the emergency-stop state machine's current position.
type StopPhase string

const (
	PhaseIdle                 StopPhase = "idle"
	PhaseInitiated            StopPhase = "initiated"
	PhaseTradesCompleting     StopPhase = "trades_completing"
	PhasePositionsLiquidating StopPhase = "positions_liquidating"
	PhaseShutdown             StopPhase = "shutdown"
)

// StopLevel ranks the severity of a trigger; emergency-level stops are
// non-recoverable without an explicit Reset.
type StopLevel string

const (
	LevelWarning   StopLevel = "warning"
	LevelCritical  StopLevel = "critical"
	LevelEmergency StopLevel = "emergency"
)

// DrainFunc attempts to complete or cancel in-flight trades within ctx's
// deadline and returns the count still outstanding when it returns.
type DrainFunc func(ctx context.Context) (remaining int)

// LiquidateFunc reduces or closes open positions within ctx's deadline and
// returns the count still open when it returns.
type LiquidateFunc func(ctx context.Context) (remaining int)

// EmergencyStopManager orchestrates the phased graceful shutdown: stop new
// trades, drain in-flight trades, liquidate positions, shut down external
// connections.
type EmergencyStopManager struct {
	cfg    config.EmergencyStopConfig
	alerts domain.AlertSink
	log    *slog.Logger

	mu                sync.Mutex
	phase             StopPhase
	level             StopLevel
	reason            string
	triggeredBy       string
	trippedAt         time.Time
	nonRecoverable    bool
	recoveryChecklist map[string]bool
}

func NewEmergencyStopManager(cfg config.EmergencyStopConfig, alerts domain.AlertSink, log *slog.Logger) *EmergencyStopManager {
	return &EmergencyStopManager{
		cfg:    cfg,
		alerts: alerts,
		phase:  PhaseIdle,
		log:    log.With(slog.String("component", "emergency_stop")),
	}
}

// Active reports whether a stop is in progress or has completed without
// being reset.
func (m *EmergencyStopManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase != PhaseIdle
}

// Phase returns the current phase and triggering level.
func (m *EmergencyStopManager) Phase() (StopPhase, StopLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase, m.level
}

// ShutdownFunc closes external connections (RPC, exchange WS, DB pools) and
// snapshots process state before the manager reports PhaseShutdown.
type ShutdownFunc func(ctx context.Context) error

// Trigger runs the phased shutdown to completion. drain, liquidate, and
// shutdown may be nil (treated as already-drained/liquidated/shut down),
// letting tests and early bring-up exercise the phase transitions without
// real trade/position/connection plumbing wired yet.
func (m *EmergencyStopManager) Trigger(ctx context.Context, reason string, level StopLevel, triggeredBy string, drain DrainFunc, liquidate LiquidateFunc, shutdown ShutdownFunc) error {
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return fmt.Errorf("safety: emergency stop already in phase %s", m.phase)
	}
	m.phase = PhaseInitiated
	m.level = level
	m.reason = reason
	m.triggeredBy = triggeredBy
	m.trippedAt = time.Now()
	m.recoveryChecklist = nil
	m.mu.Unlock()

	m.notify(ctx, "emergency_stop.initiated", map[string]any{"reason": reason, "level": string(level), "triggered_by": triggeredBy})

	m.setPhase(PhaseTradesCompleting)
	if drain != nil {
		drainCtx, cancel := context.WithTimeout(ctx, m.cfg.TradeCompletionTimeout.Duration)
		remaining := drain(drainCtx)
		cancel()
		if remaining > 0 {
			m.log.Warn("force-cancelling trades after drain timeout", slog.Int("remaining", remaining))
		}
	}

	m.setPhase(PhasePositionsLiquidating)
	if liquidate != nil {
		liquidateCtx, cancel := context.WithTimeout(ctx, m.cfg.PositionLiquidationTimeout.Duration)
		remaining := liquidate(liquidateCtx)
		cancel()
		if remaining > 0 {
			m.log.Warn("positions still open after liquidation timeout", slog.Int("remaining", remaining))
		}
	}

	if shutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, m.cfg.SystemShutdownTimeout.Duration)
		if err := shutdown(shutdownCtx); err != nil {
			m.log.Warn("shutdown procedure returned an error", slog.String("error", err.Error()))
		}
		cancel()
	}

	m.setPhase(PhaseShutdown)
	m.mu.Lock()
	if level == LevelEmergency {
		m.nonRecoverable = true
	}
	m.mu.Unlock()

	m.notify(ctx, "emergency_stop.shutdown", map[string]any{"reason": reason, "level": string(level)})
	return nil
}

func (m *EmergencyStopManager) setPhase(phase StopPhase) {
	m.mu.Lock()
	m.phase = phase
	m.mu.Unlock()
}

func (m *EmergencyStopManager) notify(ctx context.Context, category string, payload map[string]any) {
	if m.alerts == nil {
		return
	}
	if err := m.alerts.Send(ctx, category, payload, domain.AlertPriorityCritical); err != nil {
		m.log.Warn("failed to send emergency stop alert", slog.String("error", err.Error()))
	}
}

// CanAttemptRecovery reports whether minRecoveryWaitTime has elapsed since
// the trip and the stop was not an emergency-level (non-recoverable) trip.
func (m *EmergencyStopManager) CanAttemptRecovery(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseShutdown || m.nonRecoverable {
		return false
	}
	return now.Sub(m.trippedAt) >= m.cfg.MinRecoveryWaitTime.Duration
}

// RecoveryValidator is one named check in the recovery checklist.
type RecoveryValidator struct {
	Name  string
	Check func(ctx context.Context) bool
}

// ValidateRecovery runs every validator and records pass/fail; recovery may
// proceed only if every validator passes.
func (m *EmergencyStopManager) ValidateRecovery(ctx context.Context, validators []RecoveryValidator) bool {
	checklist := make(map[string]bool, len(validators))
	allPassed := true
	for _, v := range validators {
		passed := v.Check(ctx)
		checklist[v.Name] = passed
		if !passed {
			allPassed = false
		}
	}
	m.mu.Lock()
	m.recoveryChecklist = checklist
	m.mu.Unlock()
	return allPassed
}

// GradualRestart re-enables operation in ordered steps, each separated by
// gradualRestartDelay/3 (reconnect, resume monitoring, enable limited
// trading, full operations is the caller's fourth step if supplied).
func (m *EmergencyStopManager) GradualRestart(ctx context.Context, steps []func(ctx context.Context) error) error {
	delay := m.cfg.GradualRestartDelay.Duration / 3
	for i, step := range steps {
		if err := step(ctx); err != nil {
			return fmt.Errorf("safety: gradual restart step %d: %w", i, err)
		}
		if i < len(steps)-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	m.mu.Lock()
	m.phase = PhaseIdle
	m.nonRecoverable = false
	m.mu.Unlock()
	return nil
}

// Reset forces the manager back to idle, discarding any non-recoverable
// flag. Used for operator-initiated recovery after an emergency-level stop.
func (m *EmergencyStopManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseIdle
	m.nonRecoverable = false
	m.recoveryChecklist = nil
}
