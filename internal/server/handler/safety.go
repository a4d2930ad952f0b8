package handler

import (
	"net/http"

	"github.com/arbitonlabs/arbiton/internal/domain"
)

// BreakerRegistry is the narrow view of the circuit-breaker registry the
// HTTP surface needs.
type BreakerRegistry interface {
	Snapshot() []domain.CircuitBreaker
}

// IncidentSource is the narrow view of the incident manager the HTTP
// surface needs.
type IncidentSource interface {
	Active() []domain.Incident
}

// SafetyHandler serves the layered safety plane's live state: breaker
// positions, active incidents, the trading gate, and emergency-stop status.
type SafetyHandler struct {
	breakers        BreakerRegistry
	incidents       IncidentSource
	gate            domain.TradingGate
	emergencyActive func() bool
}

// NewSafetyHandler creates a SafetyHandler. emergencyActive may be nil, in
// which case the emergency_stop_active field always reports false.
func NewSafetyHandler(breakers BreakerRegistry, incidents IncidentSource, gate domain.TradingGate, emergencyActive func() bool) *SafetyHandler {
	return &SafetyHandler{
		breakers:        breakers,
		incidents:       incidents,
		gate:            gate,
		emergencyActive: emergencyActive,
	}
}

// Breakers returns the current state of every registered circuit breaker.
// GET /api/safety/breakers
func (h *SafetyHandler) Breakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": h.breakers.Snapshot()})
}

// Incidents returns every currently unresolved incident.
// GET /api/safety/incidents
func (h *SafetyHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"incidents": h.incidents.Active()})
}

// Status returns a one-shot summary of the trading gate and emergency-stop
// state, for dashboards that don't want to assemble it from three calls.
// GET /api/safety/status
func (h *SafetyHandler) Status(w http.ResponseWriter, r *http.Request) {
	allowed, reason := h.gate.IsTradingAllowed()
	emergency := false
	if h.emergencyActive != nil {
		emergency = h.emergencyActive()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trading_allowed":       allowed,
		"gate_reason":           reason,
		"emergency_stop_active": emergency,
		"active_incidents":      len(h.incidents.Active()),
		"tripped_breakers":      countTripped(h.breakers.Snapshot()),
	})
}

func countTripped(breakers []domain.CircuitBreaker) int {
	n := 0
	for _, b := range breakers {
		if b.State == domain.BreakerTripped {
			n++
		}
	}
	return n
}
