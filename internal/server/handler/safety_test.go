package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBreakerRegistry struct {
	breakers []domain.CircuitBreaker
}

func (f fakeBreakerRegistry) Snapshot() []domain.CircuitBreaker { return f.breakers }

type fakeIncidentSource struct {
	incidents []domain.Incident
}

func (f fakeIncidentSource) Active() []domain.Incident { return f.incidents }

type fakeTradingGate struct {
	allowed bool
	reason  string
}

func (f fakeTradingGate) IsTradingAllowed() (bool, string) { return f.allowed, f.reason }

func TestSafetyBreakersReturnsSnapshot(t *testing.T) {
	h := NewSafetyHandler(fakeBreakerRegistry{breakers: []domain.CircuitBreaker{
		{Name: "highGasPrice", State: domain.BreakerArmed},
	}}, fakeIncidentSource{}, fakeTradingGate{allowed: true}, nil)

	rec := httptest.NewRecorder()
	h.Breakers(rec, httptest.NewRequest(http.MethodGet, "/api/safety/breakers", nil))

	var body struct {
		Breakers []domain.CircuitBreaker `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Breakers, 1)
	assert.Equal(t, "highGasPrice", body.Breakers[0].Name)
}

func TestSafetyStatusReportsGateAndTrippedCount(t *testing.T) {
	breakers := []domain.CircuitBreaker{
		{Name: "a", State: domain.BreakerTripped},
		{Name: "b", State: domain.BreakerArmed},
	}
	h := NewSafetyHandler(
		fakeBreakerRegistry{breakers: breakers},
		fakeIncidentSource{incidents: []domain.Incident{{ID: "inc-1"}}},
		fakeTradingGate{allowed: false, reason: "a"},
		func() bool { return true },
	)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/safety/status", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["trading_allowed"])
	assert.Equal(t, "a", body["gate_reason"])
	assert.Equal(t, true, body["emergency_stop_active"])
	assert.Equal(t, float64(1), body["active_incidents"])
	assert.Equal(t, float64(1), body["tripped_breakers"])
}

func TestSafetyStatusDefaultsEmergencyToFalseWhenNil(t *testing.T) {
	h := NewSafetyHandler(fakeBreakerRegistry{}, fakeIncidentSource{}, fakeTradingGate{allowed: true}, nil)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/safety/status", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["emergency_stop_active"])
}
