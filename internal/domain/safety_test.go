package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationForKnownClasses(t *testing.T) {
	assert.Equal(t, 5*time.Minute, DurationFor(DurationShort))
	assert.Equal(t, 30*time.Minute, DurationFor(DurationMedium))
	assert.Equal(t, time.Hour, DurationFor(DurationLong))
	assert.Equal(t, 4*time.Hour, DurationFor(DurationEmergency))
}

func TestDurationForUnknownClassDefaultsToShort(t *testing.T) {
	assert.Equal(t, 5*time.Minute, DurationFor(BreakerDuration("bogus")))
}

func TestCircuitBreakerReadyToRecover(t *testing.T) {
	trippedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	notTripped := CircuitBreaker{State: BreakerArmed, AutoRecovery: true, TrippedAt: trippedAt, Duration: DurationShort}
	assert.False(t, notTripped.ReadyToRecover(trippedAt.Add(time.Hour)))

	noAutoRecovery := CircuitBreaker{State: BreakerTripped, AutoRecovery: false, TrippedAt: trippedAt, Duration: DurationShort}
	assert.False(t, noAutoRecovery.ReadyToRecover(trippedAt.Add(time.Hour)))

	tooSoon := CircuitBreaker{State: BreakerTripped, AutoRecovery: true, TrippedAt: trippedAt, Duration: DurationShort}
	assert.False(t, tooSoon.ReadyToRecover(trippedAt.Add(time.Minute)))

	waitedEnough := CircuitBreaker{State: BreakerTripped, AutoRecovery: true, TrippedAt: trippedAt, Duration: DurationShort}
	assert.True(t, waitedEnough.ReadyToRecover(trippedAt.Add(5*time.Minute)))
}

func TestIncidentResolved(t *testing.T) {
	assert.True(t, Incident{Status: IncidentResolved}.Resolved())
	assert.False(t, Incident{Status: IncidentResponding}.Resolved())
}

func TestReliabilityRecordSuccessUpdatesEMAAndResetsFailures(t *testing.T) {
	r := &ReliabilityRecord{SuccessRate: 0.5, ConsecutiveFailures: 3, Failed: true}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r.RecordSuccess(100*time.Millisecond, now)

	assert.InDelta(t, 0.5*0.99+0.01, r.SuccessRate, 1e-9)
	assert.Equal(t, 100*time.Millisecond, r.AvgLatency)
	assert.Zero(t, r.ConsecutiveFailures)
	assert.Equal(t, now, r.LastSuccess)
	assert.False(t, r.Failed)
}

func TestReliabilityRecordSuccessCapsAtOne(t *testing.T) {
	r := &ReliabilityRecord{SuccessRate: 1.0}
	r.RecordSuccess(time.Millisecond, time.Now())
	assert.Equal(t, 1.0, r.SuccessRate)
}

func TestReliabilityRecordSuccessAveragesLatencyOnSubsequentCalls(t *testing.T) {
	r := &ReliabilityRecord{AvgLatency: 100 * time.Millisecond}
	r.RecordSuccess(200*time.Millisecond, time.Now())
	assert.Equal(t, (100*time.Millisecond*9+200*time.Millisecond)/10, r.AvgLatency)
}

func TestReliabilityRecordFailureDecaysAndCountsFailures(t *testing.T) {
	r := &ReliabilityRecord{SuccessRate: 0.5}
	r.RecordFailure()
	assert.InDelta(t, 0.5*0.95, r.SuccessRate, 1e-9)
	assert.Equal(t, 1, r.ConsecutiveFailures)
}

func TestReliabilityRecordFailureFloorsAtPointOne(t *testing.T) {
	r := &ReliabilityRecord{SuccessRate: 0.1}
	r.RecordFailure()
	assert.Equal(t, 0.1, r.SuccessRate)
}
