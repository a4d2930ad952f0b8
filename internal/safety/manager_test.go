package safety

import (
	"context"
	"testing"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFullSafetyConfig() config.SafetyConfig {
	cfg := testSafetyConfig()
	cfg.MonitoringInterval.Duration = 5 * time.Millisecond
	cfg.Incident = testIncidentConfig()
	cfg.EmergencyStop = testEmergencyStopConfig()
	return cfg
}

type fakeLockManager struct {
	held bool
	err  error
}

func (f *fakeLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	if f.err != nil {
		return nil, f.err
	}
	return func() {}, nil
}

func TestManagerIsTradingAllowedTrueByDefault(t *testing.T) {
	m := New(testFullSafetyConfig(), nil, nil, nil, discardLogger())
	allowed, reason := m.IsTradingAllowed()
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestManagerBlocksTradingWhenEmergencyStopActive(t *testing.T) {
	m := New(testFullSafetyConfig(), nil, nil, nil, discardLogger())
	require.NoError(t, m.TriggerEmergencyStop(context.Background(), "test", LevelWarning, "suite", nil, nil, nil))

	allowed, reason := m.IsTradingAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "emergency_stop", reason)
}

func TestManagerCheckBreakersMergesLossAccountIntoProvidedMetrics(t *testing.T) {
	provider := func(ctx context.Context) domain.SafetyMetrics { return healthySnapshot() }
	m := New(testFullSafetyConfig(), nil, provider, nil, discardLogger())

	m.RecordTradeResult(-1500, time.Now())
	m.CheckBreakers(context.Background())

	allowed, reason := m.IsTradingAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "dailyLoss", reason)
}

func TestManagerDetectIncidentsNoopsWithoutSampler(t *testing.T) {
	m := New(testFullSafetyConfig(), nil, nil, nil, discardLogger())
	assert.NotPanics(t, func() { m.DetectIncidents(context.Background(), time.Now()) })
}

func TestAcquireCheckLockRunsLocallyWithoutLockManager(t *testing.T) {
	m := New(testFullSafetyConfig(), nil, nil, nil, discardLogger())
	unlock, ok := m.acquireCheckLock(context.Background(), "safety:monitor", time.Second)
	require.True(t, ok)
	assert.NotPanics(t, unlock)
}

func TestAcquireCheckLockSkipsWhenHeldByAnotherInstance(t *testing.T) {
	m := New(testFullSafetyConfig(), nil, nil, nil, discardLogger())
	m.SetLockManager(&fakeLockManager{held: true})

	unlock, ok := m.acquireCheckLock(context.Background(), "safety:monitor", time.Second)
	assert.False(t, ok)
	assert.Nil(t, unlock)
}

func TestAcquireCheckLockFailsOpenOnLockError(t *testing.T) {
	m := New(testFullSafetyConfig(), nil, nil, nil, discardLogger())
	m.SetLockManager(&fakeLockManager{err: assert.AnError})

	unlock, ok := m.acquireCheckLock(context.Background(), "safety:monitor", time.Second)
	require.True(t, ok)
	assert.NotPanics(t, unlock)
}

func TestManagerRunStopsOnContextCancellation(t *testing.T) {
	m := New(testFullSafetyConfig(), nil, func(ctx context.Context) domain.SafetyMetrics { return healthySnapshot() }, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
