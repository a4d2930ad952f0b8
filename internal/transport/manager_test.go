package transport

import (
	"testing"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	now := time.Now()

	t.Run("unhealthy endpoint scores below any healthy one", func(t *testing.T) {
		unhealthy := endpointSnapshot{Healthy: false}
		assert.Less(t, Score(unhealthy, now), Score(endpointSnapshot{Healthy: true, Priority: 9}, now))
	})

	t.Run("lower priority value increases score", func(t *testing.T) {
		low := endpointSnapshot{Healthy: true, Priority: 1, SuccessRate: 1}
		high := endpointSnapshot{Healthy: true, Priority: 5, SuccessRate: 1}
		assert.Greater(t, Score(low, now), Score(high, now))
	})

	t.Run("consecutive failures penalize score", func(t *testing.T) {
		clean := endpointSnapshot{Healthy: true, Priority: 1, SuccessRate: 1}
		failing := endpointSnapshot{Healthy: true, Priority: 1, SuccessRate: 1, ConsecutiveFailures: 3}
		assert.Greater(t, Score(clean, now), Score(failing, now))
	})

	t.Run("uptime bonus caps at 10", func(t *testing.T) {
		cappedA := endpointSnapshot{Healthy: true, Priority: 1, SuccessRate: 1, UptimeMinutes: 100}
		cappedB := endpointSnapshot{Healthy: true, Priority: 1, SuccessRate: 1, UptimeMinutes: 1000}
		assert.Equal(t, Score(cappedA, now), Score(cappedB, now))
	})
}

func TestManagerRankedEndpoints(t *testing.T) {
	m := &Manager{endpoints: map[string]*endpoint{
		"a": {cfg: config.EndpointConfig{ID: "a", Priority: 2}, healthy: true, successCount: 9, totalCount: 10},
		"b": {cfg: config.EndpointConfig{ID: "b", Priority: 1}, healthy: true, successCount: 10, totalCount: 10},
		"c": {cfg: config.EndpointConfig{ID: "c", Priority: 1}, healthy: false},
	}, order: []string{"a", "b", "c"}}

	ranked := m.rankedEndpoints()
	assert.Len(t, ranked, 2, "unhealthy endpoints are excluded from ranking")
	assert.Equal(t, "b", ranked[0].ID, "higher success rate and lower priority wins")
}
