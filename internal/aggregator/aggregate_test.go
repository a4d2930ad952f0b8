package aggregator

import (
	"testing"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(symbol, source, venue string, price float64, age time.Duration, now time.Time) domain.PricePoint {
	return domain.PricePoint{
		Symbol:     symbol,
		SourceID:   source,
		Venue:      venue,
		Price:      price,
		Confidence: 0.9,
		Weight:     1.0,
		ObservedAt: now.Add(-age),
	}
}

func TestAggregateTooFewSources(t *testing.T) {
	now := time.Now()
	cfg := config.AggregatorConfig{MinSources: 2}
	cfg.MaxPriceAge.Duration = time.Minute
	_, _, ok := Aggregate("ETH", []domain.PricePoint{point("ETH", "a", "v1", 100, 0, now)}, now, cfg)
	assert.False(t, ok)
}

func TestAggregateWeightedMean(t *testing.T) {
	now := time.Now()
	cfg := config.AggregatorConfig{MinSources: 2, OutlierThreshold: 0.5}
	cfg.MaxPriceAge.Duration = time.Minute

	points := []domain.PricePoint{
		point("ETH", "a", "v1", 100, 0, now),
		point("ETH", "b", "v2", 102, 0, now),
	}
	agg, opps, ok := Aggregate("ETH", points, now, cfg)
	require.True(t, ok)
	assert.InDelta(t, 101, agg.Price, 0.5)
	assert.Equal(t, 2, agg.SourceCount)
	assert.Equal(t, 0, agg.OutlierCount)
	assert.NotEmpty(t, opps, "2-venue spread above fee ceiling should emit an arbitrage opportunity")
}

func TestAggregateDiscardsOutlier(t *testing.T) {
	now := time.Now()
	cfg := config.AggregatorConfig{MinSources: 2, OutlierThreshold: 0.1}
	cfg.MaxPriceAge.Duration = time.Minute

	points := []domain.PricePoint{
		point("ETH", "a", "v1", 100, 0, now),
		point("ETH", "b", "v1", 101, 0, now),
		point("ETH", "c", "v1", 1000, 0, now), // wild outlier
	}
	agg, _, ok := Aggregate("ETH", points, now, cfg)
	require.True(t, ok)
	assert.Equal(t, 1, agg.OutlierCount)
	assert.Less(t, agg.Price, 200.0)
}

func TestAggregateDropsStalePoints(t *testing.T) {
	now := time.Now()
	cfg := config.AggregatorConfig{MinSources: 2, OutlierThreshold: 0.2}
	cfg.MaxPriceAge.Duration = 5 * time.Second

	points := []domain.PricePoint{
		point("ETH", "a", "v1", 100, time.Minute, now), // stale
		point("ETH", "b", "v1", 100, 0, now),
	}
	_, _, ok := Aggregate("ETH", points, now, cfg)
	assert.False(t, ok, "only one fresh point remains, below MinSources")
}

func TestAggregateNoOpportunityBelowFeeCeiling(t *testing.T) {
	now := time.Now()
	cfg := config.AggregatorConfig{MinSources: 2, OutlierThreshold: 0.5, FeeCeiling: 0.05, FeeBudgetPct: 0.006}
	cfg.MaxPriceAge.Duration = time.Minute

	points := []domain.PricePoint{
		point("ETH", "a", "v1", 100, 0, now),
		point("ETH", "b", "v2", 100.1, 0, now),
	}
	_, opps, ok := Aggregate("ETH", points, now, cfg)
	require.True(t, ok)
	assert.Empty(t, opps)
}

func TestAggregateIdempotent(t *testing.T) {
	now := time.Now()
	cfg := testConfigSimple()

	points := []domain.PricePoint{
		point("ETH", "a", "v1", 100, 0, now),
		point("ETH", "b", "v2", 101, 0, now),
	}
	agg1, _, ok1 := Aggregate("ETH", points, now, cfg)
	agg2, _, ok2 := Aggregate("ETH", points, now, cfg)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, agg1.Price, agg2.Price)
	assert.Equal(t, agg1.Confidence, agg2.Confidence)
}

func testConfigSimple() config.AggregatorConfig {
	cfg := config.AggregatorConfig{MinSources: 2, OutlierThreshold: 0.2, FeeCeiling: 0.006, FeeBudgetPct: 0.006}
	cfg.MaxPriceAge.Duration = time.Minute
	return cfg
}
