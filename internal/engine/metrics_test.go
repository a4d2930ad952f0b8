package engine

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierByIncreasing(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		want domain.LiquidityTier
	}{
		{"below medium cutoff is low", 0.01, domain.LiquidityLow},
		{"at medium cutoff is medium", 0.03, domain.LiquidityMedium},
		{"between cutoffs is medium", 0.05, domain.LiquidityMedium},
		{"at high cutoff is high", 0.08, domain.LiquidityHigh},
		{"above high cutoff is high", 0.2, domain.LiquidityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tierByIncreasing(tt.v, volatilityMediumCutoff, volatilityHighCutoff)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTierByDecreasing(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		want domain.LiquidityTier
	}{
		{"at or below low cutoff is low", 1000, domain.LiquidityLow},
		{"at low cutoff boundary is low", liquidityLowCutoffUSD, domain.LiquidityLow},
		{"between cutoffs is medium", 15000, domain.LiquidityMedium},
		{"at med cutoff boundary is medium", liquidityMedCutoffUSD, domain.LiquidityMedium},
		{"above med cutoff is high", 50000, domain.LiquidityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tierByDecreasing(tt.v, liquidityLowCutoffUSD, liquidityMedCutoffUSD)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollectorMarketConditionsReflectsLatestObservations(t *testing.T) {
	c := NewCollector(256)

	c.ObserveAggregate(domain.AggregatedPrice{
		Spread: 0.1,
		Contributing: []domain.PricePoint{
			{Liquidity: 1000},
			{Liquidity: 40000},
		},
	})
	c.ObserveOpportunity(domain.Opportunity{
		Type:    domain.OpportunityMEVSandwich,
		Mempool: &domain.MempoolPayload{GasPriceGwei: 200},
	})

	got := c.MarketConditions()
	assert.Equal(t, domain.LiquidityHigh, got.Volatility, "0.1 spread deviation exceeds the high volatility cutoff")
	assert.Equal(t, domain.LiquidityLow, got.Liquidity, "lowest contributing venue liquidity (1000) is below the low cutoff")
	assert.Equal(t, domain.LiquidityHigh, got.Gas, "200 gwei exceeds the high gas cutoff")
}

func TestCollectorMarketConditionsDefaultsToLowWithNoObservations(t *testing.T) {
	c := NewCollector(256)
	got := c.MarketConditions()
	assert.Equal(t, domain.LiquidityLow, got.Volatility)
	assert.Equal(t, domain.LiquidityLow, got.Gas)
}

func TestCollectorSnapshotComputesRatesAndMemoryPct(t *testing.T) {
	c := NewCollector(1)

	for i := 0; i < 10; i++ {
		var err error
		if i < 3 {
			err = assert.AnError
		}
		c.ObserveRouterDispatch(err)
		c.ObserveRPCCall(err)
	}

	snap := c.Snapshot(context.Background())
	assert.InDelta(t, 0.3, snap.ErrorRate, 0.001)
	assert.InDelta(t, 0.3, snap.RPCFailureRate, 0.001)
	assert.GreaterOrEqual(t, snap.MemoryUsagePct, 0.0)
	assert.LessOrEqual(t, snap.MemoryUsagePct, 1.0)
}

func TestCollectorSampleMatchesSnapshotRates(t *testing.T) {
	c := NewCollector(256)
	c.ObserveRouterDispatch(assert.AnError)
	c.ObserveRouterDispatch(nil)

	sample := c.Sample(context.Background())
	assert.InDelta(t, 0.5, sample["error_rate"], 0.001)
}

func TestCollectorHandlerServesMetrics(t *testing.T) {
	c := NewCollector(256)
	c.ObserveOpportunity(domain.Opportunity{Type: domain.OpportunityPriceArbitrage})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "arbiton_opportunities_total")
}

func TestClampFraction(t *testing.T) {
	assert.Equal(t, 0.0, clampFraction(-1))
	assert.Equal(t, 1.0, clampFraction(2))
	assert.Equal(t, 0.5, clampFraction(0.5))
}

func TestRateOfZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, rateOf(5, 0))
}
