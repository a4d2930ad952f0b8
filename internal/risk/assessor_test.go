package risk

import (
	"context"
	"log/slog"
	"io"
	"testing"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		MaxPriceImpactPct: 2.0,
		MaxGasPriceGwei:   150,
		CautionThreshold:  40,
		DeclineThreshold:  70,
	}
}

func TestAssessArbitrageHealthyYieldsProceed(t *testing.T) {
	a := New(testConfig(), nil, discardLogger())
	opp := domain.Opportunity{
		ID:   "opp-1",
		Type: domain.OpportunityPriceArbitrage,
		Arbitrage: &domain.ArbitragePayload{
			PriceImpact:    domain.PriceImpact{Total: 0.5},
			LiquidityScore: domain.LiquidityHigh,
			RiskScore:      10,
		},
	}
	result, err := a.Assess(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskProceed, result.Recommendation)
	assert.Empty(t, result.Factors)
}

func TestAssessArbitrageHighImpactAndLowLiquidityDeclines(t *testing.T) {
	a := New(testConfig(), nil, discardLogger())
	opp := domain.Opportunity{
		ID:   "opp-2",
		Type: domain.OpportunityPriceArbitrage,
		Arbitrage: &domain.ArbitragePayload{
			PriceImpact:    domain.PriceImpact{Total: 5.0},
			LiquidityScore: domain.LiquidityLow,
			RiskScore:      80,
		},
	}
	result, err := a.Assess(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskDecline, result.Recommendation)
	assert.Contains(t, result.Factors, "high_price_impact")
	assert.Contains(t, result.Factors, "low_liquidity")
}

func TestAssessMempoolHighMEVRiskAddsCaution(t *testing.T) {
	a := New(testConfig(), nil, discardLogger())
	opp := domain.Opportunity{
		ID:   "opp-3",
		Type: domain.OpportunityMEVSandwich,
		Mempool: &domain.MempoolPayload{
			GasPriceGwei:   200,
			MEVRisk:        "high",
			BundleTxHashes: []string{"0xa", "0xb"},
		},
	}
	result, err := a.Assess(context.Background(), opp)
	require.NoError(t, err)
	assert.NotEqual(t, domain.RiskProceed, result.Recommendation)
	assert.Contains(t, result.Factors, "high_gas_price")
	assert.Contains(t, result.Factors, "high_mev_risk")
	assert.Contains(t, result.Factors, "sandwich_bundle_detected")
}

func TestAssessConsultsMarketVolatilitySnapshot(t *testing.T) {
	cfg := testConfig()
	volatile := func() domain.MarketConditions { return domain.MarketConditions{Volatility: domain.LiquidityHigh} }
	a := New(cfg, volatile, discardLogger())

	opp := domain.Opportunity{
		ID:   "opp-4",
		Type: domain.OpportunityPriceArbitrage,
		Arbitrage: &domain.ArbitragePayload{
			PriceImpact:    domain.PriceImpact{Total: 0.1},
			LiquidityScore: domain.LiquidityHigh,
			RiskScore:      5,
		},
	}
	result, err := a.Assess(context.Background(), opp)
	require.NoError(t, err)
	assert.Contains(t, result.Factors, "elevated_market_volatility")
}

func TestAssessAnomalyScalesWithDeviation(t *testing.T) {
	a := New(testConfig(), nil, discardLogger())
	opp := domain.Opportunity{
		ID:   "opp-5",
		Type: domain.OpportunityPriceAnomaly,
		Anomaly: &domain.AnomalyPayload{
			DeviationPct: 150,
		},
	}
	result, err := a.Assess(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, 75.0, result.RiskScore)
	assert.Contains(t, result.Factors, "extreme_price_deviation")
}

func TestAssessRiskScoreNeverExceeds100(t *testing.T) {
	a := New(testConfig(), nil, discardLogger())
	opp := domain.Opportunity{
		ID:   "opp-6",
		Type: domain.OpportunityPriceArbitrage,
		Arbitrage: &domain.ArbitragePayload{
			PriceImpact:    domain.PriceImpact{Total: 50},
			LiquidityScore: domain.LiquidityLow,
			RiskScore:      100,
		},
	}
	result, err := a.Assess(context.Background(), opp)
	require.NoError(t, err)
	assert.LessOrEqual(t, result.RiskScore, 100.0)
}
