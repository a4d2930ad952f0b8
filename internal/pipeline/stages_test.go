package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
)

func testPipelineConfig() config.PipelineConfig {
	cfg := config.PipelineConfig{
		MinProfitThreshold:         0.005,
		MaxRiskScore:               70,
		MaxConcurrentOpportunities: 50,
		HistoryRetention:           1000,
	}
	cfg.OpportunityTimeout.Duration = 10 * time.Second
	cfg.PriceValidityWindow.Duration = 5 * time.Second
	cfg.RiskAssessmentTimeout.Duration = 2 * time.Second
	return cfg
}

func arbitrageOpportunity(netProfit float64, liquidity domain.LiquidityTier, impact float64, age time.Duration, now time.Time) domain.Opportunity {
	return domain.Opportunity{
		ID:         "opp-1",
		Type:       domain.OpportunityPriceArbitrage,
		Symbol:     "WETH/USDC",
		DetectedAt: now.Add(-age),
		Urgency:    domain.UrgencyMedium,
		Confidence: 0.8,
		Arbitrage: &domain.ArbitragePayload{
			BuyVenue:            "uniswap-v2",
			SellVenue:           "uniswap-v3",
			NetProfitPercentage: netProfit,
			LiquidityScore:      liquidity,
			PriceImpact:         domain.PriceImpact{Total: impact},
		},
	}
}

func TestValidateRejectsStaleOpportunity(t *testing.T) {
	now := time.Now()
	cfg := testPipelineConfig()
	opp := arbitrageOpportunity(0.01, domain.LiquidityHigh, 0.01, 20*time.Second, now)

	res := validate(opp, now, cfg)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, "opportunity_too_old", res.Reason)
}

func TestValidateRejectsLowLiquidityArbitrage(t *testing.T) {
	now := time.Now()
	cfg := testPipelineConfig()
	opp := arbitrageOpportunity(0.01, domain.LiquidityLow, 0.01, time.Second, now)

	res := validate(opp, now, cfg)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, "arbitrage_low_liquidity", res.Reason)
}

func TestValidateRejectsHighPriceImpact(t *testing.T) {
	now := time.Now()
	cfg := testPipelineConfig()
	opp := arbitrageOpportunity(0.01, domain.LiquidityHigh, 0.03, time.Second, now)

	res := validate(opp, now, cfg)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, "arbitrage_price_impact_too_high", res.Reason)
}

func TestValidateAcceptsHealthyArbitrage(t *testing.T) {
	now := time.Now()
	cfg := testPipelineConfig()
	opp := arbitrageOpportunity(0.01, domain.LiquidityHigh, 0.005, time.Second, now)

	res := validate(opp, now, cfg)
	assert.Equal(t, OutcomeOK, res.Outcome)
}

func TestScoreRejectsBelowFloor(t *testing.T) {
	now := time.Now()
	cfg := testPipelineConfig()
	opp := arbitrageOpportunity(0.0001, domain.LiquidityLow, 0.01, 9*time.Second, now)
	opp.Confidence = 0.1

	scores, res := score(opp, now, cfg, domain.MarketConditions{})
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Less(t, scores.Total, minTotalScore)
}

func TestScoreAcceptsStrongArbitrage(t *testing.T) {
	now := time.Now()
	cfg := testPipelineConfig()
	opp := arbitrageOpportunity(0.015, domain.LiquidityHigh, 0.002, time.Second, now)

	scores, res := score(opp, now, cfg, domain.MarketConditions{Volatility: domain.LiquidityLow, Liquidity: domain.LiquidityHigh, Gas: domain.LiquidityLow})
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.GreaterOrEqual(t, scores.Total, minTotalScore)
}

func TestDecideRequiresExecutionFloorAndRiskCeiling(t *testing.T) {
	cfg := testPipelineConfig()
	opp := arbitrageOpportunity(0.015, domain.LiquidityHigh, 0.002, time.Second, time.Now())
	scores := domain.Scores{Total: 65, Profit: 70, Confidence: 70}

	proceed := domain.RiskAssessment{RiskScore: 30, Recommendation: domain.RiskProceed}
	assert.Equal(t, OutcomeOK, decide(opp, scores, proceed, cfg, 1, 50).Outcome)

	tooRisky := domain.RiskAssessment{RiskScore: 90, Recommendation: domain.RiskProceed}
	res := decide(opp, scores, tooRisky, cfg, 1, 50)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, "risk_above_max", res.Reason)

	declined := domain.RiskAssessment{RiskScore: 30, Recommendation: domain.RiskDecline}
	res = decide(opp, scores, declined, cfg, 1, 50)
	assert.Equal(t, "execution_declined", res.Reason)
}

func TestDecideArbitrageRequiresProfitAndConfidence(t *testing.T) {
	cfg := testPipelineConfig()
	opp := arbitrageOpportunity(0.015, domain.LiquidityHigh, 0.002, time.Second, time.Now())
	weakScores := domain.Scores{Total: 65, Profit: 30, Confidence: 70}
	proceed := domain.RiskAssessment{RiskScore: 30, Recommendation: domain.RiskProceed}

	res := decide(opp, weakScores, proceed, cfg, 1, 50)
	assert.Equal(t, "arbitrage_insufficient_profit_or_confidence", res.Reason)
}

func TestDecideMEVRequiresSpeed(t *testing.T) {
	cfg := testPipelineConfig()
	opp := domain.Opportunity{ID: "mev-1", Type: domain.OpportunityMEVFrontrun, DetectedAt: time.Now()}
	slowScores := domain.Scores{Total: 65, Speed: 40}
	proceed := domain.RiskAssessment{RiskScore: 30, Recommendation: domain.RiskProceed}

	res := decide(opp, slowScores, proceed, cfg, 1, 50)
	assert.Equal(t, "mev_insufficient_speed", res.Reason)
}

func TestExecutionPriorityCapsAt150(t *testing.T) {
	now := time.Now()
	opp := domain.Opportunity{Type: domain.OpportunityMEVSandwich, Urgency: domain.UrgencyCritical, DetectedAt: now}
	scores := domain.Scores{Total: 140}

	priority := executionPriority(scores, opp, now, 10*time.Second)
	assert.LessOrEqual(t, priority, 150.0)
	assert.Equal(t, 150.0, priority)
}

func TestAssessRiskFallsBackOnTimeout(t *testing.T) {
	slow := riskAssessorFunc(func(ctx context.Context, opp domain.Opportunity) (domain.RiskAssessment, error) {
		select {
		case <-ctx.Done():
			return domain.RiskAssessment{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return domain.RiskAssessment{RiskScore: 10, Recommendation: domain.RiskProceed}, nil
		}
	})

	result := assessRisk(context.Background(), slow, domain.Opportunity{}, 5*time.Millisecond)
	assert.Equal(t, 75.0, result.RiskScore)
	assert.Equal(t, domain.RiskDecline, result.Recommendation)
}

type riskAssessorFunc func(ctx context.Context, opp domain.Opportunity) (domain.RiskAssessment, error)

func (f riskAssessorFunc) Assess(ctx context.Context, opp domain.Opportunity) (domain.RiskAssessment, error) {
	return f(ctx, opp)
}
