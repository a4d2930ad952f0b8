package pipeline

import (
	"context"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
)

// Outcome tags the result of running a single pipeline stage. Stages never
// use panics or context cancellation errors for control flow: validate,
// score and decide return a stageResult on every path, assessRisk folds a
// timeout or assessor error into a fallback RiskAssessment, and
// executionPriority returns a plain number (the cooperative-cancellation
// redesign of the Promise.race-style timeouts this pipeline replaces).
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeRejected Outcome = "rejected"
	OutcomeErrored  Outcome = "errored"
)

// stageResult is returned by the validate, score and decide stages.
type stageResult struct {
	Outcome Outcome
	Reason  string
	Err     error
}

func ok() stageResult                    { return stageResult{Outcome: OutcomeOK} }
func rejected(reason string) stageResult { return stageResult{Outcome: OutcomeRejected, Reason: reason} }
func errored(reason string, err error) stageResult {
	return stageResult{Outcome: OutcomeErrored, Reason: reason, Err: err}
}

// scoringWeights are the fixed weights applied to each scoring sub-score.
// They sum to 1.0 over a 0-100 sub-score scale.
const (
	weightProfit     = 0.4
	weightConfidence = 0.2
	weightLiquidity  = 0.15
	weightSpeed      = 0.1
	weightRisk       = 0.1
	weightMarket     = 0.05

	minTotalScore      = 50.0
	minExecutionScore  = 60.0
	mevMinSpeedScore   = 80.0
	arbMinProfitScore  = 40.0
	arbMinConfidence   = 60.0
)

// validate applies the admission checks: freshness, price staleness, the
// profit floor, and type-specific requirements. Opportunities failing here
// terminate at StageRejected.
func validate(opp domain.Opportunity, now time.Time, cfg config.PipelineConfig) stageResult {
	timeout := cfg.OpportunityTimeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opp.Age(now) > timeout {
		return rejected("opportunity_too_old")
	}

	priceValidity := cfg.PriceValidityWindow.Duration
	if priceValidity <= 0 {
		priceValidity = 5 * time.Second
	}
	if opp.Type == domain.OpportunityPriceArbitrage || opp.Type == domain.OpportunityPriceAnomaly {
		if opp.Age(now) > priceValidity {
			return rejected("price_too_stale")
		}
	}

	if netProfit, ok := opp.NetProfitPercentage(); ok {
		if netProfit < cfg.MinProfitThreshold && opp.Type != domain.OpportunityMEVFrontrun && opp.Type != domain.OpportunityMEVSandwich && opp.Type != domain.OpportunityPriceAnomaly {
			return rejected("profit_below_threshold")
		}
	}

	switch opp.Type {
	case domain.OpportunityPriceArbitrage:
		a := opp.Arbitrage
		if a == nil || a.BuyVenue == "" || a.SellVenue == "" {
			return rejected("arbitrage_missing_venue")
		}
		if a.LiquidityScore == domain.LiquidityLow {
			return rejected("arbitrage_low_liquidity")
		}
		if a.PriceImpact.Total > 0.02 {
			return rejected("arbitrage_price_impact_too_high")
		}
	case domain.OpportunityMEVFrontrun, domain.OpportunityMEVSandwich:
		if opp.Age(now) > 5*time.Second {
			return rejected("mev_stale")
		}
	case domain.OpportunityMempool:
		if opp.Mempool == nil || (!opp.Mempool.HasOpportunity && opp.Mempool.MEVRisk != "high") {
			return rejected("mempool_no_signal")
		}
	}

	return ok()
}

// score computes the weighted sub-scores and total. Opportunities scoring
// below minTotalScore terminate at StageLowScore.
func score(opp domain.Opportunity, now time.Time, cfg config.PipelineConfig, market domain.MarketConditions) (domain.Scores, stageResult) {
	timeout := cfg.OpportunityTimeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := domain.Scores{
		Profit:     profitScore(opp),
		Confidence: confidenceScore(opp),
		Liquidity:  liquidityScore(opp),
		Speed:      speedScore(opp, now, timeout),
		Risk:       preRiskScore(opp),
		Market:     marketScore(market),
	}
	s.Total = s.Profit*weightProfit + s.Confidence*weightConfidence + s.Liquidity*weightLiquidity +
		s.Speed*weightSpeed + s.Risk*weightRisk + s.Market*weightMarket

	if s.Total < minTotalScore {
		return s, rejected("score_below_floor")
	}
	return s, ok()
}

func profitScore(opp domain.Opportunity) float64 {
	netProfit, has := opp.NetProfitPercentage()
	if !has {
		return 50
	}
	return clampScore(netProfit * 100 * 50)
}

func confidenceScore(opp domain.Opportunity) float64 {
	if opp.Confidence > 0 {
		return clampScore(opp.Confidence * 100)
	}
	base := 50.0
	if opp.Arbitrage != nil {
		if opp.Arbitrage.LiquidityScore == domain.LiquidityHigh {
			base += 15
		}
		if opp.Arbitrage.PriceImpact.Total < 0.005 {
			base += 15
		}
	}
	return clampScore(base)
}

func liquidityScore(opp domain.Opportunity) float64 {
	if opp.Arbitrage == nil {
		return 60
	}
	switch opp.Arbitrage.LiquidityScore {
	case domain.LiquidityLow:
		return 20
	case domain.LiquidityHigh:
		return 100
	default:
		return 60
	}
}

func speedScore(opp domain.Opportunity, now time.Time, timeout time.Duration) float64 {
	age := opp.Age(now)
	frac := float64(age) / float64(timeout)
	return clampScore(100 - frac*100)
}

// preRiskScore is a cheap pre-risk-assessment heuristic (urgency- and
// type-derived); the real risk figure comes from the risk_assessment stage.
func preRiskScore(opp domain.Opportunity) float64 {
	risk := 20.0
	switch opp.Urgency {
	case domain.UrgencyCritical:
		risk += 30
	case domain.UrgencyHigh:
		risk += 15
	}
	if opp.Type == domain.OpportunityMEVSandwich || opp.Type == domain.OpportunityMEVFrontrun {
		risk += 20
	}
	if opp.Arbitrage != nil && opp.Arbitrage.LiquidityScore == domain.LiquidityLow {
		risk += 20
	}
	return clampScore(100 - risk)
}

func marketScore(m domain.MarketConditions) float64 {
	return (tierScore(m.Volatility, true) + tierScore(m.Liquidity, false) + tierScore(m.Gas, true)) / 3
}

// tierScore maps a low/medium/high tag to a 0-100 score. inverse=true means
// "high" is bad (volatility, gas); inverse=false means "high" is good
// (liquidity).
func tierScore(tag domain.LiquidityTier, inverse bool) float64 {
	switch tag {
	case domain.LiquidityLow:
		if inverse {
			return 100
		}
		return 20
	case domain.LiquidityHigh:
		if inverse {
			return 20
		}
		return 100
	default:
		return 60
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// assessRisk delegates to the registered RiskAssessor under a bounded
// deadline. Timeout or error is treated as riskScore 75, recommendation
// decline, per contract.
func assessRisk(ctx context.Context, assessor domain.RiskAssessor, opp domain.Opportunity, timeout time.Duration) domain.RiskAssessment {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	assessCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := assessor.Assess(assessCtx, opp)
	if err != nil {
		return domain.RiskAssessment{RiskScore: 75, Recommendation: domain.RiskDecline, Factors: []string{"risk_assessor_error"}}
	}
	return result
}

// decide applies the execution_decision gate. Failures terminate at
// StageHighRisk with a reason capturing which condition failed.
func decide(opp domain.Opportunity, scores domain.Scores, risk domain.RiskAssessment, cfg config.PipelineConfig, inFlight, maxConcurrent int) stageResult {
	if scores.Total < minExecutionScore {
		return rejected("score_below_execution_floor")
	}
	if risk.RiskScore > cfg.MaxRiskScore {
		return rejected("risk_above_max")
	}
	if risk.Recommendation == domain.RiskDecline {
		return rejected("execution_declined")
	}
	if maxConcurrent > 0 && inFlight > maxConcurrent {
		return rejected("backpressure")
	}

	switch opp.Type {
	case domain.OpportunityMEVFrontrun, domain.OpportunityMEVSandwich:
		if scores.Speed <= mevMinSpeedScore {
			return rejected("mev_insufficient_speed")
		}
	case domain.OpportunityPriceArbitrage:
		if scores.Profit <= arbMinProfitScore || scores.Confidence <= arbMinConfidence {
			return rejected("arbitrage_insufficient_profit_or_confidence")
		}
	}

	return ok()
}

// executionPriority computes the queueing-stage priority used by external
// Executor callers to pull opportunities in order, capped at 150.
func executionPriority(scores domain.Scores, opp domain.Opportunity, now time.Time, timeout time.Duration) float64 {
	priority := scores.Total
	if opp.Urgency == domain.UrgencyCritical {
		priority += 20
	}
	if opp.Type == domain.OpportunityMEVFrontrun || opp.Type == domain.OpportunityMEVSandwich {
		priority += 15
	}
	if timeout > 0 {
		frac := float64(opp.Age(now)) / float64(timeout)
		priority += (1 - clamp01(frac)) * 10
	}
	if priority > 150 {
		priority = 150
	}
	return priority
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
