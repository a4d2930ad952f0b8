// Package risk implements the risk_assessment stage's external collaborator:
// domain.RiskAssessor. It scores an Opportunity's downside independently of
// the pipeline's own profit/confidence scoring, consulting the engine's
// current market-conditions snapshot where one is available.
package risk

import (
	"context"
	"log/slog"

	"github.com/arbitonlabs/arbiton/internal/domain"
)

// Config holds the tunable thresholds for pre-execution risk checks.
type Config struct {
	MaxPriceImpactPct float64 // arbitrage: total price impact above this adds risk
	MaxGasPriceGwei   float64 // mempool/MEV: gas price above this adds risk
	DeclineThreshold  float64 // RiskScore at/above this yields RiskDecline
	CautionThreshold  float64 // RiskScore at/above this yields RiskCaution
}

// MarketSnapshotFunc returns the engine's current view of market conditions.
// May be nil, in which case the volatility check is skipped.
type MarketSnapshotFunc func() domain.MarketConditions

// Assessor implements domain.RiskAssessor by combining opportunity-type
// specific checks with the live market-conditions snapshot.
type Assessor struct {
	cfg    Config
	market MarketSnapshotFunc
	log    *slog.Logger
}

var _ domain.RiskAssessor = (*Assessor)(nil)

// New creates an Assessor. market may be nil to disable the volatility check.
func New(cfg Config, market MarketSnapshotFunc, log *slog.Logger) *Assessor {
	return &Assessor{
		cfg:    cfg,
		market: market,
		log:    log.With(slog.String("component", "risk_assessor")),
	}
}

// Assess scores the downside of executing opp. Checks performed:
//  1. Type-specific exposure (price impact / liquidity / gas price / MEV risk / anomaly deviation)
//  2. Current market volatility, when a snapshot source is configured
func (a *Assessor) Assess(ctx context.Context, opp domain.Opportunity) (domain.RiskAssessment, error) {
	var factors []string
	var score float64

	switch opp.Type {
	case domain.OpportunityPriceArbitrage:
		score, factors = a.assessArbitrage(opp, factors)
	case domain.OpportunityMempool, domain.OpportunityMEVSandwich, domain.OpportunityMEVFrontrun:
		score, factors = a.assessMempool(opp, factors)
	case domain.OpportunityPriceAnomaly:
		score, factors = a.assessAnomaly(opp, factors)
	default:
		factors = append(factors, "unclassified_opportunity_type")
		score = 50
	}

	if a.market != nil {
		conditions := a.market()
		switch conditions.Volatility {
		case domain.LiquidityHigh:
			score += 20
			factors = append(factors, "elevated_market_volatility")
		case domain.LiquidityMedium:
			score += 10
			factors = append(factors, "moderate_market_volatility")
		}
	}

	if score > 100 {
		score = 100
	}

	rec := domain.RiskProceed
	switch {
	case score >= a.cfg.DeclineThreshold:
		rec = domain.RiskDecline
	case score >= a.cfg.CautionThreshold:
		rec = domain.RiskCaution
	}

	a.log.DebugContext(ctx, "risk assessment complete",
		slog.String("opportunity_id", opp.ID),
		slog.Float64("risk_score", score),
		slog.String("recommendation", string(rec)),
	)

	return domain.RiskAssessment{RiskScore: score, Factors: factors, Recommendation: rec}, nil
}

func (a *Assessor) assessArbitrage(opp domain.Opportunity, factors []string) (float64, []string) {
	if opp.Arbitrage == nil {
		return 50, append(factors, "missing_arbitrage_payload")
	}
	score := opp.Arbitrage.RiskScore * 0.3

	if opp.Arbitrage.PriceImpact.Total > a.cfg.MaxPriceImpactPct {
		score += 30
		factors = append(factors, "high_price_impact")
	}
	switch opp.Arbitrage.LiquidityScore {
	case domain.LiquidityLow:
		score += 25
		factors = append(factors, "low_liquidity")
	case domain.LiquidityMedium:
		score += 10
	}
	return score, factors
}

func (a *Assessor) assessMempool(opp domain.Opportunity, factors []string) (float64, []string) {
	if opp.Mempool == nil {
		return 50, append(factors, "missing_mempool_payload")
	}
	var score float64
	if opp.Mempool.GasPriceGwei > a.cfg.MaxGasPriceGwei {
		score += 30
		factors = append(factors, "high_gas_price")
	}
	switch opp.Mempool.MEVRisk {
	case "high":
		score += 35
		factors = append(factors, "high_mev_risk")
	case "medium":
		score += 15
	}
	if len(opp.Mempool.BundleTxHashes) > 0 {
		score += 10
		factors = append(factors, "sandwich_bundle_detected")
	}
	return score, factors
}

func (a *Assessor) assessAnomaly(opp domain.Opportunity, factors []string) (float64, []string) {
	if opp.Anomaly == nil {
		return 50, append(factors, "missing_anomaly_payload")
	}
	score := opp.Anomaly.DeviationPct * 0.5
	if score > 60 {
		factors = append(factors, "extreme_price_deviation")
	}
	return score, factors
}
