package domain

import "time"

// Stage names the opportunity pipeline's finite state machine positions.
type Stage string

const (
	StageValidation       Stage = "validation"
	StageScoring          Stage = "scoring"
	StageRiskAssessment   Stage = "risk_assessment"
	StageExecutionDecision Stage = "execution_decision"
	StageQueuedForExecution Stage = "queued_for_execution"
	StageRejected         Stage = "rejected"
	StageLowScore         Stage = "low_score"
	StageHighRisk         Stage = "high_risk"
	StageExpired          Stage = "expired"
	StageError            Stage = "error"
)

// Scores holds the weighted sub-scores computed during the scoring stage.
type Scores struct {
	Profit     float64
	Confidence float64
	Liquidity  float64
	Speed      float64
	Risk       float64
	Market     float64
	Total      float64
}

// RiskRecommendation is the verdict returned by a RiskAssessor.
type RiskRecommendation string

const (
	RiskProceed  RiskRecommendation = "proceed"
	RiskCaution  RiskRecommendation = "caution"
	RiskDecline  RiskRecommendation = "decline"
)

// RiskAssessment is the result of a risk_assessment stage.
type RiskAssessment struct {
	RiskScore      float64
	Factors        []string
	Recommendation RiskRecommendation
}

// PipelineContext is the per-opportunity processing record owned
// exclusively by the opportunity pipeline (C7).
type PipelineContext struct {
	Opportunity       Opportunity
	Stage             Stage
	Scores            Scores
	Risk              RiskAssessment
	ExecutionPriority float64
	ProcessingStarted time.Time
	LastUpdated       time.Time
	RejectReason      string
}

// ElapsedSince returns processing time relative to now.
func (pc PipelineContext) ElapsedSince(now time.Time) time.Duration {
	return now.Sub(pc.ProcessingStarted)
}

// Terminal reports whether the context has reached a stage from which the
// pipeline will not advance it further.
func (pc PipelineContext) Terminal() bool {
	switch pc.Stage {
	case StageQueuedForExecution, StageRejected, StageLowScore, StageHighRisk, StageExpired, StageError:
		return true
	default:
		return false
	}
}

// MarketConditions tags the current overall market regime, consulted by the
// scoring stage's market sub-score. Updated externally (by the engine, from
// telemetry) and read without locking by the pipeline; the three-value tier
// shape matches LiquidityTier so it is reused here rather than introducing a
// parallel enum.
type MarketConditions struct {
	Volatility LiquidityTier
	Liquidity  LiquidityTier
	Gas        LiquidityTier
}
