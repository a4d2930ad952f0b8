package domain

import "time"

// OpportunityType tags the variant of an Opportunity and selects which
// payload field is populated.
type OpportunityType string

const (
	OpportunityPriceArbitrage OpportunityType = "price_arbitrage"
	OpportunityMempool        OpportunityType = "mempool"
	OpportunityMEVSandwich    OpportunityType = "mev_sandwich"
	OpportunityMEVFrontrun    OpportunityType = "mev_frontrun"
	OpportunityPriceAnomaly   OpportunityType = "price_anomaly"
	OpportunityBlockchainEvent OpportunityType = "blockchain_event"
)

// Urgency ranks how quickly an Opportunity must be acted on.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// LiquidityTier buckets combined venue depth for scoring.
type LiquidityTier string

const (
	LiquidityLow    LiquidityTier = "low"
	LiquidityMedium LiquidityTier = "medium"
	LiquidityHigh   LiquidityTier = "high"
)

// OpportunityStatus is the terminal or in-flight lifecycle state of an
// Opportunity. Mutated only by the pipeline.
type OpportunityStatus string

const (
	StatusDetected          OpportunityStatus = "detected"
	StatusInPipeline        OpportunityStatus = "in_pipeline"
	StatusExecuted          OpportunityStatus = "executed"
	StatusRejectedLowScore  OpportunityStatus = "rejected_low_score"
	StatusRejectedHighRisk  OpportunityStatus = "rejected_high_risk"
	StatusExpired           OpportunityStatus = "expired"
	StatusError             OpportunityStatus = "error"
)

// PriceImpact breaks down the estimated price impact of executing a
// candidate trade.
type PriceImpact struct {
	BuySide  float64
	SellSide float64
	Total    float64
}

// ArbitragePayload is the type-specific payload for OpportunityPriceArbitrage.
type ArbitragePayload struct {
	BuyVenue              string
	SellVenue              string
	BuyPrice               float64
	SellPrice              float64
	GrossSpreadPercentage  float64
	FeeBudgetPercentage    float64
	NetProfitPercentage    float64
	PriceImpact            PriceImpact
	LiquidityScore         LiquidityTier
	RiskScore              float64 // 0-100, capped
}

// MempoolPayload is the type-specific payload for OpportunityMempool,
// OpportunityMEVSandwich and OpportunityMEVFrontrun.
type MempoolPayload struct {
	TxHash        string
	TokenPair     [2]string
	GasPriceGwei  float64
	ValueUSD      float64
	HasOpportunity bool
	MEVRisk       string // "low", "medium", "high"
	BundleTxHashes []string // populated for sandwich detections
}

// AnomalyPayload is the type-specific payload for OpportunityPriceAnomaly.
type AnomalyPayload struct {
	Symbol        string
	ObservedPrice float64
	RecentMean    float64
	DeviationPct  float64
}

// BlockchainEventPayload is the type-specific payload for
// OpportunityBlockchainEvent.
type BlockchainEventPayload struct {
	Contract string
	Event    string
	Block    uint64
	TxHash   string
	Data     map[string]any
}

// Opportunity is a candidate trade presented to the pipeline. Exactly one
// of the payload fields is non-nil, selected by Type. Created by the
// aggregator (C4) or the mempool listener (C6); mutated only by the
// pipeline (C7).
type Opportunity struct {
	ID          string
	Type        OpportunityType
	Symbol      string
	Source      string
	DetectedAt  time.Time
	Urgency     Urgency
	Status      OpportunityStatus

	// Confidence is the originating component's own confidence in the
	// signal, in [0,1]. 0 means "not supplied"; the pipeline's scoring
	// stage falls back to a heuristic confidence sub-score in that case.
	Confidence float64

	Arbitrage       *ArbitragePayload
	Mempool         *MempoolPayload
	Anomaly         *AnomalyPayload
	BlockchainEvent *BlockchainEventPayload
}

// Age returns the elapsed time since detection.
func (o Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.DetectedAt)
}

// NetProfitPercentage extracts the net profit percentage for opportunity
// types that carry one; returns 0, false otherwise.
func (o Opportunity) NetProfitPercentage() (float64, bool) {
	if o.Arbitrage == nil {
		return 0, false
	}
	return o.Arbitrage.NetProfitPercentage, true
}
