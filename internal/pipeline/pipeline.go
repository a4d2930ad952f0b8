// Package pipeline implements the opportunity pipeline (C7): it drives each
// incoming domain.Opportunity through a fixed state machine
// (validation -> scoring -> risk_assessment -> execution_decision ->
// queued_for_execution) with bounded concurrency and a truncated, archived
// history of past contexts.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
)

// Pipeline reads Opportunities, one per call to Ingest, and drives each
// through the stage functions on its own goroutine, bounded by a semaphore
// sized to cfg.MaxConcurrentOpportunities.
type Pipeline struct {
	log *slog.Logger
	cfg config.PipelineConfig

	riskAssessor domain.RiskAssessor
	tradingGate  domain.TradingGate
	onQueued     func(domain.PipelineContext)

	market   atomic.Pointer[domain.MarketConditions]
	sem      chan struct{}
	inFlight int64

	history *history
}

// New creates a Pipeline. riskAssessor and tradingGate may be nil in tests;
// a nil tradingGate is treated as always-allow, a nil riskAssessor always
// returns the timeout/error fallback (riskScore 75, decline).
func New(cfg config.PipelineConfig, riskAssessor domain.RiskAssessor, tradingGate domain.TradingGate, archive domain.ArchiveStore, onQueued func(domain.PipelineContext), log *slog.Logger) *Pipeline {
	maxConcurrent := cfg.MaxConcurrentOpportunities
	if maxConcurrent <= 0 {
		maxConcurrent = 50
	}
	retention := cfg.HistoryRetention
	if retention <= 0 {
		retention = 1000
	}

	p := &Pipeline{
		log:          log.With(slog.String("component", "pipeline")),
		cfg:          cfg,
		riskAssessor: riskAssessor,
		tradingGate:  tradingGate,
		onQueued:     onQueued,
		sem:          make(chan struct{}, maxConcurrent),
		history:      newHistory(retention, archive, log),
	}
	neutral := domain.MarketConditions{Volatility: domain.LiquidityMedium, Liquidity: domain.LiquidityMedium, Gas: domain.LiquidityMedium}
	p.market.Store(&neutral)
	return p
}

// SetMarketConditions updates the market sub-score's current tags. Safe for
// concurrent use; read without locking by in-flight scoring stages.
func (p *Pipeline) SetMarketConditions(m domain.MarketConditions) {
	p.market.Store(&m)
}

// Ingest admits one Opportunity. If the worker pool is saturated the
// opportunity is dropped immediately with ErrBackpressure rather than
// queued, per the bounded-concurrency contract: excess work is shed, not
// buffered.
func (p *Pipeline) Ingest(ctx context.Context, opp domain.Opportunity) error {
	select {
	case p.sem <- struct{}{}:
	default:
		p.log.Warn("opportunity dropped: backpressure", slog.String("id", opp.ID), slog.String("type", string(opp.Type)))
		p.history.record(domain.PipelineContext{
			Opportunity:       opp,
			Stage:             domain.StageRejected,
			RejectReason:      "backpressure",
			ProcessingStarted: time.Now(),
			LastUpdated:       time.Now(),
		})
		return domain.ErrBackpressure
	}

	atomic.AddInt64(&p.inFlight, 1)
	go func() {
		defer func() {
			atomic.AddInt64(&p.inFlight, -1)
			<-p.sem
		}()
		p.run(ctx, opp)
	}()
	return nil
}

// run drives one Opportunity through every stage until it reaches a
// terminal stage, then records it to history.
func (p *Pipeline) run(ctx context.Context, opp domain.Opportunity) {
	now := time.Now()
	pc := domain.PipelineContext{
		Opportunity:       opp,
		Stage:             domain.StageValidation,
		ProcessingStarted: now,
		LastUpdated:       now,
	}

	timeout := p.cfg.OpportunityTimeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := pc.ProcessingStarted.Add(timeout)

	if p.expired(&pc, deadline) {
		p.finish(pc)
		return
	}
	if res := validate(opp, time.Now(), p.cfg); res.Outcome != OutcomeOK {
		p.reject(&pc, domain.StageRejected, res.Reason)
		p.finish(pc)
		return
	}
	pc.Stage = domain.StageScoring
	pc.LastUpdated = time.Now()

	if p.expired(&pc, deadline) {
		p.finish(pc)
		return
	}
	scores, res := score(opp, time.Now(), p.cfg, p.marketConditions())
	pc.Scores = scores
	if res.Outcome != OutcomeOK {
		p.reject(&pc, domain.StageLowScore, res.Reason)
		p.finish(pc)
		return
	}
	pc.Stage = domain.StageRiskAssessment
	pc.LastUpdated = time.Now()

	if p.expired(&pc, deadline) {
		p.finish(pc)
		return
	}
	pc.Risk = p.assess(ctx, opp)
	pc.Stage = domain.StageExecutionDecision
	pc.LastUpdated = time.Now()

	if p.expired(&pc, deadline) {
		p.finish(pc)
		return
	}

	if p.tradingGate != nil {
		if allowed, reason := p.tradingGate.IsTradingAllowed(); !allowed {
			p.reject(&pc, domain.StageHighRisk, "safety_gated:"+reason)
			p.finish(pc)
			return
		}
	}

	inFlight := int(atomic.LoadInt64(&p.inFlight))
	if res := decide(opp, scores, pc.Risk, p.cfg, inFlight, p.cfg.MaxConcurrentOpportunities); res.Outcome != OutcomeOK {
		p.reject(&pc, domain.StageHighRisk, res.Reason)
		p.finish(pc)
		return
	}

	pc.ExecutionPriority = executionPriority(scores, opp, time.Now(), timeout)
	pc.Stage = domain.StageQueuedForExecution
	pc.LastUpdated = time.Now()

	if p.onQueued != nil {
		p.onQueued(pc)
	}
	p.finish(pc)
}

func (p *Pipeline) expired(pc *domain.PipelineContext, deadline time.Time) bool {
	if time.Now().Before(deadline) {
		return false
	}
	pc.Stage = domain.StageExpired
	pc.RejectReason = "opportunity_timeout_exceeded"
	pc.LastUpdated = time.Now()
	return true
}

func (p *Pipeline) reject(pc *domain.PipelineContext, stage domain.Stage, reason string) {
	pc.Stage = stage
	pc.RejectReason = reason
	pc.LastUpdated = time.Now()
}

func (p *Pipeline) assess(ctx context.Context, opp domain.Opportunity) domain.RiskAssessment {
	if p.riskAssessor == nil {
		return domain.RiskAssessment{RiskScore: 75, Recommendation: domain.RiskDecline, Factors: []string{"no_risk_assessor_configured"}}
	}
	return assessRisk(ctx, p.riskAssessor, opp, p.cfg.RiskAssessmentTimeout.Duration)
}

func (p *Pipeline) marketConditions() domain.MarketConditions {
	if m := p.market.Load(); m != nil {
		return *m
	}
	return domain.MarketConditions{}
}

func (p *Pipeline) finish(pc domain.PipelineContext) {
	p.log.Debug("opportunity reached terminal stage",
		slog.String("id", pc.Opportunity.ID),
		slog.String("stage", string(pc.Stage)),
		slog.String("reason", pc.RejectReason),
	)
	p.history.record(pc)
}

// InFlight returns the current count of non-terminal PipelineContexts.
func (p *Pipeline) InFlight() int {
	return int(atomic.LoadInt64(&p.inFlight))
}

// History returns a snapshot of the retained historical contexts, most
// recent last.
func (p *Pipeline) History() []domain.PipelineContext {
	return p.history.snapshot()
}
