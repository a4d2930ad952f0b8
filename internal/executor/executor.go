// Package executor drains the opportunity pipeline's queued-for-execution
// output, applies dedup and staleness checks, and forwards surviving
// opportunities to a caller-supplied domain.Executor. It never itself
// builds, signs, or broadcasts a transaction; that responsibility belongs
// entirely to the injected domain.Executor implementation. The engine wires
// this package against a LoggingExecutor by default, since real signing and
// broadcast are out of scope; a host that adds real execution supplies its
// own domain.Executor instead.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbitonlabs/arbiton/internal/domain"
)

// Config controls dedup and staleness behavior. Zero values fall back to
// the defaults documented on each field.
type Config struct {
	// DedupTTL is how long an opportunity ID is remembered after being
	// forwarded, to absorb duplicate queued events for the same
	// opportunity. Defaults to 2 minutes.
	DedupTTL time.Duration
	// CleanupInterval is how often the dedup table is garbage collected.
	// Defaults to 30 seconds.
	CleanupInterval time.Duration
	// MaxAge discards an opportunity if it has aged past this duration
	// since detection before execution is attempted. Defaults to 5
	// seconds; DEX arbitrage windows close fast.
	MaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.DedupTTL <= 0 {
		c.DedupTTL = 2 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Second
	}
	return c
}

// Executor drains a channel of queued pipeline contexts and forwards each
// surviving opportunity to a domain.Executor.
type Executor struct {
	releaseCh <-chan domain.PipelineContext
	exec      domain.Executor
	dedup     *Dedup
	cfg       Config
	logger    *slog.Logger
}

// New creates an Executor that reads from releaseCh and forwards
// non-duplicate, non-stale opportunities to exec.
func New(releaseCh <-chan domain.PipelineContext, exec domain.Executor, cfg Config, logger *slog.Logger) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		releaseCh: releaseCh,
		exec:      exec,
		dedup:     NewDedup(cfg.DedupTTL),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Run processes queued opportunities until ctx is cancelled. On
// cancellation it drains whatever is already buffered in releaseCh before
// returning, so no in-flight opportunity is silently dropped.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return nil

		case pc, ok := <-e.releaseCh:
			if !ok {
				return nil
			}
			e.process(ctx, pc)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

func (e *Executor) process(ctx context.Context, pc domain.PipelineContext) {
	opp := pc.Opportunity
	log := e.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("type", string(opp.Type)),
		slog.String("symbol", opp.Symbol),
	)

	if e.dedup.IsDuplicate(opp.ID) {
		log.Debug("opportunity deduplicated, skipping")
		return
	}

	if age := opp.Age(time.Now()); age > e.cfg.MaxAge {
		log.Warn("opportunity stale, skipping", slog.Duration("age", age))
		return
	}

	result, err := e.exec.Execute(ctx, opp)
	if err != nil {
		log.Error("execution failed", slog.String("error", err.Error()))
		return
	}

	if !result.Success {
		log.Warn("execution reported failure", slog.String("tx_ref", result.TxRef))
		return
	}

	log.Info("execution succeeded",
		slog.Float64("pnl", result.PnL),
		slog.Uint64("gas_used", result.GasUsed),
		slog.String("tx_ref", result.TxRef),
	)
}

// drain processes whatever is already buffered in releaseCh after context
// cancellation, bounding each attempt to a short-lived context so shutdown
// cannot hang indefinitely on an external call.
func (e *Executor) drain() {
	for {
		select {
		case pc, ok := <-e.releaseCh:
			if !ok {
				return
			}
			log := e.logger.With(slog.String("opportunity_id", pc.Opportunity.ID))
			log.Warn("draining opportunity after shutdown")
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, pc)
			cancel()
		default:
			return
		}
	}
}

var _ fmt.Stringer = (*Executor)(nil)

// String returns a human-readable description of the executor.
func (e *Executor) String() string {
	return fmt.Sprintf("Executor(max_age=%s)", e.cfg.MaxAge)
}
