// Package engine wires and runs every component (C1-C8) into the single
// arbitrage engine process: transport, cache, price feed, aggregator,
// event router, mempool listener, opportunity pipeline, and safety plane,
// plus the HTTP/WS status surface and Prometheus metrics endpoint.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Engine is the root application object. It owns the configuration, logger,
// and the Dependencies bundle Wire produces, and supervises every
// component's Run loop as one errgroup.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	deps    *Dependencies
	cleanup func()
}

// New creates an Engine from the given configuration and logger. Call Run
// to wire dependencies and start every component.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "engine")),
	}
}

// Run wires all dependencies, starts every component's Run loop under one
// errgroup, and blocks until ctx is cancelled or any component returns a
// non-nil error (which cancels the rest). On return, every opened resource
// is released in reverse order regardless of outcome.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "starting engine",
		slog.String("mode", e.cfg.Mode),
		slog.String("log_level", e.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("engine: wire dependencies: %w", err)
	}
	e.deps = deps
	e.cleanup = cleanup
	defer e.Close()

	g, gctx := errgroup.WithContext(ctx)

	healthProbeInterval := e.cfg.Transport.HealthProbeInterval.Duration
	if healthProbeInterval <= 0 {
		healthProbeInterval = 15 * time.Second
	}
	g.Go(func() error { return deps.Transport.Start(gctx, healthProbeInterval) })

	aggregatorTick := e.cfg.Aggregator.MaxPriceAge.Duration / 2
	if aggregatorTick <= 0 {
		aggregatorTick = 5 * time.Second
	}
	g.Go(func() error { return deps.Aggregator.Run(gctx, aggregatorTick) })

	pollInterval := e.cfg.PriceFeed.Oracle.PollInterval.Duration
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	g.Go(func() error { return deps.PriceFeed.Run(gctx, pollInterval) })

	g.Go(func() error { return deps.Router.Run(gctx) })

	if deps.Mempool != nil {
		g.Go(func() error { return deps.Mempool.Run(gctx) })
	}

	g.Go(func() error { return deps.Safety.Run(gctx) })

	g.Go(func() error { return deps.Executor.Run(gctx) })

	if deps.Server != nil {
		g.Go(func() error { return deps.WSHub.Run(gctx) })
		g.Go(func() error { return deps.Server.Start() })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return deps.Server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return e.runArchiveFlusher(gctx) })
	g.Go(func() error { return e.runMarketConditionsFeed(gctx) })
	g.Go(func() error { return e.runQueueDepthSampler(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("engine: component failed: %w", err)
	}
	return nil
}

// runArchiveFlusher periodically flushes the archiver's buffered batches so
// cold storage stays a bounded amount behind live pipeline history, and
// performs one final flush on shutdown so nothing buffered is lost.
func (e *Engine) runArchiveFlusher(ctx context.Context) error {
	if e.deps.Archiver == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.deps.Archiver.Flush(flushCtx)
		case <-ticker.C:
			if err := e.deps.Archiver.Flush(ctx); err != nil {
				e.logger.WarnContext(ctx, "periodic archive flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runMarketConditionsFeed periodically pushes the Collector's derived
// market-conditions tiers into the pipeline's scoring stage, so the market
// sub-score reflects live spread/liquidity/gas conditions rather than the
// neutral defaults pipeline.New seeds it with.
func (e *Engine) runMarketConditionsFeed(ctx context.Context) error {
	interval := e.cfg.Safety.MonitoringInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.deps.Pipeline.SetMarketConditions(e.deps.Collector.MarketConditions())
		}
	}
}

// runQueueDepthSampler periodically samples the router's per-priority queue
// depth onto the Prometheus gauge, so operators can see backpressure
// building before the router starts shedding load.
func (e *Engine) runQueueDepthSampler(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, p := range domain.Priorities {
				e.deps.Collector.ObserveQueueDepth(p, e.deps.Router.QueueDepth(p))
			}
		}
	}
}

// Close tears down all resources Wire opened. Safe to call multiple times;
// subsequent calls are no-ops.
func (e *Engine) Close() {
	if e.cleanup == nil {
		return
	}
	e.logger.Info("shutting down engine")
	e.cleanup()
	e.cleanup = nil
}
