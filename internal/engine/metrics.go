package engine

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates runtime telemetry from every wired component into
// both a Prometheus registry (for the /metrics scrape endpoint) and the
// domain.SafetyMetrics/incident-sample shapes the safety plane consumes.
// It owns no business logic; it only counts and gauges what the rest of the
// engine reports to it.
type Collector struct {
	registry *prometheus.Registry

	opportunitiesTotal *prometheus.CounterVec
	pipelineRejects    *prometheus.CounterVec
	breakerTrips       *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	aggregatorSpread   prometheus.Gauge
	transportFailovers prometheus.Counter

	mu              sync.Mutex
	lastGasPriceGwei    float64
	lastSpreadDeviation float64
	lastVolatility      float64
	lastMinLiquidity    float64

	routerCalls  uint64
	routerErrors uint64
	rpcCalls     uint64
	rpcErrors    uint64

	memLimitBytes uint64
}

// NewCollector builds a Collector and registers its metric families on a
// fresh registry (kept separate from the global default registry so tests
// can construct independent collectors without collision).
func NewCollector(memLimitMB int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		opportunitiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiton_opportunities_total",
			Help: "Opportunities observed by the pipeline, by type.",
		}, []string{"type"}),
		pipelineRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiton_pipeline_rejects_total",
			Help: "Opportunities rejected by the pipeline, by stage.",
		}, []string{"stage"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiton_breaker_trips_total",
			Help: "Circuit breaker trips, by breaker name.",
		}, []string{"breaker"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbiton_router_queue_depth",
			Help: "Event router queue depth, by priority.",
		}, []string{"priority"}),
		aggregatorSpread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbiton_aggregator_spread_deviation",
			Help: "Most recent cross-venue spread deviation observed by the aggregator.",
		}),
		transportFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiton_transport_failovers_total",
			Help: "Number of times the transport manager's primary endpoint changed.",
		}),
	}

	reg.MustRegister(
		c.opportunitiesTotal,
		c.pipelineRejects,
		c.breakerTrips,
		c.queueDepth,
		c.aggregatorSpread,
		c.transportFailovers,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	memLimit := uint64(memLimitMB) * 1024 * 1024
	if memLimit == 0 {
		memLimit = 256 * 1024 * 1024
	}
	c.memLimitBytes = memLimit

	return c
}

// Handler returns the HTTP handler that serves this Collector's registry in
// the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveOpportunity records one opportunity surfaced by any source
// (price feed anomaly, aggregator cross-venue spread, or mempool listener).
func (c *Collector) ObserveOpportunity(opp domain.Opportunity) {
	c.opportunitiesTotal.WithLabelValues(string(opp.Type)).Inc()

	if opp.Mempool != nil {
		c.mu.Lock()
		c.lastGasPriceGwei = opp.Mempool.GasPriceGwei
		c.mu.Unlock()
	}
}

// ObservePipelineReject records a pipeline-stage rejection.
func (c *Collector) ObservePipelineReject(stage domain.Stage) {
	c.pipelineRejects.WithLabelValues(string(stage)).Inc()
}

// ObserveBreakerTrip records a circuit breaker trip.
func (c *Collector) ObserveBreakerTrip(name string) {
	c.breakerTrips.WithLabelValues(name).Inc()
}

// ObserveAggregate records the latest cross-venue aggregation result.
func (c *Collector) ObserveAggregate(ap domain.AggregatedPrice) {
	c.aggregatorSpread.Set(ap.Spread)
	c.mu.Lock()
	c.lastSpreadDeviation = ap.Spread
	c.lastVolatility = ap.Spread
	c.mu.Unlock()

	minLiquidity := 0.0
	for i, p := range ap.Contributing {
		if i == 0 || p.Liquidity < minLiquidity {
			minLiquidity = p.Liquidity
		}
	}
	c.ObserveMinLiquidity(minLiquidity)
}

// ObserveQueueDepth reports the router's current queue depth for priority.
func (c *Collector) ObserveQueueDepth(priority domain.Priority, depth int) {
	c.queueDepth.WithLabelValues(string(priority)).Set(float64(depth))
}

// ObserveRouterDispatch records one router handler dispatch outcome.
func (c *Collector) ObserveRouterDispatch(err error) {
	atomic.AddUint64(&c.routerCalls, 1)
	if err != nil {
		atomic.AddUint64(&c.routerErrors, 1)
	}
}

// ObserveRPCCall records one transport unary RPC outcome.
func (c *Collector) ObserveRPCCall(err error) {
	atomic.AddUint64(&c.rpcCalls, 1)
	if err != nil {
		atomic.AddUint64(&c.rpcErrors, 1)
	}
}

// ObserveTransportFailover records a primary-endpoint change.
func (c *Collector) ObserveTransportFailover() {
	c.transportFailovers.Inc()
}

// ObserveMinLiquidity records the lowest per-venue liquidity seen this tick.
func (c *Collector) ObserveMinLiquidity(usd float64) {
	c.mu.Lock()
	c.lastMinLiquidity = usd
	c.mu.Unlock()
}

// Snapshot implements safety.MetricsProvider: it assembles one telemetry
// snapshot from this process's memory stats and the component-reported
// figures above. Loss-window fields (DailyPnL etc.) are left zero; the
// safety plane's Manager overlays those from its own loss account.
func (c *Collector) Snapshot(ctx context.Context) domain.SafetyMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.mu.Lock()
	gas := c.lastGasPriceGwei
	spreadDev := c.lastSpreadDeviation
	volatility := c.lastVolatility
	minLiquidity := c.lastMinLiquidity
	c.mu.Unlock()

	calls := atomic.LoadUint64(&c.routerCalls)
	errs := atomic.LoadUint64(&c.routerErrors)
	rpcCalls := atomic.LoadUint64(&c.rpcCalls)
	rpcErrs := atomic.LoadUint64(&c.rpcErrors)

	return domain.SafetyMetrics{
		Timestamp:          time.Now(),
		Volatility:         volatility,
		MinLiquidityUSD:    minLiquidity,
		GasPriceGwei:       gas,
		SpreadDeviationPct: spreadDev,
		ErrorRate:          rateOf(errs, calls),
		RPCFailureRate:     rateOf(rpcErrs, rpcCalls),
		MemoryUsagePct:     clampFraction(float64(mem.Alloc) / float64(c.memLimitBytes)),
	}
}

// Sample implements safety.IncidentSampler, handing the incident detector's
// z-score baselines the same error/RPC rates Snapshot computes.
func (c *Collector) Sample(ctx context.Context) map[string]float64 {
	calls := atomic.LoadUint64(&c.routerCalls)
	errs := atomic.LoadUint64(&c.routerErrors)
	rpcCalls := atomic.LoadUint64(&c.rpcCalls)
	rpcErrs := atomic.LoadUint64(&c.rpcErrors)

	c.mu.Lock()
	spreadDev := c.lastSpreadDeviation
	c.mu.Unlock()

	return map[string]float64{
		"error_rate":     rateOf(errs, calls),
		"rpc_error_rate": rateOf(rpcErrs, rpcCalls),
		"spread_deviation": spreadDev,
	}
}

// Tier cutoffs for MarketConditions. The worst-tier cutoffs equal the safety
// plane's default extremeVolatility/lowLiquidity/highGasPrice breaker
// thresholds (0.08, 5000 USD, 150 gwei), so a market in the worst tier here
// is at or past the point where the matching breaker trips.
const (
	volatilityMediumCutoff = 0.03
	volatilityHighCutoff   = 0.08
	liquidityLowCutoffUSD  = 5000
	liquidityMedCutoffUSD  = 25000
	gasMediumCutoffGwei    = 60
	gasHighCutoffGwei      = 150
)

// MarketConditions buckets the most recently observed spread deviation,
// minimum per-venue liquidity, and gas price into the low/medium/high tiers
// the pipeline's market sub-score and the risk assessor's volatility check
// both consume.
func (c *Collector) MarketConditions() domain.MarketConditions {
	c.mu.Lock()
	spreadDev := c.lastSpreadDeviation
	minLiquidity := c.lastMinLiquidity
	gas := c.lastGasPriceGwei
	c.mu.Unlock()

	return domain.MarketConditions{
		Volatility: tierByIncreasing(spreadDev, volatilityMediumCutoff, volatilityHighCutoff),
		Liquidity:  tierByDecreasing(minLiquidity, liquidityLowCutoffUSD, liquidityMedCutoffUSD),
		Gas:        tierByIncreasing(gas, gasMediumCutoffGwei, gasHighCutoffGwei),
	}
}

// tierByIncreasing tags v LiquidityHigh once it crosses highCutoff, for
// metrics where a larger value means worse conditions (volatility, gas).
func tierByIncreasing(v, medCutoff, highCutoff float64) domain.LiquidityTier {
	switch {
	case v >= highCutoff:
		return domain.LiquidityHigh
	case v >= medCutoff:
		return domain.LiquidityMedium
	default:
		return domain.LiquidityLow
	}
}

// tierByDecreasing tags v LiquidityLow once it falls below lowCutoff, for
// metrics where a larger value means better conditions (liquidity).
func tierByDecreasing(v, lowCutoff, medCutoff float64) domain.LiquidityTier {
	switch {
	case v <= lowCutoff:
		return domain.LiquidityLow
	case v <= medCutoff:
		return domain.LiquidityMedium
	default:
		return domain.LiquidityHigh
	}
}

func rateOf(count, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
