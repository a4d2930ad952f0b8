package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	s3blob "github.com/arbitonlabs/arbiton/internal/blob/s3"
	"github.com/arbitonlabs/arbiton/internal/cache"
	"github.com/arbitonlabs/arbiton/internal/cache/redis"
	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/crypto"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/arbitonlabs/arbiton/internal/notify"
	"github.com/arbitonlabs/arbiton/internal/pricefeed"
	"github.com/arbitonlabs/arbiton/internal/pricefeed/sources"
	"github.com/arbitonlabs/arbiton/internal/risk"
	"github.com/arbitonlabs/arbiton/internal/router"
	"github.com/arbitonlabs/arbiton/internal/safety"
	"github.com/arbitonlabs/arbiton/internal/server"
	"github.com/arbitonlabs/arbiton/internal/server/handler"
	"github.com/arbitonlabs/arbiton/internal/server/ws"
	"github.com/arbitonlabs/arbiton/internal/store/postgres"
	"github.com/arbitonlabs/arbiton/internal/transport"

	"github.com/arbitonlabs/arbiton/internal/aggregator"
	"github.com/arbitonlabs/arbiton/internal/executor"
	"github.com/arbitonlabs/arbiton/internal/mempool"
	"github.com/arbitonlabs/arbiton/internal/pipeline"
)

// Dependencies bundles every component Wire builds from config.Config, plus
// the HTTP/WS server built on top of them. Engine.Run fans out each
// component's Run loop via an errgroup; nothing outside this package reaches
// into a component's internals directly.
type Dependencies struct {
	Transport  *transport.Manager
	Cache      *cache.Manager
	PriceFeed  *pricefeed.Manager
	Aggregator *aggregator.Worker
	Router     *router.Router
	Mempool    *mempool.Listener // nil if mempool.enabled = false
	Pipeline   *pipeline.Pipeline
	Executor   *executor.Executor
	Safety     *safety.Manager
	Collector  *Collector

	Server *server.Server // nil if server.enabled = false
	WSHub  *ws.Hub         // nil if server.enabled = false

	AuditStore domain.AuditStore // nil unless postgres is wired

	// Archiver is kept as the concrete type (rather than domain.ArchiveStore)
	// so the periodic flush loop can call Flush directly; it is nil when S3
	// is disabled. Pass it to an ArchiveStore-typed parameter only through
	// archiveStoreOrNil, since a nil *s3blob.Archiver boxed directly into an
	// interface value is not itself nil.
	Archiver *s3blob.Archiver
}

// archiveStoreOrNil returns a as a domain.ArchiveStore unless a is nil, in
// which case it returns a true nil interface value rather than one wrapping
// a nil pointer.
func archiveStoreOrNil(a *s3blob.Archiver) domain.ArchiveStore {
	if a == nil {
		return nil
	}
	return a
}

// needsPostgres mirrors config.Config.Validate's own heuristic: a Host or
// DSN configured at all means the operator intends a database.
func needsPostgres(cfg config.PostgresConfig) bool {
	return cfg.RunMigrations || strings.TrimSpace(cfg.DSN) != "" || cfg.Host != ""
}

// Wire constructs every C1-C8 component from cfg and links them by callback:
// price points flow pricefeed -> aggregator, aggregated/anomalous/mempool
// opportunities flow into the pipeline, router-dispatched chain events can
// re-enter the pipeline via registered handlers, and the safety plane both
// gates the pipeline and publishes its own breaker/incident transitions.
// The returned cleanup function releases every resource Wire opened, in
// reverse order, and is safe to call once even on a partial failure.
func Wire(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Transport (C1) ---
	probe := func(ctx context.Context, client *http.Client, url string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("transport: probe %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
	deps.Transport = transport.New(cfg.Transport, probe, log)

	// --- Redis-backed shared cache tier + signal bus (C2) ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	signalBus := redis.NewSignalBus(redisClient)
	rateLimiter := redis.NewRateLimiter(redisClient)
	lockManager := redis.NewLockManager(redisClient)
	sharedStore := redis.NewStore(redisClient)

	local := cache.NewLocal(cache.LocalConfig{
		MaxEntries:      8192,
		CleanupInterval: cfg.Cache.CleanupInterval.Duration,
	})
	closers = append(closers, local.Close)

	categories := buildCacheCategories(cfg.Cache.Categories)
	deps.Cache = cache.New(local, sharedStore, signalBus, categories, log)

	// --- PostgreSQL audit trail (optional) ---
	if needsPostgres(cfg.Postgres) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- S3-compatible cold-storage archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(writer, deps.AuditStore, log)
	}

	// --- Metrics collector (Prometheus + safety telemetry) ---
	deps.Collector = NewCollector(cfg.Cache.LocalMaxMemoryMB)

	// --- Price feed fan-in (C3) ---
	deps.Aggregator = aggregator.NewWorker(cfg.Aggregator, 1024, func(ap domain.AggregatedPrice) {
		deps.Collector.ObserveAggregate(ap)
	}, func(opp domain.Opportunity) {
		deps.Collector.ObserveOpportunity(opp)
		ingestOpportunity(deps, log)(opp)
	}, log)

	deps.PriceFeed = pricefeed.New(cfg.PriceFeed, func(p domain.PricePoint) {
		select {
		case deps.Aggregator.Inbound() <- p:
		default:
			log.Warn("aggregator inbound full, dropping price point", slog.String("symbol", p.Symbol))
		}
	}, func(opp domain.Opportunity) {
		deps.Collector.ObserveOpportunity(opp)
		ingestOpportunity(deps, log)(opp)
	}, log)

	if cfg.PriceFeed.Oracle.Enabled {
		oracleSrc, err := sources.NewOracleSource(ctx, cfg.PriceFeed.Oracle.RPCURL, cfg.PriceFeed.Oracle.ContractAddress, cfg.PriceFeed.Oracle.Weight)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: oracle source: %w", err)
		}
		deps.PriceFeed.Register("oracle", oracleSrc, cfg.PriceFeed.Oracle.Symbols, cfg.PriceFeed.Oracle.Weight)
	}
	if cfg.PriceFeed.AggregatorHTTP.Enabled {
		apiSecret := cfg.PriceFeed.AggregatorHTTP.APISecret
		if apiSecret == "" && cfg.Wallet.EncryptedKeyPath != "" {
			secret, err := crypto.LoadWalletSecret(crypto.WalletConfig{
				EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
				KeyPassword:      cfg.Wallet.KeyPassword,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: decrypt aggregator http secret: %w", err)
			}
			apiSecret = secret
		}
		var auth *crypto.HMACAuth
		if cfg.PriceFeed.AggregatorHTTP.APIKey != "" && apiSecret != "" {
			auth = &crypto.HMACAuth{Key: cfg.PriceFeed.AggregatorHTTP.APIKey, Secret: apiSecret}
		}
		httpSrc := sources.NewAggregatorHTTPSource(cfg.PriceFeed.AggregatorHTTP.BaseURL, auth, cfg.PriceFeed.AggregatorHTTP.Weight)
		deps.PriceFeed.Register("aggregator_http", httpSrc, nil, cfg.PriceFeed.AggregatorHTTP.Weight)
	}
	for _, stream := range cfg.PriceFeed.ExchangeStreams {
		if !stream.Enabled {
			continue
		}
		streamSrc := sources.NewExchangeStreamSource(stream.Venue, stream.WSURL, stream.Weight, log)
		deps.PriceFeed.Register("exchange_"+stream.Venue, streamSrc, stream.Symbols, stream.Weight)
	}

	// --- Event router (C5) ---
	deps.Router = router.New(cfg.Router, deps.Cache, log)
	deps.Router.RegisterHandler("default", cfg.Router.ErrorBudget, func(ctx context.Context, events []domain.RawEvent) error {
		for _, e := range events {
			log.DebugContext(ctx, "router event dispatched", slog.String("event_type", e.EventType), slog.String("contract", e.Contract))
		}
		return nil
	})

	// Transport messages decode as chain events and enter the router; the
	// router's own route table decides which handler, if any, processes them.
	if err := deps.Transport.Subscribe(ctx, func(raw []byte) {
		var e domain.RawEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			log.Warn("transport: dropping malformed event", slog.String("error", err.Error()))
			return
		}
		deps.Router.Ingest(ctx, e)
	}); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: transport subscribe: %w", err)
	}

	// --- Mempool listener (C6, optional) ---
	if cfg.Mempool.Enabled {
		listener, err := mempool.NewListener(ctx, cfg.Mempool, func(opp domain.Opportunity) {
			deps.Collector.ObserveOpportunity(opp)
			ingestOpportunity(deps, log)(opp)
		}, log)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: mempool listener: %w", err)
		}
		deps.Mempool = listener
		closers = append(closers, func() { _ = listener.Close() })
	}

	// --- Risk assessor + pipeline (C7) ---
	riskAssessor := risk.New(risk.Config{
		MaxPriceImpactPct: cfg.Aggregator.FeeCeiling * 100,
		MaxGasPriceGwei:   cfg.Mempool.GasPriceThresholdGwei,
		CautionThreshold:  cfg.Pipeline.MaxRiskScore * 0.6,
		DeclineThreshold:  cfg.Pipeline.MaxRiskScore,
	}, deps.Collector.MarketConditions, log)

	// --- Notifications / alert sink ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, log)
	alertSink := notify.NewAlertSink(notifier)

	// --- Safety plane (C8) ---
	deps.Safety = safety.New(cfg.Safety, alertSink, deps.Collector.Snapshot, deps.Collector.Sample, log)
	// A distributed lock keeps the periodic breaker/incident checks
	// singleton across multiple engine instances sharing this Redis.
	deps.Safety.SetLockManager(lockManager)

	// --- Executor (drains queued-for-execution opportunities) ---
	queuedCh := make(chan domain.PipelineContext, 256)
	deps.Executor = executor.New(queuedCh, executor.NewLoggingExecutor(log), executor.Config{}, log)

	deps.Pipeline = pipeline.New(cfg.Pipeline, riskAssessor, deps.Safety, archiveStoreOrNil(deps.Archiver), func(pc domain.PipelineContext) {
		log.Info("opportunity queued for execution",
			slog.String("id", pc.Opportunity.ID),
			slog.Float64("score", pc.Scores.Total),
			slog.String("priority", string(pc.ExecutionPriority)),
		)
		select {
		case queuedCh <- pc:
		default:
			log.Warn("executor backlog full, dropping queued opportunity", slog.String("id", pc.Opportunity.ID))
		}
	}, log)

	// --- HTTP/WS server ---
	if cfg.Server.Enabled {
		wsHub := ws.NewHub(signalBus, log, ws.Config{Mode: cfg.Mode, StartedAt: time.Now()})
		deps.WSHub = wsHub

		handlers := server.Handlers{
			Health:        handler.NewHealthHandler(log),
			Status:        handler.NewStatusHandler(cfg.Mode, time.Now()),
			Opportunities: handler.NewOpportunityHandler(deps.Pipeline),
			Safety: handler.NewSafetyHandler(
				deps.Safety.Registry(),
				deps.Safety.Incidents(),
				deps.Safety,
				deps.Safety.EmergencyStop().Active,
			),
		}

		deps.Server = server.NewServer(server.Config{
			Port:            cfg.Server.Port,
			CORSOrigins:     cfg.Server.CORSOrigins,
			MetricsPath:     cfg.Server.MetricsPath,
			MetricsHandler:  deps.Collector.Handler(),
			RateLimiter:     rateLimiter,
			RateLimit:       cfg.Server.RateLimit,
			RateLimitWindow: cfg.Server.RateLimitWindow.Duration,
		}, handlers, wsHub, log)
	}

	return deps, cleanup, nil
}

// ingestOpportunity returns a closure admitting opp to the pipeline once it
// has been constructed; Wire builds the aggregator/price-feed callbacks
// before the pipeline exists, so the closure reads deps.Pipeline lazily at
// call time rather than capturing a nil pointer.
func ingestOpportunity(deps *Dependencies, log *slog.Logger) func(domain.Opportunity) {
	return func(opp domain.Opportunity) {
		if deps.Pipeline == nil {
			return
		}
		if err := deps.Pipeline.Ingest(context.Background(), opp); err != nil {
			log.Warn("opportunity rejected at ingest", slog.String("id", opp.ID), slog.String("error", err.Error()))
		}
	}
}

// buildCacheCategories merges config overrides onto domain's default
// category table; an override may adjust only the fields it sets (TTL,
// policy), leaving the rest at the builtin default.
func buildCacheCategories(overrides map[string]config.CacheCategoryConfig) map[string]domain.CacheCategory {
	categories := domain.DefaultCategories()
	for name, override := range overrides {
		cat, ok := categories[name]
		if !ok {
			continue
		}
		if override.TTLSeconds > 0 {
			cat.TTL = time.Duration(override.TTLSeconds) * time.Second
		}
		if override.Policy != "" {
			cat.Policy = domain.CachePolicy(override.Policy)
		}
		categories[name] = cat
	}
	return categories
}
