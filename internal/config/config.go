// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBITON_* environment
// variables.
type Config struct {
	Transport  TransportConfig  `toml:"transport"`
	Cache      CacheConfig      `toml:"cache"`
	Redis      RedisConfig      `toml:"redis"`
	PriceFeed  PriceFeedConfig  `toml:"pricefeed"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Router     RouterConfig     `toml:"router"`
	Mempool    MempoolConfig    `toml:"mempool"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Safety     SafetyConfig     `toml:"safety"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Wallet     WalletConfig     `toml:"wallet"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// EndpointConfig describes one transport endpoint.
type EndpointConfig struct {
	ID              string   `toml:"id"`
	URL             string   `toml:"url"`
	Priority        int      `toml:"priority"`
	Weight          float64  `toml:"weight"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// TransportConfig holds the multi-endpoint streaming transport parameters.
type TransportConfig struct {
	Endpoints           []EndpointConfig `toml:"endpoints"`
	MaxReconnectDelay   duration         `toml:"max_reconnect_delay"`
	MaxReconnectAttempts int             `toml:"max_reconnect_attempts"`
	HealthProbeInterval duration         `toml:"health_probe_interval"`
}

// CacheCategoryConfig overrides the TTL/policy of a cache category.
type CacheCategoryConfig struct {
	TTLSeconds int    `toml:"ttl_seconds"`
	Policy     string `toml:"policy"`
}

// CacheConfig holds the two-tier cache's local-tier parameters and any
// per-category overrides of the built-in table.
type CacheConfig struct {
	LocalMaxMemoryMB  int                            `toml:"local_max_memory_mb"`
	CleanupInterval   duration                       `toml:"cleanup_interval"`
	InvalidatePrefix  string                         `toml:"invalidate_prefix"`
	Categories        map[string]CacheCategoryConfig `toml:"categories"`
}

// RedisConfig holds Redis connection parameters (shared cache tier +
// signal bus).
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// OracleSourceConfig configures the on-chain oracle PriceSource.
type OracleSourceConfig struct {
	Enabled         bool     `toml:"enabled"`
	RPCURL          string   `toml:"rpc_url"`
	ContractAddress string   `toml:"contract_address"`
	Symbols         []string `toml:"symbols"`
	PollInterval    duration `toml:"poll_interval"`
	Weight          float64  `toml:"weight"`
}

// AggregatorHTTPSourceConfig configures the HTTP DEX-aggregator PriceSource.
type AggregatorHTTPSourceConfig struct {
	Enabled    bool     `toml:"enabled"`
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	APISecret  string   `toml:"api_secret"`
	PollInterval duration `toml:"poll_interval"`
	Weight     float64  `toml:"weight"`
}

// ExchangeStreamSourceConfig configures a streaming centralized-exchange
// PriceSource.
type ExchangeStreamSourceConfig struct {
	Enabled bool     `toml:"enabled"`
	Venue   string   `toml:"venue"`
	WSURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
	Weight  float64  `toml:"weight"`
}

// PriceFeedConfig holds PriceFeed fan-in (C3) parameters.
type PriceFeedConfig struct {
	Oracle            OracleSourceConfig           `toml:"oracle"`
	AggregatorHTTP     AggregatorHTTPSourceConfig   `toml:"aggregator_http"`
	ExchangeStreams   []ExchangeStreamSourceConfig `toml:"exchange_stream"`
	FailoverThreshold int                          `toml:"failover_threshold"`
	AnomalyThreshold  float64                      `toml:"anomaly_threshold"`
}

// AggregatorConfig holds price aggregation (C4) parameters.
type AggregatorConfig struct {
	OutlierThreshold float64  `toml:"outlier_threshold"`
	MinSources       int      `toml:"min_sources"`
	MaxPriceAge      duration `toml:"max_price_age"`
	FeeCeiling       float64  `toml:"fee_ceiling"`
	FeeBudgetPct     float64  `toml:"fee_budget_pct"` // default trading-fee budget, e.g. 2*0.3%
}

// RouterConfig holds event router (C5) parameters.
type RouterConfig struct {
	BatchSize     int      `toml:"batch_size"`
	BatchInterval duration `toml:"batch_interval"`
	MaxQueueSize  int      `toml:"max_queue_size"`
	ErrorBudget   int      `toml:"error_budget"`
}

// MempoolConfig holds mempool/event listener (C6) parameters.
type MempoolConfig struct {
	Enabled             bool     `toml:"enabled"`
	RPCWSURL            string   `toml:"rpc_ws_url"`
	DEXContracts        []string `toml:"dex_contracts"`
	GasPriceThresholdGwei float64 `toml:"gas_price_threshold_gwei"`
	SandwichWindow      duration `toml:"sandwich_window"`
	SandwichMinTxCount  int      `toml:"sandwich_min_tx_count"`
}

// PipelineConfig holds the opportunity pipeline (C7) parameters.
type PipelineConfig struct {
	MinProfitThreshold         float64  `toml:"min_profit_threshold"`
	MaxRiskScore               float64  `toml:"max_risk_score"`
	MaxConcurrentOpportunities int      `toml:"max_concurrent_opportunities"`
	OpportunityTimeout         duration `toml:"opportunity_timeout"`
	PriceValidityWindow        duration `toml:"price_validity_window"`
	RiskAssessmentTimeout      duration `toml:"risk_assessment_timeout"`
	HistoryRetention           int      `toml:"history_retention"`
}

// BreakerThresholds holds the numeric trip thresholds for one named
// circuit breaker.
type BreakerThresholds struct {
	Threshold float64 `toml:"threshold"`
}

// EmergencyStopConfig holds the phased-shutdown timeouts.
type EmergencyStopConfig struct {
	TradeCompletionTimeout     duration `toml:"trade_completion_timeout"`
	PositionLiquidationTimeout duration `toml:"position_liquidation_timeout"`
	SystemShutdownTimeout      duration `toml:"system_shutdown_timeout"`
	MinRecoveryWaitTime        duration `toml:"min_recovery_wait_time"`
	GradualRestartDelay        duration `toml:"gradual_restart_delay"`
}

// IncidentConfig holds the incident manager's detection parameters.
type IncidentConfig struct {
	DetectionInterval  duration `toml:"detection_interval"`
	AnomalyThreshold   float64  `toml:"anomaly_threshold"` // default 3 (std-devs)
	CascadeTimeout     duration `toml:"cascade_timeout"`
	CascadeMinIncidents int     `toml:"cascade_min_incidents"`
	MaxRecoveryAttempts int     `toml:"max_recovery_attempts"`
}

// SafetyConfig holds the layered safety plane (C8) parameters.
type SafetyConfig struct {
	MonitoringInterval duration                     `toml:"monitoring_interval"`
	MetricsWindowSize  int                          `toml:"metrics_window_size"`
	MaxDailyLoss       float64                      `toml:"max_daily_loss"`
	MaxHourlyLoss      float64                      `toml:"max_hourly_loss"`
	MaxConsecutiveLoss int                          `toml:"max_consecutive_loss"`
	MaxDrawdownPct     float64                      `toml:"max_drawdown_pct"`
	BreakerThresholds  map[string]BreakerThresholds `toml:"breaker_thresholds"`
	EmergencyStop      EmergencyStopConfig          `toml:"emergency_stop"`
	Incident           IncidentConfig               `toml:"incident"`
}

// PostgresConfig holds the audit-trail persistence connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible cold-storage archive parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP/WS status & metrics server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	MetricsPath string   `toml:"metrics_path"`

	// RateLimit/RateLimitWindow bound requests per client IP on the public
	// API; RateLimit <= 0 disables the limiter.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds alert-sink credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// WalletConfig holds at-rest encrypted credential storage parameters for
// source API keys (not used for transaction signing, which is out of
// scope for this engine).
type WalletConfig struct {
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Transport: TransportConfig{
			MaxReconnectDelay:    duration{30 * time.Second},
			MaxReconnectAttempts: 10,
			HealthProbeInterval:  duration{15 * time.Second},
		},
		Cache: CacheConfig{
			LocalMaxMemoryMB: 256,
			CleanupInterval:  duration{10 * time.Second},
			InvalidatePrefix: "arbiton:",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "arbiton:",
		},
		PriceFeed: PriceFeedConfig{
			FailoverThreshold: 5,
			AnomalyThreshold:  0.05,
		},
		Aggregator: AggregatorConfig{
			OutlierThreshold: 0.05,
			MinSources:       2,
			MaxPriceAge:      duration{10 * time.Second},
			FeeCeiling:       0.006,
			FeeBudgetPct:     0.006, // 2 * 0.3%
		},
		Router: RouterConfig{
			BatchSize:     50,
			BatchInterval: duration{100 * time.Millisecond},
			MaxQueueSize:  2500,
			ErrorBudget:   10,
		},
		Mempool: MempoolConfig{
			GasPriceThresholdGwei: 100,
			SandwichWindow:        duration{30 * time.Second},
			SandwichMinTxCount:    3,
		},
		Pipeline: PipelineConfig{
			MinProfitThreshold:         0.005,
			MaxRiskScore:               70,
			MaxConcurrentOpportunities: 50,
			OpportunityTimeout:         duration{10 * time.Second},
			PriceValidityWindow:        duration{5 * time.Second},
			RiskAssessmentTimeout:      duration{2 * time.Second},
			HistoryRetention:           1000,
		},
		Safety: SafetyConfig{
			MonitoringInterval: duration{5 * time.Second},
			MetricsWindowSize:  60,
			MaxDailyLoss:       1000,
			MaxHourlyLoss:      400,
			MaxConsecutiveLoss: 3,
			MaxDrawdownPct:     0.15,
			BreakerThresholds: map[string]BreakerThresholds{
				"extremeVolatility": {Threshold: 0.08},     // realized volatility fraction
				"lowLiquidity":      {Threshold: 5000},     // USD
				"highGasPrice":      {Threshold: 150},      // gwei
				"marketCrash":       {Threshold: 0.20},      // realized volatility fraction
				"unusualSpread":     {Threshold: 0.05},      // spread deviation fraction
				"highErrorRate":     {Threshold: 0.1},       // fraction of calls failing
				"rpcFailure":        {Threshold: 0.2},       // fraction of calls failing
				"executionDelay":    {Threshold: 5},         // seconds
				"memoryPressure":    {Threshold: 0.9},        // fraction of limit
				"networkCongestion": {Threshold: 2000},       // ms
			},
			EmergencyStop: EmergencyStopConfig{
				TradeCompletionTimeout:     duration{30 * time.Second},
				PositionLiquidationTimeout: duration{60 * time.Second},
				SystemShutdownTimeout:      duration{15 * time.Second},
				MinRecoveryWaitTime:        duration{10 * time.Minute},
				GradualRestartDelay:        duration{3 * time.Minute},
			},
			Incident: IncidentConfig{
				DetectionInterval:   duration{10 * time.Second},
				AnomalyThreshold:    3.0,
				CascadeTimeout:      duration{5 * time.Minute},
				CascadeMinIncidents: 3,
				MaxRecoveryAttempts: 3,
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbiton",
			User:          "arbiton",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "arbiton-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			MetricsPath:     "/metrics",
			RateLimit:       100,
			RateLimitWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_executed", "breaker_tripped", "incident_opened", "emergency_stop"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"full":    true,
	"monitor": true,
	"server":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Transport.Endpoints) == 0 {
		errs = append(errs, "transport: at least one endpoint must be configured")
	}
	seenIDs := map[string]bool{}
	for _, ep := range c.Transport.Endpoints {
		if ep.ID == "" {
			errs = append(errs, "transport: endpoint id must not be empty")
			continue
		}
		if seenIDs[ep.ID] {
			errs = append(errs, fmt.Sprintf("transport: duplicate endpoint id %q", ep.ID))
		}
		seenIDs[ep.ID] = true
		if ep.URL == "" {
			errs = append(errs, fmt.Sprintf("transport: endpoint %q: url must not be empty", ep.ID))
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Aggregator.MinSources < 1 {
		errs = append(errs, "aggregator: min_sources must be >= 1")
	}
	if c.Aggregator.MaxPriceAge.Duration <= 0 {
		errs = append(errs, "aggregator: max_price_age must be > 0")
	}
	if c.Aggregator.OutlierThreshold <= 0 {
		errs = append(errs, "aggregator: outlier_threshold must be > 0")
	}

	if c.Router.BatchSize < 1 {
		errs = append(errs, "router: batch_size must be >= 1")
	}
	if c.Router.BatchInterval.Duration <= 0 {
		errs = append(errs, "router: batch_interval must be > 0")
	}

	if c.Pipeline.MaxConcurrentOpportunities < 1 {
		errs = append(errs, "pipeline: max_concurrent_opportunities must be >= 1")
	}
	if c.Pipeline.OpportunityTimeout.Duration <= 0 {
		errs = append(errs, "pipeline: opportunity_timeout must be > 0")
	}
	if c.Pipeline.MaxRiskScore <= 0 || c.Pipeline.MaxRiskScore > 100 {
		errs = append(errs, "pipeline: max_risk_score must be in (0, 100]")
	}

	if c.Safety.MonitoringInterval.Duration <= 0 {
		errs = append(errs, "safety: monitoring_interval must be > 0")
	}
	if c.Safety.EmergencyStop.TradeCompletionTimeout.Duration <= 0 {
		errs = append(errs, "safety: emergency_stop.trade_completion_timeout must be > 0")
	}

	needsPostgres := c.Postgres.RunMigrations || strings.TrimSpace(c.Postgres.DSN) != "" || c.Postgres.Host != ""
	if needsPostgres {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
