package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBITON_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBITON_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBITON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBITON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBITON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBITON_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ARBITON_REDIS_TLS_ENABLED")

	// ── PriceFeed sources ──
	setStr(&cfg.PriceFeed.Oracle.RPCURL, "ARBITON_PRICEFEED_ORACLE_RPC_URL")
	setStr(&cfg.PriceFeed.Oracle.ContractAddress, "ARBITON_PRICEFEED_ORACLE_CONTRACT_ADDRESS")
	setStr(&cfg.PriceFeed.AggregatorHTTP.BaseURL, "ARBITON_PRICEFEED_AGGREGATOR_BASE_URL")
	setStr(&cfg.PriceFeed.AggregatorHTTP.APIKey, "ARBITON_PRICEFEED_AGGREGATOR_API_KEY")
	setStr(&cfg.PriceFeed.AggregatorHTTP.APISecret, "ARBITON_PRICEFEED_AGGREGATOR_API_SECRET")
	setFloat64(&cfg.PriceFeed.AnomalyThreshold, "ARBITON_PRICEFEED_ANOMALY_THRESHOLD")

	// ── Aggregator ──
	setFloat64(&cfg.Aggregator.OutlierThreshold, "ARBITON_AGGREGATOR_OUTLIER_THRESHOLD")
	setInt(&cfg.Aggregator.MinSources, "ARBITON_AGGREGATOR_MIN_SOURCES")
	setDuration(&cfg.Aggregator.MaxPriceAge, "ARBITON_AGGREGATOR_MAX_PRICE_AGE")
	setFloat64(&cfg.Aggregator.FeeCeiling, "ARBITON_AGGREGATOR_FEE_CEILING")

	// ── Router ──
	setInt(&cfg.Router.BatchSize, "ARBITON_ROUTER_BATCH_SIZE")
	setDuration(&cfg.Router.BatchInterval, "ARBITON_ROUTER_BATCH_INTERVAL")
	setInt(&cfg.Router.MaxQueueSize, "ARBITON_ROUTER_MAX_QUEUE_SIZE")

	// ── Mempool ──
	setBool(&cfg.Mempool.Enabled, "ARBITON_MEMPOOL_ENABLED")
	setStr(&cfg.Mempool.RPCWSURL, "ARBITON_MEMPOOL_RPC_WS_URL")
	setFloat64(&cfg.Mempool.GasPriceThresholdGwei, "ARBITON_MEMPOOL_GAS_PRICE_THRESHOLD_GWEI")

	// ── Pipeline ──
	setFloat64(&cfg.Pipeline.MinProfitThreshold, "ARBITON_PIPELINE_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Pipeline.MaxRiskScore, "ARBITON_PIPELINE_MAX_RISK_SCORE")
	setInt(&cfg.Pipeline.MaxConcurrentOpportunities, "ARBITON_PIPELINE_MAX_CONCURRENT_OPPORTUNITIES")
	setDuration(&cfg.Pipeline.OpportunityTimeout, "ARBITON_PIPELINE_OPPORTUNITY_TIMEOUT")
	setDuration(&cfg.Pipeline.RiskAssessmentTimeout, "ARBITON_PIPELINE_RISK_ASSESSMENT_TIMEOUT")

	// ── Safety ──
	setDuration(&cfg.Safety.MonitoringInterval, "ARBITON_SAFETY_MONITORING_INTERVAL")
	setFloat64(&cfg.Safety.MaxDailyLoss, "ARBITON_SAFETY_MAX_DAILY_LOSS")
	setFloat64(&cfg.Safety.MaxHourlyLoss, "ARBITON_SAFETY_MAX_HOURLY_LOSS")
	setInt(&cfg.Safety.MaxConsecutiveLoss, "ARBITON_SAFETY_MAX_CONSECUTIVE_LOSS")
	setFloat64(&cfg.Safety.MaxDrawdownPct, "ARBITON_SAFETY_MAX_DRAWDOWN_PCT")
	setDuration(&cfg.Safety.EmergencyStop.TradeCompletionTimeout, "ARBITON_SAFETY_TRADE_COMPLETION_TIMEOUT")
	setDuration(&cfg.Safety.EmergencyStop.MinRecoveryWaitTime, "ARBITON_SAFETY_MIN_RECOVERY_WAIT_TIME")
	setDuration(&cfg.Safety.Incident.DetectionInterval, "ARBITON_SAFETY_INCIDENT_DETECTION_INTERVAL")
	setFloat64(&cfg.Safety.Incident.AnomalyThreshold, "ARBITON_SAFETY_INCIDENT_ANOMALY_THRESHOLD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBITON_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBITON_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBITON_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBITON_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBITON_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBITON_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBITON_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "ARBITON_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBITON_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBITON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBITON_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBITON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBITON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBITON_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBITON_S3_USE_SSL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBITON_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBITON_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBITON_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBITON_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBITON_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBITON_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBITON_NOTIFY_EVENTS")

	// ── Wallet (credential-at-rest, not signing) ──
	setStr(&cfg.Wallet.EncryptedKeyPath, "ARBITON_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ARBITON_WALLET_KEY_PASSWORD")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBITON_MODE")
	setStr(&cfg.LogLevel, "ARBITON_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
