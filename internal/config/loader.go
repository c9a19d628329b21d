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
// built-in defaults, applies POLYPROP_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known POLYPROP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYPROP_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "POLYPROP_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYPROP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYPROP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYPROP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYPROP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYPROP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYPROP_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYPROP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYPROP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYPROP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYPROP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYPROP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYPROP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYPROP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYPROP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYPROP_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYPROP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYPROP_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYPROP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYPROP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYPROP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYPROP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYPROP_S3_FORCE_PATH_STYLE")

	// ── Gamma ──
	setStr(&cfg.Gamma.Host, "POLYPROP_GAMMA_HOST")

	// ── Engine ──
	setFloat64(&cfg.Engine.StartingBalance, "POLYPROP_ENGINE_STARTING_BALANCE")
	setDuration(&cfg.Engine.StaleThreshold, "POLYPROP_ENGINE_STALE_THRESHOLD")
	setFloat64(&cfg.Engine.MaxDrawdown, "POLYPROP_ENGINE_MAX_DRAWDOWN")
	setFloat64(&cfg.Engine.DailyLossLimitPct, "POLYPROP_ENGINE_DAILY_LOSS_LIMIT_PCT")
	setFloat64(&cfg.Engine.ProfitTargetPct, "POLYPROP_ENGINE_PROFIT_TARGET_PCT")
	setInt(&cfg.Engine.MinTradingDays, "POLYPROP_ENGINE_MIN_TRADING_DAYS")
	setFloat64(&cfg.Engine.MaxPositionSizePct, "POLYPROP_ENGINE_MAX_POSITION_SIZE_PCT")
	setFloat64(&cfg.Engine.MaxCategoryExposurePct, "POLYPROP_ENGINE_MAX_CATEGORY_EXPOSURE_PCT")
	setFloat64(&cfg.Engine.MinMarketVolume, "POLYPROP_ENGINE_MIN_MARKET_VOLUME")
	setInt(&cfg.Engine.FundedInactivityDays, "POLYPROP_ENGINE_FUNDED_INACTIVITY_DAYS")

	// ── Jobs ──
	setBool(&cfg.Jobs.Enabled, "POLYPROP_JOBS_ENABLED")
	setDuration(&cfg.Jobs.MonitorInterval, "POLYPROP_JOBS_MONITOR_INTERVAL")
	setDuration(&cfg.Jobs.SettlementInterval, "POLYPROP_JOBS_SETTLEMENT_INTERVAL")
	setDuration(&cfg.Jobs.RefreshInterval, "POLYPROP_JOBS_REFRESH_INTERVAL")
	setInt(&cfg.Jobs.RefreshPageSize, "POLYPROP_JOBS_REFRESH_PAGE_SIZE")
	setDuration(&cfg.Jobs.ArchiveInterval, "POLYPROP_JOBS_ARCHIVE_INTERVAL")
	setInt(&cfg.Jobs.ArchiveRetentionDays, "POLYPROP_JOBS_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYPROP_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYPROP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYPROP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYPROP_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYPROP_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYPROP_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYPROP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYPROP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYPROP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYPROP_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYPROP_MODE")
	setStr(&cfg.LogLevel, "POLYPROP_LOG_LEVEL")
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
