// Package config defines the top-level configuration for the evaluation
// platform and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYPROP_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Gamma    GammaConfig    `toml:"gamma"`
	Engine   EngineConfig   `toml:"engine"`
	Jobs     JobsConfig     `toml:"jobs"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// GammaConfig holds the market metadata and resolution feed endpoint.
type GammaConfig struct {
	Host string `toml:"host"`
}

// EngineConfig holds trade execution and account provisioning parameters.
// The rule fields become the default RuleSet stamped onto new accounts.
type EngineConfig struct {
	StartingBalance float64  `toml:"starting_balance"`
	StaleThreshold  duration `toml:"stale_threshold"`

	MaxDrawdown            float64 `toml:"max_drawdown"`
	DailyLossLimitPct      float64 `toml:"daily_loss_limit_pct"`
	ProfitTargetPct        float64 `toml:"profit_target_pct"`
	MinTradingDays         int     `toml:"min_trading_days"`
	MaxPositionSizePct     float64 `toml:"max_position_size_pct"`
	MaxCategoryExposurePct float64 `toml:"max_category_exposure_pct"`
	MinMarketVolume        float64 `toml:"min_market_volume"`
	FundedInactivityDays   int     `toml:"funded_inactivity_days"`
}

// JobsConfig holds the background job intervals.
type JobsConfig struct {
	Enabled              bool     `toml:"enabled"`
	MonitorInterval      duration `toml:"monitor_interval"`
	SettlementInterval   duration `toml:"settlement_interval"`
	RefreshInterval      duration `toml:"refresh_interval"`
	RefreshPageSize      int      `toml:"refresh_page_size"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyprop-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Gamma: GammaConfig{
			Host: "https://gamma-api.polymarket.com",
		},
		Engine: EngineConfig{
			StartingBalance: 10_000,
			StaleThreshold:  duration{5 * time.Second},

			MaxDrawdown:            1_000,
			DailyLossLimitPct:      0.05,
			ProfitTargetPct:        0.10,
			MinTradingDays:         5,
			MaxPositionSizePct:     0.25,
			MaxCategoryExposurePct: 0.50,
			MinMarketVolume:        10_000,
			FundedInactivityDays:   30,
		},
		Jobs: JobsConfig{
			Enabled:              true,
			MonitorInterval:      duration{30 * time.Second},
			SettlementInterval:   duration{5 * time.Minute},
			RefreshInterval:      duration{2 * time.Minute},
			RefreshPageSize:      200,
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   300,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"account_failed", "account_soft_breach", "account_recovered", "account_passed", "job_error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"jobs":  true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, jobs, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Gamma
	if c.Gamma.Host == "" {
		errs = append(errs, "gamma: host must not be empty")
	}

	// Engine
	if c.Engine.StartingBalance <= 0 {
		errs = append(errs, "engine: starting_balance must be > 0")
	}
	if c.Engine.StaleThreshold.Duration <= 0 {
		errs = append(errs, "engine: stale_threshold must be > 0")
	}
	if c.Engine.MaxDrawdown <= 0 {
		errs = append(errs, "engine: max_drawdown must be > 0")
	}
	if c.Engine.MaxDrawdown >= c.Engine.StartingBalance {
		errs = append(errs, "engine: max_drawdown must be less than starting_balance")
	}
	if c.Engine.DailyLossLimitPct <= 0 || c.Engine.DailyLossLimitPct >= 1 {
		errs = append(errs, "engine: daily_loss_limit_pct must be in (0, 1)")
	}
	if c.Engine.ProfitTargetPct <= 0 {
		errs = append(errs, "engine: profit_target_pct must be > 0")
	}
	if c.Engine.MinTradingDays < 0 {
		errs = append(errs, "engine: min_trading_days must be >= 0")
	}
	if c.Engine.MaxPositionSizePct <= 0 || c.Engine.MaxPositionSizePct > 1 {
		errs = append(errs, "engine: max_position_size_pct must be in (0, 1]")
	}
	if c.Engine.MaxCategoryExposurePct <= 0 || c.Engine.MaxCategoryExposurePct > 1 {
		errs = append(errs, "engine: max_category_exposure_pct must be in (0, 1]")
	}
	if c.Engine.MinMarketVolume < 0 {
		errs = append(errs, "engine: min_market_volume must be >= 0")
	}
	if c.Engine.FundedInactivityDays < 1 {
		errs = append(errs, "engine: funded_inactivity_days must be >= 1")
	}

	// Jobs
	if c.Jobs.Enabled {
		if c.Jobs.MonitorInterval.Duration <= 0 {
			errs = append(errs, "jobs: monitor_interval must be > 0")
		}
		if c.Jobs.SettlementInterval.Duration <= 0 {
			errs = append(errs, "jobs: settlement_interval must be > 0")
		}
		if c.Jobs.RefreshInterval.Duration <= 0 {
			errs = append(errs, "jobs: refresh_interval must be > 0")
		}
		if c.Jobs.RefreshPageSize < 1 {
			errs = append(errs, "jobs: refresh_page_size must be >= 1")
		}
		if c.Jobs.ArchiveRetentionDays < 1 {
			errs = append(errs, "jobs: archive_retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
