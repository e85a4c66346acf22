// Package config defines the top-level configuration for tokensentry and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SENTRY_* environment variables.
type Config struct {
	Oracle   OracleConfig   `toml:"oracle"`
	Feed     FeedConfig     `toml:"feed"`
	Account  AccountConfig  `toml:"account"`
	Risk     RiskConfig     `toml:"risk"`
	Planner  PlannerConfig  `toml:"planner"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// OracleConfig holds the screener/oracle API parameters.
type OracleConfig struct {
	BaseURL      string   `toml:"base_url"`
	APIKey       string   `toml:"api_key"`
	ScanInterval duration `toml:"scan_interval"`
}

// FeedConfig holds market-data endpoints.
type FeedConfig struct {
	RestURL     string   `toml:"rest_url"`
	WsURL       string   `toml:"ws_url"`
	CacheMaxAge duration `toml:"cache_max_age"`
}

// AccountConfig holds the paper account parameters.
type AccountConfig struct {
	// StartingCapital seeds the ledger when no persisted snapshot exists.
	StartingCapital float64 `toml:"starting_capital"`
}

// StageConfig configures one take-profit stage.
type StageConfig struct {
	Name         string  `toml:"name"`
	Threshold    float64 `toml:"threshold"`
	ExitFraction float64 `toml:"exit_fraction"`
}

// RiskConfig holds the risk calculator tunables. Zero values fall back to
// the built-in defaults, so a TOML file only needs the knobs it changes.
type RiskConfig struct {
	HighRiskStopPct   float64 `toml:"high_risk_stop_pct"`
	MediumRiskStopPct float64 `toml:"medium_risk_stop_pct"`
	LowRiskStopPct    float64 `toml:"low_risk_stop_pct"`

	StopLossFloor float64 `toml:"stop_loss_floor"`
	StopLossCeil  float64 `toml:"stop_loss_ceil"`

	Stages []StageConfig `toml:"stages"`

	TrailingActivationGain float64 `toml:"trailing_activation_gain"`

	DecayAfter duration `toml:"decay_after"`
	DecayRate  float64  `toml:"decay_rate"`
}

// PlannerConfig holds entry-planning and sizing tunables.
type PlannerConfig struct {
	MaxPositionPct float64  `toml:"max_position_pct"`
	BaseSize       float64  `toml:"base_size"`
	ImmediateWait  duration `toml:"immediate_wait"`
	DipWait        duration `toml:"dip_wait"`
	DipTriggerPct  float64  `toml:"dip_trigger_pct"`
	LadderWait     duration `toml:"ladder_wait"`
	LadderConfirm  duration `toml:"ladder_confirm"`
}

// MonitorConfig holds the tick loop parameters.
type MonitorConfig struct {
	Interval         duration `toml:"interval"`
	FetchConcurrency int      `toml:"fetch_concurrency"`
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

// S3Config holds S3-compatible object storage parameters for the trade
// archive. Disabled unless a bucket is configured.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveRetain   duration `toml:"archive_retain"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ServerConfig holds the metrics/health HTTP listener parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Oracle: OracleConfig{
			ScanInterval: duration{60 * time.Second},
		},
		Feed: FeedConfig{
			CacheMaxAge: duration{30 * time.Second},
		},
		Account: AccountConfig{
			StartingCapital: 10_000,
		},
		Monitor: MonitorConfig{
			Interval:         duration{15 * time.Second},
			FetchConcurrency: 8,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		S3: S3Config{
			ArchiveRetain:   duration{30 * 24 * time.Hour},
			ArchiveInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    9090,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for operator mistakes that are cheaper
// to reject at startup than to debug at runtime.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle.base_url is required")
	}
	if c.Feed.RestURL == "" {
		errs = append(errs, "feed.rest_url is required")
	}
	if c.Account.StartingCapital <= 0 {
		errs = append(errs, "account.starting_capital must be positive")
	}
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor.interval must be positive")
	}
	if c.Oracle.ScanInterval.Duration <= 0 {
		errs = append(errs, "oracle.scan_interval must be positive")
	}
	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		errs = append(errs, "postgres requires dsn or host/database/user")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3.bucket is required when s3 is enabled")
	}
	if frac := stageFractionSum(c.Risk.Stages); len(c.Risk.Stages) > 0 && frac >= 1 {
		errs = append(errs, fmt.Sprintf("risk.stages exit fractions sum to %.2f, must stay below 1 to leave a trailing remainder", frac))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func stageFractionSum(stages []StageConfig) float64 {
	sum := 0.0
	for _, s := range stages {
		sum += s.ExitFraction
	}
	return sum
}
