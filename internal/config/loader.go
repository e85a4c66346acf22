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
// built-in defaults, applies SENTRY_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SENTRY_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "SENTRY_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "SENTRY_ORACLE_API_KEY")
	setDuration(&cfg.Oracle.ScanInterval, "SENTRY_ORACLE_SCAN_INTERVAL")

	// ── Feed ──
	setStr(&cfg.Feed.RestURL, "SENTRY_FEED_REST_URL")
	setStr(&cfg.Feed.WsURL, "SENTRY_FEED_WS_URL")
	setDuration(&cfg.Feed.CacheMaxAge, "SENTRY_FEED_CACHE_MAX_AGE")

	// ── Account ──
	setFloat64(&cfg.Account.StartingCapital, "SENTRY_ACCOUNT_STARTING_CAPITAL")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "SENTRY_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.FetchConcurrency, "SENTRY_MONITOR_FETCH_CONCURRENCY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SENTRY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SENTRY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SENTRY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SENTRY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SENTRY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SENTRY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SENTRY_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SENTRY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SENTRY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SENTRY_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SENTRY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SENTRY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SENTRY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SENTRY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SENTRY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SENTRY_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SENTRY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SENTRY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SENTRY_S3_REGION")
	setStr(&cfg.S3.Bucket, "SENTRY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SENTRY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SENTRY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SENTRY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SENTRY_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SENTRY_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SENTRY_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SENTRY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SENTRY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SENTRY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SENTRY_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "SENTRY_LOG_LEVEL")
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
