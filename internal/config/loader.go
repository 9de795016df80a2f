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
// built-in defaults, applies DEALPOOL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEALPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEALPOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEALPOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEALPOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEALPOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEALPOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEALPOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEALPOOL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEALPOOL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEALPOOL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEALPOOL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEALPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEALPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEALPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEALPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEALPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEALPOOL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DEALPOOL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DEALPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEALPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEALPOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEALPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEALPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEALPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEALPOOL_S3_FORCE_PATH_STYLE")

	// ── Pool ──
	setInt64(&cfg.Pool.DefaultThresholdKg, "DEALPOOL_POOL_DEFAULT_THRESHOLD_KG")
	setDuration(&cfg.Pool.LockTTL, "DEALPOOL_POOL_LOCK_TTL")
	setDuration(&cfg.Pool.CropCacheTTL, "DEALPOOL_POOL_CROP_CACHE_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "DEALPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEALPOOL_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEALPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEALPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.WebhookURL, "DEALPOOL_NOTIFY_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEALPOOL_MODE")
	setStr(&cfg.LogLevel, "DEALPOOL_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
