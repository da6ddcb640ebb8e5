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
// built-in defaults, applies BOND_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BOND_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Registry ──
	setStr(&cfg.Registry.OwnerID, "BOND_REGISTRY_OWNER_ID")
	setDuration(&cfg.Registry.CallTimeout, "BOND_REGISTRY_CALL_TIMEOUT")
	setDuration(&cfg.Registry.LockTTL, "BOND_REGISTRY_LOCK_TTL")
	setInt(&cfg.Registry.QueueSize, "BOND_REGISTRY_QUEUE_SIZE")

	// ── Token service ──
	setStr(&cfg.Token.BaseURL, "BOND_TOKEN_BASE_URL")
	setStr(&cfg.Token.ApiKey, "BOND_TOKEN_API_KEY")
	setStr(&cfg.Token.ApiSecret, "BOND_TOKEN_API_SECRET")

	// ── Keystore ──
	setStr(&cfg.Keystore.EncryptedKeyPath, "BOND_KEYSTORE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keystore.KeyPassword, "BOND_KEYSTORE_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BOND_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BOND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BOND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BOND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BOND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BOND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BOND_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BOND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BOND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BOND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BOND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BOND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BOND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BOND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BOND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BOND_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BOND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BOND_S3_REGION")
	setStr(&cfg.S3.Bucket, "BOND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BOND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BOND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BOND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BOND_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BOND_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BOND_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "BOND_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BOND_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BOND_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BOND_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BOND_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BOND_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BOND_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BOND_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BOND_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BOND_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BOND_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BOND_MODE")
	setStr(&cfg.LogLevel, "BOND_LOG_LEVEL")
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
