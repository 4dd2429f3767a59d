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
// built-in defaults, applies SPOTLIGHT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known SPOTLIGHT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.Backend, "SPOTLIGHT_DATABASE_BACKEND")
	setStr(&cfg.Database.DSN, "SPOTLIGHT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "SPOTLIGHT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SPOTLIGHT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SPOTLIGHT_DATABASE_NAME")
	setStr(&cfg.Database.User, "SPOTLIGHT_DATABASE_USER")
	setStr(&cfg.Database.Password, "SPOTLIGHT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SPOTLIGHT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "SPOTLIGHT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SPOTLIGHT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SPOTLIGHT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SPOTLIGHT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SPOTLIGHT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SPOTLIGHT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SPOTLIGHT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SPOTLIGHT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SPOTLIGHT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SPOTLIGHT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "SPOTLIGHT_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SPOTLIGHT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SPOTLIGHT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SPOTLIGHT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SPOTLIGHT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SPOTLIGHT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SPOTLIGHT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SPOTLIGHT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SPOTLIGHT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "SPOTLIGHT_S3_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveCron, "SPOTLIGHT_S3_ARCHIVE_CRON")

	// ── Chain ──
	setBool(&cfg.Chain.Enabled, "SPOTLIGHT_CHAIN_ENABLED")
	setStr(&cfg.Chain.RPCURL, "SPOTLIGHT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "SPOTLIGHT_CHAIN_ID")
	setStr(&cfg.Chain.TreasuryAddress, "SPOTLIGHT_CHAIN_TREASURY_ADDRESS")
	setUint64(&cfg.Chain.MinConfirmations, "SPOTLIGHT_CHAIN_MIN_CONFIRMATIONS")
	setStr(&cfg.Chain.WeiPerUnit, "SPOTLIGHT_CHAIN_WEI_PER_UNIT")

	// ── Auction ──
	setInt64(&cfg.Auction.MinBid, "SPOTLIGHT_AUCTION_MIN_BID")
	setInt64(&cfg.Auction.MaxBid, "SPOTLIGHT_AUCTION_MAX_BID")
	setDuration(&cfg.Auction.RoundDuration, "SPOTLIGHT_AUCTION_ROUND_DURATION")
	setDuration(&cfg.Auction.FeatureDuration, "SPOTLIGHT_AUCTION_FEATURE_DURATION")
	setInt(&cfg.Auction.SlotCount, "SPOTLIGHT_AUCTION_SLOT_COUNT")
	setDuration(&cfg.Auction.SnipeWindow, "SPOTLIGHT_AUCTION_SNIPE_WINDOW")
	setDuration(&cfg.Auction.SnipeExtension, "SPOTLIGHT_AUCTION_SNIPE_EXTENSION")
	setDuration(&cfg.Auction.MaxExtension, "SPOTLIGHT_AUCTION_MAX_EXTENSION")
	setDuration(&cfg.Auction.TickInterval, "SPOTLIGHT_AUCTION_TICK_INTERVAL")
	setDuration(&cfg.Auction.RefundStagger, "SPOTLIGHT_AUCTION_REFUND_STAGGER")
	setInt(&cfg.Auction.BidRateLimit, "SPOTLIGHT_AUCTION_BID_RATE_LIMIT")
	setDuration(&cfg.Auction.BidRateWindow, "SPOTLIGHT_AUCTION_BID_RATE_WINDOW")
	setBool(&cfg.Auction.RequireSignature, "SPOTLIGHT_AUCTION_REQUIRE_SIGNATURE")

	// ── Server ──
	setInt(&cfg.Server.Port, "SPOTLIGHT_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setStringSlice(&cfg.Server.CORSOrigins, "SPOTLIGHT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminKeyHash, "SPOTLIGHT_SERVER_ADMIN_KEY_HASH")
	setInt(&cfg.Server.RequestsPerMinute, "SPOTLIGHT_SERVER_REQUESTS_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SPOTLIGHT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SPOTLIGHT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SPOTLIGHT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "SPOTLIGHT_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "SPOTLIGHT_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "SPOTLIGHT_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Timeout, "SPOTLIGHT_NOTIFY_TIMEOUT")

	// ── Top-level ──
	setStr(&cfg.Mode, "SPOTLIGHT_MODE")
	setStr(&cfg.LogLevel, "SPOTLIGHT_LOG_LEVEL")
}

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
