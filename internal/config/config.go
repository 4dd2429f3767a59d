// Package config defines the spotlight configuration and its validation.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SPOTLIGHT_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Chain    ChainConfig    `toml:"chain"`
	Auction  AuctionConfig  `toml:"auction"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig selects the store backend. "memory" keeps everything in
// process and is meant for local runs.
type DatabaseConfig struct {
	Backend       string `toml:"backend"`
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

// RedisConfig holds Redis connection parameters. When disabled, locks, rate
// limits and the event bus fall back to in-process implementations.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// Namespace prefixes every key and bus channel.
	Namespace string `toml:"namespace"`
}

// S3Config holds object storage parameters for round archives.
type S3Config struct {
	Enabled              bool   `toml:"enabled"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	ArchiveCron          string `toml:"archive_cron"`
}

// ChainConfig enables on-chain funded bids.
type ChainConfig struct {
	Enabled          bool   `toml:"enabled"`
	RPCURL           string `toml:"rpc_url"`
	ChainID          int64  `toml:"chain_id"`
	TreasuryAddress  string `toml:"treasury_address"`
	MinConfirmations uint64 `toml:"min_confirmations"`
	// WeiPerUnit is a decimal string; one ledger unit is this many wei.
	WeiPerUnit string `toml:"wei_per_unit"`
}

// WeiPerUnitInt parses WeiPerUnit.
func (c ChainConfig) WeiPerUnitInt() (*big.Int, bool) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(c.WeiPerUnit), 10)
	if !ok || n.Sign() <= 0 {
		return nil, false
	}
	return n, true
}

// AuctionConfig holds the round parameters. Amounts are integer minor units.
type AuctionConfig struct {
	MinBid           int64    `toml:"min_bid"`
	MaxBid           int64    `toml:"max_bid"`
	RoundDuration    duration `toml:"round_duration"`
	FeatureDuration  duration `toml:"feature_duration"`
	SlotCount        int      `toml:"slot_count"`
	SnipeWindow      duration `toml:"snipe_window"`
	SnipeExtension   duration `toml:"snipe_extension"`
	MaxExtension     duration `toml:"max_extension"`
	TickInterval     duration `toml:"tick_interval"`
	RefundStagger    duration `toml:"refund_stagger"`
	BidRateLimit     int      `toml:"bid_rate_limit"`
	BidRateWindow    duration `toml:"bid_rate_window"`
	RequireSignature bool     `toml:"require_signature"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. AdminKeyHash is a bcrypt hash
// of the key expected in the X-Admin-Key header; admin routes are disabled
// while it is empty.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	AdminKeyHash string   `toml:"admin_key_hash"`
	// RequestsPerMinute limits each client IP. Zero disables the limit.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
	Timeout           duration `toml:"timeout"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Backend:       "postgres",
			Host:          "localhost",
			Port:          5432,
			Database:      "spotlight",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "spotlight",
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "spotlight-archive",
			ForcePathStyle:       true,
			ArchiveRetentionDays: 30,
			ArchiveCron:          "0 3 * * *",
		},
		Chain: ChainConfig{
			Enabled:          false,
			ChainID:          137,
			MinConfirmations: 3,
			WeiPerUnit:       "10000000000000000",
		},
		Auction: AuctionConfig{
			MinBid:          100,
			MaxBid:          0,
			RoundDuration:   duration{24 * time.Hour},
			FeatureDuration: duration{24 * time.Hour},
			SlotCount:       2,
			SnipeWindow:     duration{5 * time.Minute},
			SnipeExtension:  duration{3 * time.Minute},
			MaxExtension:    duration{30 * time.Minute},
			TickInterval:    duration{5 * time.Minute},
			RefundStagger:   duration{200 * time.Millisecond},
			BidRateLimit:    10,
			BidRateWindow:   duration{time.Minute},
		},
		Server: ServerConfig{
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			RequestsPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events:  []string{"pool_promoted", "bid_outbid"},
			Timeout: duration{10 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
	"tick":   true,
}

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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full, tick)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("database: unknown backend %q (valid: postgres, memory)", c.Database.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.ArchiveRetentionDays < 0 {
			errs = append(errs, "s3: archive_retention_days must be >= 0")
		}
		if len(strings.Fields(c.S3.ArchiveCron)) != 5 {
			errs = append(errs, fmt.Sprintf("s3: archive_cron must have 5 fields, got %q", c.S3.ArchiveCron))
		}
	}

	if c.Chain.Enabled {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required when enabled")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.TreasuryAddress == "" {
			errs = append(errs, "chain: treasury_address is required when enabled")
		}
		if _, ok := c.Chain.WeiPerUnitInt(); !ok {
			errs = append(errs, fmt.Sprintf("chain: wei_per_unit must be a positive integer, got %q", c.Chain.WeiPerUnit))
		}
	}
	if c.Auction.RequireSignature && c.Chain.ChainID <= 0 {
		errs = append(errs, "auction: require_signature needs chain.chain_id for the signing domain")
	}

	a := c.Auction
	if a.MinBid <= 0 {
		errs = append(errs, "auction: min_bid must be > 0")
	}
	if a.MaxBid != 0 && a.MaxBid < a.MinBid {
		errs = append(errs, "auction: max_bid must be 0 (unbounded) or >= min_bid")
	}
	if a.RoundDuration.Duration <= 0 {
		errs = append(errs, "auction: round_duration must be > 0")
	}
	if a.FeatureDuration.Duration <= 0 {
		errs = append(errs, "auction: feature_duration must be > 0")
	}
	if a.SlotCount < 1 {
		errs = append(errs, "auction: slot_count must be >= 1")
	}
	if a.SnipeWindow.Duration < 0 || a.SnipeExtension.Duration < 0 || a.MaxExtension.Duration < 0 {
		errs = append(errs, "auction: snipe_window, snipe_extension and max_extension must not be negative")
	}
	if a.TickInterval.Duration <= 0 {
		errs = append(errs, "auction: tick_interval must be > 0")
	}
	if a.RefundStagger.Duration < 0 {
		errs = append(errs, "auction: refund_stagger must not be negative")
	}
	if a.BidRateLimit > 0 && a.BidRateWindow.Duration <= 0 {
		errs = append(errs, "auction: bid_rate_window must be > 0 when bid_rate_limit is set")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Notify.WebhookURL != "" && c.Notify.WebhookSecret == "" {
		errs = append(errs, "notify: webhook_secret is required with webhook_url")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
