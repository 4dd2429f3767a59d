package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "batch"
	cfg.Auction.MinBid = 0
	cfg.Auction.SlotCount = 0
	cfg.Database.Backend = "sqlite"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"unknown mode", "min_bid", "slot_count", "unknown backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestValidate_Sections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"memory backend needs no host", func(c *Config) { c.Database.Backend = "memory"; c.Database.Host = "" }, ""},
		{"dsn replaces host", func(c *Config) { c.Database.DSN = "postgres://x"; c.Database.Host = "" }, ""},
		{"max below min", func(c *Config) { c.Auction.MaxBid = 50 }, "max_bid"},
		{"chain without rpc", func(c *Config) { c.Chain.Enabled = true; c.Chain.TreasuryAddress = "0xabc" }, "rpc_url"},
		{"bad wei per unit", func(c *Config) {
			c.Chain.Enabled = true
			c.Chain.RPCURL = "http://node"
			c.Chain.TreasuryAddress = "0xabc"
			c.Chain.WeiPerUnit = "ten"
		}, "wei_per_unit"},
		{"s3 bad cron", func(c *Config) { c.S3.Enabled = true; c.S3.ArchiveCron = "daily" }, "archive_cron"},
		{"webhook without secret", func(c *Config) { c.Notify.WebhookURL = "http://hook" }, "webhook_secret"},
		{"negative snipe", func(c *Config) { c.Auction.SnipeWindow = duration{-time.Second} }, "snipe_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spotlight.toml")
	body := `
mode = "api"

[database]
backend = "memory"

[auction]
min_bid = 250
round_duration = "2h"
slot_count = 3
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SPOTLIGHT_AUCTION_SLOT_COUNT", "4")
	t.Setenv("SPOTLIGHT_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("SPOTLIGHT_AUCTION_SNIPE_WINDOW", "not-a-duration")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "api" || cfg.Database.Backend != "memory" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Auction.MinBid != 250 || cfg.Auction.RoundDuration.Duration != 2*time.Hour {
		t.Fatalf("auction values not applied: %+v", cfg.Auction)
	}
	if cfg.Auction.SlotCount != 4 {
		t.Fatalf("env override ignored: slot_count=%d", cfg.Auction.SlotCount)
	}
	if cfg.Auction.SnipeWindow.Duration != 5*time.Minute {
		t.Fatalf("unparsable env value should keep default, got %s", cfg.Auction.SnipeWindow.Duration)
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("cors origins = %v", got)
	}
	if cfg.Auction.FeatureDuration.Duration != 24*time.Hour {
		t.Fatalf("unset value should keep default, got %s", cfg.Auction.FeatureDuration.Duration)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Password = "pg-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.AdminKeyHash = "$2a$10$hash"
	cfg.Notify.WebhookSecret = "hook-secret"
	cfg.Redis.Password = ""

	out := RedactedConfig(&cfg)
	for name, got := range map[string]string{
		"database.password":     out.Database.Password,
		"s3.secret_key":         out.S3.SecretKey,
		"server.admin_key":      out.Server.AdminKeyHash,
		"notify.webhook_secret": out.Notify.WebhookSecret,
	} {
		if got != redacted {
			t.Fatalf("%s not redacted: %q", name, got)
		}
	}
	if out.Redis.Password != "" {
		t.Fatalf("empty secret should stay empty, got %q", out.Redis.Password)
	}
	if cfg.Database.Password != "pg-secret" {
		t.Fatalf("original mutated")
	}
	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Fatalf("redacted copy shares CORS slice with original")
	}
}
