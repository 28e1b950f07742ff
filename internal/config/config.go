// Package config defines the service configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BETTOGETHER_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Market   MarketConfig   `toml:"market"`
	Asset    AssetConfig    `toml:"asset"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	LogFile  string         `toml:"log_file"`
}

// ChainConfig selects on-chain collaborators. When Enabled is false the
// asset, yield pool and oracle run in memory.
type ChainConfig struct {
	Enabled        bool     `toml:"enabled"`
	RPCURL         string   `toml:"rpc_url"`
	GasLimit       uint64   `toml:"gas_limit"`
	GasPaddingPct  uint64   `toml:"gas_padding_pct"`
	ReceiptPoll    Duration `toml:"receipt_poll"`
	ReceiptTimeout Duration `toml:"receipt_timeout"`

	LendingPool        string   `toml:"lending_pool"`
	LendingPoolCore    string   `toml:"lending_pool_core"`
	AToken             string   `toml:"atoken"`
	Realitio           string   `toml:"realitio"`
	RealitioTemplateID uint64   `toml:"realitio_template_id"`
	AnswerTimeout      Duration `toml:"answer_timeout"`
}

// WalletConfig holds the operator key that signs chain transactions and
// custodies every market's funds.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// MarketConfig holds settlement policy.
type MarketConfig struct {
	// Policy is "owner" (the market owner administers it) or "open".
	Policy           string   `toml:"policy"`
	MinBettingPeriod Duration `toml:"min_betting_period"`
	SnapshotTTL      Duration `toml:"snapshot_ttl"`
}

// AssetConfig describes the base asset bets are denominated in.
type AssetConfig struct {
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
	// Address is the ERC-20 contract, required with chain.enabled.
	Address string `toml:"address"`
	// Reserve is the in-memory pool's interest source.
	Reserve string `toml:"reserve"`
}

// PostgresConfig holds the read-model database parameters. When Enabled is
// false snapshots are kept in memory.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters. When Enabled is false the
// cache, locks, event bus and rate limiter run in process.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
// When Enabled is false the archive is written to memory.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSizeMB     int64  `toml:"part_size_mb"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  Duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig schedules the settled-market sweep in full mode. Cron wins
// over Interval when both are set.
type ArchiveConfig struct {
	Prefix   string   `toml:"prefix"`
	Cron     string   `toml:"cron"`
	Interval Duration `toml:"interval"`
}

// Duration is a time.Duration that decodes from TOML strings like "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs entirely in memory.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			GasPaddingPct:  20,
			ReceiptPoll:    Duration{2 * time.Second},
			ReceiptTimeout: Duration{2 * time.Minute},
			AnswerTimeout:  Duration{24 * time.Hour},
		},
		Market: MarketConfig{
			Policy:      "owner",
			SnapshotTTL: Duration{5 * time.Minute},
		},
		Asset: AssetConfig{
			Symbol:   "DAI",
			Decimals: 18,
			Reserve:  "0x000000000000000000000000000000000000fee0",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bettogether",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bettogether-archive",
			ForcePathStyle: true,
			PartSizeMB:     5,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  Duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"state_transitioned", "outcome_resolved"},
		},
		Archive: ArchiveConfig{
			Prefix:   "markets",
			Interval: Duration{10 * time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":   true,
	"full":     true,
	"simulate": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPolicies = map[string]bool{
	"owner": true,
	"open":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, full, simulate)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	if !validPolicies[strings.ToLower(c.Market.Policy)] {
		add("market: unknown policy %q (valid: owner, open)", c.Market.Policy)
	}
	if c.Market.MinBettingPeriod.Duration < 0 {
		add("market: min_betting_period must not be negative")
	}

	if c.Asset.Symbol == "" {
		add("asset: symbol must not be empty")
	}
	if c.Asset.Decimals > 77 {
		add("asset: decimals must be <= 77, got %d", c.Asset.Decimals)
	}
	checkAddr := func(field, v string, required bool) {
		if v == "" {
			if required {
				add("%s is required when chain.enabled is set", field)
			}
			return
		}
		if !common.IsHexAddress(v) {
			add("%s: %q is not a hex address", field, v)
		}
	}
	checkAddr("asset.reserve", c.Asset.Reserve, false)

	if c.Chain.Enabled {
		if strings.ToLower(c.Mode) == "simulate" {
			add("chain: simulate mode runs in memory; disable chain.enabled")
		}
		if c.Chain.RPCURL == "" {
			add("chain: rpc_url must not be empty")
		}
		checkAddr("asset.address", c.Asset.Address, true)
		checkAddr("chain.lending_pool", c.Chain.LendingPool, true)
		checkAddr("chain.lending_pool_core", c.Chain.LendingPoolCore, true)
		checkAddr("chain.atoken", c.Chain.AToken, true)
		checkAddr("chain.realitio", c.Chain.Realitio, true)
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set when chain.enabled is set")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			add("s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		add("server: rate_window must be positive when rate_limit is set")
	}

	if strings.ToLower(c.Mode) == "full" && c.Archive.Cron == "" && c.Archive.Interval.Duration <= 0 {
		add("archive: cron or interval is required in full mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
