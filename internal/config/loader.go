package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BETTOGETHER_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BETTOGETHER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envOverrides collects parse failures so a typo in one variable is reported
// instead of silently ignored.
type envOverrides struct {
	errs []string
}

// applyEnvOverrides overwrites Config fields from set, non-empty
// BETTOGETHER_* variables so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) error {
	var e envOverrides

	e.setBool(&cfg.Chain.Enabled, "CHAIN_ENABLED")
	e.setStr(&cfg.Chain.RPCURL, "CHAIN_RPC_URL")
	e.setUint64(&cfg.Chain.GasLimit, "CHAIN_GAS_LIMIT")
	e.setStr(&cfg.Chain.LendingPool, "CHAIN_LENDING_POOL")
	e.setStr(&cfg.Chain.LendingPoolCore, "CHAIN_LENDING_POOL_CORE")
	e.setStr(&cfg.Chain.AToken, "CHAIN_ATOKEN")
	e.setStr(&cfg.Chain.Realitio, "CHAIN_REALITIO")

	e.setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	e.setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	e.setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")

	e.setStr(&cfg.Market.Policy, "MARKET_POLICY")
	e.setDuration(&cfg.Market.MinBettingPeriod, "MARKET_MIN_BETTING_PERIOD")

	e.setStr(&cfg.Asset.Symbol, "ASSET_SYMBOL")
	e.setStr(&cfg.Asset.Address, "ASSET_ADDRESS")

	e.setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	e.setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	e.setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	e.setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	e.setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	e.setStr(&cfg.Postgres.User, "POSTGRES_USER")
	e.setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	e.setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	e.setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	e.setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	e.setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	e.setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	e.setInt(&cfg.Redis.DB, "REDIS_DB")
	e.setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	e.setBool(&cfg.S3.Enabled, "S3_ENABLED")
	e.setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	e.setStr(&cfg.S3.Region, "S3_REGION")
	e.setStr(&cfg.S3.Bucket, "S3_BUCKET")
	e.setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	e.setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	e.setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	e.setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	e.setInt(&cfg.Server.Port, "SERVER_PORT")
	e.setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	e.setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	e.setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	e.setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	e.setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	e.setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	e.setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	e.setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	e.setDuration(&cfg.Archive.Interval, "ARCHIVE_INTERVAL")

	e.setStr(&cfg.Mode, "MODE")
	e.setStr(&cfg.LogLevel, "LOG_LEVEL")
	e.setStr(&cfg.LogFile, "LOG_FILE")

	if len(e.errs) > 0 {
		return fmt.Errorf("config: bad environment overrides: %s", strings.Join(e.errs, "; "))
	}
	return nil
}

func (e *envOverrides) lookup(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func (e *envOverrides) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Sprintf("%s%s=%q: %v", EnvPrefix, key, v, err))
}

func (e *envOverrides) setStr(dst *string, key string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envOverrides) setInt(dst *int, key string) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envOverrides) setUint64(dst *uint64, key string) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envOverrides) setBool(dst *bool, key string) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envOverrides) setDuration(dst *Duration, key string) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		dst.Duration = d
	}
}

func (e *envOverrides) setStringSlice(dst *[]string, key string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
