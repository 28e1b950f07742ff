package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Chain.Enabled)
	assert.Equal(t, "server", cfg.Mode)
}

func TestLoadMergesFileOntoDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "full"

[market]
min_betting_period = "1h"

[redis]
enabled = true
addr = "redis:6379"

[archive]
cron = "0 3 * * *"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, time.Hour, cfg.Market.MinBettingPeriod.Duration)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 20, cfg.Redis.PoolSize, "unset keys keep defaults")
	assert.Equal(t, "0 3 * * *", cfg.Archive.Cron)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeTOML(t, "[server]\nprot = 9000\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.prot")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BETTOGETHER_SERVER_PORT", "9100")
	t.Setenv("BETTOGETHER_POSTGRES_ENABLED", "true")
	t.Setenv("BETTOGETHER_NOTIFY_EVENTS", "bet_placed, ,withdrawal_made")
	t.Setenv("BETTOGETHER_ARCHIVE_INTERVAL", "90s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, []string{"bet_placed", "withdrawal_made"}, cfg.Notify.Events)
	assert.Equal(t, 90*time.Second, cfg.Archive.Interval.Duration)
}

func TestEnvOverridesReportBadValues(t *testing.T) {
	t.Setenv("BETTOGETHER_SERVER_PORT", "ninety")
	t.Setenv("BETTOGETHER_REDIS_ENABLED", "sometimes")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BETTOGETHER_SERVER_PORT")
	assert.Contains(t, err.Error(), "BETTOGETHER_REDIS_ENABLED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"policy", func(c *Config) { c.Market.Policy = "anyone" }, "unknown policy"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server: port"},
		{"chain without rpc", func(c *Config) { c.Chain.Enabled = true }, "rpc_url"},
		{"chain without wallet", func(c *Config) { c.Chain.Enabled = true }, "wallet"},
		{"chain without contracts", func(c *Config) { c.Chain.Enabled = true }, "chain.realitio is required"},
		{"bad reserve", func(c *Config) { c.Asset.Reserve = "nope" }, "asset.reserve"},
		{"encrypted key without password", func(c *Config) {
			c.Chain.Enabled = true
			c.Wallet.EncryptedKeyPath = "/keys/op.json"
		}, "key_password"},
		{"postgres pool", func(c *Config) {
			c.Postgres.Enabled = true
			c.Postgres.PoolMinConns = 50
		}, "pool_min_conns"},
		{"s3 bucket", func(c *Config) {
			c.S3.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket"},
		{"full without schedule", func(c *Config) {
			c.Mode = "full"
			c.Archive.Interval = Duration{}
		}, "archive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.S3.SecretKey, "empty secrets stay empty")
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	def := Defaults()
	assert.Equal(t, def.Server, cfg.Server)
	assert.Equal(t, def.Archive, cfg.Archive)
}
