package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadReadsYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
database:
  driver: mysql
  max_open_conns: 20
lock:
  backend: redis
  mode: DEGRADED
  redis_addr: localhost:6379
  hold_timeout: 10s
  wait_timeout: 2s
market:
  commission_rate: "0.025"
  platform_account_id: 7
matcher:
  workers: 8
  queue_size: 64
  timeout: 5s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DATABASE_URL=market:secret@tcp(127.0.0.1:3306)/market\nREDIS_PASSWORD=pw\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("REDIS_PASSWORD")
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "market:secret@tcp(127.0.0.1:3306)/market", cfg.Database.URL)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, "degraded", cfg.Lock.Mode)
	assert.Equal(t, "pw", cfg.Lock.RedisPassword)
	assert.Equal(t, 10*time.Second, cfg.Lock.ParsedHold)
	assert.Equal(t, 2*time.Second, cfg.Lock.ParsedWait)
	assert.Equal(t, 50*time.Millisecond, cfg.Lock.ParsedRetry)
	assert.Equal(t, "0.025", cfg.Market.ParsedCommissionRate.String())
	assert.Equal(t, int64(7), cfg.Market.PlatformAccountID)
	assert.Equal(t, 8, cfg.Matcher.Workers)
	assert.Equal(t, 5*time.Second, cfg.Matcher.ParsedTimeout)
}

func TestLoadWithoutEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "database:\n  driver: sqlite\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Lock.Backend)
	assert.Equal(t, "0.01", cfg.Market.ParsedCommissionRate.String())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(c *Config){
		"driver":         func(c *Config) { c.Database.Driver = "postgres" },
		"lock mode":      func(c *Config) { c.Lock.Mode = "noop" },
		"redis addr":     func(c *Config) { c.Lock.Backend = "redis" },
		"hold timeout":   func(c *Config) { c.Lock.HoldTimeout = "0s" },
		"bad duration":   func(c *Config) { c.Lock.WaitTimeout = "soon" },
		"rate too large": func(c *Config) { c.Market.CommissionRate = "1" },
		"negative rate":  func(c *Config) { c.Market.CommissionRate = "-0.1" },
		"workers":        func(c *Config) { c.Matcher.Workers = 0 },
		"kafka":          func(c *Config) { c.Kafka.Enabled = true },
		"mysql dsn":      func(c *Config) { c.Database.Driver = "mysql"; c.Database.URL = "not a dsn" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}
