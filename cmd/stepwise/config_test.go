package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":4100", cfg.ListenAddr)
	assert.Equal(t, driverLibSQL, cfg.DB.Driver)
	assert.Equal(t, "stepwise.db", filepath.Base(cfg.DB.Path))
	assert.Equal(t, 10, cfg.Engine.PoolSize)
	assert.True(t, cfg.Engine.RetryEnabled)
	assert.True(t, cfg.Engine.EnforceTimeouts)
	assert.Equal(t, 30*time.Second, cfg.Engine.LeaseTTL)
	assert.Equal(t, 30*time.Second, cfg.Tools.HTTPTimeout)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "stepwise", cfg.OTel.ServiceName)
	assert.Empty(t, cfg.OTel.Endpoint)
	assert.False(t, cfg.Seed)
}

func TestLoadConfigLayers(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	file := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
listen_addr: ":5000"
engine:
  pool_size: 4
  retry_enabled: false
scheduler:
  interval: 5s
`), 0o600))

	t.Setenv("STEPWISE_ENGINE_POOL_SIZE", "7")
	t.Setenv("STEPWISE_LOG_FORMAT", "json")

	cfg, err := loadConfig(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.ListenAddr)
	assert.Equal(t, 7, cfg.Engine.PoolSize, "env overrides the settings file")
	assert.False(t, cfg.Engine.RetryEnabled)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	base := Config{DB: DBConfig{Driver: driverLibSQL, Path: "x.db"}, Engine: EngineConfig{PoolSize: 1, LeaseTTL: time.Second}}
	require.NoError(t, base.validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.DB.Driver = "mysql" }, "unknown db.driver"},
		{"postgres without dsn", func(c *Config) { c.DB.Driver = driverPostgres }, "db.dsn is required"},
		{"libsql without path", func(c *Config) { c.DB.Path = "" }, "db.path is required"},
		{"zero pool", func(c *Config) { c.Engine.PoolSize = 0 }, "pool_size"},
		{"short lease", func(c *Config) { c.Engine.LeaseTTL = 100 * time.Millisecond }, "lease_ttl"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
