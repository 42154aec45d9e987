package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rendis/stepwise/internal/engine"
)

// Config holds all stepwise configuration.
// Priority: flags > STEPWISE_* env vars > settings file > defaults.
type Config struct {
	ListenAddr string          `mapstructure:"listen_addr"`
	Seed       bool            `mapstructure:"seed"`
	DB         DBConfig        `mapstructure:"db"`
	Log        LogConfig       `mapstructure:"log"`
	Engine     EngineConfig    `mapstructure:"engine"`
	Tools      ToolsConfig     `mapstructure:"tools"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	OTel       OTelConfig      `mapstructure:"otel"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EngineConfig struct {
	PoolSize        int           `mapstructure:"pool_size"`
	RetryEnabled    bool          `mapstructure:"retry_enabled"`
	EnforceTimeouts bool          `mapstructure:"enforce_timeouts"`
	LeaseTTL        time.Duration `mapstructure:"lease_ttl"`
}

type ToolsConfig struct {
	WorkspaceRoot string        `mapstructure:"workspace_root"`
	SearchRoot    string        `mapstructure:"search_root"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// OTelConfig configures trace export. An empty endpoint disables export.
type OTelConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

const (
	driverLibSQL   = "libsql"
	driverPostgres = "postgres"
)

func stepwiseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepwise"
	}
	return filepath.Join(home, ".stepwise")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":4100")
	v.SetDefault("seed", false)
	v.SetDefault("db.driver", driverLibSQL)
	v.SetDefault("db.path", filepath.Join(stepwiseDir(), "stepwise.db"))
	v.SetDefault("db.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("engine.pool_size", 10)
	v.SetDefault("engine.retry_enabled", true)
	v.SetDefault("engine.enforce_timeouts", true)
	v.SetDefault("engine.lease_ttl", engine.DefaultLeaseTTL)
	v.SetDefault("tools.workspace_root", ".")
	v.SetDefault("tools.search_root", ".")
	v.SetDefault("tools.http_timeout", 30*time.Second)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 60*time.Second)
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service_name", "stepwise")
}

// loadConfig layers the settings file and environment over the defaults.
// An explicit configFile must exist; the default settings file is optional.
func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("STEPWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("settings")
		v.AddConfigPath(stepwiseDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case driverLibSQL:
		if c.DB.Path == "" {
			return errors.New("db.path is required for the libsql driver")
		}
	case driverPostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db.driver %q (want %s or %s)", c.DB.Driver, driverLibSQL, driverPostgres)
	}
	if c.Engine.PoolSize < 1 {
		return fmt.Errorf("engine.pool_size must be at least 1, got %d", c.Engine.PoolSize)
	}
	if c.Engine.LeaseTTL < time.Second {
		return fmt.Errorf("engine.lease_ttl must be at least 1s, got %s", c.Engine.LeaseTTL)
	}
	return nil
}
