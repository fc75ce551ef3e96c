// Package config loads the tendril process configuration from flags,
// TENDRIL_* environment variables, an optional YAML file and a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable ("TENDRIL_HTTP_ADDR").
const EnvPrefix = "TENDRIL"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the full process configuration.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Flows    FlowsConfig    `mapstructure:"flows"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
	Security SecurityConfig `mapstructure:"security"`
	Log      LogConfig      `mapstructure:"log"`
}

type EngineConfig struct {
	MaxStepsPerTick int           `mapstructure:"max_steps_per_tick"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	// FlowCacheTTL of zero disables the flow cache.
	FlowCacheTTL time.Duration `mapstructure:"flow_cache_ttl"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	// DSN is the SQL connection string, or the base directory for the file driver.
	DSN           string `mapstructure:"dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type FlowsConfig struct {
	// Dir, when set, serves flows from {dir}/{tenant}/*.yaml instead of the
	// storage driver.
	Dir string `mapstructure:"dir"`
}

type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type JanitorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"`
	Retention time.Duration `mapstructure:"retention"`
}

type SecurityConfig struct {
	// EncryptionKey is a hex encoded 32 byte AES key for session vars.
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
	// MaskVars lists regular expressions of var names stored as "***".
	MaskVars []string `mapstructure:"mask_vars"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so environment overrides are picked up by
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_steps_per_tick", 50)
	v.SetDefault("engine.session_ttl", 30*time.Minute)
	v.SetDefault("engine.flow_cache_ttl", time.Minute)

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_prefix", "tendril")

	v.SetDefault("flows.dir", "")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.jwt_secret", "")

	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.schedule", "@every 5m")
	v.SetDefault("janitor.retention", 24*time.Hour)

	v.SetDefault("security.encryption_key", "")
	v.SetDefault("security.fallback_keys", []string{})
	v.SetDefault("security.mask_vars", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and the environment bound.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags maps command line flags onto config keys, flag name to key
// ("addr" to "http.addr"). A flag only wins when it was set explicitly.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the optional config file and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combinations Unmarshal cannot.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverFile:
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis driver")
		}
	case DriverPostgres, DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Engine.MaxStepsPerTick <= 0 {
		return errors.New("engine.max_steps_per_tick must be positive")
	}
	if c.Engine.SessionTTL <= 0 {
		return errors.New("engine.session_ttl must be positive")
	}
	if c.Engine.FlowCacheTTL < 0 {
		return errors.New("engine.flow_cache_ttl must not be negative")
	}
	if c.Janitor.Retention < 0 {
		return errors.New("janitor.retention must not be negative")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
