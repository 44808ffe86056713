// Package config loads the YAML configuration shared by the recordx
// binaries.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory  = "memory"
	DriverAlgolia = "algolia"
	DriverRedis   = "redis"
)

// Config holds the binaries' configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Pool    PoolConfig    `yaml:"pool"`
	Algolia AlgoliaConfig `yaml:"algolia"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, algolia, redis (default: memory)
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	URL        string `yaml:"url"`
	Size       int    `yaml:"size"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// AlgoliaConfig holds Algolia credentials. Static credentials win over a
// secret ARN, which wins over the environment-scoped secret path.
type AlgoliaConfig struct {
	Env       string `yaml:"env"`
	SecretARN string `yaml:"secret_arn"`
	AppID     string `yaml:"app_id"`
	APIKey    string `yaml:"api_key"`
}

// RedisConfig holds Redis connection settings. When Addrs is empty every
// pooled handle dials pool.url instead.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text, json (default: text)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, substituting ${VAR} and ${VAR:-default}
// with environment variables, then applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Pool.URL == "" {
		c.Pool.URL = recordx.DefaultURL
	}
	if c.Pool.Size <= 0 {
		c.Pool.Size = recordx.DefaultPoolSize
	}
	if c.Pool.TimeoutSec <= 0 {
		c.Pool.TimeoutSec = int(recordx.DefaultPoolTimeout / time.Second)
	}
	if c.Algolia.Env == "" {
		c.Algolia.Env = "dev"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverAlgolia, DriverRedis:
	default:
		return errors.Newf("store.driver must be one of memory, algolia, redis, got %q", c.Store.Driver)
	}
	if c.Pool.Size <= 0 {
		return errors.Newf("pool.size must be positive, got %d", c.Pool.Size)
	}
	if (c.Algolia.AppID == "") != (c.Algolia.APIKey == "") {
		return errors.New("algolia.app_id and algolia.api_key must be set together")
	}
	if c.Store.Driver == DriverRedis && len(c.Redis.Addrs) == 0 && !strings.HasPrefix(c.Pool.URL, "redis") {
		return errors.Newf("redis driver needs redis.addrs or a redis:// pool.url, got %q", c.Pool.URL)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return errors.Newf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// PoolConfig converts the pool settings.
func (c *Config) PoolConfig() recordx.PoolConfig {
	return recordx.PoolConfig{
		URL:     c.Pool.URL,
		Size:    c.Pool.Size,
		Timeout: time.Duration(c.Pool.TimeoutSec) * time.Second,
	}
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.Logging.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, errors.Newf("logging.level must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}

// envVarRegex matches ${VAR} and ${VAR:-default}.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
