package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultPort                  = 5000
	defaultSessionMaxAge         = 24 * time.Hour
	defaultLoginRateLimitPerMin  = 10
	defaultSeedUsername          = "fettiger fettsack"
	defaultPrometheusMetricsPort = "2112"
)

type Config struct {
	Environment string `toml:"-"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// storage: memory | postgres | badger, empty picks postgres when DATABASE_URL is set
	StorageBackend string `toml:"storage_backend"`
	BadgerDir      string `toml:"badger_dir"`
	MigrateOnStart bool   `toml:"migrate_on_start"`
	SeedUsername   string `toml:"seed_username"`

	// sessions
	RedisEnabled  bool          `toml:"redis_enabled"`
	RedisHost     string        `toml:"redis_host"`
	RedisPort     string        `toml:"redis_port"`
	SessionMaxAge time.Duration `toml:"session_max_age"`
	SecureCookies bool          `toml:"secure_cookies"`

	// http
	AllowedOrigins              []string `toml:"allowed_origins"`
	LoginRateLimitAllowedPerMin int      `toml:"login_rate_limit_allowed_per_min"`

	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`
}

type Toml struct {
	Development *Config `toml:"development"`
	Production  *Config `toml:"production"`
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
		env = "development"
	case "prod", "production":
		cfg = t.Production
		env = "production"
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config section for env: %s", env)
	}
	cfg.Environment = env
	return cfg, nil
}

// Load reads the TOML file at path and returns the section for env with defaults applied.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return fromToml(&t, env)
}

// Parse is Load for in-memory TOML content.
func Parse(env, content string) (*Config, error) {
	var t Toml
	if _, err := toml.Decode(content, &t); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return fromToml(&t, env)
}

func fromToml(t *Toml, env string) (*Config, error) {
	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.SessionMaxAge == 0 {
		c.SessionMaxAge = defaultSessionMaxAge
	}
	if c.LoginRateLimitAllowedPerMin == 0 {
		c.LoginRateLimitAllowedPerMin = defaultLoginRateLimitPerMin
	}
	if c.SeedUsername == "" {
		c.SeedUsername = defaultSeedUsername
	}
	if c.PrometheusMetricsPort == "" {
		c.PrometheusMetricsPort = defaultPrometheusMetricsPort
	}
	if c.RedisPort == "" {
		c.RedisPort = "6379"
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.SessionMaxAge < 0 {
		return errors.New("session max age must not be negative")
	}
	if c.StorageBackend == "badger" && c.BadgerDir == "" {
		return errors.New("badger storage backend requires badger_dir")
	}
	if c.RedisEnabled && c.RedisHost == "" {
		return errors.New("redis enabled but redis_host not set")
	}
	return nil
}
