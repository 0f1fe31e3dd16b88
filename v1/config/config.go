// Package config provides configuration file support for the lock guard.
//
// Values are resolved in three layers: built-in defaults, the YAML file,
// then LOCKGUARD_* environment variables (a .env file, when present, is
// loaded into the environment first).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the lock guard configuration.
type Config struct {
	Listen    string          `yaml:"listen" env:"LOCKGUARD_LISTEN"`
	Prompt    string          `yaml:"prompt" env:"LOCKGUARD_PROMPT"`
	Prefs     PrefsConfig     `yaml:"prefs"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// PrefsConfig selects where the lock preference is persisted.
type PrefsConfig struct {
	Backend string `yaml:"backend" env:"LOCKGUARD_PREFS_BACKEND"` // memory, redis, sqlite
	Path    string `yaml:"path" env:"LOCKGUARD_PREFS_PATH"`
	Key     string `yaml:"key" env:"LOCKGUARD_PREFS_KEY"`
	// PollInterval is how often the sqlite backend checks for writes
	// from other processes.
	PollInterval time.Duration `yaml:"poll_interval" env:"LOCKGUARD_PREFS_POLL_INTERVAL"`
}

// LifecycleConfig selects the lifecycle-event transport.
type LifecycleConfig struct {
	Backend string `yaml:"backend" env:"LOCKGUARD_LIFECYCLE_BACKEND"` // memory, redis, nats, kafka
	Channel string `yaml:"channel" env:"LOCKGUARD_LIFECYCLE_CHANNEL"` // stream, subject or topic
}

// AuthConfig configures the authentication primitive.
type AuthConfig struct {
	Mode          string  `yaml:"mode" env:"LOCKGUARD_AUTH_MODE"` // passcode, none
	PasscodeHash  string  `yaml:"passcode_hash" env:"LOCKGUARD_AUTH_PASSCODE_HASH"`
	RatePerMinute float64 `yaml:"rate_per_minute" env:"LOCKGUARD_AUTH_RATE_PER_MINUTE"`
	Burst         int     `yaml:"burst" env:"LOCKGUARD_AUTH_BURST"`
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"LOCKGUARD_REDIS_ADDR"`
	Password string `yaml:"password" env:"LOCKGUARD_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"LOCKGUARD_REDIS_DB"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL string `yaml:"url" env:"LOCKGUARD_NATS_URL"`
}

// KafkaConfig configures the Kafka brokers.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"LOCKGUARD_KAFKA_BROKERS"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOCKGUARD_LOG_LEVEL"`
	Format string `yaml:"format" env:"LOCKGUARD_LOG_FORMAT"` // json, text
}

// TracingConfig toggles the stdout trace exporter.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" env:"LOCKGUARD_TRACING_ENABLED"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Prompt: "Unlock your habits",
		Prefs: PrefsConfig{
			Backend: "memory",
			Path:    "lockguard.db",
			Key:     "lockguard:prefs",
		},
		Lifecycle: LifecycleConfig{Backend: "memory"},
		Auth: AuthConfig{
			Mode:          "passcode",
			RatePerMinute: 5,
			Burst:         3,
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		NATS:    NATSConfig{URL: "nats://localhost:4222"},
		Kafka:   KafkaConfig{Brokers: []string{"localhost:9092"}},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path (missing file is fine), loads envFile
// into the environment when it exists, and applies environment overrides.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Prefs.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("config: unknown prefs backend %q", c.Prefs.Backend)
	}
	switch c.Lifecycle.Backend {
	case "memory", "redis", "nats", "kafka":
	default:
		return fmt.Errorf("config: unknown lifecycle backend %q", c.Lifecycle.Backend)
	}
	switch c.Auth.Mode {
	case "passcode", "none":
	default:
		return fmt.Errorf("config: unknown auth mode %q", c.Auth.Mode)
	}
	if c.Prefs.PollInterval < 0 {
		return errors.New("config: prefs poll interval must not be negative")
	}
	if c.Auth.RatePerMinute < 0 || c.Auth.Burst < 0 {
		return errors.New("config: auth rate and burst must not be negative")
	}
	return nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
