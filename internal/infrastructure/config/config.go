package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Logging    LogConfig
	Storage    StorageConfig
	Resilience ResilienceConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8400"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// StorageConfig holds data directory and integrity sweep configuration.
type StorageConfig struct {
	DataDir       string        `envconfig:"DATA_DIR" default:"./data"`
	RecordsFile   string        `envconfig:"RECORDS_FILE" default:"integrity.json"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	SweepPatterns []string      `envconfig:"SWEEP_PATTERNS" default:"**/*.csv,**/*.json"`
	LockTimeout   time.Duration `envconfig:"LOCK_TIMEOUT" default:"10s"`
}

// ResilienceConfig holds breaker and retry defaults plus the optional
// per-resource policy file.
type ResilienceConfig struct {
	PolicyFile       string        `envconfig:"RESILIENCE_POLICY_FILE" default:""`
	FailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	RecoveryTimeout  time.Duration `envconfig:"BREAKER_RECOVERY_TIMEOUT" default:"60s"`
	SuccessThreshold int           `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2"`
	CallTimeout      time.Duration `envconfig:"BREAKER_CALL_TIMEOUT" default:"30s"`
	MaxRetries       int           `envconfig:"RETRY_MAX" default:"3"`
	InitialDelay     time.Duration `envconfig:"RETRY_INITIAL_DELAY" default:"1s"`
	MaxDelay         time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
}

// RateLimitConfig holds ops-surface rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8400",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Storage: StorageConfig{
			DataDir:       "./data",
			RecordsFile:   "integrity.json",
			SweepInterval: 5 * time.Minute,
			SweepPatterns: []string{"**/*.csv", "**/*.json"},
			LockTimeout:   10 * time.Second,
		},
		Resilience: ResilienceConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			SuccessThreshold: 2,
			CallTimeout:      30 * time.Second,
			MaxRetries:       3,
			InitialDelay:     time.Second,
			MaxDelay:         30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
