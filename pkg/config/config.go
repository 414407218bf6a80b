// Package config loads process-wide configuration for the actor binaries
// from an optional YAML file, overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the actor's RPC listener.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig selects and parameterizes the persistence plugin (§4.8).
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" yaml:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" yaml:"port" env:"DATABASE_PORT"`
	User            string `json:"user" yaml:"user" env:"DATABASE_USER"`
	Password        string `json:"password" yaml:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" yaml:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifeSecs int    `json:"conn_max_lifetime_secs" yaml:"conn_max_lifetime_secs" env:"DATABASE_CONN_MAX_LIFETIME_SECS"`
}

// ConnectionString builds a libpq-style connection string from host
// parameters, used when DSN is unset.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// LoggingConfig controls pkg/logger construction.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	Directory  string `json:"directory" yaml:"directory" env:"LOG_DIRECTORY"`
	RetainDays int    `json:"retain_days" yaml:"retain_days" env:"LOG_RETAIN_DAYS"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
}

// KernelConfig carries the clock and dispatcher tuning options named in §6:
// cycle length, allocation horizon, call interval, advance time, queue
// threshold, and clock skew tolerance.
type KernelConfig struct {
	CycleMillis          int64 `json:"cycle_millis" yaml:"cycle_millis" env:"KERNEL_CYCLE_MILLIS"`
	AllocationHorizon    int64 `json:"allocation_horizon" yaml:"allocation_horizon" env:"KERNEL_ALLOCATION_HORIZON"`
	CallIntervalMillis   int64 `json:"call_interval_millis" yaml:"call_interval_millis" env:"KERNEL_CALL_INTERVAL_MILLIS"`
	AdvanceTimeMillis    int64 `json:"advance_time_millis" yaml:"advance_time_millis" env:"KERNEL_ADVANCE_TIME_MILLIS"`
	QueueThreshold       int   `json:"queue_threshold" yaml:"queue_threshold" env:"KERNEL_QUEUE_THRESHOLD"`
	ClockSkewTolerance   int64 `json:"clock_skew_tolerance_millis" yaml:"clock_skew_tolerance_millis" env:"KERNEL_CLOCK_SKEW_TOLERANCE_MILLIS"`
	PluginDir            string `json:"plugin_dir" yaml:"plugin_dir" env:"KERNEL_PLUGIN_DIR"`
}

// Config is the top-level configuration loaded by every cmd/* binary.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Kernel   KernelConfig   `json:"kernel" yaml:"kernel"`
}

// New returns a Config populated with defaults matching spec §6.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "memdb",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifeSecs: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			RetainDays: 7,
			MaxSizeMB:  100,
		},
		Kernel: KernelConfig{
			CycleMillis:        1000,
			AllocationHorizon:  6,
			CallIntervalMillis: 1000,
			AdvanceTimeMillis:  0,
			QueueThreshold:     10,
			ClockSkewTolerance: 250,
			PluginDir:          "plugins",
		},
	}
}

// Load loads a .env file (if present), an optional YAML file named by
// CONFIG_FILE or found at configs/config.yaml, then applies environment
// variable overrides tagged with `env`.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a specific YAML file, skipping
// environment and .env lookups. Used by tests.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
