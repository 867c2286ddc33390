// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig      `yaml:"server"`
	Database     DatabaseConfig    `yaml:"database"`
	Identity     IdentityConfig    `yaml:"identity"`
	Budgets      BudgetsConfig     `yaml:"budgets"`
	Reservations ReservationConfig `yaml:"reservations"`
	Watchdog     WatchdogConfig    `yaml:"watchdog"`
	Pricing      PricingConfig     `yaml:"pricing"`
	Logging      LoggingConfig     `yaml:"logging"`
	Metrics      MetricsConfig     `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`
}

// IdentityConfig configures user resolution.
// Use "static" for single-user deployments or "token" for bearer tokens.
type IdentityConfig struct {
	Mode   string `yaml:"mode"` // "static" or "token"
	UserID string `yaml:"user_id,omitempty"`
}

// BudgetsConfig configures budget defaults and the allowed setting range.
type BudgetsConfig struct {
	DefaultDaily   float64 `yaml:"default_daily"`
	DefaultWeekly  float64 `yaml:"default_weekly"`
	DefaultMonthly float64 `yaml:"default_monthly"`
	AlertThreshold float64 `yaml:"alert_threshold"` // percent
	AutoPause      bool    `yaml:"auto_pause"`
	PauseAtLimit   bool    `yaml:"pause_at_limit"`

	MinDaily   float64 `yaml:"min_daily"`
	MaxDaily   float64 `yaml:"max_daily"`
	MinWeekly  float64 `yaml:"min_weekly"`
	MaxWeekly  float64 `yaml:"max_weekly"`
	MinMonthly float64 `yaml:"min_monthly"`
	MaxMonthly float64 `yaml:"max_monthly"`
}

// ReservationConfig configures the hold protocol.
type ReservationConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// WatchdogConfig configures the periodic health sweep.
type WatchdogConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PricingConfig maps generation options to their cost in USD.
type PricingConfig struct {
	Costs map[string]float64 `yaml:"costs"`
}

// MinCost returns the cheapest configured option, zero when empty.
func (p PricingConfig) MinCost() float64 {
	var min float64
	for _, c := range p.Costs {
		if min == 0 || c < min {
			min = c
		}
	}
	return min
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	SPENDGATE_DATABASE_DSN       - Database path (default: spendgate.db)
//	SPENDGATE_SERVER_HOST        - Server host (default: 0.0.0.0)
//	SPENDGATE_SERVER_PORT        - Server port (default: 8080)
//	SPENDGATE_IDENTITY_MODE      - Identity mode: static or token (default: static)
//	SPENDGATE_IDENTITY_USER      - User id for static mode (default: default)
//	SPENDGATE_BUDGET_DAILY       - Default daily limit in USD
//	SPENDGATE_BUDGET_WEEKLY      - Default weekly limit in USD
//	SPENDGATE_BUDGET_MONTHLY     - Default monthly limit in USD
//	SPENDGATE_RESERVATION_TTL    - Hold TTL (default: 5m)
//	SPENDGATE_WATCHDOG_INTERVAL  - Sweep interval (default: 5m)
//	SPENDGATE_LOG_LEVEL          - Log level: debug, info, warn, error (default: info)
//	SPENDGATE_LOG_FORMAT         - Log format: json or console (default: json)
//	SPENDGATE_METRICS_ENABLED    - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies SPENDGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("SPENDGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SPENDGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SPENDGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("SPENDGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("SPENDGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SPENDGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Identity configuration
	if v := os.Getenv("SPENDGATE_IDENTITY_MODE"); v != "" {
		cfg.Identity.Mode = v
	}
	if v := os.Getenv("SPENDGATE_IDENTITY_USER"); v != "" {
		cfg.Identity.UserID = v
	}

	// Budget configuration
	if v := os.Getenv("SPENDGATE_BUDGET_DAILY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budgets.DefaultDaily = f
		}
	}
	if v := os.Getenv("SPENDGATE_BUDGET_WEEKLY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budgets.DefaultWeekly = f
		}
	}
	if v := os.Getenv("SPENDGATE_BUDGET_MONTHLY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budgets.DefaultMonthly = f
		}
	}
	if v := os.Getenv("SPENDGATE_BUDGET_ALERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budgets.AlertThreshold = f
		}
	}

	// Reservation configuration
	if v := os.Getenv("SPENDGATE_RESERVATION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reservations.TTL = d
		}
	}

	// Watchdog configuration
	if v := os.Getenv("SPENDGATE_WATCHDOG_ENABLED"); v != "" {
		cfg.Watchdog.Enabled = parseBool(v)
	}
	if v := os.Getenv("SPENDGATE_WATCHDOG_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watchdog.Interval = d
		}
	}

	// Logging configuration
	if v := os.Getenv("SPENDGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SPENDGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("SPENDGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("SPENDGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "spendgate.db"
	}

	if cfg.Identity.Mode == "" {
		cfg.Identity.Mode = "static"
	}
	if cfg.Identity.Mode == "static" && cfg.Identity.UserID == "" {
		cfg.Identity.UserID = "default"
	}

	if cfg.Budgets.DefaultDaily == 0 {
		cfg.Budgets.DefaultDaily = 5.00
	}
	if cfg.Budgets.DefaultWeekly == 0 {
		cfg.Budgets.DefaultWeekly = 25.00
	}
	if cfg.Budgets.DefaultMonthly == 0 {
		cfg.Budgets.DefaultMonthly = 75.00
	}
	if cfg.Budgets.AlertThreshold == 0 {
		cfg.Budgets.AlertThreshold = 80
	}
	if cfg.Budgets.MinDaily == 0 {
		cfg.Budgets.MinDaily = 0.50
	}
	if cfg.Budgets.MaxDaily == 0 {
		cfg.Budgets.MaxDaily = 50.00
	}
	if cfg.Budgets.MinWeekly == 0 {
		cfg.Budgets.MinWeekly = 1.00
	}
	if cfg.Budgets.MaxWeekly == 0 {
		cfg.Budgets.MaxWeekly = 200.00
	}
	if cfg.Budgets.MinMonthly == 0 {
		cfg.Budgets.MinMonthly = 1.00
	}
	if cfg.Budgets.MaxMonthly == 0 {
		cfg.Budgets.MaxMonthly = 500.00
	}

	if cfg.Reservations.TTL == 0 {
		cfg.Reservations.TTL = 5 * time.Minute
	}

	if cfg.Watchdog.Interval == 0 {
		cfg.Watchdog.Interval = 5 * time.Minute
	}
	if cfg.Watchdog.Timeout == 0 {
		cfg.Watchdog.Timeout = 30 * time.Second
	}

	if len(cfg.Pricing.Costs) == 0 {
		cfg.Pricing.Costs = map[string]float64{
			"standard": 0.04,
			"hd":       0.08,
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	validIdentityModes := map[string]bool{"static": true, "token": true}
	if !validIdentityModes[cfg.Identity.Mode] {
		return fmt.Errorf("identity.mode must be 'static' or 'token', got %q", cfg.Identity.Mode)
	}

	if cfg.Budgets.DefaultDaily < 0 || cfg.Budgets.DefaultWeekly < 0 || cfg.Budgets.DefaultMonthly < 0 {
		return fmt.Errorf("budget defaults must not be negative")
	}
	if cfg.Budgets.MinDaily > cfg.Budgets.MaxDaily {
		return fmt.Errorf("budgets.min_daily %.2f exceeds budgets.max_daily %.2f", cfg.Budgets.MinDaily, cfg.Budgets.MaxDaily)
	}
	if cfg.Budgets.MinWeekly > cfg.Budgets.MaxWeekly {
		return fmt.Errorf("budgets.min_weekly %.2f exceeds budgets.max_weekly %.2f", cfg.Budgets.MinWeekly, cfg.Budgets.MaxWeekly)
	}
	if cfg.Budgets.MinMonthly > cfg.Budgets.MaxMonthly {
		return fmt.Errorf("budgets.min_monthly %.2f exceeds budgets.max_monthly %.2f", cfg.Budgets.MinMonthly, cfg.Budgets.MaxMonthly)
	}
	if cfg.Budgets.AlertThreshold < 0 || cfg.Budgets.AlertThreshold > 100 {
		return fmt.Errorf("budgets.alert_threshold must be in [0, 100], got %.1f", cfg.Budgets.AlertThreshold)
	}

	if cfg.Reservations.TTL < time.Second {
		return fmt.Errorf("reservations.ttl must be at least 1s, got %s", cfg.Reservations.TTL)
	}
	if cfg.Watchdog.Interval < time.Second {
		return fmt.Errorf("watchdog.interval must be at least 1s, got %s", cfg.Watchdog.Interval)
	}

	for name, cost := range cfg.Pricing.Costs {
		if cost <= 0 {
			return fmt.Errorf("pricing.costs.%s must be positive, got %.4f", name, cost)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", cfg.Logging.Level)
	}

	return nil
}
