// Package config loads deployment configuration for the surety layer.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Unit is one ledger token expressed in raw integer base units. All amounts
// in the protocol (premiums, funding, fees, credits) are raw base units.
const Unit uint64 = 1_000_000_000

// DefaultPath is where Load looks for a config file unless SURETY_CONFIG is set.
const DefaultPath = "config/surety.yaml"

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Protocol ProtocolConfig `yaml:"protocol"`
}

// ServerConfig controls the HTTP gateway.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig controls the optional PostgreSQL ledger store. When Driver
// or DSN is empty the in-memory ledger is used.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ProtocolConfig carries the constants fixed at deployment. They are not
// runtime-mutable.
type ProtocolConfig struct {
	// Owner controls the operational switch and is seeded as the genesis
	// airline (registered, unfunded).
	Owner string `yaml:"owner"`

	RegistrationFee  uint64 `yaml:"registration_fee"`
	FundingThreshold uint64 `yaml:"funding_threshold"`
	MaxPremium       uint64 `yaml:"max_premium"`
	MinResponses     int    `yaml:"min_responses"`
}

// Default returns the deployment defaults: 1-token oracle fee, 10-token
// funding threshold, 1-token premium cap, quorum of 3.
func Default() Config {
	return Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Protocol: ProtocolConfig{
			Owner:            "deployer",
			RegistrationFee:  1 * Unit,
			FundingThreshold: 10 * Unit,
			MaxPremium:       1 * Unit,
			MinResponses:     3,
		},
	}
}

// Load reads the config file (SURETY_CONFIG or config/surety.yaml), applies
// environment overrides and validates the result. A missing file yields the
// defaults.
func Load() (*Config, error) {
	path := os.Getenv("SURETY_CONFIG")
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the protocol constants are usable.
func (c *Config) Validate() error {
	if c.Protocol.Owner == "" {
		return fmt.Errorf("protocol owner is required")
	}
	if c.Protocol.MinResponses <= 0 {
		return fmt.Errorf("min_responses must be positive")
	}
	if c.Protocol.MaxPremium == 0 {
		return fmt.Errorf("max_premium must be positive")
	}
	if c.Protocol.FundingThreshold == 0 {
		return fmt.Errorf("funding_threshold must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SURETY_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SURETY_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SURETY_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SURETY_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SURETY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SURETY_OWNER"); v != "" {
		cfg.Protocol.Owner = v
	}
	if v := os.Getenv("SURETY_REGISTRATION_FEE"); v != "" {
		if fee, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Protocol.RegistrationFee = fee
		}
	}
	if v := os.Getenv("SURETY_FUNDING_THRESHOLD"); v != "" {
		if threshold, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Protocol.FundingThreshold = threshold
		}
	}
	if v := os.Getenv("SURETY_MAX_PREMIUM"); v != "" {
		if max, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Protocol.MaxPremium = max
		}
	}
	if v := os.Getenv("SURETY_MIN_RESPONSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Protocol.MinResponses = n
		}
	}
}
