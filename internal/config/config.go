// Package config loads the engine's process configuration entirely
// from environment variables, the deployment contract described in
// the external interfaces design.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of process-level settings the engine needs
// at startup. Every field is sourced from an environment variable —
// there is no config file in this deployment model.
type Config struct {
	WSPort      int    `mapstructure:"ws_port"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	NodeEnv     string `mapstructure:"node_env"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	EntryFeeBps          int64 `mapstructure:"entry_fee_bps"`
	ExitFeeBps           int64 `mapstructure:"exit_fee_bps"`
	MaintenanceMarginBps int64 `mapstructure:"maintenance_margin_bps"`

	MetricsPort int `mapstructure:"metrics_port"`

	MarketDataBaseURL  string `mapstructure:"market_data_base_url"`
	MarketDataSpotPath string `mapstructure:"market_data_spot_path"`
	MarketDataStatsPath string `mapstructure:"market_data_stats_path"`
	SpreadBpsDefault   int64  `mapstructure:"spread_bps_default"`
}

// Load reads configuration from the process environment. Every key is
// read uppercased and unprefixed (WS_PORT, JWT_SECRET, DATABASE_URL,
// REDIS_URL, NODE_ENV), matching the variables a deploy manifest sets
// directly rather than a POLY_*-style prefix scheme.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("ws_port", 3002)
	v.SetDefault("node_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("entry_fee_bps", 5)
	v.SetDefault("exit_fee_bps", 5)
	v.SetDefault("maintenance_margin_bps", 40)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("market_data_spot_path", "/spot")
	v.SetDefault("market_data_stats_path", "/stats")
	v.SetDefault("spread_bps_default", 10)

	// viper.AutomaticEnv only binds a key once something has asked for
	// it by that exact name; BindEnv makes every field resolvable even
	// before Unmarshal walks the struct tags.
	for _, key := range []string{
		"ws_port", "jwt_secret", "database_url", "redis_url", "node_env",
		"log_level", "log_format", "entry_fee_bps", "exit_fee_bps", "maintenance_margin_bps",
		"metrics_port", "market_data_base_url", "market_data_spot_path",
		"market_data_stats_path", "spread_bps_default",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every required field is present and within range.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.WSPort <= 0 {
		return fmt.Errorf("WS_PORT must be > 0")
	}
	if c.EntryFeeBps < 0 || c.ExitFeeBps < 0 || c.MaintenanceMarginBps < 0 {
		return fmt.Errorf("fee and margin basis-point settings must be >= 0")
	}
	if c.MarketDataBaseURL == "" {
		return fmt.Errorf("MARKET_DATA_BASE_URL is required")
	}
	return nil
}
