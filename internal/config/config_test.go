package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WS_PORT", "JWT_SECRET", "DATABASE_URL", "REDIS_URL", "NODE_ENV",
		"LOG_LEVEL", "LOG_FORMAT", "ENTRY_FEE_BPS", "EXIT_FEE_BPS",
		"MAINTENANCE_MARGIN_BPS", "METRICS_PORT", "MARKET_DATA_BASE_URL",
		"MARKET_DATA_SPOT_PATH", "MARKET_DATA_STATS_PATH", "SPREAD_BPS_DEFAULT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.WSPort != 3002 {
		t.Errorf("WSPort = %d, want 3002", cfg.WSPort)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.MetricsPort != 9090 {
		t.Errorf("MetricsPort = %d, want 9090", cfg.MetricsPort)
	}
	if cfg.MaintenanceMarginBps != 40 {
		t.Errorf("MaintenanceMarginBps = %d, want 40", cfg.MaintenanceMarginBps)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_PORT", "4000")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("JWT_SECRET", "s3cr3t")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.WSPort != 4000 {
		t.Errorf("WSPort = %d, want 4000", cfg.WSPort)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.JWTSecret != "s3cr3t" {
		t.Errorf("JWTSecret = %q, want s3cr3t", cfg.JWTSecret)
	}
}

func TestValidateRequiresJWTSecret(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://x", WSPort: 1, MarketDataBaseURL: "http://x"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when JWTSecret is empty")
	}
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	cfg := &Config{JWTSecret: "s", WSPort: 1, MarketDataBaseURL: "http://x"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when DatabaseURL is empty")
	}
}

func TestValidateRejectsNonPositiveWSPort(t *testing.T) {
	cfg := &Config{JWTSecret: "s", DatabaseURL: "postgres://x", WSPort: 0, MarketDataBaseURL: "http://x"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when WSPort <= 0")
	}
}

func TestValidateRejectsNegativeFees(t *testing.T) {
	cfg := &Config{
		JWTSecret: "s", DatabaseURL: "postgres://x", WSPort: 1,
		MarketDataBaseURL: "http://x", EntryFeeBps: -1,
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when EntryFeeBps < 0")
	}
}

func TestValidateAcceptsFullyPopulatedConfig(t *testing.T) {
	cfg := &Config{
		JWTSecret: "s", DatabaseURL: "postgres://x", WSPort: 3002,
		MarketDataBaseURL: "http://x", EntryFeeBps: 5, ExitFeeBps: 5, MaintenanceMarginBps: 40,
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
