package config

import "testing"

func validConfig() *Config {
	return &Config{
		Addr:                   ":8080",
		CycleMs:                100,
		HeartbeatMs:            15000,
		SendQueueCapacity:      256,
		MaxInflightDocuments:   1000,
		LogLevel:               "info",
		LogFormat:              "json",
		ConnRateLimitPerSecond: 50,
		ConnRateLimitBurst:     100,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected a valid config, got %v", err)
	}
}

func TestValidateRejectsMissingAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for empty Addr")
	}
}

func TestValidateRejectsNonPositiveCycle(t *testing.T) {
	cfg := validConfig()
	cfg.CycleMs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for CycleMs <= 0")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "trace"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for an unrecognized log level")
	}
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.LogFormat = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for an unrecognized log format")
	}
}

func TestValidateRequiresJWTSecretWhenAuthRequired(t *testing.T) {
	cfg := validConfig()
	cfg.RequireAuth = true
	cfg.JWTSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error when RequireAuth is set without a JWT secret")
	}

	cfg.JWTSecret = "super-secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a valid config once a secret is set, got %v", err)
	}
}
