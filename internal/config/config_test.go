package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"QUILL_ADDR", "QUILL_STORE", "QUILL_TOKEN_TTL", "QUILL_TIMEZONE", "QUILL_SINGLE_ACTIVE_FORM", "QUILL_CORS_ORIGINS", "QUILL_TRUSTED_PROXIES"} {
		t.Setenv(k, "")
	}
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Store != StoreSQLite || cfg.TokenTTL != 720*time.Hour {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.SingleActive || cfg.Location != time.Local || len(cfg.CORSOrigins) != 0 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.RateLimit != 20 || cfg.RateBurst != 40 || len(cfg.TrustedProxies) != 0 {
		t.Fatalf("rate defaults = %v/%d proxies %v", cfg.RateLimit, cfg.RateBurst, cfg.TrustedProxies)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("QUILL_STORE", "Memory")
	t.Setenv("QUILL_TIMEZONE", "Asia/Tokyo")
	t.Setenv("QUILL_SINGLE_ACTIVE_FORM", "true")
	t.Setenv("QUILL_TOKEN_TTL", "1h")
	t.Setenv("QUILL_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("QUILL_TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Store != StoreMemory || !cfg.SingleActive || cfg.TokenTTL != time.Hour {
		t.Fatalf("overrides = %+v", cfg)
	}
	if cfg.Location.String() != "Asia/Tokyo" || len(cfg.CORSOrigins) != 2 {
		t.Fatalf("overrides = %+v", cfg)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "127.0.0.1" {
		t.Fatalf("trusted proxies = %q", cfg.TrustedProxies)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("QUILL_STORE", "postgres")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for unknown store")
	}
	t.Setenv("QUILL_STORE", "")
	t.Setenv("QUILL_TIMEZONE", "Mars/Olympus")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}
