package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("AccessTokenTTL = %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 168*time.Hour {
		t.Fatalf("RefreshTokenTTL = %v", cfg.RefreshTokenTTL)
	}
	if cfg.LockoutThreshold != 5 || cfg.LockoutDuration != 30*time.Minute {
		t.Fatalf("lockout = %d / %v", cfg.LockoutThreshold, cfg.LockoutDuration)
	}
	if cfg.AllowUnverifiedLogin {
		t.Fatal("AllowUnverifiedLogin must default to off")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTHCORE_ADDR", ":9090")
	t.Setenv("AUTHCORE_ACCESS_TTL", "15m")
	t.Setenv("AUTHCORE_LOCKOUT_THRESHOLD", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("AccessTokenTTL = %v", cfg.AccessTokenTTL)
	}
	if cfg.LockoutThreshold != 3 {
		t.Fatalf("LockoutThreshold = %d", cfg.LockoutThreshold)
	}
}

func TestLoadDebugShortensLockout(t *testing.T) {
	t.Setenv("AUTHCORE_DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockoutDuration != 2*time.Minute {
		t.Fatalf("LockoutDuration = %v, want 2m", cfg.LockoutDuration)
	}
}

func TestLoadDebugKeepsExplicitLockout(t *testing.T) {
	t.Setenv("AUTHCORE_DEBUG", "true")
	t.Setenv("AUTHCORE_LOCKOUT_DURATION", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockoutDuration != time.Hour {
		t.Fatalf("LockoutDuration = %v, want 1h", cfg.LockoutDuration)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("AUTHCORE_LOCKOUT_THRESHOLD", "0")
	if _, err := Load(); err == nil {
		t.Fatal("want error for zero lockout threshold")
	}
}
