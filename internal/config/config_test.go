package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TransitionDuration != 300*time.Millisecond {
		t.Fatalf("transition = %v, want 300ms", cfg.TransitionDuration)
	}
	if cfg.CloseGrace != time.Second {
		t.Fatalf("close grace = %v, want 1s", cfg.CloseGrace)
	}
	if cfg.OutputWidth != 640 || cfg.OutputHeight != 480 {
		t.Fatalf("output = %dx%d, want 640x480", cfg.OutputWidth, cfg.OutputHeight)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("db backend = %q, want sqlite", cfg.DBBackend)
	}
}

func TestLoadReadsEnvKeys(t *testing.T) {
	t.Setenv("GRIMNIR_SWITCH_PLAYLIST", "/etc/grimnir/playlist.yaml")
	t.Setenv("GRIMNIR_SWITCH_TRANSITION_MS", "500")
	t.Setenv("GRIMNIR_SWITCH_CLOSE_GRACE_MS", "250")
	t.Setenv("GRIMNIR_SWITCH_REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PlaylistPath != "/etc/grimnir/playlist.yaml" {
		t.Fatalf("playlist path = %q", cfg.PlaylistPath)
	}
	if cfg.TransitionDuration != 500*time.Millisecond {
		t.Fatalf("transition = %v, want 500ms", cfg.TransitionDuration)
	}
	if cfg.CloseGrace != 250*time.Millisecond {
		t.Fatalf("close grace = %v, want 250ms", cfg.CloseGrace)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redis addr = %q", cfg.RedisAddr)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("GRIMNIR_SWITCH_DB_BACKEND", "oracle")
	if _, err := Load(); err == nil {
		t.Fatal("expected unsupported backend to fail")
	}

	t.Setenv("GRIMNIR_SWITCH_DB_BACKEND", "sqlite")
	t.Setenv("GRIMNIR_SWITCH_TRANSITION_MS", "-5")
	if _, err := Load(); err == nil {
		t.Fatal("expected negative transition to fail")
	}
}

func TestLoadProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("GRIMNIR_SWITCH_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a signing key")
	}

	t.Setenv("GRIMNIR_SWITCH_JWT_SIGNING_KEY", "supersecret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
}
