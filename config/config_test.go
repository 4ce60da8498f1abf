package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.yaml")
	data := []byte(`
server:
  addr: ":8080"
auth:
  token_ttl: 2h
bus:
  kind: redis
  redis_addr: localhost:6379
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("TokenTTL = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.BcryptCost != 10 || cfg.DataDir != "./data" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TALLY_ADDR", ":7000")
	t.Setenv("TALLY_TOKEN_TTL", "30m")
	t.Setenv("TALLY_BCRYPT_COST", "4")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Server.Addr != ":7000" || cfg.Auth.TokenTTL != 30*time.Minute || cfg.Auth.BcryptCost != 4 {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("TALLY_TOKEN_TTL", "soon")
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TALLY_LOG_LEVEL=debug\nTALLY_DATA_DIR=/from/file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TALLY_DATA_DIR", "/from/env")
	t.Cleanup(func() { os.Unsetenv("TALLY_LOG_LEVEL") })

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/from/env" {
		t.Errorf("DataDir = %q, env should win", cfg.DataDir)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v", cfg.SlogLevel())
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bus.Kind = BusRedis
	if err := cfg.Validate(); err == nil {
		t.Error("redis without addr should fail")
	}
	cfg.Bus.Kind = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown bus should fail")
	}
}
