package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Port != 8000 {
		t.Errorf("Gateway.Port = %d, want %d", cfg.Gateway.Port, 8000)
	}
	if cfg.Limits.GlobalRPM != 1000 {
		t.Errorf("Limits.GlobalRPM = %d, want %d", cfg.Limits.GlobalRPM, 1000)
	}
	if cfg.Limits.IPRPM != 100 {
		t.Errorf("Limits.IPRPM = %d, want %d", cfg.Limits.IPRPM, 100)
	}
	if cfg.Gateway.DefaultEngine != "xtts" {
		t.Errorf("Gateway.DefaultEngine = %q, want %q", cfg.Gateway.DefaultEngine, "xtts")
	}
	if got := cfg.Gateway.DeadNodeThreshold().Seconds(); got != 30 {
		t.Errorf("DeadNodeThreshold = %vs, want 30s", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.Engine != "xtts" {
		t.Errorf("Worker.Engine = %q, want %q", cfg.Worker.Engine, "xtts")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[gateway]
port = 9000
default_engine = "openvoice"

[limits]
ip_rpm = 5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("Gateway.Port = %d, want %d", cfg.Gateway.Port, 9000)
	}
	if cfg.Gateway.DefaultEngine != "openvoice" {
		t.Errorf("Gateway.DefaultEngine = %q, want %q", cfg.Gateway.DefaultEngine, "openvoice")
	}
	if cfg.Limits.IPRPM != 5 {
		t.Errorf("Limits.IPRPM = %d, want %d", cfg.Limits.IPRPM, 5)
	}
	// Untouched sections keep their defaults.
	if cfg.Limits.GlobalRPM != 1000 {
		t.Errorf("Limits.GlobalRPM = %d, want %d", cfg.Limits.GlobalRPM, 1000)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICE_ENGINE", "gpt-sovits")
	t.Setenv("VOICE_PORT", "8123")
	t.Setenv("GATEWAY_URL", "http://gw.internal:8000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.Engine != "gpt-sovits" {
		t.Errorf("Worker.Engine = %q, want %q", cfg.Worker.Engine, "gpt-sovits")
	}
	if cfg.Worker.Port != 8123 {
		t.Errorf("Worker.Port = %d, want %d", cfg.Worker.Port, 8123)
	}
	if cfg.Worker.GatewayURL != "http://gw.internal:8000" {
		t.Errorf("Worker.GatewayURL = %q", cfg.Worker.GatewayURL)
	}
}
