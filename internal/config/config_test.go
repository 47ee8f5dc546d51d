package config

import (
	"os"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	for _, env := range []string{EnvPort, EnvLogLevel, EnvHeadless, EnvPollTimeoutSec} {
		os.Unsetenv(env)
	}

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("default Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.LogLevel() != DefaultLogLevel {
		t.Errorf("default LogLevel = %q, want %q", cfg.LogLevel(), DefaultLogLevel)
	}
	if cfg.Headless() {
		t.Error("default Headless = true, want false")
	}
	if cfg.PollTimeout() != DefaultPollTimeout {
		t.Errorf("default PollTimeout = %s, want %s", cfg.PollTimeout(), DefaultPollTimeout)
	}
}

func TestNew_PortFromEnv(t *testing.T) {
	os.Setenv(EnvPort, "9100")
	defer os.Unsetenv(EnvPort)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Port())
	}
}

func TestNew_InvalidPort(t *testing.T) {
	tests := []string{"abc", "0", "70000"}
	for _, v := range tests {
		os.Setenv(EnvPort, v)
		if _, err := New(); err == nil {
			t.Errorf("New() with %s=%q: expected error", EnvPort, v)
		}
	}
	os.Unsetenv(EnvPort)
}

func TestNew_PollTimeoutFromEnv(t *testing.T) {
	os.Setenv(EnvPollTimeoutSec, "120")
	defer os.Unsetenv(EnvPollTimeoutSec)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollTimeout() != 120*time.Second {
		t.Errorf("PollTimeout = %s, want 2m0s", cfg.PollTimeout())
	}
}

func TestNew_InvalidPollTimeout(t *testing.T) {
	os.Setenv(EnvPollTimeoutSec, "0")
	defer os.Unsetenv(EnvPollTimeoutSec)

	if _, err := New(); err == nil {
		t.Error("expected error for zero poll timeout")
	}
}

func TestNew_GeneratorOverride(t *testing.T) {
	os.Setenv(EnvGenerator, "render_chunk")
	defer os.Unsetenv(EnvGenerator)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generator() != "render_chunk" {
		t.Errorf("Generator = %q, want %q", cfg.Generator(), "render_chunk")
	}
}

func TestDBPath_UnderDataDir(t *testing.T) {
	os.Setenv(EnvDataDir, "/tmp/longtake-test")
	defer os.Unsetenv(EnvDataDir)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath() != "/tmp/longtake-test/"+DBFilename {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
}
