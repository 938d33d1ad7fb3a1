package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TAGBRIDGE_HOST", "TAGBRIDGE_PORT", "TAGBRIDGE_LOG_LEVEL", "TAGBRIDGE_HEADLESS"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()
	if cfg.Host != defaultHost || cfg.Port != defaultPort {
		t.Errorf("got %s:%d, want %s:%d", cfg.Host, cfg.Port, defaultHost, defaultPort)
	}
	if cfg.Address() != "127.0.0.1:32145" {
		t.Errorf("Address() = %q, want 127.0.0.1:32145", cfg.Address())
	}
	if cfg.Headless {
		t.Error("Headless should default to false")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("TAGBRIDGE_HOST", "0.0.0.0")
	os.Setenv("TAGBRIDGE_PORT", "9000")
	os.Setenv("TAGBRIDGE_LOG_LEVEL", "debug")
	os.Setenv("TAGBRIDGE_HEADLESS", "1")

	cfg := Load()
	if cfg.Address() != "0.0.0.0:9000" {
		t.Errorf("Address() = %q, want 0.0.0.0:9000", cfg.Address())
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.Headless {
		t.Error("Headless should be true when TAGBRIDGE_HEADLESS=1")
	}
}

func TestLoadIgnoresInvalidPort(t *testing.T) {
	clearEnv(t)
	os.Setenv("TAGBRIDGE_PORT", "not-a-number")
	cfg := Load()
	if cfg.Port != defaultPort {
		t.Errorf("Port = %d, want default %d for invalid input", cfg.Port, defaultPort)
	}
}
