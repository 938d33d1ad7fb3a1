// Package config owns process-level settings that are sourced from the
// environment rather than persisted to disk (that's internal/settings's
// job). Load builds a fresh Config on each call; unlike
// internal/settings/settings.go there is no package-level state or mutex.
// Command-line flags are applied by the caller (main ORs -headless/-no-tray
// into Config.Headless).
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds process-level configuration resolved once at startup.
type Config struct {
	Host     string
	Port     int
	Headless bool
	LogLevel string
}

const (
	defaultHost = "127.0.0.1"
	defaultPort = 32145
)

// Load builds a Config from TAGBRIDGE_-prefixed environment variables,
// falling back to the teacher's defaults (127.0.0.1:32145) where unset.
func Load() *Config {
	cfg := &Config{
		Host:     defaultHost,
		Port:     defaultPort,
		LogLevel: "info",
	}

	if host := os.Getenv("TAGBRIDGE_HOST"); host != "" {
		cfg.Host = host
	}
	if portStr := os.Getenv("TAGBRIDGE_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port < 65536 {
			cfg.Port = port
		}
	}
	if level := os.Getenv("TAGBRIDGE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	cfg.Headless = os.Getenv("TAGBRIDGE_HEADLESS") == "1"

	return cfg
}

// Address returns the host:port the HTTP server should listen on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
