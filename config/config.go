// Package config loads console settings from defaults, an optional YAML file
// and the environment. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for vm-console.
type Config struct {
	// Management server
	UpstreamURL    string        `yaml:"upstream_url"`
	UpstreamToken  string        `yaml:"upstream_token"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // 0 leaves the transport default
	RetryMax       int           `yaml:"retry_max"`       // failures are surfaced, not retried, by default

	// Web front
	Listen string `yaml:"listen"`

	// Per-profile dispatchers kept in memory; idle ones are dropped
	MaxProfiles int           `yaml:"max_profiles"`
	ProfileIdle time.Duration `yaml:"profile_idle"`

	// Durable UI state
	StatePath string `yaml:"state_path"`

	// Remote console websocket, with {node} and {vmid} placeholders
	ConsoleURL string `yaml:"console_url"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		UpstreamURL: "http://127.0.0.1:5000",
		Listen:      ":8080",
		MaxProfiles: 1024,
		ProfileIdle: 30 * time.Minute,
		StatePath:   "vm-console.db",
		ConsoleURL:  "ws://127.0.0.1:5000/console/{node}/{vmid}/websockify",
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// Load starts from Default, merges the YAML file at path when path is set, then
// the VMC_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.UpstreamURL = getEnv("VMC_UPSTREAM_URL", c.UpstreamURL)
	c.UpstreamToken = getEnv("VMC_UPSTREAM_TOKEN", c.UpstreamToken)
	c.Listen = getEnv("VMC_LISTEN", c.Listen)
	c.StatePath = getEnv("VMC_STATE_PATH", c.StatePath)
	c.ConsoleURL = getEnv("VMC_CONSOLE_URL", c.ConsoleURL)
	c.LogLevel = getEnv("VMC_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("VMC_LOG_FORMAT", c.LogFormat)

	if v := os.Getenv("VMC_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VMC_REQUEST_TIMEOUT: %w", err)
		}
		c.RequestTimeout = d
	}
	if v := os.Getenv("VMC_RETRY_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VMC_RETRY_MAX: %w", err)
		}
		c.RetryMax = n
	}
	return nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return errors.New("upstream url is required")
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream url must be http or https, got %q", u.Scheme)
	}
	if c.RequestTimeout < 0 {
		return errors.New("request timeout cannot be negative")
	}
	if c.RetryMax < 0 {
		return errors.New("retry max cannot be negative")
	}
	if c.MaxProfiles <= 0 {
		return errors.New("max profiles must be positive")
	}
	if c.ProfileIdle <= 0 {
		return errors.New("profile idle timeout must be positive")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
