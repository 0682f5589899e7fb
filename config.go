// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the client settings.
type Config struct {
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	Transport string          `yaml:"transport"`
	Path      string          `yaml:"path"`
	User      map[string]any  `yaml:"user,omitempty"`
	Client    ClientConfig    `yaml:"client"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ClientConfig is the identity sent in the handshake.
type ClientConfig struct {
	Type    string `yaml:"type"`
	Version string `yaml:"version"`
}

// TimeoutsConfig holds duration strings such as "8s".
type TimeoutsConfig struct {
	Request    string `yaml:"request"`
	Connect    string `yaml:"connect"`
	Disconnect string `yaml:"disconnect"`
}

// RateLimitConfig throttles outgoing messages. Zero disables it.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// DefaultConfig returns the settings a bare client uses.
func DefaultConfig() *Config {
	return &Config{
		Host:      "127.0.0.1",
		Port:      3010,
		Transport: DefaultTransport,
		Client: ClientConfig{
			Type:    DefaultClientType,
			Version: DefaultClientVersion,
		},
		Timeouts: TimeoutsConfig{
			Request:    DefaultRequestTimeout.String(),
			Connect:    DefaultConnectTimeout.String(),
			Disconnect: DefaultDisconnectTimeout.String(),
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file
// yields the defaults. Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies POMELO_* environment variables to cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POMELO_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("POMELO_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("POMELO_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("POMELO_REQUEST_TIMEOUT"); v != "" {
		cfg.Timeouts.Request = v
	}
}

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks the config and returns a *ValidationError when it is not
// usable.
func (c *Config) Validate() error {
	ve := &ValidationError{}
	if c.Host == "" {
		ve.add("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		ve.add("port %d out of range", c.Port)
	}
	if !HasTransport(c.Transport) {
		ve.add("unknown transport %q (available: %s)", c.Transport, strings.Join(AvailableTransports(), ", "))
	}
	for name, v := range map[string]string{
		"timeouts.request":    c.Timeouts.Request,
		"timeouts.connect":    c.Timeouts.Connect,
		"timeouts.disconnect": c.Timeouts.Disconnect,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			ve.add("%s: invalid duration %q", name, v)
		}
	}
	if c.RateLimit.PerSecond < 0 {
		ve.add("rate_limit.per_second must not be negative")
	}
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst < 1 {
		ve.add("rate_limit.burst must be at least 1")
	}
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// Addr is the dial address for the configured host and port.
func (c *Config) Addr() string {
	return Address(c.Host, c.Port)
}

// Options converts the config into client options. Call Validate first.
func (c *Config) Options() []Option {
	var opts []Option
	if c.Transport != "" {
		opts = append(opts, WithTransport(c.Transport))
	}
	if c.Path != "" {
		opts = append(opts, WithPath(c.Path))
	}
	if c.Client.Type != "" || c.Client.Version != "" {
		typ, version := c.Client.Type, c.Client.Version
		if typ == "" {
			typ = DefaultClientType
		}
		if version == "" {
			version = DefaultClientVersion
		}
		opts = append(opts, WithClientInfo(typ, version))
	}
	if d, err := time.ParseDuration(c.Timeouts.Request); err == nil && d > 0 {
		opts = append(opts, WithRequestTimeout(d))
	}
	if d, err := time.ParseDuration(c.Timeouts.Connect); err == nil && d > 0 {
		opts = append(opts, WithConnectTimeout(d))
	}
	if d, err := time.ParseDuration(c.Timeouts.Disconnect); err == nil && d > 0 {
		opts = append(opts, WithDisconnectTimeout(d))
	}
	if c.RateLimit.PerSecond > 0 {
		opts = append(opts, WithRateLimit(rate.Limit(c.RateLimit.PerSecond), c.RateLimit.Burst))
	}
	return opts
}
