// Package config handles client configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level client configuration.
type Config struct {
	Hub     HubConfig     `json:"hub"`
	Payment PaymentConfig `json:"payment"`
	Logging LoggingConfig `json:"logging"`
}

// HubConfig defines how the client reaches the hub.
type HubConfig struct {
	URL               string   `json:"url"`                           // e.g. "http://localhost:8080"
	Timeout           Duration `json:"timeout,omitempty"`             // per-request timeout; default 30s
	GenerateTimeout   Duration `json:"generate_timeout,omitempty"`    // generation request timeout; default 5m
	ReconnectInterval Duration `json:"reconnect_interval,omitempty"`  // notify reconnect base delay; default 3s
	MaxReconnectDelay Duration `json:"max_reconnect_delay,omitempty"` // notify reconnect cap; default 1m
}

// PaymentConfig tunes the payment confirmation wait.
type PaymentConfig struct {
	PollInterval Duration `json:"poll_interval,omitempty"` // default 3s
	MaxPolls     int      `json:"max_polls,omitempty"`     // default 100 (~5 minutes)
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	File  string `json:"file,omitempty"` // log file path; stderr when empty
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a config pointed at a local hub, for running without a file.
func Default() *Config {
	cfg := &Config{Hub: HubConfig{URL: "http://localhost:8080"}}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) validate() error {
	if c.Hub.URL == "" {
		return fmt.Errorf("hub.url is required")
	}
	if c.Payment.MaxPolls < 0 {
		return fmt.Errorf("payment.max_polls must not be negative")
	}
	return nil
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Hub.Timeout.Duration == 0 {
		c.Hub.Timeout.Duration = 30 * time.Second
	}
	if c.Hub.GenerateTimeout.Duration == 0 {
		c.Hub.GenerateTimeout.Duration = 5 * time.Minute
	}
	if c.Hub.ReconnectInterval.Duration == 0 {
		c.Hub.ReconnectInterval.Duration = 3 * time.Second
	}
	if c.Hub.MaxReconnectDelay.Duration == 0 {
		c.Hub.MaxReconnectDelay.Duration = time.Minute
	}
	if c.Payment.PollInterval.Duration == 0 {
		c.Payment.PollInterval.Duration = 3 * time.Second
	}
	if c.Payment.MaxPolls == 0 {
		c.Payment.MaxPolls = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
