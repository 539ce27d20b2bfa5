// Package config handles hub configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level hub configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Storage  StorageConfig  `json:"storage"`
	Session  SessionConfig  `json:"session"`
	Payment  PaymentConfig  `json:"payment"`
	Generate GenerateConfig `json:"generate"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig defines the hub's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"` // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS + WebSocket origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max request body size; default 1MB
}

// AuthConfig defines admin authentication settings.
type AuthConfig struct {
	Provider     string        `json:"provider,omitempty"`    // "builtin" (default) or "jwks"
	JWKSIssuer   string        `json:"jwks_issuer,omitempty"` // issuer URL when provider is jwks
	JWTSecret    string        `json:"jwt_secret"`            // HS256 secret for builtin tokens
	JWTExpiry    Duration      `json:"jwt_expiry,omitempty"`
	InitialAdmin *InitialAdmin `json:"initial_admin,omitempty"`
}

// InitialAdmin bootstraps the admin account on first start.
type InitialAdmin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn"`    // e.g. "postforge.db" or ":memory:"
}

// SessionConfig defines paid-session behavior.
type SessionConfig struct {
	DurationMinutes int `json:"duration_minutes,omitempty"` // access window per payment; default 1440 (24h)
	Price           int `json:"price,omitempty"`            // access price, whole currency units; default 1000
}

// PaymentConfig defines the upstream payment provider.
type PaymentConfig struct {
	Provider  string   `json:"provider,omitempty"` // "sandbox" (default) or "remote"
	URL       string   `json:"url,omitempty"`      // provider API base URL
	APIKey    string   `json:"api_key,omitempty"`
	ShopID    string   `json:"shop_id,omitempty"`
	ReturnURL string   `json:"return_url,omitempty"` // where the checkout page sends the payer back
	Timeout   Duration `json:"timeout,omitempty"`    // provider call timeout; default 30s
}

// GenerateConfig defines the upstream generation service.
type GenerateConfig struct {
	Provider     string   `json:"provider,omitempty"` // "static" (default) or "remote"
	URL          string   `json:"url,omitempty"`      // generation API base URL
	APIKey       string   `json:"api_key,omitempty"`
	Timeout      Duration `json:"timeout,omitempty"`        // generation call timeout; default 5m
	MaxInputSize int      `json:"max_input_size,omitempty"` // max url+occasion bytes; default 4096
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
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

// GenerateRandomSecret returns a 64-character hex secret suitable for JWT signing.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
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

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if (c.Auth.Provider == "" || c.Auth.Provider == "builtin") && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Auth.Provider == "jwks" && c.Auth.JWKSIssuer == "" {
		return fmt.Errorf("auth.jwks_issuer is required when provider is jwks")
	}
	if c.Payment.Provider == "remote" && c.Payment.URL == "" {
		return fmt.Errorf("payment.url is required when provider is remote")
	}
	if c.Generate.Provider == "remote" && c.Generate.URL == "" {
		return fmt.Errorf("generate.url is required when provider is remote")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "postforge.db"
	}
	if c.Session.DurationMinutes == 0 {
		c.Session.DurationMinutes = 1440
	}
	if c.Session.Price == 0 {
		c.Session.Price = 1000
	}
	if c.Payment.Timeout.Duration == 0 {
		c.Payment.Timeout.Duration = 30 * time.Second
	}
	if c.Generate.Timeout.Duration == 0 {
		c.Generate.Timeout.Duration = 5 * time.Minute
	}
	if c.Generate.MaxInputSize == 0 {
		c.Generate.MaxInputSize = 4096
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
