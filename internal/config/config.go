// Package config loads the application configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dispatch service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Vault    VaultConfig    `yaml:"vault"`
	Tracking TrackingConfig `yaml:"tracking"`
	Provider ProviderConfig `yaml:"provider"`
	License  LicenseConfig  `yaml:"license"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis burst-limiter settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	// BurstLimit caps sends per account per window. Zero disables the
	// burst limiter even when Redis is connected.
	BurstLimit         int `yaml:"burst_limit"`
	BurstWindowSeconds int `yaml:"burst_window_seconds"`
}

// BurstWindow returns the burst window as a duration.
func (c RedisConfig) BurstWindow() time.Duration {
	return time.Duration(c.BurstWindowSeconds) * time.Second
}

// VaultConfig holds credential encryption settings.
type VaultConfig struct {
	// EncryptionKey seals account credentials at rest. Required outside
	// development; Validate fails closed when it is absent.
	EncryptionKey string `yaml:"encryption_key"`
	AllowDevKey   bool   `yaml:"allow_dev_key"`
}

// TrackingConfig holds analytics engine settings.
type TrackingConfig struct {
	// BaseURL is the public origin tracking links point at.
	BaseURL string `yaml:"base_url"`
	// SigningSecret keys the recipient verification hashes.
	SigningSecret string `yaml:"signing_secret"`
}

// ProviderConfig holds adapter-wide settings.
type ProviderConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxRetries     int `yaml:"max_retries"`
}

// Timeout returns the per-send timeout as a duration.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LicenseConfig holds the license/feature server client settings.
type LicenseConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the license call timeout as a duration.
func (c LicenseConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WhatsAppConfig holds the WhatsApp gateway client settings.
type WhatsAppConfig struct {
	GatewayURL           string `yaml:"gateway_url"`
	APIKey               string `yaml:"api_key"`
	TimeoutSeconds       int    `yaml:"timeout_seconds"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	Enabled              bool   `yaml:"enabled"`
}

// Timeout returns the gateway call timeout as a duration.
func (c WhatsAppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// devEncryptionKey is only usable when AllowDevKey is set; production
// must configure an explicit key.
const devEncryptionKey = "mailrouter-dev-only-key"

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = 30
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = 3
	}
	if c.License.TimeoutSeconds == 0 {
		c.License.TimeoutSeconds = 5
	}
	if c.WhatsApp.TimeoutSeconds == 0 {
		c.WhatsApp.TimeoutSeconds = 15
	}
	if c.Redis.BurstLimit == 0 {
		c.Redis.BurstLimit = 50
	}
	if c.Redis.BurstWindowSeconds == 0 {
		c.Redis.BurstWindowSeconds = 60
	}
	if c.WhatsApp.MaxReconnectAttempts == 0 {
		c.WhatsApp.MaxReconnectAttempts = 5
	}
	if c.Tracking.BaseURL == "" {
		c.Tracking.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("VAULT_ENCRYPTION_KEY"); v != "" {
		cfg.Vault.EncryptionKey = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_SIGNING_SECRET"); v != "" {
		cfg.Tracking.SigningSecret = v
	}
	if v := os.Getenv("LICENSE_BASE_URL"); v != "" {
		cfg.License.BaseURL = v
		cfg.License.Enabled = true
	}
	if v := os.Getenv("LICENSE_API_KEY"); v != "" {
		cfg.License.APIKey = v
	}
	if v := os.Getenv("WHATSAPP_GATEWAY_URL"); v != "" {
		cfg.WhatsApp.GatewayURL = v
		cfg.WhatsApp.Enabled = true
	}
	if v := os.Getenv("WHATSAPP_API_KEY"); v != "" {
		cfg.WhatsApp.APIKey = v
	}
	if v := os.Getenv("ALLOW_DEV_SECRETS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Vault.AllowDevKey = b
		}
	}

	return cfg, nil
}

// Validate enforces the settings the service cannot run safely without.
// The credential encryption key fails closed: no key and no explicit
// dev opt-in is a configuration error, never a silent fallback.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if c.Vault.EncryptionKey == "" {
		if !c.Vault.AllowDevKey {
			return fmt.Errorf("config: vault.encryption_key is required (set allow_dev_key only for development)")
		}
		c.Vault.EncryptionKey = devEncryptionKey
	}
	if c.Tracking.SigningSecret == "" {
		if !c.Vault.AllowDevKey {
			return fmt.Errorf("config: tracking.signing_secret is required")
		}
		c.Tracking.SigningSecret = devEncryptionKey
	}
	return nil
}
