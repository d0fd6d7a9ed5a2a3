// Package config loads application configuration from environment variables
// (prefix ACP) with an optional YAML file underneath. Environment always
// wins over the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"licenseapi/internal/payment"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Store    StoreConfig    `yaml:"store" envconfig:"STORE"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Payment  PaymentConfig  `yaml:"payment" envconfig:"PAYMENT"`
	Email    EmailConfig    `yaml:"email" envconfig:"EMAIL"`
	Update   UpdateConfig   `yaml:"update" envconfig:"UPDATE"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"*"`
	AdminToken     string          `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json"`
}

// StoreConfig contains license store configuration
type StoreConfig struct {
	Path string `yaml:"path" envconfig:"PATH" default:"licenses.db"`
}

// LicenseConfig contains issuance policy
type LicenseConfig struct {
	// Validity is added to the issuance time to compute expires_at.
	// Zero means a perpetual license with no expiry.
	Validity       time.Duration `yaml:"validity" envconfig:"VALIDITY" default:"8760h"`
	MaxActivations int           `yaml:"max_activations" envconfig:"MAX_ACTIVATIONS" default:"1"`
}

// PaymentConfig contains gateway and webhook configuration
type PaymentConfig struct {
	BaseURL         string `yaml:"base_url" envconfig:"BASE_URL" default:"https://api.razorpay.com/v1"`
	KeyID           string `yaml:"key_id" envconfig:"KEY_ID"`
	KeySecret       string `yaml:"key_secret" envconfig:"KEY_SECRET"`
	WebhookSecret   string `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
	SignaturePolicy string `yaml:"signature_policy" envconfig:"SIGNATURE_POLICY" default:"optional-if-absent"`
}

// EmailConfig contains notification sink configuration
type EmailConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED" default:"false"`
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL" default:"https://api.resend.com"`
	APIKey  string `yaml:"api_key" envconfig:"API_KEY"`
	From    string `yaml:"from" envconfig:"FROM" default:"license@notifications.example.com"`
	// Timeout bounds the fire-and-forget delivery attempt.
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
}

// UpdateConfig describes the plugin version manifest served by the
// update-check endpoint.
type UpdateConfig struct {
	CurrentVersion  string `yaml:"current_version" envconfig:"CURRENT_VERSION" default:"1.0.0"`
	MinimumVersion  string `yaml:"minimum_version" envconfig:"MINIMUM_VERSION" default:"1.0.0"`
	ReleaseNotes    string `yaml:"release_notes" envconfig:"RELEASE_NOTES"`
	DownloadURL     string `yaml:"download_url" envconfig:"DOWNLOAD_URL"`
	ChangelogURL    string `yaml:"changelog_url" envconfig:"CHANGELOG_URL"`
	CriticalUpdate  bool   `yaml:"critical_update" envconfig:"CRITICAL_UPDATE" default:"false"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("ACP", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if configFile != "" {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Payment.KeyID == "" {
		envConfig.Payment.KeyID = fileConfig.Payment.KeyID
	}
	if envConfig.Payment.KeySecret == "" {
		envConfig.Payment.KeySecret = fileConfig.Payment.KeySecret
	}
	if envConfig.Payment.WebhookSecret == "" {
		envConfig.Payment.WebhookSecret = fileConfig.Payment.WebhookSecret
	}
	if envConfig.Email.APIKey == "" {
		envConfig.Email.APIKey = fileConfig.Email.APIKey
	}
	if envConfig.Security.AdminToken == "" {
		envConfig.Security.AdminToken = fileConfig.Security.AdminToken
	}
	return envConfig
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.License.MaxActivations < 1 {
		return fmt.Errorf("max activations must be at least 1, got %d", c.License.MaxActivations)
	}
	if c.License.Validity < 0 {
		return fmt.Errorf("license validity must not be negative")
	}

	policy := payment.SignaturePolicy(c.Payment.SignaturePolicy)
	if !policy.Valid() {
		return fmt.Errorf("invalid signature policy: %q", c.Payment.SignaturePolicy)
	}
	if policy != payment.SignatureDisabled && c.Payment.WebhookSecret == "" {
		return fmt.Errorf("signature policy %q requires PAYMENT_WEBHOOK_SECRET", policy)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		c.Logging.Format = "json"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Path: "licenses.db",
		},
		License: LicenseConfig{
			Validity:       365 * 24 * time.Hour,
			MaxActivations: 1,
		},
		Payment: PaymentConfig{
			BaseURL:         "https://api.razorpay.com/v1",
			SignaturePolicy: string(payment.SignatureDisabled),
		},
		Email: EmailConfig{
			BaseURL: "https://api.resend.com",
			From:    "license@notifications.example.com",
			Timeout: 10 * time.Second,
		},
		Update: UpdateConfig{
			CurrentVersion: "1.0.0",
			MinimumVersion: "1.0.0",
		},
	}
}
