// Package config loads the service configuration from a YAML file with
// environment variable overrides, so local runs use config.yaml and
// container deploys use real env vars.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/klickraai-ship-it/del-ai/internal/pkg/logger"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Tracking TrackingConfig `yaml:"tracking"`
	Email    EmailConfig    `yaml:"email"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the Redis connection settings for rate limiting.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TrackingConfig holds the token signing secret and public URLs.
type TrackingConfig struct {
	Secret  string `yaml:"secret"`
	Domain  string `yaml:"domain"`
	HomeURL string `yaml:"home_url"`
}

// EmailConfig selects and configures the sending provider.
type EmailConfig struct {
	Provider string       `yaml:"provider"`
	Resend   ResendConfig `yaml:"resend"`
	SES      SESConfig    `yaml:"ses"`
}

// ResendConfig holds Resend API settings.
type ResendConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SESConfig holds AWS SES API settings.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// DispatchConfig holds campaign send pacing.
type DispatchConfig struct {
	BatchSize    int `yaml:"batch_size"`
	BatchDelayMS int `yaml:"batch_delay_ms"`
}

// BatchDelay returns the configured inter-batch delay as a duration.
func (c DispatchConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

// Load reads and parses the configuration file. An empty path yields a
// config of pure defaults, for env-only deployments.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Tracking.Domain == "" {
		cfg.Tracking.Domain = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Tracking.HomeURL == "" {
		cfg.Tracking.HomeURL = cfg.Tracking.Domain
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "resend"
	}
	if cfg.Email.SES.Region == "" {
		cfg.Email.SES.Region = "us-east-1"
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 100
	}
	if cfg.Dispatch.BatchDelayMS == 0 {
		cfg.Dispatch.BatchDelayMS = 1000
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) first, so secrets can live in .env
// locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("TRACKING_SECRET"); v != "" {
		cfg.Tracking.Secret = v
	}
	if v := os.Getenv("TRACKING_DOMAIN"); v != "" {
		cfg.Tracking.Domain = v
	}
	if v := os.Getenv("HOME_URL"); v != "" {
		cfg.Tracking.HomeURL = v
	}
	if v := os.Getenv("EMAIL_PROVIDER"); v != "" {
		cfg.Email.Provider = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Email.Resend.APIKey = v
	}
	if v := os.Getenv("RESEND_BASE_URL"); v != "" {
		cfg.Email.Resend.BaseURL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Email.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Email.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Email.SES.Region = v
	}
	if v := os.Getenv("DISPATCH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.BatchSize = n
		}
	}
	if v := os.Getenv("DISPATCH_BATCH_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.BatchDelayMS = n
		}
	}

	return cfg, nil
}

// EnsureTrackingSecret guarantees a signing secret is present. Production
// refuses to start without one; elsewhere an ephemeral secret is
// generated, which invalidates tokens across restarts.
func (c *Config) EnsureTrackingSecret() error {
	if c.Tracking.Secret != "" {
		return nil
	}
	if os.Getenv("APP_ENV") == "production" {
		return fmt.Errorf("config: TRACKING_SECRET is required in production")
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("config: generating ephemeral tracking secret: %w", err)
	}
	c.Tracking.Secret = hex.EncodeToString(buf)
	logger.Warn("no tracking secret configured, generated an ephemeral one; tracking links will break on restart")
	return nil
}
