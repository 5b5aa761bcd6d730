// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// defaultDataDir mirrors the LocalAuth layout of the service: session and
// cache live next to each other under a fixed client id.
const defaultDataDir = "./local_auth"

// DefaultTransientErrors are the error substrings that mark a client error
// as recoverable by reinitializing.
var DefaultTransientErrors = []string{
	"navigation",
	"Execution context was destroyed",
	"Target closed",
	"Protocol error",
}

// Config holds all configuration for the WhatsApp service.
type Config struct {
	// HTTP
	Port         int   `mapstructure:"port"`
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`

	// Hub
	HubURL                string        `mapstructure:"hub_url"`
	HubInsecureSkipVerify bool          `mapstructure:"hub_insecure_skip_verify"`
	HubReconnectDelay     time.Duration `mapstructure:"hub_reconnect_delay"`

	// Paths
	SessionPath string `mapstructure:"session_path"`
	StorePath   string `mapstructure:"store_path"`

	// Reinitialization
	ReinitMaxAttempts int           `mapstructure:"reinit_max_attempts"`
	ReinitBaseDelay   time.Duration `mapstructure:"reinit_base_delay"`
	ReinitMaxDelay    time.Duration `mapstructure:"reinit_max_delay"`
	TransientErrors   []string      `mapstructure:"transient_errors"`

	// Records
	Timezone string `mapstructure:"timezone"`

	// Sending
	SendRatePerSecond float64 `mapstructure:"send_rate_per_second"`
	SendBurst         int     `mapstructure:"send_burst"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:                  3000,
		MaxBodyBytes:          50 << 20,
		HubURL:                "https://localhost:44365/hubs/whatsapp",
		HubInsecureSkipVerify: true,
		HubReconnectDelay:     5 * time.Second,
		SessionPath:           filepath.Join(defaultDataDir, "whatsapp-service.db"),
		StorePath:             filepath.Join(defaultDataDir, "messages.db"),
		ReinitMaxAttempts:     5,
		ReinitBaseDelay:       5 * time.Second,
		ReinitMaxDelay:        60 * time.Second,
		TransientErrors:       append([]string(nil), DefaultTransientErrors...),
		Timezone:              "Asia/Jakarta",
		SendRatePerSecond:     0,
		SendBurst:             1,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("port", defaults.Port)
	v.SetDefault("max_body_bytes", defaults.MaxBodyBytes)
	v.SetDefault("hub_url", defaults.HubURL)
	v.SetDefault("hub_insecure_skip_verify", defaults.HubInsecureSkipVerify)
	v.SetDefault("hub_reconnect_delay", defaults.HubReconnectDelay)
	v.SetDefault("session_path", defaults.SessionPath)
	v.SetDefault("store_path", defaults.StorePath)
	v.SetDefault("reinit_max_attempts", defaults.ReinitMaxAttempts)
	v.SetDefault("reinit_base_delay", defaults.ReinitBaseDelay)
	v.SetDefault("reinit_max_delay", defaults.ReinitMaxDelay)
	v.SetDefault("transient_errors", defaults.TransientErrors)
	v.SetDefault("timezone", defaults.Timezone)
	v.SetDefault("send_rate_per_second", defaults.SendRatePerSecond)
	v.SetDefault("send_burst", defaults.SendBurst)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)

	// Environment variables with WASERVICE_ prefix
	v.SetEnvPrefix("WASERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// PORT and SIGNALR_HUB_URL take precedence over the prefixed names.
	if err := v.BindEnv("port", "PORT", "WASERVICE_PORT"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	if err := v.BindEnv("hub_url", "SIGNALR_HUB_URL", "WASERVICE_HUB_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config.yaml just means built-in defaults.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if c.HubURL == "" {
		return fmt.Errorf("hub url is required")
	}

	if c.HubReconnectDelay <= 0 {
		return fmt.Errorf("hub reconnect delay must be positive")
	}

	if c.ReinitMaxAttempts < 1 {
		return fmt.Errorf("reinit max attempts must be at least 1")
	}

	if c.ReinitBaseDelay <= 0 {
		return fmt.Errorf("reinit base delay must be positive")
	}

	if c.ReinitMaxDelay <= 0 {
		return fmt.Errorf("reinit max delay must be positive")
	}

	if c.ReinitBaseDelay > c.ReinitMaxDelay {
		return fmt.Errorf("reinit base delay must be less than or equal to max delay")
	}

	if c.SendRatePerSecond < 0 {
		return fmt.Errorf("send rate must be non-negative")
	}

	if c.SendBurst < 1 {
		return fmt.Errorf("send burst must be at least 1")
	}

	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}
