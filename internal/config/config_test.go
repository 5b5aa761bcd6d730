package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, int64(50<<20), cfg.MaxBodyBytes)
	assert.Equal(t, "https://localhost:44365/hubs/whatsapp", cfg.HubURL)
	assert.True(t, cfg.HubInsecureSkipVerify)
	assert.Equal(t, 5*time.Second, cfg.HubReconnectDelay)
	assert.Equal(t, filepath.Join("local_auth", "whatsapp-service.db"), cfg.SessionPath)
	assert.Equal(t, filepath.Join("local_auth", "messages.db"), cfg.StorePath)
	assert.Equal(t, 5, cfg.ReinitMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.ReinitBaseDelay)
	assert.Equal(t, 60*time.Second, cfg.ReinitMaxDelay)
	assert.Equal(t, DefaultTransientErrors, cfg.TransientErrors)
	assert.Equal(t, "Asia/Jakarta", cfg.Timezone)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
port: 8081
hub_url: https://hub.internal/hubs/whatsapp
hub_insecure_skip_verify: false
session_path: /custom/session.db
store_path: /custom/store.db
reinit_max_attempts: 3
reinit_base_delay: 2s
reinit_max_delay: 30s
transient_errors:
  - socket hang up
timezone: UTC
send_rate_per_second: 2.5
send_burst: 4
log_level: debug
log_format: text
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, "https://hub.internal/hubs/whatsapp", cfg.HubURL)
	assert.False(t, cfg.HubInsecureSkipVerify)
	assert.Equal(t, "/custom/session.db", cfg.SessionPath)
	assert.Equal(t, "/custom/store.db", cfg.StorePath)
	assert.Equal(t, 3, cfg.ReinitMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.ReinitBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReinitMaxDelay)
	assert.Equal(t, []string{"socket hang up"}, cfg.TransientErrors)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 2.5, cfg.SendRatePerSecond)
	assert.Equal(t, 4, cfg.SendBurst)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
port: 3000
log_level: info
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("PORT", "8080")
	t.Setenv("SIGNALR_HUB_URL", "http://localhost:5000/hubs/whatsapp")
	t.Setenv("WASERVICE_LOG_LEVEL", "debug")
	t.Setenv("WASERVICE_REINIT_MAX_ATTEMPTS", "7")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "http://localhost:5000/hubs/whatsapp", cfg.HubURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.ReinitMaxAttempts)
}

func TestLoadConfig_PrefixedPortFallback(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("WASERVICE_PORT", "9000")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "Asia/Jakarta", cfg.Timezone)
}

func TestConfig_Location(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", loc.String())

	cfg.Timezone = "Mars/Olympus"
	_, err = cfg.Location()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.LogLevel = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.LogFormat = "xml"
			},
			wantErr: true,
		},
		{
			name: "port out of range",
			modify: func(c *Config) {
				c.Port = 70000
			},
			wantErr: true,
		},
		{
			name: "empty hub url",
			modify: func(c *Config) {
				c.HubURL = ""
			},
			wantErr: true,
		},
		{
			name: "zero max attempts",
			modify: func(c *Config) {
				c.ReinitMaxAttempts = 0
			},
			wantErr: true,
		},
		{
			name: "base delay above cap",
			modify: func(c *Config) {
				c.ReinitBaseDelay = 2 * time.Minute
			},
			wantErr: true,
		},
		{
			name: "negative send rate",
			modify: func(c *Config) {
				c.SendRatePerSecond = -1
			},
			wantErr: true,
		},
		{
			name: "unknown timezone",
			modify: func(c *Config) {
				c.Timezone = "Nowhere/Land"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
