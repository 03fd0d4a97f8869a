package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Bus config
	assert.Equal(t, "org.automotivelinux.AppLaunch", cfg.Bus.Name)
	assert.Equal(t, "/org/automotivelinux/AppLaunch", cfg.Bus.ObjectPath)
	assert.False(t, cfg.Bus.SystemBus)

	// Catalog config
	assert.Equal(t, "/etc/applaunchd/applications.yaml", cfg.Catalog.Path)

	// Systemd config
	assert.Equal(t, "agl-app@%s.service", cfg.Systemd.UnitTemplate)

	// HTTP config
	assert.Equal(t, "127.0.0.1:8181", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.Enabled)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 50, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 100, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "org.automotivelinux.AppLaunch", cfg.Bus.Name)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"APPLAUNCHD_BUS_NAME":      "org.example.AppLaunch",
		"APPLAUNCHD_BUS_SYSTEM":    "true",
		"APPLAUNCHD_CATALOG_PATH":  "/tmp/apps.yaml",
		"APPLAUNCHD_UNIT_TEMPLATE": "demo-app@%s.service",
		"APPLAUNCHD_HTTP_ADDR":     ":9999",
		"APPLAUNCHD_HTTP_ENABLED":  "false",
		"APPLAUNCHD_LOG_LEVEL":     "debug",
		"APPLAUNCHD_LOG_DEV":       "true",
	}

	for key, value := range envVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range envVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "org.example.AppLaunch", cfg.Bus.Name)
	assert.True(t, cfg.Bus.SystemBus)
	assert.Equal(t, "/tmp/apps.yaml", cfg.Catalog.Path)
	assert.Equal(t, "demo-app@%s.service", cfg.Systemd.UnitTemplate)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.False(t, cfg.HTTP.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}
