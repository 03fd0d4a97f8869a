package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Bus       BusConfig
	Catalog   CatalogConfig
	Systemd   SystemdConfig
	HTTP      HTTPConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// BusConfig holds the D-Bus service configuration.
type BusConfig struct {
	Name       string `envconfig:"BUS_NAME" default:"org.automotivelinux.AppLaunch"`
	ObjectPath string `envconfig:"BUS_PATH" default:"/org/automotivelinux/AppLaunch"`
	// SystemBus selects the system bus instead of the session bus for
	// the service's own name; application activation always uses the
	// session bus and unit activation always uses the system bus.
	SystemBus bool `envconfig:"BUS_SYSTEM" default:"false"`
}

// CatalogConfig holds the application catalog configuration.
type CatalogConfig struct {
	Path string `envconfig:"CATALOG_PATH" default:"/etc/applaunchd/applications.yaml"`
}

// SystemdConfig holds unit activation configuration.
type SystemdConfig struct {
	UnitTemplate string `envconfig:"UNIT_TEMPLATE" default:"agl-app@%s.service"`
}

// HTTPConfig holds the monitoring HTTP listener configuration.
type HTTPConfig struct {
	Addr    string `envconfig:"HTTP_ADDR" default:"127.0.0.1:8181"`
	Enabled bool   `envconfig:"HTTP_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the HTTP listener.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from APPLAUNCHD_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("applaunchd", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Name:       "org.automotivelinux.AppLaunch",
			ObjectPath: "/org/automotivelinux/AppLaunch",
			SystemBus:  false,
		},
		Catalog: CatalogConfig{
			Path: "/etc/applaunchd/applications.yaml",
		},
		Systemd: SystemdConfig{
			UnitTemplate: "agl-app@%s.service",
		},
		HTTP: HTTPConfig{
			Addr:    "127.0.0.1:8181",
			Enabled: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
