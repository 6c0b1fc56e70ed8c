package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"printwatch/common/config"
	"printwatch/common/settings"
)

// AgentConfig represents the agent configuration file.
type AgentConfig struct {
	Database config.DatabaseConfig `toml:"database"`
	Logging  config.LoggingConfig  `toml:"logging"`
	Metrics  MetricsConfig         `toml:"metrics"`
	// Persistence intervals are Go durations ("5m", "90s").
	Persistence PersistenceConfig `toml:"persistence"`
	// Settings seed the runtime store. Values saved at runtime take
	// precedence on the next start.
	Settings settings.Settings `toml:"settings"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `toml:"listen"`
}

// PersistenceConfig holds the flush intervals of the SQLite sink.
type PersistenceConfig struct {
	Devices string `toml:"devices_interval"`
	Alerts  string `toml:"alerts_interval"`
	History string `toml:"history_interval"`
}

// DefaultAgentConfig returns agent configuration with sensible defaults
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Database: config.DatabaseConfig{
			Path: "", // platform data directory
		},
		Logging: config.LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
		Metrics: MetricsConfig{Listen: ""},
		Persistence: PersistenceConfig{
			Devices: "5m",
			Alerts:  "1m",
			History: "10m",
		},
		Settings: settings.DefaultSettings(),
	}
}

// LoadAgentConfig loads configuration from a TOML file with environment
// variable overrides. An empty path yields the defaults plus overrides.
func LoadAgentConfig(configPath string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if configPath != "" {
		if err := config.LoadTOML(configPath, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	settings.Sanitize(&cfg.Settings)
	return cfg, nil
}

func applyEnvOverrides(cfg *AgentConfig) {
	config.EnvString("PRINTWATCH_COMMUNITY", &cfg.Settings.SNMP.Community)
	if val := os.Getenv("PRINTWATCH_POLL_INTERVAL"); val != "" {
		// Accept plain seconds or a Go duration.
		if secs, err := strconv.Atoi(val); err == nil {
			cfg.Settings.Polling.IntervalSeconds = secs
		} else if d, err := time.ParseDuration(val); err == nil {
			cfg.Settings.Polling.IntervalSeconds = int(d / time.Second)
		}
	}
	config.EnvInt("PRINTWATCH_POLL_CONCURRENCY", &cfg.Settings.Polling.Concurrency)
	config.EnvString("PRINTWATCH_METRICS_LISTEN", &cfg.Metrics.Listen)
	config.EnvString("PRINTWATCH_SMTP_PASSWORD", &cfg.Settings.Notifications.Email.Password)
	config.EnvString("PRINTWATCH_WEBHOOK_URL", &cfg.Settings.Notifications.Webhook.URL)
	if val := os.Getenv("PRINTWATCH_MDNS"); val != "" {
		lower := strings.ToLower(val)
		cfg.Settings.Discovery.MDNSEnabled = lower == "1" || lower == "true" || lower == "yes"
	}

	config.ApplyDatabaseEnvOverrides(&cfg.Database)
	config.ApplyLoggingEnvOverrides(&cfg.Logging)
}

// WriteDefaultAgentConfig writes a default agent configuration file
func WriteDefaultAgentConfig(configPath string) error {
	return config.WriteDefaultTOML(configPath, DefaultAgentConfig())
}

// intervals parses the persistence durations. Unparseable or empty values
// fall back to the monitor defaults.
func (p PersistenceConfig) intervals() (devices, alerts, history time.Duration) {
	parse := func(s string) time.Duration {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil || d < 0 {
			return 0
		}
		return d
	}
	return parse(p.Devices), parse(p.Alerts), parse(p.History)
}
