package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Sync      SyncConfig      `yaml:"sync"`
	Retention RetentionConfig `yaml:"retention"`
	Events    EventsConfig    `yaml:"events"`
	Widget    WidgetConfig    `yaml:"widget"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type SyncConfig struct {
	// QueuePollSeconds and MessagePollSeconds are interval hints echoed to
	// polling clients.
	QueuePollSeconds   int `yaml:"queue_poll_seconds"`
	MessagePollSeconds int `yaml:"message_poll_seconds"`
	// StaleThresholdSeconds classifies queued requests as stale for
	// escalation by the notification layer.
	StaleThresholdSeconds int `yaml:"stale_threshold_seconds"`
}

type RetentionConfig struct {
	// CompletedTTLHours is how long completed requests (and their
	// messages) are kept before the purge job removes them. Zero disables
	// purging.
	CompletedTTLHours    int `yaml:"completed_ttl_hours"`
	PurgeIntervalMinutes int `yaml:"purge_interval_minutes"`
}

type EventsConfig struct {
	// AMQPURL enables queue-event publishing when set.
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

type WidgetConfig struct {
	// TokenSecret signs widget tokens. Supports ${ENV_VAR} references.
	TokenSecret string `yaml:"token_secret"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Sync: SyncConfig{
			QueuePollSeconds:      5,
			MessagePollSeconds:    3,
			StaleThresholdSeconds: 120,
		},
		Retention: RetentionConfig{
			CompletedTTLHours:    720,
			PurgeIntervalMinutes: 60,
		},
		Events: EventsConfig{Exchange: "relaydesk.handoffs"},
	}
}

// Load reads the config file, applies defaults and environment overrides.
// A missing file yields defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields after YAML parsing.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Sync.QueuePollSeconds == 0 {
		cfg.Sync.QueuePollSeconds = d.Sync.QueuePollSeconds
	}
	if cfg.Sync.MessagePollSeconds == 0 {
		cfg.Sync.MessagePollSeconds = d.Sync.MessagePollSeconds
	}
	if cfg.Sync.StaleThresholdSeconds == 0 {
		cfg.Sync.StaleThresholdSeconds = d.Sync.StaleThresholdSeconds
	}
	if cfg.Retention.PurgeIntervalMinutes == 0 {
		cfg.Retention.PurgeIntervalMinutes = d.Retention.PurgeIntervalMinutes
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = d.Events.Exchange
	}
}

// applyEnvOverrides reads RELAYDESK_* environment variables over config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("RELAYDESK_AMQP_URL"); v != "" {
		cfg.Events.AMQPURL = v
	}
	if v := os.Getenv("RELAYDESK_WIDGET_TOKEN_SECRET"); v != "" {
		cfg.Widget.TokenSecret = v
	}
	if v := os.Getenv("RELAYDESK_STALE_THRESHOLD_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.StaleThresholdSeconds = n
		}
	}
}
