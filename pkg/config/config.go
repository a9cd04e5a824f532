package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds the full worker configuration. Values come from the
// environment; an optional YAML file can pre-fill fields for local runs, with
// the environment always winning.
type Config struct {
	Port        int    `envconfig:"PORT" yaml:"port"`
	Environment string `envconfig:"NODE_ENV" yaml:"environment"`
	LogLevel    string `envconfig:"LOG_LEVEL" yaml:"log_level"`
	LogJSON     bool   `envconfig:"LOG_JSON" yaml:"log_json"`

	DBHost     string `envconfig:"DB_HOST" yaml:"db_host"`
	DBPort     int    `envconfig:"DB_PORT" yaml:"db_port"`
	DBName     string `envconfig:"DB_NAME" yaml:"db_name"`
	DBUser     string `envconfig:"DB_USER" yaml:"db_user"`
	DBPassword string `envconfig:"DB_PASSWORD" yaml:"db_password"`

	GCPProjectID      string `envconfig:"GCP_PROJECT_ID" yaml:"gcp_project_id"`
	SubscriptionID    string `envconfig:"PUBSUB_SUBSCRIPTION" yaml:"pubsub_subscription"`
	SubscriptionTopic string `envconfig:"PUBSUB_TOPIC" yaml:"pubsub_topic"`

	DLQTopic            string `envconfig:"DLQ_TOPIC" yaml:"dlq_topic"`
	EmailImmediateTopic string `envconfig:"EMAIL_IMMEDIATE_TOPIC" yaml:"email_immediate_topic"`
	EmailDailyTopic     string `envconfig:"EMAIL_DAILY_TOPIC" yaml:"email_daily_topic"`
	RealtimeTopic       string `envconfig:"REALTIME_TOPIC" yaml:"realtime_topic"`

	DedupWindowMinutes   int `envconfig:"DEDUPLICATION_WINDOW_MINUTES" yaml:"dedup_window_minutes"`
	MessageDeadlineSecs  int `envconfig:"MESSAGE_DEADLINE_SECONDS" yaml:"message_deadline_seconds"`
	ShutdownGraceSecs    int `envconfig:"SHUTDOWN_GRACE_SECONDS" yaml:"shutdown_grace_seconds"`
}

// Default returns a config populated with the built-in defaults.
func Default() Config {
	return Config{
		Port:                8080,
		Environment:         "development",
		LogLevel:            "info",
		DBHost:              "localhost",
		DBPort:              5432,
		DBName:              "notifications",
		DBUser:              "postgres",
		SubscriptionTopic:   "notifications",
		DLQTopic:            "notification-dlq",
		EmailImmediateTopic: "email-notifications-immediate",
		EmailDailyTopic:     "email-notifications-daily",
		RealtimeTopic:       "realtime-notifications",
		DedupWindowMinutes:  1440,
		MessageDeadlineSecs: 30,
		ShutdownGraceSecs:   30,
	}
}

// Load builds the configuration: defaults, then the optional YAML file, then
// the environment on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the fields without a usable default are present.
func (c *Config) Validate() error {
	if c.GCPProjectID == "" {
		return fmt.Errorf("GCP_PROJECT_ID is required")
	}
	if c.SubscriptionID == "" {
		return fmt.Errorf("PUBSUB_SUBSCRIPTION is required")
	}
	if c.DedupWindowMinutes <= 0 {
		return fmt.Errorf("DEDUPLICATION_WINDOW_MINUTES must be positive")
	}
	return nil
}

// DatabaseURL renders the pgx connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// DedupWindow returns the deduplication window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMinutes) * time.Minute
}

// MessageDeadline returns the per-message processing deadline.
func (c *Config) MessageDeadline() time.Duration {
	return time.Duration(c.MessageDeadlineSecs) * time.Second
}

// ShutdownGrace returns how long shutdown waits for in-flight messages.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSecs) * time.Second
}

// IsProduction reports whether the worker runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
