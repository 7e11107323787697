// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	Inspection InspectionConfig `mapstructure:"inspection"`
	Events     EventsConfig     `mapstructure:"events"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// KubernetesConfig controls cluster access.
type KubernetesConfig struct {
	Namespace  string `mapstructure:"namespace"`
	Kubeconfig string `mapstructure:"kubeconfig"`
}

// InspectionConfig governs workflow targets and resource defaults.
type InspectionConfig struct {
	BuildTarget          string `mapstructure:"build_target"`
	RunTarget            string `mapstructure:"run_target"`
	DefaultCPURequest    string `mapstructure:"default_cpu_request"`
	DefaultMemoryRequest string `mapstructure:"default_memory_request"`
	ScriptTimeoutSeconds int    `mapstructure:"script_timeout_seconds"`
}

// EventsConfig selects the inspection audit trail backend.
type EventsConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// PublisherConfig selects the lifecycle event publisher.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSPECTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("kubernetes.namespace", "inspectd")
	v.SetDefault("inspection.build_target", "inspection-build")
	v.SetDefault("inspection.run_target", "inspection-run-result")
	v.SetDefault("inspection.default_cpu_request", "500m")
	v.SetDefault("inspection.default_memory_request", "256Mi")
	v.SetDefault("inspection.script_timeout_seconds", 15)
	v.SetDefault("events.provider", "noop")
	v.SetDefault("events.table", "inspection_events")
	v.SetDefault("publisher.provider", "noop")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.TimeoutSeconds <= 0 {
		return fmt.Errorf("server.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Kubernetes.Namespace == "" {
		return fmt.Errorf("kubernetes.namespace must be set")
	}
	if c.Inspection.BuildTarget == "" || c.Inspection.RunTarget == "" {
		return fmt.Errorf("inspection.build_target and inspection.run_target must be set")
	}
	switch c.Events.Provider {
	case "noop":
	case "postgres":
		if c.Events.DSN == "" {
			return fmt.Errorf("events.dsn must be set when events.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown events provider %q", c.Events.Provider)
	}
	switch c.Publisher.Provider {
	case "noop", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.TopicName == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_name must be set when publisher.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher provider %q", c.Publisher.Provider)
	}
	return nil
}
