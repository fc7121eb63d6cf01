// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Fleet    FleetConfig    `mapstructure:"fleet"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Store    StoreConfig    `mapstructure:"store"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Targets  []GroupConfig  `mapstructure:"targets"`
}

// ServerConfig controls the HTTP status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FleetConfig governs proxy fleet provisioning.
type FleetConfig struct {
	Regions           []string `mapstructure:"regions"`
	SubmitConcurrency int      `mapstructure:"submit_concurrency"`
	ChunkDelayMs      int      `mapstructure:"chunk_delay_ms"`
	ReadyTimeoutSec   int      `mapstructure:"ready_timeout_seconds"`
	PollIntervalSec   int      `mapstructure:"poll_interval_seconds"`
	ProxyPort         int      `mapstructure:"proxy_port"`
	StatePath         string   `mapstructure:"state_path"`
}

// RetryConfig configures transient-error retry behavior for cloud calls.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// QueueConfig governs the priority overlay.
type QueueConfig struct {
	ThrottleSec int `mapstructure:"throttle_seconds"`
	BaseLimit   int `mapstructure:"base_limit"`
}

// WorkerConfig paces the poll loop.
type WorkerConfig struct {
	ExecTimeoutSec int `mapstructure:"exec_timeout_seconds"`
	ItemDelayMs    int `mapstructure:"item_delay_ms"`
	IdleDelayMs    int `mapstructure:"idle_delay_ms"`
}

// ExecutorConfig selects and configures the page executor.
type ExecutorConfig struct {
	// Kind is "browser" (headless Chrome) or "probe" (plain HTTP).
	Kind                string `mapstructure:"kind"`
	UserAgent           string `mapstructure:"user_agent"`
	ContainerSelector   string `mapstructure:"container_selector"`
	SlotsSelector       string `mapstructure:"slots_selector"`
	PurchasableSelector string `mapstructure:"purchasable_selector"`
	ListedSelector      string `mapstructure:"listed_selector"`
}

// StoreConfig selects the observation store backend.
type StoreConfig struct {
	// Kind is "file", "postgres", or "memory".
	Kind string   `mapstructure:"kind"`
	Dir  string   `mapstructure:"dir"`
	DB   DBConfig `mapstructure:"db"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// CaptureConfig selects the diagnostic snapshot store.
type CaptureConfig struct {
	// Kind is "local", "gcs", "memory", or "off".
	Kind        string `mapstructure:"kind"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// GroupConfig is one grouping key and its ordered target URLs.
type GroupConfig struct {
	Group string   `mapstructure:"group"`
	URLs  []string `mapstructure:"urls"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLEETPOLLER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("fleet.regions", []string{"us-east-1", "us-west-2", "eu-west-1"})
	v.SetDefault("fleet.submit_concurrency", 5)
	v.SetDefault("fleet.chunk_delay_ms", 1000)
	v.SetDefault("fleet.ready_timeout_seconds", 300)
	v.SetDefault("fleet.poll_interval_seconds", 5)
	v.SetDefault("fleet.proxy_port", 8888)
	v.SetDefault("fleet.state_path", "state/fleet.json")
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.base_delay_ms", 1500)
	v.SetDefault("retry.max_delay_ms", 15000)
	v.SetDefault("queue.throttle_seconds", 30)
	v.SetDefault("queue.base_limit", 5)
	v.SetDefault("worker.exec_timeout_seconds", 30)
	v.SetDefault("worker.item_delay_ms", 500)
	v.SetDefault("worker.idle_delay_ms", 200)
	v.SetDefault("executor.kind", "browser")
	v.SetDefault("executor.user_agent", "fleetpoller/0.1")
	v.SetDefault("executor.container_selector", "")
	v.SetDefault("executor.slots_selector", "")
	v.SetDefault("store.kind", "file")
	v.SetDefault("store.dir", "state/observations")
	v.SetDefault("store.db.table", "observations")
	v.SetDefault("capture.kind", "local")
	v.SetDefault("capture.base_dir", "state/captures")
	v.SetDefault("capture.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Fleet.Regions) == 0 {
		return fmt.Errorf("fleet.regions must not be empty")
	}
	if c.Fleet.ProxyPort <= 0 {
		return fmt.Errorf("fleet.proxy_port must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Worker.ExecTimeoutSec <= 0 {
		return fmt.Errorf("worker.exec_timeout_seconds must be > 0")
	}
	switch c.Executor.Kind {
	case "browser", "probe":
	default:
		return fmt.Errorf("executor.kind must be browser or probe, got %q", c.Executor.Kind)
	}
	switch c.Store.Kind {
	case "file", "memory":
	case "postgres":
		if c.Store.DB.DSN == "" {
			return fmt.Errorf("store.db.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("store.kind must be file, postgres, or memory, got %q", c.Store.Kind)
	}
	switch c.Capture.Kind {
	case "local", "memory", "off":
	case "gcs":
		if c.Capture.GCSBucket == "" {
			return fmt.Errorf("capture.gcs_bucket is required for the gcs capture store")
		}
	default:
		return fmt.Errorf("capture.kind must be local, gcs, memory, or off, got %q", c.Capture.Kind)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	for _, group := range c.Targets {
		if group.Group == "" {
			return fmt.Errorf("every target group needs a group key")
		}
		if len(group.URLs) == 0 {
			return fmt.Errorf("target group %q has no urls", group.Group)
		}
	}
	return nil
}

// ChunkDelay converts the ms knob to a duration.
func (c FleetConfig) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMs) * time.Millisecond
}

// ReadyTimeout converts the seconds knob to a duration.
func (c FleetConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutSec) * time.Second
}

// PollInterval converts the seconds knob to a duration.
func (c FleetConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// BaseDelay converts the ms knob to a duration.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay converts the ms knob to a duration.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// Throttle converts the seconds knob to a duration.
func (c QueueConfig) Throttle() time.Duration {
	return time.Duration(c.ThrottleSec) * time.Second
}

// ExecTimeout converts the seconds knob to a duration.
func (c WorkerConfig) ExecTimeout() time.Duration {
	return time.Duration(c.ExecTimeoutSec) * time.Second
}

// ItemDelay converts the ms knob to a duration.
func (c WorkerConfig) ItemDelay() time.Duration {
	return time.Duration(c.ItemDelayMs) * time.Millisecond
}

// IdleDelay converts the ms knob to a duration.
func (c WorkerConfig) IdleDelay() time.Duration {
	return time.Duration(c.IdleDelayMs) * time.Millisecond
}
