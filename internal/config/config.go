package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's full runtime configuration. Every field has a
// working default so an empty file runs a local, HTTP-only engine with
// an in-memory alert store.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Store    StoreConfig    `yaml:"store"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP ingest/ops surface
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// KafkaConfig configures the event consumer and the audit publisher.
// When disabled the daemon runs HTTP-only.
type KafkaConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Brokers     []string       `yaml:"brokers"`
	EventsTopic string         `yaml:"events_topic"`
	AuditTopic  string         `yaml:"audit_topic"`
	Group       string         `yaml:"group"`
	Producer    ProducerConfig `yaml:"producer"`
}

// ProducerConfig tunes the audit publisher's writer pool
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// StoreConfig points at the policy/provider/suppression document. An
// empty file path runs with empty in-memory stores (useful for tests
// and for API-driven setups).
type StoreConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// DispatchConfig tunes per-provider retry and the per-alert deadline
type DispatchConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	AlertDeadline   time.Duration `yaml:"alert_deadline"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// EngineConfig tunes the evaluation worker pool
type EngineConfig struct {
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
	NodeID    string `yaml:"node_id"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a config suitable for local development
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxBodySize:     10 * 1024 * 1024,
			ShutdownTimeout: 10 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:     false,
			Brokers:     []string{"localhost:9092"},
			EventsTopic: "alerts.events",
			AuditTopic:  "alerts.created",
			Group:       "klaxon-engine",
			Producer: ProducerConfig{
				PoolSize:     4,
				BatchSize:    100,
				BatchTimeout: 100 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 250 * time.Millisecond,
			},
		},
		Store: StoreConfig{
			Watch: true,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:     3,
			InitialBackoff:  500 * time.Millisecond,
			MaxBackoff:      10 * time.Second,
			ProviderTimeout: 10 * time.Second,
			AlertDeadline:   60 * time.Second,
			SweepInterval:   time.Minute,
		},
		Engine: EngineConfig{
			Workers:   4,
			QueueSize: 1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validation errors
var (
	ErrNoBrokers      = errors.New("kafka enabled but no brokers configured")
	ErrNoEventsTopic  = errors.New("kafka enabled but events_topic is empty")
	ErrBadWorkerCount = errors.New("engine workers must be positive")
	ErrBadQueueSize   = errors.New("engine queue_size must be positive")
	ErrBadAttempts    = errors.New("dispatch max_attempts must be positive")
)

// Validate checks cross-field consistency
func (c *Config) Validate() error {
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return ErrNoBrokers
		}
		if c.Kafka.EventsTopic == "" {
			return ErrNoEventsTopic
		}
	}
	if c.Engine.Workers <= 0 {
		return ErrBadWorkerCount
	}
	if c.Engine.QueueSize <= 0 {
		return ErrBadQueueSize
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return ErrBadAttempts
	}
	return nil
}
