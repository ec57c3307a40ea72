package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "alerts.events", cfg.Kafka.EventsTopic)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 4, cfg.Engine.Workers)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
dispatch:
  max_attempts: 5
  initial_backoff: 250ms
engine:
  workers: 8
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.InitialBackoff)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, "alerts.events", cfg.Kafka.EventsTopic)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.AlertDeadline)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/no/such/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil
	assert.ErrorIs(t, cfg.Validate(), ErrNoBrokers)

	cfg = Default()
	cfg.Kafka.Enabled = true
	cfg.Kafka.EventsTopic = ""
	assert.ErrorIs(t, cfg.Validate(), ErrNoEventsTopic)

	cfg = Default()
	cfg.Engine.Workers = 0
	assert.ErrorIs(t, cfg.Validate(), ErrBadWorkerCount)

	cfg = Default()
	cfg.Engine.QueueSize = -1
	assert.ErrorIs(t, cfg.Validate(), ErrBadQueueSize)

	cfg = Default()
	cfg.Dispatch.MaxAttempts = 0
	assert.ErrorIs(t, cfg.Validate(), ErrBadAttempts)
}
