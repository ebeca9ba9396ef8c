package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 20*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "FLOW_LOGGER_", cfg.NameMarker)
	assert.Equal(t, "12345678-0001-1000-8000-00805f9b34fb", cfg.FlowUUID)
	assert.Equal(t, 500*time.Millisecond, cfg.RowInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.RefreshInterval)
	assert.Equal(t, 60*time.Second, cfg.GraphWindow)
	assert.Equal(t, 500, cfg.BufferCapacity)
	assert.Equal(t, 256, cfg.EventLogSize)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Empty(t, cfg.MetricsAddr, "metrics endpoint MUST be off by default")
	assert.NoError(t, cfg.Validate(), "defaults MUST validate")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{name: "debug", logLevel: "debug", expected: logrus.DebugLevel},
		{name: "info", logLevel: "info", expected: logrus.InfoLevel},
		{name: "warn", logLevel: "warn", expected: logrus.WarnLevel},
		{name: "garbage falls back to info", logLevel: "loud", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides only the keys it sets", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "flowmon.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nrow_interval: 250ms\nlog_dir: /tmp/flow\nname_marker: METER_\n"), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 250*time.Millisecond, cfg.RowInterval)
		assert.Equal(t, "/tmp/flow", cfg.LogDir)
		assert.Equal(t, "METER_", cfg.NameMarker)
		assert.Equal(t, 500, cfg.BufferCapacity, "unset keys MUST keep their defaults")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("buffer_capacity: 0\noutput_format: xml\n"), 0o600))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "buffer_capacity")
		assert.Contains(t, err.Error(), "output_format")
	})
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{name: "table format is valid", mutate: func(c *Config) { c.OutputFormat = "table" }, valid: true},
		{name: "json format is valid", mutate: func(c *Config) { c.OutputFormat = "json" }, valid: true},
		{name: "unknown format", mutate: func(c *Config) { c.OutputFormat = "xml" }, valid: false},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "chatty" }, valid: false},
		{name: "zero row interval", mutate: func(c *Config) { c.RowInterval = 0 }, valid: false},
		{name: "negative scan timeout", mutate: func(c *Config) { c.ScanTimeout = -time.Second }, valid: false},
		{name: "empty flow uuid", mutate: func(c *Config) { c.FlowUUID = " " }, valid: false},
		{name: "malformed total uuid", mutate: func(c *Config) { c.TotalUUID = "flow-total" }, valid: false},
		{name: "short service uuid", mutate: func(c *Config) { c.ServiceUUID = "180F" }, valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfig_YAML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsAddr = ":9102"
	cfg.RowInterval = 250 * time.Millisecond

	data, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "row_interval: 250ms\n", "durations MUST be written in Go syntax")
	assert.Contains(t, string(data), "graph_window: 1m0s\n")

	path := filepath.Join(t.TempDir(), "flowmon.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded, "printed config MUST load back unchanged")
}
