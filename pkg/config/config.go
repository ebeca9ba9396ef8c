package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/flowmon/internal/device"
)

// Config holds application configuration
type Config struct {
	LogLevel        string        `yaml:"log_level" default:"info"`
	ScanTimeout     time.Duration `yaml:"scan_timeout" default:"5s"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"20s"`
	NameMarker      string        `yaml:"name_marker" default:"FLOW_LOGGER_"`
	ServiceUUID     string        `yaml:"service_uuid" default:"12345678-0000-1000-8000-00805f9b34fb"`
	FlowUUID        string        `yaml:"flow_uuid" default:"12345678-0001-1000-8000-00805f9b34fb"`
	TotalUUID       string        `yaml:"total_uuid" default:"12345678-0002-1000-8000-00805f9b34fb"`
	LogDir          string        `yaml:"log_dir" default:"."`
	RowInterval     time.Duration `yaml:"row_interval" default:"500ms"`
	RefreshInterval time.Duration `yaml:"refresh_interval" default:"100ms"`
	GraphWindow     time.Duration `yaml:"graph_window" default:"60s"`
	BufferCapacity  int           `yaml:"buffer_capacity" default:"500"`
	EventLogSize    int           `yaml:"event_log_size" default:"256"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	OutputFormat    string        `yaml:"output_format" default:"table"` // table, json
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file on top of the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch strings.ToLower(c.OutputFormat) {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output_format: unsupported format %q", c.OutputFormat))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"scan_timeout", c.ScanTimeout},
		{"connect_timeout", c.ConnectTimeout},
		{"row_interval", c.RowInterval},
		{"refresh_interval", c.RefreshInterval},
		{"graph_window", c.GraphWindow},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", d.name, d.d))
		}
	}

	if c.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("buffer_capacity: must be positive, got %d", c.BufferCapacity))
	}
	if c.EventLogSize <= 0 {
		errs = append(errs, fmt.Errorf("event_log_size: must be positive, got %d", c.EventLogSize))
	}
	uuids := []struct{ name, uuid string }{
		{"service_uuid", c.ServiceUUID},
		{"flow_uuid", c.FlowUUID},
		{"total_uuid", c.TotalUUID},
	}
	for _, u := range uuids {
		if _, err := device.ValidateUUID(u.uuid); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.name, err))
		}
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

var durationType = reflect.TypeOf(time.Duration(0))

// YAML encodes the config as a loadable file, with durations written as "5s"
// rather than nanoseconds.
func (c *Config) YAML() ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(c); err != nil {
		return nil, err
	}

	durations := make(map[string]time.Duration)
	v := reflect.ValueOf(*c)
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if f.Type == durationType {
			key, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			durations[key] = time.Duration(v.Field(i).Int())
		}
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if d, ok := durations[doc.Content[i].Value]; ok {
			doc.Content[i+1].SetString(d.String())
		}
	}

	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
