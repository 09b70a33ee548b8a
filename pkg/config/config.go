// Package config holds application configuration with defaults and
// optional YAML file loading.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	LogLevel           string        `yaml:"log_level" default:"info"`
	DeviceAddress      string        `yaml:"device_address"`
	CharacteristicUUID string        `yaml:"characteristic_uuid"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"30s"`
	EventBuffer        int           `yaml:"event_buffer" default:"256"`
	OutputFormat       string        `yaml:"output_format" default:"text"` // text, json
}

// Default returns the configuration defaults.
func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks field values that cannot be checked at parse time.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch c.OutputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid output format %q (must be text or json)", c.OutputFormat)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event buffer must be > 0, got %d", c.EventBuffer)
	}
	return nil
}

// NewLogger creates a logger configured from the config.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
