// Package config holds application configuration, loaded from an optional
// YAML file with library defaults applied first.
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
	LogLevel             string        `yaml:"log_level" default:"info"`
	ScanTimeout          time.Duration `yaml:"scan_timeout" default:"10s"`
	HealthCheckInterval  time.Duration `yaml:"health_check_interval" default:"10s"`
	ReconnectScanTimeout time.Duration `yaml:"reconnect_scan_timeout" default:"3s"`
	ListenAddr           string        `yaml:"listen_addr" default:":8600"`
	DatabasePath         string        `yaml:"database_path" default:"vitalink.db"`
	HintPath             string        `yaml:"hint_path" default:".vitalink-last-device"`
	OutputFormat         string        `yaml:"output_format" default:"table"` // table, json
}

// DefaultConfig returns configuration with all default values applied.
func DefaultConfig() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file over the defaults. A missing path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
