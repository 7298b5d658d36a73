// Package config holds the service-level configuration: where to listen,
// where runs are archived, how to log, and which run config to load.
// Strategy and backtest parameters live in the run config (engine package).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// YAMLConfig is the on-disk service configuration.
type YAMLConfig struct {
	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"log"`

	Data struct {
		Range    string `yaml:"range"`
		Interval string `yaml:"interval"`
	} `yaml:"data"`

	Run struct {
		Path string `yaml:"path"`
	} `yaml:"run"`
}

// Config is the resolved service configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	StoragePath string

	LogLevel  string
	LogFormat string

	DataRange    string
	DataInterval string

	// RunConfigPath points at the strategy/backtest YAML; empty means the
	// builtin defaults.
	RunConfigPath string
}

// DefaultConfig matches a single-user local deployment.
var DefaultConfig = Config{
	Port:         19528,
	StoragePath:  "tfmr_runs.db",
	LogLevel:     "info",
	LogFormat:    "text",
	DataRange:    "25y",
	DataInterval: "1wk",
}

// LoadFromFile reads a YAML service config and overlays it on the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var yc YAMLConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := DefaultConfig
	if yc.Server.Port > 0 {
		cfg.Port = yc.Server.Port
	}
	if len(yc.Server.CORSOrigins) > 0 {
		cfg.CORSOrigins = yc.Server.CORSOrigins
	}
	if yc.Storage.Path != "" {
		cfg.StoragePath = yc.Storage.Path
	}
	if yc.Log.Level != "" {
		cfg.LogLevel = yc.Log.Level
	}
	if yc.Log.Format != "" {
		cfg.LogFormat = yc.Log.Format
	}
	if yc.Data.Range != "" {
		cfg.DataRange = yc.Data.Range
	}
	if yc.Data.Interval != "" {
		cfg.DataInterval = yc.Data.Interval
	}
	if yc.Run.Path != "" {
		cfg.RunConfigPath = yc.Run.Path
	}
	return &cfg, nil
}

// GetConfig resolves configuration with precedence env > file > defaults.
// A .env file in the working directory is honored.
func GetConfig(configPath string) *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig
	if configPath != "" {
		if loaded, err := LoadFromFile(configPath); err == nil {
			cfg = *loaded
		} else {
			fmt.Fprintf(os.Stderr, "warning: cannot load config %s: %v\n", configPath, err)
		}
	}

	if v := os.Getenv("TFMR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if v := os.Getenv("TFMR_DB"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("TFMR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TFMR_RUN_CONFIG"); v != "" {
		cfg.RunConfigPath = v
	}
	return &cfg
}

// NewLogger builds the process logger from the config. Unknown levels fall
// back to info.
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
