package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/okralabs/uiheal/drift"
	"github.com/okralabs/uiheal/heal"
)

// Config holds daemon configuration.
type Config struct {
	Addr     string       `yaml:"addr"`
	DBPath   string       `yaml:"db_path"`
	LogLevel string       `yaml:"log_level"`
	Heal     heal.Config  `yaml:"heal"`
	Drift    drift.Config `yaml:"drift"`
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.Addr == "" {
		c.Addr = ":8086"
	}
	if c.DBPath == "" {
		c.DBPath = "uiheal.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// LoadConfigFile reads a YAML config file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("service: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("service: parse config: %w", err)
	}
	cfg.Defaults()
	return cfg, nil
}
