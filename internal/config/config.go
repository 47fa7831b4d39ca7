// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from
// switchboard.yaml.
type Config struct {
	Owner     string          `yaml:"owner"`
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	Responder ResponderConfig `yaml:"responder"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scorer    ScorerConfig    `yaml:"scorer"`
	Janitor   JanitorConfig   `yaml:"janitor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port          int `yaml:"port"`
	ActivePollMS  int `yaml:"active_poll_ms"`
	IdlePollMS    int `yaml:"idle_poll_ms"`
}

// DBConfig holds connection settings for the MySQL-compatible SQL server.
type DBConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// ResponderConfig configures the external responder subprocess.
type ResponderConfig struct {
	Binary  string        `yaml:"binary"`
	WorkDir string        `yaml:"work_dir"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig configures the subprocess that executes pipeline phases.
type PipelineConfig struct {
	Binary  string `yaml:"binary"`
	WorkDir string `yaml:"work_dir"`
}

// ScorerConfig configures the readiness scorer subprocess. An empty binary
// disables recomputation; readiness reads serve the last stored snapshot.
type ScorerConfig struct {
	Binary  string `yaml:"binary"`
	WorkDir string `yaml:"work_dir"`
}

// JanitorConfig configures the stale-processing watchdog.
type JanitorConfig struct {
	Cron         string        `yaml:"cron"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ActivePollMS == 0 {
		c.Server.ActivePollMS = 750
	}
	if c.Server.IdlePollMS == 0 {
		c.Server.IdlePollMS = 2000
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" && c.Owner != "" {
		c.DB.Database = "switchboard_" + c.Owner
	}
	if c.Responder.Timeout == 0 {
		c.Responder.Timeout = 5 * time.Minute
	}
	if c.Pipeline.Binary == "" {
		c.Pipeline.Binary = "make"
	}
	if c.Janitor.Cron == "" {
		c.Janitor.Cron = "* * * * *"
	}
	if c.Janitor.StallTimeout == 0 {
		c.Janitor.StallTimeout = 10 * time.Minute
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Owner == "" {
		errs = append(errs, "owner is required")
	}
	if c.Server.ActivePollMS > c.Server.IdlePollMS {
		errs = append(errs, "server.active_poll_ms must not exceed server.idle_poll_ms")
	}
	if c.Janitor.StallTimeout < time.Minute {
		errs = append(errs, "janitor.stall_timeout must be at least 1m")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
