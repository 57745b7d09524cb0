package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Control   ControlConfig   `yaml:"control"`
	Ops       OpsConfig       `yaml:"ops"`
	Downloads DownloadsConfig `yaml:"downloads"`
	Script    ScriptConfig    `yaml:"script"`
	Logging   LogConfig       `envconfig:"LOG" yaml:"logging"`
}

// ControlConfig holds the TCP control channel configuration.
type ControlConfig struct {
	Host string `envconfig:"HOST" default:"127.0.0.1" yaml:"host"`
	// Port 0 means "pick any free port"; the bound port is reported once
	// the listener is active.
	Port int `envconfig:"PORT" default:"0" yaml:"port"`
	// MaxFrameBytes bounds how large a connection's accumulation buffer
	// may grow before a frame delimiter appears. A peer exceeding it is
	// disconnected.
	MaxFrameBytes int `envconfig:"MAX_FRAME_BYTES" default:"1048576" yaml:"max_frame_bytes"`
}

// OpsConfig holds the HTTP ops server configuration (health, metrics,
// WebSocket transport).
type OpsConfig struct {
	Enabled bool   `envconfig:"ENABLED" default:"true" yaml:"enabled"`
	Host    string `envconfig:"HOST" default:"127.0.0.1" yaml:"host"`
	Port    int    `envconfig:"PORT" default:"8090" yaml:"port"`
}

// DownloadsConfig holds download manager configuration.
type DownloadsConfig struct {
	Dir string `envconfig:"DIR" default:"" yaml:"dir"`
	// RequestsPerSecond limits outbound transfer starts; 0 disables the
	// limiter.
	RequestsPerSecond int `envconfig:"RPS" default:"0" yaml:"requests_per_second"`
}

// ScriptConfig holds the script evaluation sandbox configuration.
type ScriptConfig struct {
	TimeoutMS int `envconfig:"TIMEOUT_MS" default:"5000" yaml:"timeout_ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"DEV" default:"false" yaml:"development"`
}

// Load builds configuration from environment variables, applying defaults
// for anything unset.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("QUAHL", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads environment configuration and overlays values from a
// YAML file. File values win over environment values.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in defaults without consulting the
// environment.
func Default() *Config {
	return &Config{
		Control: ControlConfig{
			Host:          "127.0.0.1",
			Port:          0,
			MaxFrameBytes: 1 << 20,
		},
		Ops: OpsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
		},
		Script: ScriptConfig{
			TimeoutMS: 5000,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
