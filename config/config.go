// Package config defines the Steward application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Steward configuration.
type Config struct {
	Leader      ModelConfig `json:"leader" yaml:"leader"`
	Worker      ModelConfig `json:"worker" yaml:"worker"`
	DataDir     string      `json:"data_dir" yaml:"data_dir"`
	ServersFile string      `json:"servers_file,omitempty" yaml:"servers_file"` // MCP server registry
	LogLevel    string      `json:"log_level" yaml:"log_level"`
	MaxParallel int         `json:"max_parallel" yaml:"max_parallel"` // worker pool width, 1-5
}

// ModelConfig selects a provider endpoint for one agent tier. APIKeyEnv
// names the environment variable holding the credential; the key itself
// never lives in the config file.
type ModelConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url"`
	Model     string `json:"model" yaml:"model"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
}

// APIKey resolves the credential from the environment.
func (m ModelConfig) APIKey() (string, error) {
	key := os.Getenv(m.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("credential %s is not set", m.APIKeyEnv)
	}
	return key, nil
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	leader := ModelConfig{
		BaseURL:   "https://api.openai.com/v1",
		Model:     "gpt-4o",
		APIKeyEnv: "OPENAI_API_KEY",
	}
	worker := leader
	worker.Model = "gpt-4o-mini"
	return &Config{
		Leader:      leader,
		Worker:      worker,
		DataDir:     "./.steward",
		LogLevel:    "info",
		MaxParallel: 3,
	}
}

// Load reads a YAML config file and returns the parsed configuration.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks the invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Leader.Model == "" || c.Worker.Model == "" {
		return fmt.Errorf("leader and worker models must be set")
	}
	if c.MaxParallel < 1 || c.MaxParallel > 5 {
		return fmt.Errorf("max_parallel must be between 1 and 5, got %d", c.MaxParallel)
	}
	return nil
}

// ServersPath returns the MCP server registry location, defaulting to
// servers.json under the data directory.
func (c *Config) ServersPath() string {
	if c.ServersFile != "" {
		return c.ServersFile
	}
	return filepath.Join(c.DataDir, "servers.json")
}
