package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ServerConfig describes how to launch one MCP tool server.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ServersFile is the on-disk registry of configured tool servers,
// matching the conventional mcpServers layout so existing server
// definitions can be dropped in unchanged.
type ServersFile struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// LoadServers reads the registry at path. A missing file is an empty
// registry, not an error.
func LoadServers(path string) (*ServersFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ServersFile{Servers: map[string]ServerConfig{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read server registry %s: %w", path, err)
	}
	var f ServersFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse server registry %s: %w", path, err)
	}
	if f.Servers == nil {
		f.Servers = map[string]ServerConfig{}
	}
	return &f, nil
}

// SaveServers rewrites the registry at path.
func SaveServers(path string, f *ServersFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode server registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write server registry %s: %w", path, err)
	}
	return nil
}
