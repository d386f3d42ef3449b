package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// serverConfigFile is the on-disk layout of the plugin server list.
type serverConfigFile struct {
	Servers []ServerConfig `json:"servers"`
}

// LoadServerConfigs reads the server list at path. A missing file is an
// empty list.
func LoadServerConfigs(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read server config: %w", err)
	}

	var file serverConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse server config %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Servers))
	for i := range file.Servers {
		cfg := &file.Servers[i]
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("%s: duplicate server id %q", path, cfg.ID)
		}
		seen[cfg.ID] = true
	}
	return file.Servers, nil
}

// SaveServerConfigs writes the server list to path atomically. Only secret
// names are stored, never their values.
func SaveServerConfigs(path string, cfgs []ServerConfig) error {
	if cfgs == nil {
		cfgs = []ServerConfig{}
	}
	data, err := json.MarshalIndent(serverConfigFile{Servers: cfgs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal server config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mcp_servers-*.json")
	if err != nil {
		return fmt.Errorf("failed to write server config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write server config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write server config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write server config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write server config: %w", err)
	}
	return nil
}
