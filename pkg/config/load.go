package config

import (
	"fmt"
	"path/filepath"
)

// NewProvider opens the configuration source at path with the named backend, "yaml"
// or "sqlite".
func NewProvider(path, backend string) (ConfigProvider, error) {
	filename, _ := filepath.Abs(path)

	switch backend {
	case "yaml":
		return NewYAMLProvider(filename), nil
	case "sqlite":
		provider, err := NewSQLiteProvider(filename)
		if err != nil {
			return nil, fmt.Errorf("error creating SQLite provider: %w", err)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported configuration backend: %s. Use 'yaml' or 'sqlite'", backend)
	}
}

// Load reads and validates the configuration stored at path.
func Load(path, backend string) (*ConfigData, error) {
	provider, err := NewProvider(path, backend)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	cfg, err := provider.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error reading config file. Did you pass the -config flag? Run with -h for help: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
