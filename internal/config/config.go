package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, env-expands, defaults, and validates the configuration
// file at path. This is the supervisor's single entry point for
// configuration (spec.md §6, start(configuration)).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses raw YAML bytes through the same expand/default/
// validate pipeline as Load. Exposed separately so tests and embedded
// callers don't need a file on disk.
func LoadFromBytes(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	expanded := expandTree(raw)

	reencoded, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("config: re-encode expanded config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(reencoded, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}
