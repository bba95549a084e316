package main

import (
	"context"
	"fmt"
	"os"

	"github.com/beamlens/beamlens/internal/config"
	"github.com/beamlens/beamlens/internal/store"
	"github.com/beamlens/beamlens/pkg/beamlens"
)

// buildSupervisor loads the configuration at path and constructs a
// Supervisor from it. Persistence is wired from cfg's SQL settings when
// cfg.Persistence.Enabled is set; otherwise baselines live in memory only
// for the process lifetime.
func buildSupervisor(ctx context.Context, path string) (*beamlens.Supervisor, *config.Config, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, nil, fmt.Errorf("load env files: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	var opts []beamlens.Option
	if cfg.Persistence.Enabled {
		persister, err := store.OpenSQLPersister(cfg.Persistence)
		if err != nil {
			return nil, nil, fmt.Errorf("open persistence: %w", err)
		}
		opts = append(opts, beamlens.WithPersister(persister))
	}

	sup, err := beamlens.New(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build supervisor: %w", err)
	}
	return sup, cfg, nil
}

// resolveConfigPath defaults to beamlens.yaml in the working directory,
// mirroring the teacher's DefaultConfigPath convention.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat("beamlens.yaml"); err == nil {
		return "beamlens.yaml"
	}
	return "beamlens.yaml"
}
