package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config/ordersync.yaml"

// Load builds the effective Settings: environment overrides applied to
// defaults, then the YAML document at path layered on top, then validation.
// An empty path falls back to ORDERSYNC_CONFIG and finally to the default
// location; a missing file at the default location is not an error.
func Load(ctx context.Context, path string) (Settings, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("ORDERSYNC_CONFIG"))
		explicit = path != ""
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg := FromEnv()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults plus environment are a complete configuration.
	default:
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.Validate(ctx); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}
