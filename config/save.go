package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/thomasbaden/observable/internal/log"
)

// Save writes cfg to path as YAML, replacing any existing file.
// Comments from DefaultConfigTemplate are not preserved.
func Save(configPath string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to save config", err, "path", configPath)
		return fmt.Errorf("writing config: %w", err)
	}

	log.Debug(log.CatConfig, "Config saved", "path", configPath)
	return nil
}
