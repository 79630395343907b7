// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Marshal renders cfg as YAML. The Redis password is masked.
func Marshal(cfg AppConfig) ([]byte, error) {
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = "***"
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

// WriteFile writes cfg to path atomically.
func WriteFile(path string, cfg AppConfig) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Parse decodes YAML strictly over the defaults and validates the result.
// Environment variables are not consulted.
func Parse(data []byte) (AppConfig, error) {
	cfg := Default()
	if err := decodeStrict(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}
