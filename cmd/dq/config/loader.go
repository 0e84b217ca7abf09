// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string { return filepath.Join(Dir(), "dq.yaml") }

// Load reads, defaults, and validates the configuration.
//
// When path is empty the default location is used and a starter file is
// written on first run. File values overlay DefaultConfig, so a partial
// file is fine.
func Load(path string) (DQConfig, error) {
	if path == "" {
		path = DefaultPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "First run detected, creating the config at %s\n", path)
			if err := createDefault(path); err != nil {
				return DQConfig{}, err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DQConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DQConfig{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return DQConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural constraints the tags declare.
func Validate(cfg DQConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ValidateDrafter checks the drafter section, required only by the draft
// command.
func ValidateDrafter(cfg DQConfig) error {
	if err := validator.New().Struct(cfg.Drafter); err != nil {
		return fmt.Errorf("invalid drafter configuration (set drafter.api_key and drafter.model): %w", err)
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}
