// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the dq CLI configuration file.
package config

import (
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianDQ/pkg/logging"
	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality/detect"
	"github.com/AleutianAI/AleutianDQ/services/quality/metrics"
	"github.com/AleutianAI/AleutianDQ/services/rules"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

// LoggingConfig is the YAML-facing logging section. Logging() converts it
// to the logging package's Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// Logging builds the runtime logging configuration.
func (c LoggingConfig) Logging(service string) logging.Config {
	return logging.Config{
		Level:   logging.ParseLevel(c.Level),
		LogDir:  c.Dir,
		Service: service,
		JSON:    c.JSON,
		Quiet:   c.Quiet,
	}
}

// DQConfig is the full configuration tree, one section per component.
type DQConfig struct {
	// Logging: where and how verbosely the CLI logs.
	Logging LoggingConfig `yaml:"logging"`

	// Warehouse: the record store under inspection.
	Warehouse warehouse.Config `yaml:"warehouse" validate:"required"`

	// History: the embedded workflow store.
	History history.Config `yaml:"history"`

	// Detect: detection tuning.
	Detect detect.Config `yaml:"detect" validate:"-"`

	// Metrics: scoring cut points and the ROI cost model.
	Metrics metrics.Config `yaml:"metrics" validate:"-"`

	// Drafter: the optional AI rule drafter. Validated only when the
	// draft command is used.
	Drafter rules.DrafterConfig `yaml:"drafter" validate:"-"`
}

// Dir returns the dq home directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".aleutian_dq")
}

// DefaultConfig returns a runnable local configuration with a sample
// schema, written on first run for the operator to edit.
func DefaultConfig() DQConfig {
	return DQConfig{
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(Dir(), "logs"),
		},
		Warehouse: warehouse.Config{
			Driver:           "sqlite",
			DSN:              filepath.Join(Dir(), "warehouse.db"),
			QueriesPerSecond: 50,
			Schema: warehouse.Schema{Tables: []warehouse.TableSchema{
				{
					Name:            "customers",
					PrimaryKey:      "id",
					Columns:         []string{"id", "email", "dob", "balance", "updated_at"},
					TimestampColumn: "updated_at",
					RequiredColumns: []string{"email"},
					NumericColumns:  []string{"balance"},
				},
			}},
		},
		History: history.Config{Dir: filepath.Join(Dir(), "history")},
		Detect:  detect.DefaultConfig(),
		Metrics: metrics.DefaultConfig(),
		Drafter: rules.DrafterConfig{Model: "gpt-4o-mini"},
	}
}
