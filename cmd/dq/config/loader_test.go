// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestLoad_PartialFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
warehouse:
  driver: mysql
  dsn: "user:pass@tcp(db:3306)/prod"
  schema:
    tables:
      - name: orders
        primary_key: order_id
        columns: [order_id, total, placed_at]
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Warehouse.Driver)
	require.Len(t, cfg.Warehouse.Schema.Tables, 1)
	assert.Equal(t, "orders", cfg.Warehouse.Schema.Tables[0].Name)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 4, cfg.Detect.Concurrency)
	assert.Equal(t, "75", cfg.Metrics.HourlyRate)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
warehouse:
  driver: postgres
  dsn: "whatever"
  schema:
    tables:
      - name: orders
        primary_key: id
        columns: [id]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsEmptySchema(t *testing.T) {
	path := writeConfig(t, `
warehouse:
  driver: sqlite
  dsn: "dq.db"
`)
	cfg := DefaultConfig()
	cfg.Warehouse.Schema.Tables = nil
	assert.Error(t, Validate(cfg))

	// A file that never sets the schema still validates: the default
	// sample schema stands in.
	_, err := Load(path)
	assert.NoError(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateDrafter(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, ValidateDrafter(cfg), "default config carries no API key")

	cfg.Drafter.APIKey = "sk-test"
	cfg.Drafter.Model = "gpt-4o-mini"
	assert.NoError(t, ValidateDrafter(cfg))
}
