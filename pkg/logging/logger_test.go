// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tc := range tests {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("Level(%d).String() = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "detector",
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("detection started", "table", "customers")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close twice must be safe.
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "detector_") {
		t.Errorf("log file %q does not carry the service prefix", entries[0].Name())
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"table":"customers"`) {
		t.Errorf("file log is not JSON or lost attributes: %s", content)
	}
	if !strings.Contains(content, `"service":"detector"`) {
		t.Errorf("file log missing the service attribute: %s", content)
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "cli",
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("too quiet")
	logger.Info("still too quiet")
	logger.Warn("loud enough")
	logger.Close()

	entries, _ := os.ReadDir(dir)
	data, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	content := string(data)
	if strings.Contains(content, "too quiet") {
		t.Errorf("messages below the minimum level leaked: %s", content)
	}
	if !strings.Contains(content, "loud enough") {
		t.Errorf("warn message was dropped: %s", content)
	}
}

func TestDefault_NeverNil(t *testing.T) {
	logger := Default()
	if logger == nil || logger.Logger == nil {
		t.Fatal("Default returned an unusable logger")
	}
	logger.Info("smoke")
}
