// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package warehouse

import (
	"errors"
	"testing"
)

func testTable() TableSchema {
	return TableSchema{
		Name:       "customers",
		PrimaryKey: "id",
		Columns:    []string{"id", "email", "dob", "balance", "updated_at"},
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		wantErr bool
	}{
		{"simple", "customers", false},
		{"underscored", "updated_at", false},
		{"mixed case", "CustomerID", false},
		{"empty", "", true},
		{"leading digit", "1table", true},
		{"space", "drop table", true},
		{"quote", `a"b`, true},
		{"semicolon", "id;", true},
		{"dash", "my-table", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeIdentifier(tt.ident)
			if tt.wantErr {
				if !errors.Is(err, ErrBadIdentifier) {
					t.Fatalf("SanitizeIdentifier(%q) error = %v, want ErrBadIdentifier", tt.ident, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizeIdentifier(%q) unexpected error: %v", tt.ident, err)
			}
			if got != tt.ident {
				t.Errorf("SanitizeIdentifier(%q) = %q, want identity", tt.ident, got)
			}
		})
	}
}

func TestSanitizeFragment(t *testing.T) {
	table := testTable()
	tests := []struct {
		name     string
		fragment string
		wantErr  bool
	}{
		{"null check", "email IS NULL", false},
		{"compound", "balance > 100 AND email IS NOT NULL", false},
		{"string literal", "email LIKE '%@example.com'", false},
		{"between", "balance BETWEEN 0 AND 1000", false},
		{"empty", "   ", true},
		{"semicolon injection", "id = 1; DROP TABLE customers", true},
		{"comment", "id = 1 -- hide", true},
		{"block comment", "id = 1 /* x */", true},
		{"union subquery", "id IN (SELECT id FROM secrets)", true},
		{"delete keyword", "DELETE FROM customers", true},
		{"unknown column", "password IS NULL", true},
		{"keyword inside literal still rejected", "email = 'drop by later'", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeFragment(tt.fragment, table)
			if tt.wantErr {
				if !errors.Is(err, ErrForbiddenFragment) {
					t.Fatalf("SanitizeFragment(%q) error = %v, want ErrForbiddenFragment", tt.fragment, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizeFragment(%q) unexpected error: %v", tt.fragment, err)
			}
			if got == "" {
				t.Errorf("SanitizeFragment(%q) returned empty fragment", tt.fragment)
			}
		})
	}
}

func TestSchemaResolution(t *testing.T) {
	schema := Schema{Tables: []TableSchema{testTable()}}

	if _, err := schema.resolveTable("customers"); err != nil {
		t.Fatalf("resolveTable(customers) = %v", err)
	}
	if _, err := schema.resolveTable("CUSTOMERS"); err != nil {
		t.Errorf("resolveTable should be case-insensitive, got %v", err)
	}
	if _, err := schema.resolveTable("orders"); !errors.Is(err, ErrUnknownIdentifier) {
		t.Errorf("resolveTable(orders) error = %v, want ErrUnknownIdentifier", err)
	}

	table, _ := schema.Table("customers")
	if err := schema.resolveColumn(table, "email"); err != nil {
		t.Errorf("resolveColumn(email) = %v", err)
	}
	if err := schema.resolveColumn(table, "ssn"); !errors.Is(err, ErrUnknownIdentifier) {
		t.Errorf("resolveColumn(ssn) error = %v, want ErrUnknownIdentifier", err)
	}
}
