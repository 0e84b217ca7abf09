// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package warehouse

import (
	"fmt"
	"strings"
)

// Schema is the declared whitelist of tables and columns the accessor may
// touch. Query construction substitutes only identifiers found here; raw
// user text never reaches an identifier position.
type Schema struct {
	Tables []TableSchema `yaml:"tables" json:"tables" validate:"required,min=1,dive"`
}

// TableSchema declares one table.
type TableSchema struct {
	// Name is the table identifier.
	Name string `yaml:"name" json:"name" validate:"required"`

	// PrimaryKey is the column uniquely identifying a record.
	PrimaryKey string `yaml:"primary_key" json:"primary_key" validate:"required"`

	// Columns lists every readable/writable column, including the key.
	Columns []string `yaml:"columns" json:"columns" validate:"required,min=1"`

	// TimestampColumn is the freshness column for timeliness checks.
	// Optional; empty disables staleness detection for the table.
	TimestampColumn string `yaml:"timestamp_column,omitempty" json:"timestamp_column,omitempty"`

	// RequiredColumns are columns that must be populated. Seeding derives
	// completeness null-check rules from them.
	RequiredColumns []string `yaml:"required_columns,omitempty" json:"required_columns,omitempty"`

	// NumericColumns are columns eligible for outlier checks. Seeding
	// derives accuracy z-score rules from them.
	NumericColumns []string `yaml:"numeric_columns,omitempty" json:"numeric_columns,omitempty"`

	// ForeignKeys declare parent references for orphan detection.
	ForeignKeys []ForeignKey `yaml:"foreign_keys,omitempty" json:"foreign_keys,omitempty"`
}

// ForeignKey declares one child column → parent column reference.
type ForeignKey struct {
	Column    string `yaml:"column" json:"column" validate:"required"`
	RefTable  string `yaml:"ref_table" json:"ref_table" validate:"required"`
	RefColumn string `yaml:"ref_column" json:"ref_column" validate:"required"`
}

// Table looks up a table declaration by name (case-insensitive).
func (s Schema) Table(name string) (TableSchema, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TableSchema{}, false
}

// HasColumn reports whether the table declares the given column.
func (t TableSchema) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// ForeignKeyFor returns the declared FK on the given child column.
func (t TableSchema) ForeignKeyFor(column string) (ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if strings.EqualFold(fk.Column, column) {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// resolveTable validates a table name against the schema and returns the
// declaration, or an ErrUnknownIdentifier.
func (s Schema) resolveTable(name string) (TableSchema, error) {
	t, ok := s.Table(name)
	if !ok {
		return TableSchema{}, fmt.Errorf("%w: table %q is not in the schema whitelist", ErrUnknownIdentifier, name)
	}
	return t, nil
}

// resolveColumn validates a column against the table declaration.
func (s Schema) resolveColumn(table TableSchema, column string) error {
	if !table.HasColumn(column) {
		return fmt.Errorf("%w: column %q is not declared on table %q", ErrUnknownIdentifier, column, table.Name)
	}
	return nil
}
