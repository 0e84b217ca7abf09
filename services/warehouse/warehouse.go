// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package warehouse is the tabular Record Store accessor.
//
// The warehouse itself (query planning, storage, atomicity of a single
// write) is an external managed service; this package only builds queries
// from whitelisted identifiers, executes them over database/sql, and maps
// rows to Records. Two drivers are wired: go-sql-driver/mysql for a real
// warehouse and modernc.org/sqlite for local and test use.
//
// # Query Safety
//
// Every identifier that reaches a query is resolved against the Schema
// whitelist first. Raw predicate fragments (the custom-rule escape hatch)
// additionally pass SanitizeFragment. Values always travel as placeholder
// arguments, never as spliced text.
//
// # Concurrency
//
// The accessor is safe for concurrent use; reads share a rate limiter so
// concurrent rule evaluation cannot stampede the remote engine.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianDQ/services/quality"
)

// Record is one row as a mapping of column name to scalar value.
type Record map[string]any

// Config configures the accessor.
type Config struct {
	// Driver is the database/sql driver name: "mysql" or "sqlite".
	Driver string `yaml:"driver" validate:"required,oneof=mysql sqlite"`

	// DSN is the data source name. Given explicitly; the accessor never
	// auto-detects credentials.
	DSN string `yaml:"dsn" validate:"required"`

	// Schema is the identifier whitelist.
	Schema Schema `yaml:"schema"`

	// QueriesPerSecond paces reads. Zero disables pacing.
	QueriesPerSecond float64 `yaml:"queries_per_second"`

	// MaxOpenConns bounds the connection pool. Zero keeps the driver default.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// Accessor executes reads and sanctioned writes against the record store.
type Accessor struct {
	db      *sql.DB
	schema  Schema
	limiter *rate.Limiter
}

// Open connects an Accessor using the given configuration.
//
// # Outputs
//
//   - *Accessor: Ready-to-use accessor. Close it when done.
//   - error: Wrapped as ErrRemoteUnavailable when the store is unreachable.
func Open(cfg Config) (*Accessor, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, quality.NewError(quality.ErrRemoteUnavailable, cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return New(db, cfg), nil
}

// New wraps an existing database handle. Used by tests that manage their
// own connection lifecycle.
func New(db *sql.DB, cfg Config) *Accessor {
	var limiter *rate.Limiter
	if cfg.QueriesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), 1)
	}
	return &Accessor{db: db, schema: cfg.Schema, limiter: limiter}
}

// Schema returns the identifier whitelist the accessor enforces.
func (a *Accessor) Schema() Schema { return a.schema }

// Close releases the underlying connection pool.
func (a *Accessor) Close() error { return a.db.Close() }

// Ping verifies the store is reachable.
func (a *Accessor) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return quality.NewError(quality.ErrRemoteUnavailable, "warehouse", err)
	}
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// ExecuteRead runs a read query with placeholder args and maps every row
// to a Record. The query must have been built by this package's builders;
// ExecuteRead itself does not re-validate identifiers.
func (a *Accessor) ExecuteRead(ctx context.Context, query string, args ...any) ([]Record, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, quality.NewError(quality.ErrRemoteUnavailable, "warehouse", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, quality.NewError(quality.ErrRemoteUnavailable, "warehouse", err)
	}

	var records []Record
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, quality.NewError(quality.ErrRemoteUnavailable, "warehouse", err)
		}
		record := make(Record, len(columns))
		for i, col := range columns {
			record[col] = normalizeValue(values[i])
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, quality.NewError(quality.ErrRemoteUnavailable, "warehouse", err)
	}
	return records, nil
}

// normalizeValue converts driver-specific scan results to the small scalar
// set the workflow handles: string, int64, float64, bool, time, nil.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// =============================================================================
// Query builders
// =============================================================================

// Quote backtick-quotes a schema-resolved identifier for use in a WHERE
// clause handed to SelectWhere or CountRows. Both wired drivers accept
// backtick quoting.
func Quote(ident string) string { return "`" + ident + "`" }

func quoteIdent(ident string) string { return Quote(ident) }

// SelectWhere builds "SELECT cols FROM table WHERE where LIMIT n".
//
// The table and any requested columns must be in the schema; the where
// clause is caller-built from resolved identifiers and placeholders.
// Empty cols selects every declared column. limit <= 0 omits the clause.
func (a *Accessor) SelectWhere(table string, cols []string, where string, limit int) (string, error) {
	t, err := a.schema.resolveTable(table)
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		cols = t.Columns
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		if err := a.schema.resolveColumn(t, c); err != nil {
			return "", err
		}
		quoted[i] = quoteIdent(c)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(quoted, ", "), quoteIdent(t.Name))
	if where != "" {
		fmt.Fprintf(&sb, " WHERE %s", where)
	}
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String(), nil
}

// FetchRecord reads one full record by primary key. Returns ErrNotFound
// when no row matches.
func (a *Accessor) FetchRecord(ctx context.Context, table, key string) (Record, error) {
	t, err := a.schema.resolveTable(table)
	if err != nil {
		return nil, err
	}
	query, err := a.SelectWhere(table, nil, quoteIdent(t.PrimaryKey)+" = ?", 1)
	if err != nil {
		return nil, err
	}
	records, err := a.ExecuteRead(ctx, query, key)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, quality.NewError(quality.ErrNotFound, table+"/"+key, nil)
	}
	return records[0], nil
}

// CountRows counts the scoped rows of a table.
func (a *Accessor) CountRows(ctx context.Context, table, where string, args ...any) (int64, error) {
	t, err := a.schema.resolveTable(table)
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) AS n FROM " + quoteIdent(t.Name)
	if where != "" {
		query += " WHERE " + where
	}
	records, err := a.ExecuteRead(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return toInt64(records[0]["n"]), nil
}

// ColumnValues reads the primary key and one column for every scoped row
// where the column is non-null. Used by the client-side heuristics
// (validity matching, z-score, staleness).
func (a *Accessor) ColumnValues(ctx context.Context, table, column, where string, limit int, args ...any) ([]Record, error) {
	t, err := a.schema.resolveTable(table)
	if err != nil {
		return nil, err
	}
	if err := a.schema.resolveColumn(t, column); err != nil {
		return nil, err
	}
	notNull := quoteIdent(column) + " IS NOT NULL"
	if where != "" {
		notNull = "(" + where + ") AND " + notNull
	}
	query, err := a.SelectWhere(table, []string{t.PrimaryKey, column}, notNull, limit)
	if err != nil {
		return nil, err
	}
	return a.ExecuteRead(ctx, query, args...)
}

// Aggregate computes "mean" (AVG) or "mode" (most frequent value) of a
// column over the table's non-null rows, through the read path.
func (a *Accessor) Aggregate(ctx context.Context, table, column, kind string) (any, error) {
	t, err := a.schema.resolveTable(table)
	if err != nil {
		return nil, err
	}
	if err := a.schema.resolveColumn(t, column); err != nil {
		return nil, err
	}
	var query string
	switch kind {
	case "mean":
		query = fmt.Sprintf("SELECT AVG(%s) AS v FROM %s WHERE %s IS NOT NULL",
			quoteIdent(column), quoteIdent(t.Name), quoteIdent(column))
	case "mode":
		query = fmt.Sprintf("SELECT %s AS v FROM %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY COUNT(*) DESC LIMIT 1",
			quoteIdent(column), quoteIdent(t.Name), quoteIdent(column), quoteIdent(column))
	default:
		return nil, quality.NewError(quality.ErrValidation, table, fmt.Errorf("unknown aggregate %q", kind))
	}
	records, err := a.ExecuteRead(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0]["v"], nil
}

// =============================================================================
// Sanctioned writes
// =============================================================================

// ExecuteWrite runs a write statement built by UpdateField, DeleteRecord,
// or InsertRecord and returns the affected row count.
func (a *Accessor) ExecuteWrite(ctx context.Context, statement string, args ...any) (int64, error) {
	result, err := a.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, quality.NewError(quality.ErrRemoteUnavailable, "warehouse", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, quality.NewError(quality.ErrRemoteUnavailable, "warehouse", err)
	}
	return affected, nil
}

// UpdateField writes one field of one record.
//
// This is the only UPDATE shape the core may issue.
func (a *Accessor) UpdateField(ctx context.Context, table, key, field string, value any) (int64, error) {
	t, err := a.schema.resolveTable(table)
	if err != nil {
		return 0, err
	}
	if err := a.schema.resolveColumn(t, field); err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
		quoteIdent(t.Name), quoteIdent(field), quoteIdent(t.PrimaryKey))
	return a.ExecuteWrite(ctx, stmt, value, key)
}

// DeleteRecord removes one record by primary key.
func (a *Accessor) DeleteRecord(ctx context.Context, table, key string) (int64, error) {
	t, err := a.schema.resolveTable(table)
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(t.Name), quoteIdent(t.PrimaryKey))
	return a.ExecuteWrite(ctx, stmt, key)
}

// InsertRecord re-creates a record from a snapshot. Only rollback of a
// delete_record patch uses this shape.
func (a *Accessor) InsertRecord(ctx context.Context, table string, record Record) (int64, error) {
	t, err := a.schema.resolveTable(table)
	if err != nil {
		return 0, err
	}
	var cols []string
	var args []any
	for _, c := range t.Columns {
		if v, ok := record[c]; ok {
			cols = append(cols, c)
			args = append(args, v)
		}
	}
	if len(cols) == 0 {
		return 0, quality.NewError(quality.ErrValidation, table, fmt.Errorf("snapshot has no schema columns"))
	}
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		placeholders[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(t.Name), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return a.ExecuteWrite(ctx, stmt, args...)
}

// toInt64 coerces a COUNT(*) scan result across drivers.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var parsed int64
		fmt.Sscanf(n, "%d", &parsed)
		return parsed
	default:
		return 0
	}
}
