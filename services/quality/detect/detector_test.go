// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package detect

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/rules"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

var testNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *sql.DB
	store    *warehouse.Accessor
	rules    *rules.Store
	history  *history.Store
	detector *Detector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "wh.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, stmt := range []string{
		`CREATE TABLE regions (id TEXT PRIMARY KEY, name TEXT)`,
		`CREATE TABLE customers (
			id TEXT PRIMARY KEY, email TEXT, dob TEXT,
			balance REAL, region_id TEXT, updated_at TEXT)`,
		`INSERT INTO regions VALUES ('r1', 'west')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	schema := warehouse.Schema{Tables: []warehouse.TableSchema{
		{
			Name:            "customers",
			PrimaryKey:      "id",
			Columns:         []string{"id", "email", "dob", "balance", "region_id", "updated_at"},
			TimestampColumn: "updated_at",
			ForeignKeys: []warehouse.ForeignKey{
				{Column: "region_id", RefTable: "regions", RefColumn: "id"},
			},
		},
		{Name: "regions", PrimaryKey: "id", Columns: []string{"id", "name"}},
	}}
	accessor := warehouse.New(db, warehouse.Config{Schema: schema})

	bdb, err := history.Open(history.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })
	hist := history.NewStore(bdb)
	ruleStore := rules.NewStore(bdb, hist)

	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	return &fixture{
		db:       db,
		store:    accessor,
		rules:    ruleStore,
		history:  hist,
		detector: New(accessor, ruleStore, hist, nil, cfg),
	}
}

func (f *fixture) insertCustomer(t *testing.T, id string, email, dob any, balance float64, region, updated string) {
	t.Helper()
	_, err := f.db.Exec(`INSERT INTO customers VALUES (?, ?, ?, ?, ?, ?)`,
		id, email, dob, balance, region, updated)
	require.NoError(t, err)
}

func (f *fixture) activeRule(t *testing.T, dim quality.Dimension, p quality.Predicate) quality.Rule {
	t.Helper()
	rule, err := f.rules.Create(quality.Rule{
		Table:       "customers",
		Dimension:   dim,
		Description: "test rule",
		Predicate:   p,
		Severity:    quality.SeverityMedium,
	}, "alice")
	require.NoError(t, err)
	_, err = f.rules.Approve(rule.ID, "bob")
	require.NoError(t, err)
	rule, err = f.rules.Activate(rule.ID, "bob")
	require.NoError(t, err)
	return rule
}

func TestRun_NullCheck(t *testing.T) {
	f := newFixture(t)
	f.insertCustomer(t, "c1", "a@example.com", "1990-01-01", 100, "r1", "2026-08-01")
	f.insertCustomer(t, "c2", nil, nil, 200, "r1", "2026-08-01")
	rule := f.activeRule(t, quality.Completeness,
		quality.Predicate{Op: quality.OpIsNull, Field: "dob"})

	result, err := f.detector.Run(context.Background(), Scope{Table: "customers"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Evaluated)
	require.Len(t, result.Issues, 1)

	issue := result.Issues[0]
	assert.Equal(t, rule.ID, issue.RuleID)
	assert.Equal(t, "c2", issue.RecordKey)
	assert.Equal(t, quality.IssueNew, issue.ReviewState)
	assert.Equal(t, quality.Completeness, issue.Dimension)
	assert.Contains(t, issue.Evidence, "dob")
}

func TestRun_ZOutlier(t *testing.T) {
	f := newFixture(t)
	for i, balance := range []float64{10, 10, 10, 10, 100} {
		f.insertCustomer(t, string(rune('a'+i)), "x@example.com", "1990-01-01", balance, "r1", "2026-08-01")
	}
	f.activeRule(t, quality.Accuracy,
		quality.Predicate{Op: quality.OpZOutlier, Field: "balance", Threshold: 1.5})

	result, err := f.detector.Run(context.Background(), Scope{Table: "customers"})
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "e", result.Issues[0].RecordKey)
	assert.Contains(t, result.Issues[0].Evidence, "z_score")
}

func TestRun_ZOutlier_TooFewSamples(t *testing.T) {
	f := newFixture(t)
	f.insertCustomer(t, "c1", "x@example.com", "1990-01-01", 10, "r1", "2026-08-01")
	f.activeRule(t, quality.Accuracy,
		quality.Predicate{Op: quality.OpZOutlier, Field: "balance", Threshold: 1.5})

	result, err := f.detector.Run(context.Background(), Scope{Table: "customers"})
	require.NoError(t, err)
	assert.Empty(t, result.Issues)
	assert.Empty(t, result.Failures)
}

func TestRun_PatternAndStaleness(t *testing.T) {
	f := newFixture(t)
	f.insertCustomer(t, "c1", "good@example.com", "1990-01-01", 10, "r1", "2026-08-01")
	f.insertCustomer(t, "c2", "not-an-email", "1990-01-01", 10, "r1", "2020-01-01")
	f.activeRule(t, quality.Validity,
		quality.Predicate{Op: quality.OpNotMatches, Field: "email", Pattern: `^[^@\s]+@[^@\s]+\.[^@\s]+$`})
	f.activeRule(t, quality.Timeliness,
		quality.Predicate{Op: quality.OpOlderThan, Field: "updated_at", MaxAgeDays: 365})

	result, err := f.detector.Run(context.Background(), Scope{Table: "customers"})
	require.NoError(t, err)
	require.Len(t, result.Issues, 2)

	byDim := map[quality.Dimension]quality.Issue{}
	for _, issue := range result.Issues {
		byDim[issue.Dimension] = issue
	}
	assert.Equal(t, "c2", byDim[quality.Validity].RecordKey)
	assert.Equal(t, "c2", byDim[quality.Timeliness].RecordKey)
	assert.Equal(t, 2432, byDim[quality.Timeliness].Evidence["age_days"])
}

func TestRun_DuplicateAndOrphan(t *testing.T) {
	f := newFixture(t)
	f.insertCustomer(t, "c1", "same@example.com", "1990-01-01", 10, "r1", "2026-08-01")
	f.insertCustomer(t, "c2", "same@example.com", "1990-01-01", 10, "ghost", "2026-08-01")
	f.activeRule(t, quality.Consistency,
		quality.Predicate{Op: quality.OpDuplicateKey, Field: "email"})
	f.activeRule(t, quality.Consistency,
		quality.Predicate{Op: quality.OpOrphanRef, Field: "region_id", RefTable: "regions", RefField: "id"})

	result, err := f.detector.Run(context.Background(), Scope{Table: "customers"})
	require.NoError(t, err)
	assert.Len(t, result.Issues, 3, "two duplicates plus one orphan")
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.insertCustomer(t, "c1", nil, "1990-01-01", 10, "r1", "2026-08-01")
	f.activeRule(t, quality.Completeness,
		quality.Predicate{Op: quality.OpIsNull, Field: "email"})
	ctx := context.Background()

	first, err := f.detector.Run(ctx, Scope{Table: "customers"})
	require.NoError(t, err)
	require.Len(t, first.Issues, 1)
	assert.Equal(t, 1, first.NewIssues)

	// Mark the issue under treatment, then re-detect.
	require.NoError(t, f.history.UpdateIssueState(first.Issues[0].ID, quality.IssueUnderTreatment))

	second, err := f.detector.Run(ctx, Scope{Table: "customers"})
	require.NoError(t, err)
	require.Len(t, second.Issues, 1)
	assert.Zero(t, second.NewIssues, "open issue must not duplicate")
	assert.Equal(t, first.Issues[0].ID, second.Issues[0].ID)
	assert.Equal(t, quality.IssueUnderTreatment, second.Issues[0].ReviewState,
		"re-detection must preserve review state")

	all, err := f.history.ListIssues(history.IssueFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRun_RuleFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.insertCustomer(t, "c1", nil, "1990-01-01", 10, "r1", "2026-08-01")
	good := f.activeRule(t, quality.Completeness,
		quality.Predicate{Op: quality.OpIsNull, Field: "email"})
	bad := f.activeRule(t, quality.Validity,
		quality.Predicate{Op: quality.OpNotMatches, Field: "email", Pattern: `([`})

	result, err := f.detector.Run(context.Background(), Scope{Table: "customers"})
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, good.ID, result.Issues[0].RuleID)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, bad.ID, result.Failures[0].RuleID)

	failed, err := f.history.ListAudit(history.AuditFilter{
		ActionType: quality.ActionDetect,
		TargetID:   bad.ID,
	})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, quality.AuditFailed, failed[0].Outcome)
}

func TestRun_ScopeFilter(t *testing.T) {
	f := newFixture(t)
	f.insertCustomer(t, "c1", nil, "1990-01-01", 10, "r1", "2026-08-01")
	f.insertCustomer(t, "c2", nil, "1990-01-01", 500, "r1", "2026-08-01")
	f.activeRule(t, quality.Completeness,
		quality.Predicate{Op: quality.OpIsNull, Field: "email"})

	result, err := f.detector.Run(context.Background(),
		Scope{Table: "customers", Where: "balance > 100"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Evaluated)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "c2", result.Issues[0].RecordKey)

	_, err = f.detector.Run(context.Background(),
		Scope{Table: "customers", Where: "1=1; DROP TABLE customers"})
	assert.ErrorIs(t, err, quality.ErrUnsafePredicate)
}

func TestRun_DimensionAndTimeWindow(t *testing.T) {
	f := newFixture(t)
	f.insertCustomer(t, "c1", nil, nil, 10, "r1", "2026-08-01")
	f.insertCustomer(t, "c2", nil, nil, 10, "r1", "2024-01-01")
	f.activeRule(t, quality.Completeness,
		quality.Predicate{Op: quality.OpIsNull, Field: "email"})
	f.activeRule(t, quality.Completeness,
		quality.Predicate{Op: quality.OpIsNull, Field: "dob"})
	f.activeRule(t, quality.Timeliness,
		quality.Predicate{Op: quality.OpOlderThan, Field: "updated_at", MaxAgeDays: 365})

	result, err := f.detector.Run(context.Background(), Scope{
		Table:     "customers",
		Dimension: quality.Completeness,
		Since:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Evaluated, "c2 falls outside the window")
	require.Len(t, result.Issues, 2, "both completeness rules, only c1")
	for _, issue := range result.Issues {
		assert.Equal(t, "c1", issue.RecordKey)
		assert.Equal(t, quality.Completeness, issue.Dimension)
	}

	// A window needs a declared timestamp column.
	_, err = f.detector.Run(context.Background(), Scope{
		Table: "regions",
		Since: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, quality.ErrValidation)
}

func TestRun_UnsafeRawFragmentFailsItsRuleOnly(t *testing.T) {
	f := newFixture(t)
	f.insertCustomer(t, "c1", "a@example.com", "1990-01-01", -5, "r1", "2026-08-01")
	f.activeRule(t, quality.Accuracy,
		quality.Predicate{Op: quality.OpRawFragment, Fragment: "balance < 0"})
	unsafe := f.activeRule(t, quality.Accuracy,
		quality.Predicate{Op: quality.OpRawFragment, Fragment: "balance < 0; DROP TABLE customers"})

	result, err := f.detector.Run(context.Background(), Scope{Table: "customers"})
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "c1", result.Issues[0].RecordKey)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, unsafe.ID, result.Failures[0].RuleID)
}
