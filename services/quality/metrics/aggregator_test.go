// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

var testNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func newAggregator(t *testing.T, records int) (*Aggregator, *history.Store) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "wh.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE customers (id TEXT PRIMARY KEY, email TEXT)`)
	require.NoError(t, err)
	for i := 0; i < records; i++ {
		_, err := db.Exec(`INSERT INTO customers VALUES (?, ?)`, fmt.Sprintf("c%d", i), "x@example.com")
		require.NoError(t, err)
	}

	schema := warehouse.Schema{Tables: []warehouse.TableSchema{{
		Name: "customers", PrimaryKey: "id", Columns: []string{"id", "email"},
	}}}
	accessor := warehouse.New(db, warehouse.Config{Schema: schema})

	bdb, err := history.Open(history.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })
	hist := history.NewStore(bdb)

	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	return New(accessor, hist, nil, cfg), hist
}

func addIssue(t *testing.T, hist *history.Store, id string, dim quality.Dimension, state quality.ReviewState) {
	t.Helper()
	require.NoError(t, hist.SaveIssue(quality.Issue{
		ID:          id,
		RuleID:      "r1",
		Table:       "customers",
		RecordKey:   id,
		Dimension:   dim,
		Severity:    quality.SeverityMedium,
		DetectedAt:  testNow,
		ReviewState: state,
	}))
}

func TestReport_DimensionScores(t *testing.T) {
	agg, hist := newAggregator(t, 10)
	for i := 0; i < 3; i++ {
		addIssue(t, hist, fmt.Sprintf("i%d", i), quality.Completeness, quality.IssueNew)
	}
	addIssue(t, hist, "resolved", quality.Completeness, quality.IssueResolved)

	report, err := agg.Report(context.Background(), "customers")
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.RecordsEvaluated)
	assert.Equal(t, 3, report.UnresolvedIssues, "resolved issues do not count")
	assert.InDelta(t, 0.7, report.DimensionScores[quality.Completeness], 0.0001)
	assert.InDelta(t, 1.0, report.DimensionScores[quality.Validity], 0.0001)

	// Overall is the unweighted mean: (0.7 + 1 + 1 + 1 + 1) / 5.
	assert.InDelta(t, 0.94, report.Overall, 0.0001)
	assert.Equal(t, quality.MaterialityLow, report.Materiality)
}

func TestReport_ScoreFlooredAtZero(t *testing.T) {
	agg, hist := newAggregator(t, 2)
	for i := 0; i < 5; i++ {
		addIssue(t, hist, fmt.Sprintf("i%d", i), quality.Validity, quality.IssueNew)
	}

	report, err := agg.Report(context.Background(), "customers")
	require.NoError(t, err)
	assert.Zero(t, report.DimensionScores[quality.Validity])
}

func TestReport_EmptyScopeIsClean(t *testing.T) {
	agg, _ := newAggregator(t, 0)
	report, err := agg.Report(context.Background(), "customers")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.Overall, 0.0001)
	assert.Equal(t, quality.MaterialityLow, report.Materiality)
}

func TestReport_MaterialityBuckets(t *testing.T) {
	agg, _ := newAggregator(t, 1)
	tests := []struct {
		overall float64
		want    quality.Materiality
	}{
		{0.2, quality.MaterialityCritical},
		{0.49, quality.MaterialityCritical},
		{0.5, quality.MaterialityHigh},
		{0.69, quality.MaterialityHigh},
		{0.7, quality.MaterialityMedium},
		{0.84, quality.MaterialityMedium},
		{0.85, quality.MaterialityLow},
		{1.0, quality.MaterialityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, agg.materiality(tt.overall), "overall=%v", tt.overall)
	}
}

func TestReport_ROI(t *testing.T) {
	agg, hist := newAggregator(t, 100)
	for i := 0; i < 4; i++ {
		addIssue(t, hist, fmt.Sprintf("i%d", i), quality.Accuracy, quality.IssueNew)
	}

	report, err := agg.Report(context.Background(), "customers")
	require.NoError(t, err)

	// 4 issues at 15 manual minutes and 0.5 automated minutes, 75/h:
	// manual 75.00, automated 2.50, savings 72.50, ROI 29x.
	roi := report.ROI
	assert.Equal(t, 4, roi.IssuesCount)
	assert.Equal(t, "75.00", roi.ManualCost)
	assert.Equal(t, "2.50", roi.AutomatedCost)
	assert.Equal(t, "72.50", roi.Savings)
	assert.InDelta(t, 29.0, roi.ROI, 0.0001)
}

func TestReport_UnknownScope(t *testing.T) {
	agg, _ := newAggregator(t, 1)
	_, err := agg.Report(context.Background(), "orders")
	assert.ErrorIs(t, err, quality.ErrValidation)
}

func TestSnapshot_AppendsTrend(t *testing.T) {
	agg, hist := newAggregator(t, 10)
	ctx := context.Background()

	snap, err := agg.Snapshot(ctx, "customers")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)

	addIssue(t, hist, "i0", quality.Timeliness, quality.IssueNew)
	_, err = agg.Snapshot(ctx, "customers")
	require.NoError(t, err)

	trend, err := agg.Trend(0)
	require.NoError(t, err)
	require.Len(t, trend, 2)
	overalls := []float64{trend[0].Report.Overall, trend[1].Report.Overall}
	assert.Contains(t, overalls, 1.0, "first snapshot was clean")
	assert.True(t, overalls[0] < 1.0 || overalls[1] < 1.0,
		"new unresolved issue lowers the overall score")

	entries, err := hist.ListAudit(history.AuditFilter{ActionType: quality.ActionSnapshot})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
