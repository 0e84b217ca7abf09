// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDQ/services/quality"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func testIssue(id string) quality.Issue {
	return quality.Issue{
		ID:          id,
		RuleID:      "rule-1",
		Table:       "customers",
		RecordKey:   "c-" + id,
		Dimension:   quality.Completeness,
		Evidence:    map[string]any{"email": nil},
		Severity:    quality.SeverityMedium,
		DetectedAt:  time.Now().UTC(),
		ReviewState: quality.IssueNew,
	}
}

func TestIssue_SaveGetUpdate(t *testing.T) {
	s := openTestStore(t)

	issue := testIssue("i1")
	require.NoError(t, s.SaveIssue(issue))

	got, err := s.GetIssue("i1")
	require.NoError(t, err)
	assert.Equal(t, quality.IssueNew, got.ReviewState)
	assert.Equal(t, "customers", got.Table)

	require.NoError(t, s.UpdateIssueState("i1", quality.IssueResolved))
	got, err = s.GetIssue("i1")
	require.NoError(t, err)
	assert.Equal(t, quality.IssueResolved, got.ReviewState)

	_, err = s.GetIssue("missing")
	assert.ErrorIs(t, err, quality.ErrNotFound)

	err = s.SaveIssue(quality.Issue{})
	assert.ErrorIs(t, err, quality.ErrValidation)
}

func TestListIssues_Filtering(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		issue := testIssue(fmt.Sprintf("i%d", i))
		issue.DetectedAt = base.Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			issue.Dimension = quality.Validity
		}
		require.NoError(t, s.SaveIssue(issue))
	}

	all, err := s.ListIssues(IssueFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].DetectedAt.Before(all[i-1].DetectedAt), "issues must be time ordered")
	}

	validity, err := s.ListIssues(IssueFilter{Dimension: quality.Validity})
	require.NoError(t, err)
	assert.Len(t, validity, 3)

	none, err := s.ListIssues(IssueFilter{Table: "orders"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAudit_AppendOnlyOrdering(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.AppendAudit(quality.AuditEntry{
			Actor:      "alice",
			ActionType: quality.ActionApplyFix,
			TargetID:   fmt.Sprintf("patch-%d", i),
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Outcome:    quality.AuditSuccess,
		})
		require.NoError(t, err)
	}

	entries, err := s.ListAudit(AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "patch-0", entries[0].TargetID)
	assert.Equal(t, "patch-2", entries[2].TargetID)

	filtered, err := s.ListAudit(AuditFilter{TargetID: "patch-1"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	limited, err := s.ListAudit(AuditFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "patch-2", limited[1].TargetID)
}

func TestAudit_FillsIDAndTimestamp(t *testing.T) {
	s := openTestStore(t)

	entry, err := s.AppendAudit(quality.AuditEntry{
		Actor:      quality.ActorSystem,
		ActionType: quality.ActionDetect,
		TargetID:   "rule-1",
		Outcome:    quality.AuditFailed,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestPatch_Lifecycle(t *testing.T) {
	s := openTestStore(t)

	patch := quality.RemediationPatch{
		ID:        "p1",
		IssueID:   "i1",
		RuleID:    "rule-1",
		Table:     "customers",
		RecordKey: "c1",
		Before:    map[string]any{"email": nil},
		After:     map[string]any{"email": "fixed@example.com"},
		AppliedBy: "alice",
		AppliedAt: time.Now().UTC(),
		Status:    quality.PatchApplied,
	}
	require.NoError(t, s.SavePatch(patch))

	got, err := s.GetPatch("p1")
	require.NoError(t, err)
	assert.Equal(t, quality.PatchApplied, got.Status)

	require.NoError(t, s.UpdatePatchStatus("p1", quality.PatchRolledBack))
	got, err = s.GetPatch("p1")
	require.NoError(t, err)
	assert.Equal(t, quality.PatchRolledBack, got.Status)

	byIssue, err := s.ListPatches("i1")
	require.NoError(t, err)
	assert.Len(t, byIssue, 1)

	other, err := s.ListPatches("i2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestOutcomes_SuccessRate(t *testing.T) {
	s := openTestStore(t)

	rate, n, err := s.SuccessRate(quality.Completeness, "impute_mean")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate, "empty history is neutral")
	assert.Zero(t, n)

	results := []bool{true, true, false, true}
	for _, ok := range results {
		_, err := s.AppendOutcome(quality.Outcome{
			Dimension:  quality.Completeness,
			StrategyID: "impute_mean",
			Success:    ok,
		})
		require.NoError(t, err)
	}
	_, err = s.AppendOutcome(quality.Outcome{
		Dimension:  quality.Validity,
		StrategyID: "impute_mean",
		Success:    false,
	})
	require.NoError(t, err)

	rate, n, err = s.SuccessRate(quality.Completeness, "impute_mean")
	require.NoError(t, err)
	assert.Equal(t, 4, n, "other dimensions stay out of the bucket")
	assert.InDelta(t, 0.75, rate, 0.0001)
}

func TestSnapshots_TrendOrder(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, err := s.AppendSnapshot(quality.Snapshot{
			Report:  quality.Report{Scope: "customers", Overall: 0.5 + float64(i)*0.1},
			TakenAt: base.AddDate(0, 0, i),
		})
		require.NoError(t, err)
	}

	snaps, err := s.ListSnapshots(0)
	require.NoError(t, err)
	require.Len(t, snaps, 4)
	assert.InDelta(t, 0.5, snaps[0].Report.Overall, 0.0001)
	assert.InDelta(t, 0.8, snaps[3].Report.Overall, 0.0001)

	recent, err := s.ListSnapshots(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.InDelta(t, 0.7, recent[0].Report.Overall, 0.0001)
}
