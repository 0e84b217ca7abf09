// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package treat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/rules"
)

func newAdvisor(t *testing.T) (*Advisor, *history.Store, *rules.Store) {
	t.Helper()
	db, err := history.Open(history.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	hist := history.NewStore(db)
	ruleStore := rules.NewStore(db, hist)
	advisor, err := New(ruleStore, hist, nil)
	require.NoError(t, err)
	return advisor, hist, ruleStore
}

func seedIssue(t *testing.T, hist *history.Store, ruleStore *rules.Store, dim quality.Dimension, field string) quality.Issue {
	t.Helper()
	rule, err := ruleStore.Create(quality.Rule{
		Table:       "customers",
		Dimension:   dim,
		Description: "test",
		Predicate:   quality.Predicate{Op: quality.OpIsNull, Field: field},
		Severity:    quality.SeverityMedium,
	}, "alice")
	require.NoError(t, err)

	issue := quality.Issue{
		ID:          rule.ID + "@c1",
		RuleID:      rule.ID,
		Table:       "customers",
		RecordKey:   "c1",
		Dimension:   dim,
		Evidence:    map[string]any{field: nil},
		Severity:    quality.SeverityMedium,
		DetectedAt:  time.Now().UTC(),
		ReviewState: quality.IssueNew,
	}
	require.NoError(t, hist.SaveIssue(issue))
	return issue
}

func TestLoadCatalog_CoversEveryDimension(t *testing.T) {
	catalog, err := LoadCatalog()
	require.NoError(t, err)
	for _, dim := range quality.Dimensions {
		assert.NotEmpty(t, catalog.ForDimension(dim), "no strategies for %s", dim)
	}
}

func TestSuggest_RanksByConfidence(t *testing.T) {
	advisor, hist, ruleStore := newAdvisor(t)
	issue := seedIssue(t, hist, ruleStore, quality.Completeness, "balance")

	fixes, err := advisor.Suggest(issue.ID)
	require.NoError(t, err)
	require.Len(t, fixes, 4)

	assert.Equal(t, "impute_default", fixes[0].StrategyID)
	assert.InDelta(t, 0.75, fixes[0].Confidence, 0.0001, "no history keeps base confidence")
	assert.True(t, fixes[0].RequiresApproval, "imputing a sentinel default needs sign-off")
	assert.Equal(t, "impute_mean", fixes[1].StrategyID)
	assert.Equal(t, "impute_mode", fixes[2].StrategyID)
	assert.Equal(t, "delete_incomplete", fixes[3].StrategyID)
	assert.True(t, fixes[3].RequiresApproval)

	// Field-targeted transforms inherit the rule's column.
	assert.Equal(t, "balance", fixes[0].Transform.Field)
	assert.Equal(t, quality.TransformSetField, fixes[0].Transform.Kind)
	assert.Equal(t, "balance", fixes[1].Transform.Field)
	assert.Equal(t, quality.TransformSetFieldAggregate, fixes[1].Transform.Kind)
}

func TestSuggest_OutcomeHistoryReorders(t *testing.T) {
	advisor, hist, ruleStore := newAdvisor(t)
	issue := seedIssue(t, hist, ruleStore, quality.Completeness, "balance")

	// impute_mean keeps failing; impute_mode keeps working.
	for i := 0; i < 4; i++ {
		_, err := hist.AppendOutcome(quality.Outcome{
			Dimension: quality.Completeness, StrategyID: "impute_mean", Success: false,
		})
		require.NoError(t, err)
		_, err = hist.AppendOutcome(quality.Outcome{
			Dimension: quality.Completeness, StrategyID: "impute_mode", Success: true,
		})
		require.NoError(t, err)
	}

	fixes, err := advisor.Suggest(issue.ID)
	require.NoError(t, err)
	require.Len(t, fixes, 4)
	assert.Equal(t, "impute_default", fixes[0].StrategyID, "no history keeps the top prior")
	assert.Equal(t, "impute_mode", fixes[1].StrategyID)
	assert.InDelta(t, 0.65, fixes[1].Confidence, 0.0001)
	// 0.70 * (0.5 + 0.5*0) = 0.35: an all-failure history halves the prior.
	assert.InDelta(t, 0.35, findFix(t, fixes, "impute_mean").Confidence, 0.0001)
}

func TestSuggest_EphemeralAndRepeatable(t *testing.T) {
	advisor, hist, ruleStore := newAdvisor(t)
	issue := seedIssue(t, hist, ruleStore, quality.Validity, "email")

	first, err := advisor.Suggest(issue.ID)
	require.NoError(t, err)
	second, err := advisor.Suggest(issue.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := hist.GetIssue(issue.ID)
	require.NoError(t, err)
	assert.Equal(t, quality.IssueNew, got.ReviewState, "suggesting must not mutate the issue")
}

func TestSuggest_UnknownIssue(t *testing.T) {
	advisor, _, _ := newAdvisor(t)
	_, err := advisor.Suggest("nope")
	assert.ErrorIs(t, err, quality.ErrNotFound)
}

func findFix(t *testing.T, fixes []quality.CandidateFix, strategyID string) quality.CandidateFix {
	t.Helper()
	for _, f := range fixes {
		if f.StrategyID == strategyID {
			return f
		}
	}
	t.Fatalf("strategy %s not in fixes", strategyID)
	return quality.CandidateFix{}
}
