// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package quality

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDimension(t *testing.T) {
	for _, d := range Dimensions {
		got, err := ParseDimension(string(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}

	_, err := ParseDimension("coherence")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestDimension_UnmarshalYAML(t *testing.T) {
	var d Dimension
	require.NoError(t, yaml.Unmarshal([]byte("timeliness"), &d))
	assert.Equal(t, Timeliness, d)

	err := yaml.Unmarshal([]byte("speed"), &d)
	require.Error(t, err)
}

func TestPredicate_Validate(t *testing.T) {
	min := 0.0
	tests := []struct {
		name    string
		pred    Predicate
		wantErr bool
	}{
		{"is_null ok", Predicate{Op: OpIsNull, Field: "dob"}, false},
		{"is_null missing field", Predicate{Op: OpIsNull}, true},
		{"not_matches ok", Predicate{Op: OpNotMatches, Field: "email", Pattern: `^[^@]+@[^@]+$`}, false},
		{"not_matches missing pattern", Predicate{Op: OpNotMatches, Field: "email"}, true},
		{"outside_range ok", Predicate{Op: OpOutsideRange, Field: "amount", Min: &min}, false},
		{"outside_range no bounds", Predicate{Op: OpOutsideRange, Field: "amount"}, true},
		{"compare ok", Predicate{Op: OpCompare, Field: "amount", Compare: "<", Value: 0}, false},
		{"compare bad operator", Predicate{Op: OpCompare, Field: "amount", Compare: "<>", Value: 0}, true},
		{"duplicate_key ok", Predicate{Op: OpDuplicateKey, Field: "cus_id"}, false},
		{"orphan_ref ok", Predicate{Op: OpOrphanRef, Field: "customer_id", RefTable: "customers", RefField: "cus_id"}, false},
		{"orphan_ref missing ref", Predicate{Op: OpOrphanRef, Field: "customer_id"}, true},
		{"z_outlier ok", Predicate{Op: OpZOutlier, Field: "amount", Threshold: 3}, false},
		{"older_than ok", Predicate{Op: OpOlderThan, Field: "created_ts", MaxAgeDays: 365}, false},
		{"older_than non-positive age", Predicate{Op: OpOlderThan, Field: "created_ts"}, true},
		{"raw_fragment ok", Predicate{Op: OpRawFragment, Fragment: "dob IS NULL"}, false},
		{"raw_fragment empty", Predicate{Op: OpRawFragment}, true},
		{"unknown op", Predicate{Op: "regex_dance", Field: "x"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.pred.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation), "expected a validation error, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestError_TaxonomyAndTarget(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewError(ErrRemoteUnavailable, "customers", cause)

	assert.True(t, errors.Is(err, ErrRemoteUnavailable))
	assert.False(t, errors.Is(err, ErrApprovalRequired))
	assert.Equal(t, "customers", TargetOf(err))
	assert.Contains(t, err.Error(), "customers")

	// Plain errors have no target.
	assert.Equal(t, "", TargetOf(cause))
}

func TestCheaper(t *testing.T) {
	assert.True(t, Cheaper(CostLow, CostMedium))
	assert.True(t, Cheaper(CostMedium, CostHigh))
	assert.False(t, Cheaper(CostHigh, CostLow))
	assert.False(t, Cheaper(CostLow, CostLow))
}

func TestAutomatedActor(t *testing.T) {
	assert.True(t, AutomatedActor(ActorSystem))
	assert.True(t, AutomatedActor(ActorDrafter))
	assert.False(t, AutomatedActor("jane@example.com"))
}
