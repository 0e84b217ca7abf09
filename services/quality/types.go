// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quality defines the shared domain model of the data-quality
// check-and-remediate workflow: rules and their lifecycle, detected issues,
// candidate fixes, remediation patches, audit entries, and the error
// taxonomy every component reports through.
//
// The package holds types and invariant helpers only. Detection, treatment,
// remediation, and metrics live in the subpackages detect, treat, remediate,
// and metrics respectively.
package quality

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Dimensions
// =============================================================================

// Dimension is one of the five data-quality axes.
type Dimension string

const (
	Completeness Dimension = "completeness"
	Validity     Dimension = "validity"
	Consistency  Dimension = "consistency"
	Accuracy     Dimension = "accuracy"
	Timeliness   Dimension = "timeliness"
)

// Dimensions lists all five axes in reporting order.
var Dimensions = []Dimension{Completeness, Validity, Consistency, Accuracy, Timeliness}

// ParseDimension validates a free-form dimension string.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(s)
	switch d {
	case Completeness, Validity, Consistency, Accuracy, Timeliness:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown dimension %q", ErrValidation, s)
	}
}

// UnmarshalYAML enforces the closed dimension set when rules or strategy
// catalogs are loaded from YAML.
func (d *Dimension) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDimension(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// Predicates
// =============================================================================

// PredicateOp enumerates the supported tagged-variant predicate operators.
//
// The closed set bounds the query surface: every operator compiles to a
// fixed SQL shape over whitelisted identifiers. OpRawFragment is the escape
// hatch for custom rules and must pass the warehouse sanitizer before it is
// ever executed.
type PredicateOp string

const (
	// OpIsNull matches rows where Field is NULL or the empty string.
	OpIsNull PredicateOp = "is_null"

	// OpNotMatches matches rows where Field does not match Pattern.
	// Matching happens client-side so all wired drivers behave identically.
	OpNotMatches PredicateOp = "not_matches"

	// OpOutsideRange matches rows where numeric Field is below Min or
	// above Max (either bound may be open).
	OpOutsideRange PredicateOp = "outside_range"

	// OpCompare matches rows where Field <op> Value holds, with <op> drawn
	// from =, !=, <, <=, >, >=.
	OpCompare PredicateOp = "compare"

	// OpDuplicateKey matches groups of rows sharing the same value of
	// Field (a primary or natural key).
	OpDuplicateKey PredicateOp = "duplicate_key"

	// OpOrphanRef matches rows whose Field has no matching RefField value
	// in RefTable.
	OpOrphanRef PredicateOp = "orphan_ref"

	// OpZOutlier matches rows whose numeric Field deviates from the scoped
	// column mean by more than Threshold population standard deviations.
	OpZOutlier PredicateOp = "z_outlier"

	// OpOlderThan matches rows whose timestamp Field is older than
	// MaxAgeDays.
	OpOlderThan PredicateOp = "older_than"

	// OpRawFragment is a sanitized raw WHERE-clause fragment.
	OpRawFragment PredicateOp = "raw_fragment"
)

// Predicate is the tagged-variant representation of a rule condition.
//
// Exactly the fields relevant to Op are consulted; the rest stay zero.
// Validate reports which fields a given Op requires.
type Predicate struct {
	Op PredicateOp `yaml:"op" json:"op"`

	// Field is the column the predicate inspects (all ops except raw_fragment).
	Field string `yaml:"field,omitempty" json:"field,omitempty"`

	// Pattern is a Go regexp for not_matches.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// Min and Max bound outside_range. A nil bound is open.
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// Compare is the operator for compare: =, !=, <, <=, >, >=.
	Compare string `yaml:"compare,omitempty" json:"compare,omitempty"`

	// Value is the literal operand for compare.
	Value any `yaml:"value,omitempty" json:"value,omitempty"`

	// RefTable and RefField name the parent side of orphan_ref.
	RefTable string `yaml:"ref_table,omitempty" json:"ref_table,omitempty"`
	RefField string `yaml:"ref_field,omitempty" json:"ref_field,omitempty"`

	// Threshold is the z-score cutoff for z_outlier. Zero means "use the
	// detector's configured default".
	Threshold float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	// MaxAgeDays is the SLA age for older_than.
	MaxAgeDays int `yaml:"max_age_days,omitempty" json:"max_age_days,omitempty"`

	// Fragment is the raw WHERE clause for raw_fragment.
	Fragment string `yaml:"fragment,omitempty" json:"fragment,omitempty"`
}

var compareOps = map[string]bool{"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

// Validate checks structural well-formedness of the predicate.
//
// It does NOT check identifiers against any schema (the warehouse does
// that at compile time) and does NOT sanitize raw fragments (the sanitizer
// runs at detection time, where rejection is a recorded failure, not a
// silent skip).
func (p Predicate) Validate() error {
	switch p.Op {
	case OpIsNull, OpDuplicateKey:
		if p.Field == "" {
			return fmt.Errorf("%w: %s requires a field", ErrValidation, p.Op)
		}
	case OpNotMatches:
		if p.Field == "" || p.Pattern == "" {
			return fmt.Errorf("%w: not_matches requires field and pattern", ErrValidation)
		}
	case OpOutsideRange:
		if p.Field == "" || (p.Min == nil && p.Max == nil) {
			return fmt.Errorf("%w: outside_range requires field and at least one bound", ErrValidation)
		}
	case OpCompare:
		if p.Field == "" || !compareOps[p.Compare] {
			return fmt.Errorf("%w: compare requires field and one of = != < <= > >=", ErrValidation)
		}
	case OpOrphanRef:
		if p.Field == "" || p.RefTable == "" || p.RefField == "" {
			return fmt.Errorf("%w: orphan_ref requires field, ref_table and ref_field", ErrValidation)
		}
	case OpZOutlier:
		if p.Field == "" || p.Threshold < 0 {
			return fmt.Errorf("%w: z_outlier requires field and a non-negative threshold", ErrValidation)
		}
	case OpOlderThan:
		if p.Field == "" || p.MaxAgeDays <= 0 {
			return fmt.Errorf("%w: older_than requires field and a positive max_age_days", ErrValidation)
		}
	case OpRawFragment:
		if p.Fragment == "" {
			return fmt.Errorf("%w: raw_fragment requires a fragment", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown predicate op %q", ErrValidation, p.Op)
	}
	return nil
}

// =============================================================================
// Rules
// =============================================================================

// LifecycleState tracks a rule through its approval workflow.
//
// Transitions: PENDING → APPROVED → ACTIVE, or PENDING → REJECTED
// (terminal). Only ACTIVE rules are ever evaluated by the detector.
type LifecycleState string

const (
	RulePending  LifecycleState = "PENDING"
	RuleApproved LifecycleState = "APPROVED"
	RuleActive   LifecycleState = "ACTIVE"
	RuleRejected LifecycleState = "REJECTED"
)

// Rule is an issue-detection predicate bound to a table and dimension.
type Rule struct {
	ID          string         `json:"id" yaml:"id"`
	Table       string         `json:"table" yaml:"table"`
	Dimension   Dimension      `json:"dimension" yaml:"dimension"`
	Description string         `json:"description" yaml:"description"`
	Predicate   Predicate      `json:"predicate" yaml:"predicate"`
	Severity    Severity       `json:"severity" yaml:"severity"`
	CreatedBy   string         `json:"created_by" yaml:"created_by"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	State       LifecycleState `json:"lifecycle_state" yaml:"-"`
	Version     int            `json:"version" yaml:"-"`
}

// RuleVersion is one immutable entry of a rule's version history.
//
// Rollback writes the target version's content as a NEW version; history
// never shrinks.
type RuleVersion struct {
	VersionID     string    `json:"version_id"`
	RuleID        string    `json:"rule_id"`
	VersionNumber int       `json:"version_number"`
	Predicate     Predicate `json:"predicate"`
	Description   string    `json:"description"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	ChangeReason  string    `json:"change_reason"`
}

// =============================================================================
// Issues
// =============================================================================

// Severity buckets an issue's urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ReviewState tracks an issue through treatment.
//
// Transitions: NEW → UNDER_TREATMENT → RESOLVED | ESCALATED.
type ReviewState string

const (
	IssueNew            ReviewState = "NEW"
	IssueUnderTreatment ReviewState = "UNDER_TREATMENT"
	IssueResolved       ReviewState = "RESOLVED"
	IssueEscalated      ReviewState = "ESCALATED"
)

// Issue is one offending record matched by one rule.
//
// Evidence is a snapshot of the offending field(s) captured at detection
// time — never a live reference into the store.
type Issue struct {
	ID          string         `json:"id"`
	RuleID      string         `json:"rule_id"`
	Table       string         `json:"table"`
	RecordKey   string         `json:"record_key"`
	Dimension   Dimension      `json:"dimension"`
	Evidence    map[string]any `json:"evidence"`
	Severity    Severity       `json:"severity"`
	DetectedAt  time.Time      `json:"detected_at"`
	ReviewState ReviewState    `json:"review_state"`
}

// =============================================================================
// Treatment
// =============================================================================

// CostTier orders candidate fixes by operational expense.
type CostTier string

const (
	CostLow    CostTier = "low"
	CostMedium CostTier = "medium"
	CostHigh   CostTier = "high"
)

// costRank supports ascending cost-tier tie-breaks.
var costRank = map[CostTier]int{CostLow: 0, CostMedium: 1, CostHigh: 2}

// Cheaper reports whether tier a sorts before tier b.
func Cheaper(a, b CostTier) bool { return costRank[a] < costRank[b] }

// TransformKind enumerates the closed set of remediation transformations.
type TransformKind string

const (
	// TransformSetField sets Field to a literal Value.
	TransformSetField TransformKind = "set_field"

	// TransformDeleteRecord deletes the offending record.
	TransformDeleteRecord TransformKind = "delete_record"

	// TransformSetFieldAggregate sets Field to an aggregate (mean or mode)
	// computed over the scoped column's non-null values.
	TransformSetFieldAggregate TransformKind = "set_field_aggregate"
)

// Transform is the declared effect of a strategy when applied.
type Transform struct {
	Kind TransformKind `yaml:"kind" json:"kind"`

	// Field is the target column (set_field, set_field_aggregate).
	Field string `yaml:"field,omitempty" json:"field,omitempty"`

	// Value is the literal for set_field.
	Value any `yaml:"value,omitempty" json:"value,omitempty"`

	// Aggregate is "mean" or "mode" for set_field_aggregate.
	Aggregate string `yaml:"aggregate,omitempty" json:"aggregate,omitempty"`
}

// CandidateFix is one proposed remediation for one issue.
//
// Candidate fixes are ephemeral: the advisor produces them and nothing
// persists them unless one is selected for application.
type CandidateFix struct {
	IssueID           string    `json:"issue_id"`
	StrategyID        string    `json:"strategy_id"`
	ActionDescription string    `json:"action_description"`
	Confidence        float64   `json:"confidence"`
	CostTier          CostTier  `json:"cost_tier"`
	RequiresApproval  bool      `json:"requires_approval"`
	Transform         Transform `json:"transform"`
}

// Outcome records whether an applied strategy actually resolved its issue,
// keyed by (dimension, strategy) for the advisor's success-rate adjustment.
type Outcome struct {
	ID         string    `json:"id"`
	Dimension  Dimension `json:"dimension"`
	StrategyID string    `json:"strategy_id"`
	Success    bool      `json:"success"`
	RecordedAt time.Time `json:"recorded_at"`
}

// =============================================================================
// Remediation
// =============================================================================

// PatchStatus tracks a remediation patch.
type PatchStatus string

const (
	PatchPending    PatchStatus = "pending"
	PatchApplied    PatchStatus = "applied"
	PatchRolledBack PatchStatus = "rolled_back"
)

// RemediationPatch is the sole durable record of a write's effect.
//
// No record is ever overwritten without a patch capturing its prior state;
// rollback re-applies Before as a new patch rather than deleting history.
type RemediationPatch struct {
	ID        string         `json:"id"`
	IssueID   string         `json:"issue_id"`
	RuleID    string         `json:"rule_id"`
	Table     string         `json:"table"`
	RecordKey string         `json:"record_key"`
	Before    map[string]any `json:"before"`
	After     map[string]any `json:"after"`
	AppliedBy string         `json:"applied_by"`
	AppliedAt time.Time      `json:"applied_at"`
	Status    PatchStatus    `json:"status"`

	// ReversalOf names the patch this one undid. A reversal patch is
	// itself final; undoing it means rolling back the next forward patch.
	ReversalOf string `json:"reversal_of,omitempty"`
}

// =============================================================================
// Audit
// =============================================================================

// AuditOutcome is the recorded result of an audited action.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditFailed  AuditOutcome = "failed"
)

// AuditEntry is one append-only record of a mutating (or failed) operation.
//
// Every mutating operation across the workflow produces exactly one entry.
type AuditEntry struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	ActionType string         `json:"action_type"`
	TargetID   string         `json:"target_id"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Outcome    AuditOutcome   `json:"outcome"`
}

// Common audit action types.
const (
	ActionCreateRule   = "create_rule"
	ActionApproveRule  = "approve"
	ActionRejectRule   = "reject"
	ActionActivateRule = "activate"
	ActionRollbackRule = "rollback_rule"
	ActionDraftRule    = "draft_rule"
	ActionDetect       = "detect"
	ActionApplyFix     = "apply_fix"
	ActionRollbackFix  = "rollback_patch"
	ActionEscalate     = "escalate"
	ActionSnapshot     = "metrics_snapshot"
)

// ActorSystem names the automated actor used for seed rules and
// machine-initiated operations. AI-drafted rules carry ActorDrafter.
const (
	ActorSystem  = "system"
	ActorDrafter = "ai-drafter"
)

// AutomatedActor reports whether the given actor name is a machine actor.
//
// Rules created by an automated actor cannot be approved by the same
// actor; see the lifecycle invariants in services/rules.
func AutomatedActor(actor string) bool {
	return actor == ActorSystem || actor == ActorDrafter
}

// =============================================================================
// Metrics
// =============================================================================

// Materiality buckets the overall quality score.
type Materiality string

const (
	MaterialityCritical Materiality = "CRITICAL"
	MaterialityHigh     Materiality = "HIGH"
	MaterialityMedium   Materiality = "MEDIUM"
	MaterialityLow      Materiality = "LOW"
)

// ROIEstimate is a cost model output, not a measured fact.
//
// Both cost figures derive from configurable per-issue time constants and
// an hourly rate; consumers must treat the numbers as estimates.
type ROIEstimate struct {
	IssuesCount   int     `json:"issues_count"`
	ManualCost    string  `json:"manual_cost"`
	AutomatedCost string  `json:"automated_cost"`
	Savings       string  `json:"savings"`
	ROI           float64 `json:"roi"`
}

// Report is the metrics aggregator's output for one scope.
type Report struct {
	Scope            string                `json:"scope"`
	DimensionScores  map[Dimension]float64 `json:"dimension_scores"`
	Overall          float64               `json:"overall"`
	Materiality      Materiality           `json:"materiality"`
	ROI              ROIEstimate           `json:"roi"`
	RecordsEvaluated int64                 `json:"records_evaluated"`
	UnresolvedIssues int                   `json:"unresolved_issues"`
	ComputedAt       time.Time             `json:"computed_at"`
}

// Snapshot is a timestamped, append-only copy of a Report for trend queries.
type Snapshot struct {
	ID      string    `json:"id"`
	Report  Report    `json:"report"`
	TakenAt time.Time `json:"taken_at"`
}
