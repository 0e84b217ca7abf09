// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remediate applies selected fixes to the record store.
//
// Every committed write leaves a RemediationPatch carrying the before and
// after state; the patch trail is the only durable record of what changed
// and is what rollback replays. Preview mode computes the same patch
// without touching the store.
package remediate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDQ/pkg/logging"
	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

// Validator re-checks a rule against one record after a write. The
// detector implements it.
type Validator interface {
	MatchesRecord(ctx context.Context, ruleID, recordKey string) (bool, error)
}

// Ticket is the escalation record attached to an audit entry. There is no
// external tracker integration; the audit trail is the tracker.
type Ticket struct {
	ID       string    `json:"id"`
	IssueID  string    `json:"issue_id"`
	Reason   string    `json:"reason"`
	Priority string    `json:"priority"`
	OpenedAt time.Time `json:"opened_at"`
}

// ApplyRequest selects one candidate fix for one issue.
type ApplyRequest struct {
	Fix   quality.CandidateFix
	Actor string

	// Approved confirms an approval-gated fix. Ignored for fixes that
	// need none.
	Approved bool

	// Commit writes to the record store. False previews: the patch is
	// computed and returned but nothing is written or persisted.
	Commit bool
}

// ApplyResult reports what a fix did (or would do).
type ApplyResult struct {
	Patch    quality.RemediationPatch `json:"patch"`
	Preview  bool                     `json:"preview"`
	Resolved bool                     `json:"resolved"`
}

// Applier executes and reverses fixes.
type Applier struct {
	store     *warehouse.Accessor
	history   *history.Store
	validator Validator
	logger    *logging.Logger
	now       func() time.Time
}

// New wires an applier.
func New(store *warehouse.Accessor, hist *history.Store, validator Validator, logger *logging.Logger) *Applier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Applier{store: store, history: hist, validator: validator, logger: logger, now: time.Now}
}

// Apply previews or commits one fix.
//
// # Edge cases
//
//   - Approval-gated fix committed without Approved: ErrApprovalRequired,
//     no write, audited as failed.
//   - Record deleted since detection: ErrNotFound, no write.
//   - Shadow validation still matching after the commit: the write
//     stands, the patch stands, the issue stays UNDER_TREATMENT, a
//     failed outcome is recorded, and ErrShadowValidationFailed is
//     returned alongside the result.
func (a *Applier) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	fix := req.Fix
	issue, err := a.history.GetIssue(fix.IssueID)
	if err != nil {
		return ApplyResult{}, err
	}
	if issue.ReviewState == quality.IssueResolved {
		return ApplyResult{}, quality.NewError(quality.ErrValidation, issue.ID,
			fmt.Errorf("issue is already resolved"))
	}

	snapshot, err := a.store.FetchRecord(ctx, issue.Table, issue.RecordKey)
	if err != nil {
		return ApplyResult{}, err
	}

	patch, err := a.buildPatch(ctx, issue, fix, snapshot, req.Actor)
	if err != nil {
		return ApplyResult{}, err
	}

	if !req.Commit {
		return ApplyResult{Patch: patch, Preview: true}, nil
	}

	if fix.RequiresApproval && !req.Approved {
		a.audit(req.Actor, quality.ActionApplyFix, issue.ID, map[string]any{
			"strategy": fix.StrategyID,
			"error":    "approval required",
		}, quality.AuditFailed)
		return ApplyResult{}, quality.NewError(quality.ErrApprovalRequired, issue.ID,
			fmt.Errorf("strategy %s requires approval", fix.StrategyID))
	}

	if err := a.execute(ctx, issue, patch); err != nil {
		a.audit(req.Actor, quality.ActionApplyFix, issue.ID, map[string]any{
			"strategy": fix.StrategyID,
			"error":    err.Error(),
		}, quality.AuditFailed)
		return ApplyResult{}, err
	}

	patch.Status = quality.PatchApplied
	if err := a.history.SavePatch(patch); err != nil {
		return ApplyResult{}, err
	}
	if err := a.history.UpdateIssueState(issue.ID, quality.IssueUnderTreatment); err != nil {
		return ApplyResult{}, err
	}

	resolved, shadowErr := a.shadowValidate(ctx, issue)
	_, _ = a.history.AppendOutcome(quality.Outcome{
		Dimension:  issue.Dimension,
		StrategyID: fix.StrategyID,
		Success:    resolved,
	})
	details := map[string]any{
		"strategy": fix.StrategyID,
		"patch_id": patch.ID,
		"resolved": resolved,
	}
	// The write stands either way, but a commit whose re-check still
	// matches the rule is recorded as a failed outcome for follow-up.
	outcome := quality.AuditSuccess
	if !resolved {
		outcome = quality.AuditFailed
		details["error"] = "shadow validation failed: rule still matches after write"
	}
	a.audit(req.Actor, quality.ActionApplyFix, issue.ID, details, outcome)
	a.logger.Info("fix applied",
		"issue_id", issue.ID,
		"strategy", fix.StrategyID,
		"patch_id", patch.ID,
		"resolved", resolved)

	if resolved {
		if err := a.history.UpdateIssueState(issue.ID, quality.IssueResolved); err != nil {
			return ApplyResult{}, err
		}
	}
	return ApplyResult{Patch: patch, Resolved: resolved}, shadowErr
}

// buildPatch computes the before/after pair without writing.
func (a *Applier) buildPatch(ctx context.Context, issue quality.Issue, fix quality.CandidateFix, snapshot warehouse.Record, actor string) (quality.RemediationPatch, error) {
	patch := quality.RemediationPatch{
		ID:        uuid.NewString(),
		IssueID:   issue.ID,
		RuleID:    issue.RuleID,
		Table:     issue.Table,
		RecordKey: issue.RecordKey,
		AppliedBy: actor,
		AppliedAt: a.now().UTC(),
		Status:    quality.PatchPending,
	}

	transform := fix.Transform
	switch transform.Kind {
	case quality.TransformSetField:
		patch.Before = map[string]any{transform.Field: snapshot[transform.Field]}
		patch.After = map[string]any{transform.Field: transform.Value}

	case quality.TransformSetFieldAggregate:
		value, err := a.store.Aggregate(ctx, issue.Table, transform.Field, transform.Aggregate)
		if err != nil {
			return quality.RemediationPatch{}, err
		}
		patch.Before = map[string]any{transform.Field: snapshot[transform.Field]}
		patch.After = map[string]any{transform.Field: value}

	case quality.TransformDeleteRecord:
		// Full-record snapshot so rollback can re-insert.
		patch.Before = map[string]any(snapshot)
		patch.After = nil

	default:
		return quality.RemediationPatch{}, quality.NewError(quality.ErrValidation, issue.ID,
			fmt.Errorf("unknown transform kind %q", transform.Kind))
	}
	return patch, nil
}

// execute performs the single sanctioned write a patch describes.
func (a *Applier) execute(ctx context.Context, issue quality.Issue, patch quality.RemediationPatch) error {
	if patch.After == nil {
		affected, err := a.store.DeleteRecord(ctx, issue.Table, issue.RecordKey)
		if err != nil {
			return err
		}
		if affected == 0 {
			return quality.NewError(quality.ErrNotFound, issue.RecordKey, nil)
		}
		return nil
	}
	for field, value := range patch.After {
		affected, err := a.store.UpdateField(ctx, issue.Table, issue.RecordKey, field, value)
		if err != nil {
			return err
		}
		if affected == 0 {
			return quality.NewError(quality.ErrNotFound, issue.RecordKey, nil)
		}
	}
	return nil
}

// shadowValidate re-checks the originating rule against the record.
func (a *Applier) shadowValidate(ctx context.Context, issue quality.Issue) (bool, error) {
	matches, err := a.validator.MatchesRecord(ctx, issue.RuleID, issue.RecordKey)
	if err != nil {
		// The write already stands; an unverifiable fix is reported as
		// unresolved, not rolled back.
		return false, quality.NewError(quality.ErrShadowValidationFailed, issue.ID, err)
	}
	if matches {
		return false, quality.NewError(quality.ErrShadowValidationFailed, issue.ID, nil)
	}
	return true, nil
}

// Rollback reverses an applied patch by writing its before-state back as
// a NEW patch. The original patch is marked rolled back, never deleted,
// and the issue reopens.
func (a *Applier) Rollback(ctx context.Context, patchID, actor string) (quality.RemediationPatch, error) {
	original, err := a.history.GetPatch(patchID)
	if err != nil {
		return quality.RemediationPatch{}, err
	}
	if original.ReversalOf != "" {
		return quality.RemediationPatch{}, quality.NewError(quality.ErrValidation, patchID,
			fmt.Errorf("patch is a reversal of %s and cannot be rolled back; apply a new fix instead", original.ReversalOf))
	}
	if original.Status != quality.PatchApplied {
		return quality.RemediationPatch{}, quality.NewError(quality.ErrValidation, patchID,
			fmt.Errorf("cannot roll back patch in status %s", original.Status))
	}

	if original.After == nil {
		// The patch deleted the record; rollback re-inserts the snapshot.
		if _, err := a.store.InsertRecord(ctx, original.Table, warehouse.Record(original.Before)); err != nil {
			return quality.RemediationPatch{}, err
		}
	} else {
		for field, value := range original.Before {
			if _, err := a.store.UpdateField(ctx, original.Table, original.RecordKey, field, value); err != nil {
				return quality.RemediationPatch{}, err
			}
		}
	}

	reversal := quality.RemediationPatch{
		ID:         uuid.NewString(),
		IssueID:    original.IssueID,
		RuleID:     original.RuleID,
		Table:      original.Table,
		RecordKey:  original.RecordKey,
		Before:     original.After,
		After:      original.Before,
		AppliedBy:  actor,
		AppliedAt:  a.now().UTC(),
		Status:     quality.PatchApplied,
		ReversalOf: original.ID,
	}
	if err := a.history.SavePatch(reversal); err != nil {
		return quality.RemediationPatch{}, err
	}
	if err := a.history.UpdatePatchStatus(original.ID, quality.PatchRolledBack); err != nil {
		return quality.RemediationPatch{}, err
	}
	if err := a.history.UpdateIssueState(original.IssueID, quality.IssueNew); err != nil {
		return quality.RemediationPatch{}, err
	}

	a.audit(actor, quality.ActionRollbackFix, original.ID, map[string]any{
		"reversal_patch_id": reversal.ID,
		"issue_id":          original.IssueID,
	}, quality.AuditSuccess)
	a.logger.Info("patch rolled back",
		"patch_id", original.ID,
		"reversal_patch_id", reversal.ID)
	return reversal, nil
}

// Escalate marks an issue for manual handling and opens a ticket in the
// audit trail.
func (a *Applier) Escalate(issueID, actor, reason string) (Ticket, error) {
	issue, err := a.history.GetIssue(issueID)
	if err != nil {
		return Ticket{}, err
	}
	if issue.ReviewState == quality.IssueResolved {
		return Ticket{}, quality.NewError(quality.ErrValidation, issueID,
			fmt.Errorf("cannot escalate a resolved issue"))
	}

	ticket := Ticket{
		ID:       "TKT-" + uuid.NewString()[:8],
		IssueID:  issueID,
		Reason:   reason,
		Priority: string(issue.Severity),
		OpenedAt: a.now().UTC(),
	}
	if err := a.history.UpdateIssueState(issueID, quality.IssueEscalated); err != nil {
		return Ticket{}, err
	}
	a.audit(actor, quality.ActionEscalate, issueID, map[string]any{
		"ticket_id": ticket.ID,
		"reason":    reason,
		"priority":  ticket.Priority,
	}, quality.AuditSuccess)
	return ticket, nil
}

func (a *Applier) audit(actor, action, targetID string, details map[string]any, outcome quality.AuditOutcome) {
	_, _ = a.history.AppendAudit(quality.AuditEntry{
		Actor:      actor,
		ActionType: action,
		TargetID:   targetID,
		Details:    details,
		Outcome:    outcome,
	})
}
