// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/quality/remediate"
)

var (
	applyStrategy string
	applyCommit   bool
	applyApprove  bool
)

var applyCmd = &cobra.Command{
	Use:   "apply <issue-id>",
	Short: "Preview or apply a fix for an issue",
	Long: `Applies the chosen strategy from the suggestion list. Without
--commit the patch is computed and shown but nothing is written.
Approval-gated strategies additionally need --approve to commit.
After a committed write the originating rule is re-checked; a fix that
did not actually clear the issue is reported and the issue stays open.`,
	Args: cobra.ExactArgs(1),
	Run:  runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applyStrategy, "strategy", "", "Strategy id from the suggestion list (default: top suggestion)")
	applyCmd.Flags().BoolVar(&applyCommit, "commit", false, "Write to the record store (default is preview)")
	applyCmd.Flags().BoolVar(&applyApprove, "approve", false, "Confirm an approval-gated strategy")
}

func runApply(cmd *cobra.Command, args []string) {
	start := time.Now()
	issueID := args[0]

	withApp(func(a *app) int {
		fixes, err := a.advisor.Suggest(issueID)
		if err != nil {
			return OutputResult(outputConfig(), "apply", start, nil, false, err)
		}
		fix, err := pickFix(fixes, applyStrategy)
		if err != nil {
			return OutputResult(outputConfig(), "apply", start, nil, false, err)
		}

		result, err := a.applier.Apply(context.Background(), remediate.ApplyRequest{
			Fix:      fix,
			Actor:    actorName,
			Approved: applyApprove,
			Commit:   applyCommit,
		})
		if err != nil && !errors.Is(err, quality.ErrShadowValidationFailed) {
			return OutputResult(outputConfig(), "apply", start, nil, false, err)
		}
		renderApplyResult(fix, result, err)
		// An applied-but-unresolved fix is a finding, not a failure.
		return OutputResult(outputConfig(), "apply", start, result, !result.Preview && !result.Resolved, nil)
	})
}

func pickFix(fixes []quality.CandidateFix, strategyID string) (quality.CandidateFix, error) {
	if len(fixes) == 0 {
		return quality.CandidateFix{}, quality.NewError(quality.ErrValidation, strategyID,
			fmt.Errorf("no applicable strategies for this issue"))
	}
	if strategyID == "" {
		return fixes[0], nil
	}
	for _, fix := range fixes {
		if fix.StrategyID == strategyID {
			return fix, nil
		}
	}
	return quality.CandidateFix{}, quality.NewError(quality.ErrValidation, strategyID,
		fmt.Errorf("strategy %q is not applicable to this issue", strategyID))
}

func renderApplyResult(fix quality.CandidateFix, result remediate.ApplyResult, shadowErr error) {
	if outputJSON || outputQuiet {
		return
	}
	patch := result.Patch
	mode := "applied"
	if result.Preview {
		mode = "preview"
	}
	humanf("%s %s on %s/%s (patch %s)\n",
		render(styleTitle, mode), fix.StrategyID, patch.Table, patch.RecordKey, patch.ID)
	for field, after := range patch.After {
		humanf("  %s: %v -> %v\n", field, patch.Before[field], after)
	}
	if patch.After == nil {
		humanf("  %s\n", render(styleWarn, "record deleted (snapshot kept for rollback)"))
	}
	switch {
	case result.Preview:
		humanf("  %s\n", render(styleDim, "no write performed; re-run with --commit"))
	case result.Resolved:
		humanf("  %s\n", render(styleGood, "issue resolved"))
	default:
		humanf("  %s: %v\n", render(styleBad, "issue still open"), shadowErr)
	}
}
