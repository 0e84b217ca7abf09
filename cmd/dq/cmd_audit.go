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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality"
)

var (
	issuesTable     string
	issuesState     string
	issuesDimension string
	issuesRule      string

	auditActor  string
	auditAction string
	auditTarget string
	auditLimit  int
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List detected issues",
	Args:  cobra.NoArgs,
	Run:   runIssues,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail",
	Args:  cobra.NoArgs,
	Run:   runAudit,
}

func init() {
	issuesCmd.Flags().StringVar(&issuesTable, "table", "", "Only issues on this table")
	issuesCmd.Flags().StringVar(&issuesState, "state", "", "Only issues in this review state")
	issuesCmd.Flags().StringVar(&issuesDimension, "dimension", "", "Only issues for this quality dimension")
	issuesCmd.Flags().StringVar(&issuesRule, "rule", "", "Only issues raised by this rule")

	auditCmd.Flags().StringVar(&auditActor, "actor", "", "Only entries by this actor")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "Only entries with this action type")
	auditCmd.Flags().StringVar(&auditTarget, "target", "", "Only entries touching this target id")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Keep only the N most recent entries")
}

func runIssues(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		issues, err := a.history.ListIssues(history.IssueFilter{
			Table:     issuesTable,
			Dimension: quality.Dimension(issuesDimension),
			State:     quality.ReviewState(issuesState),
			RuleID:    issuesRule,
		})
		if err != nil {
			return OutputResult(outputConfig(), "issues", start, nil, false, err)
		}
		humanf("%s %d issue(s)\n", render(styleHeader, "Issues"), len(issues))
		for _, issue := range issues {
			humanf("  %-44s %-12s %-12s %s %s\n",
				issue.ID, issue.Table, issue.Dimension,
				render(severityStyle(string(issue.Severity)), string(issue.Severity)),
				reviewLabel(issue.ReviewState))
		}
		open := 0
		for _, issue := range issues {
			if issue.ReviewState != quality.IssueResolved {
				open++
			}
		}
		return OutputResult(outputConfig(), "issues", start, issues, open > 0, nil)
	})
}

func runAudit(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		entries, err := a.history.ListAudit(history.AuditFilter{
			Actor:      auditActor,
			ActionType: auditAction,
			TargetID:   auditTarget,
			Limit:      auditLimit,
		})
		if err != nil {
			return OutputResult(outputConfig(), "audit", start, nil, false, err)
		}
		humanf("%s %d entr(ies)\n", render(styleHeader, "Audit Trail"), len(entries))
		for _, e := range entries {
			outcome := render(styleGood, string(e.Outcome))
			if e.Outcome != quality.AuditSuccess {
				outcome = render(styleBad, string(e.Outcome))
			}
			humanf("  %s %-14s %-16s %-44s %s\n",
				e.Timestamp.Format(time.RFC3339), e.Actor, e.ActionType, e.TargetID, outcome)
		}
		return OutputResult(outputConfig(), "audit", start, entries, false, nil)
	})
}

func reviewLabel(state quality.ReviewState) string {
	switch state {
	case quality.IssueResolved:
		return render(styleGood, string(state))
	case quality.IssueEscalated:
		return render(styleCritical, string(state))
	case quality.IssueUnderTreatment:
		return render(styleWarn, string(state))
	default:
		return render(styleBad, string(state))
	}
}
