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
	"time"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <patch-id>",
	Short: "Reverse an applied patch",
	Long: `Writes the patch's before-state back to the record store as a new
patch. The original patch is marked rolled back and the issue reopens.
A delete is reversed by re-inserting the snapshotted record.`,
	Args: cobra.ExactArgs(1),
	Run:  runRollback,
}

var escalateReason string

var escalateCmd = &cobra.Command{
	Use:   "escalate <issue-id>",
	Short: "Hand an issue to manual handling",
	Args:  cobra.ExactArgs(1),
	Run:   runEscalate,
}

func init() {
	escalateCmd.Flags().StringVar(&escalateReason, "reason", "", "Why automation cannot treat this issue")
	escalateCmd.MarkFlagRequired("reason")
}

func runRollback(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		reversal, err := a.applier.Rollback(context.Background(), args[0], actorName)
		if err != nil {
			return OutputResult(outputConfig(), "rollback", start, nil, false, err)
		}
		humanf("%s patch %s reversed by patch %s; issue %s reopened\n",
			render(styleTitle, "rollback"), args[0], reversal.ID, reversal.IssueID)
		return OutputResult(outputConfig(), "rollback", start, reversal, false, nil)
	})
}

func runEscalate(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		ticket, err := a.applier.Escalate(args[0], actorName, escalateReason)
		if err != nil {
			return OutputResult(outputConfig(), "escalate", start, nil, false, err)
		}
		humanf("%s %s opened for issue %s (priority %s)\n",
			render(styleTitle, "ticket"), ticket.ID, ticket.IssueID,
			render(severityStyle(ticket.Priority), ticket.Priority))
		return OutputResult(outputConfig(), "escalate", start, ticket, false, nil)
	})
}
