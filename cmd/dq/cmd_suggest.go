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

	"github.com/AleutianAI/AleutianDQ/services/quality"
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <issue-id>",
	Short: "Rank candidate fixes for an issue",
	Long: `Lists every catalog strategy that can treat the issue's dimension,
ranked by confidence adjusted with past treatment outcomes. Nothing is
applied or persisted.`,
	Args: cobra.ExactArgs(1),
	Run:  runSuggest,
}

func runSuggest(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		fixes, err := a.advisor.Suggest(args[0])
		if err != nil {
			return OutputResult(outputConfig(), "suggest", start, nil, false, err)
		}
		renderFixes(fixes)
		return OutputResult(outputConfig(), "suggest", start, fixes, false, nil)
	})
}

func renderFixes(fixes []quality.CandidateFix) {
	if outputJSON || outputQuiet {
		return
	}
	if len(fixes) == 0 {
		humanf("no applicable strategies\n")
		return
	}
	humanf("%s\n", render(styleHeader, "strategy              confidence  cost    approval  action"))
	for _, fix := range fixes {
		approval := "-"
		if fix.RequiresApproval {
			approval = render(styleWarn, "required")
		}
		humanf("%-22s%-12.2f%-8s%-10s%s\n",
			fix.StrategyID, fix.Confidence, fix.CostTier, approval, fix.ActionDescription)
	}
}
