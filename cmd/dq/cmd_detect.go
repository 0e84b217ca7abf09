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
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/quality/detect"
)

var (
	detectWhere     string
	detectSince     string
	detectDimension string
	detectLimit     int
)

var detectCmd = &cobra.Command{
	Use:   "detect [table]",
	Short: "Run the active rules and record issues",
	Long: `Evaluates every ACTIVE rule against the record store, or only the
rules of one table when given. Open issues refresh in place; a re-run
over unchanged data never duplicates. Exits 1 when open issues exist.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&detectWhere, "where", "", "Narrow the scope with a filter fragment (requires a table)")
	detectCmd.Flags().StringVar(&detectSince, "since", "", "Only records stamped at or after this time, RFC3339 or YYYY-MM-DD (requires a table)")
	detectCmd.Flags().StringVar(&detectDimension, "dimension", "", "Only rules of this quality dimension")
	detectCmd.Flags().IntVar(&detectLimit, "limit", 0, "Override the per-rule sample limit")
}

func runDetect(cmd *cobra.Command, args []string) {
	start := time.Now()
	scope := detect.Scope{
		Where:     detectWhere,
		Dimension: quality.Dimension(detectDimension),
		Limit:     detectLimit,
	}
	if len(args) == 1 {
		scope.Table = args[0]
	}
	if detectSince != "" {
		since, err := parseSince(detectSince)
		if err != nil {
			OutputError(outputJSON, "Invalid --since", err)
			os.Exit(CLIExitError)
		}
		scope.Since = since
	}

	withApp(func(a *app) int {
		result, err := a.detector.Run(context.Background(), scope)
		if err != nil {
			return OutputResult(outputConfig(), "detect", start, nil, false, err)
		}
		renderDetectResult(result)
		return OutputResult(outputConfig(), "detect", start, result, len(result.Issues) > 0, nil)
	})
}

func renderDetectResult(result detect.Result) {
	if outputJSON || outputQuiet {
		return
	}
	humanf("%s  %d records evaluated, %d issue(s) open (%d new)\n",
		render(styleTitle, "scope "+result.Scope),
		result.Evaluated, len(result.Issues), result.NewIssues)
	for _, issue := range result.Issues {
		humanf("  %s  %-12s %-10s %s %s\n",
			render(severityStyle(string(issue.Severity)), fmt.Sprintf("%-8s", issue.Severity)),
			issue.Dimension,
			issue.ReviewState,
			issue.ID,
			render(styleDim, summarizeEvidence(issue)))
	}
	for _, failure := range result.Failures {
		humanf("  %s  rule %s: %s\n", render(styleBad, "FAILED"), failure.RuleID, failure.Reason)
	}
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// summarizeEvidence renders up to two evidence fields, deterministically.
func summarizeEvidence(issue quality.Issue) string {
	keys := make([]string, 0, len(issue.Evidence))
	for k := range issue.Evidence {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, issue.Evidence[k]))
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, " ")
}
