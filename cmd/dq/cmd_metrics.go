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
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDQ/services/quality"
)

var (
	metricsSnapshot bool
	metricsTrend    int
)

var metricsCmd = &cobra.Command{
	Use:   "metrics [table]",
	Short: "Report quality scores, materiality, and ROI",
	Long: `Computes per-dimension quality scores for one table or the whole
schema. --snapshot persists the report for trend queries; --trend N
prints the N most recent snapshots instead of a fresh report.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runMetrics,
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsSnapshot, "snapshot", false, "Persist the report as a trend snapshot")
	metricsCmd.Flags().IntVar(&metricsTrend, "trend", 0, "Print the N most recent snapshots")
}

func runMetrics(cmd *cobra.Command, args []string) {
	start := time.Now()
	scope := ""
	if len(args) == 1 {
		scope = args[0]
	}
	withApp(func(a *app) int {
		if metricsTrend > 0 {
			snaps, err := a.aggregator.Trend(metricsTrend)
			if err != nil {
				return OutputResult(outputConfig(), "metrics", start, nil, false, err)
			}
			renderTrend(snaps)
			return OutputResult(outputConfig(), "metrics", start, snaps, false, nil)
		}

		ctx := context.Background()
		if metricsSnapshot {
			snap, err := a.aggregator.Snapshot(ctx, scope)
			if err != nil {
				return OutputResult(outputConfig(), "metrics", start, nil, false, err)
			}
			renderReport(snap.Report)
			humanf("\n%s %s\n", render(styleDim, "snapshot"), snap.ID)
			return OutputResult(outputConfig(), "metrics", start, snap, false, nil)
		}

		report, err := a.aggregator.Report(ctx, scope)
		if err != nil {
			return OutputResult(outputConfig(), "metrics", start, nil, false, err)
		}
		renderReport(report)
		return OutputResult(outputConfig(), "metrics", start, report, false, nil)
	})
}

func renderReport(r quality.Report) {
	humanf("%s scope=%s records=%d unresolved=%d\n",
		render(styleHeader, "Quality Report"), r.Scope, r.RecordsEvaluated, r.UnresolvedIssues)

	dims := make([]quality.Dimension, 0, len(r.DimensionScores))
	for d := range r.DimensionScores {
		dims = append(dims, d)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })
	for _, d := range dims {
		humanf("  %-14s %s\n", d, scoreLabel(r.DimensionScores[d]))
	}

	humanf("  %-14s %s  [%s]\n", "overall", scoreLabel(r.Overall),
		render(severityStyle(string(r.Materiality)), string(r.Materiality)))
	humanf("%s %d issues: manual $%s vs automated $%s, savings $%s (roi %.1fx)\n",
		render(styleTitle, "ROI"), r.ROI.IssuesCount, r.ROI.ManualCost,
		r.ROI.AutomatedCost, r.ROI.Savings, r.ROI.ROI)
}

func renderTrend(snaps []quality.Snapshot) {
	humanf("%s %d snapshot(s)\n", render(styleHeader, "Quality Trend"), len(snaps))
	for _, s := range snaps {
		humanf("  %s  %s  scope=%s  %s  [%s]\n",
			s.TakenAt.Format(time.RFC3339), s.ID, s.Report.Scope,
			scoreLabel(s.Report.Overall),
			render(severityStyle(string(s.Report.Materiality)), string(s.Report.Materiality)))
	}
}

func scoreLabel(score float64) string {
	label := fmt.Sprintf("%.2f", score)
	switch {
	case score < 0.5:
		return render(styleCritical, label)
	case score < 0.7:
		return render(styleBad, label)
	case score < 0.85:
		return render(styleWarn, label)
	default:
		return render(styleGood, label)
	}
}
