// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics scores record quality per dimension and estimates the
// cost saved by automated remediation.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AleutianAI/AleutianDQ/pkg/logging"
	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

// Config tunes scoring and the ROI cost model.
type Config struct {
	// Materiality cut points on the overall score. A score below
	// CutCritical is CRITICAL, below CutHigh is HIGH, below CutMedium is
	// MEDIUM, anything else LOW.
	CutCritical float64 `yaml:"cut_critical"`
	CutHigh     float64 `yaml:"cut_high"`
	CutMedium   float64 `yaml:"cut_medium"`

	// Cost-model constants. Minutes are per unresolved issue; the rate is
	// an hourly figure parsed as a decimal string.
	ManualMinutesPerIssue    float64 `yaml:"manual_minutes_per_issue"`
	AutomatedMinutesPerIssue float64 `yaml:"automated_minutes_per_issue"`
	HourlyRate               string  `yaml:"hourly_rate"`

	// Now is the clock. Tests pin it.
	Now func() time.Time `yaml:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CutCritical:              0.5,
		CutHigh:                  0.7,
		CutMedium:                0.85,
		ManualMinutesPerIssue:    15,
		AutomatedMinutesPerIssue: 0.5,
		HourlyRate:               "75",
		Now:                      time.Now,
	}
}

// Aggregator computes quality reports over the record store and issue
// history.
type Aggregator struct {
	store   *warehouse.Accessor
	history *history.Store
	logger  *logging.Logger
	cfg     Config
}

// New wires an aggregator.
func New(store *warehouse.Accessor, hist *history.Store, logger *logging.Logger, cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.CutCritical <= 0 {
		cfg.CutCritical = def.CutCritical
	}
	if cfg.CutHigh <= 0 {
		cfg.CutHigh = def.CutHigh
	}
	if cfg.CutMedium <= 0 {
		cfg.CutMedium = def.CutMedium
	}
	if cfg.ManualMinutesPerIssue <= 0 {
		cfg.ManualMinutesPerIssue = def.ManualMinutesPerIssue
	}
	if cfg.AutomatedMinutesPerIssue <= 0 {
		cfg.AutomatedMinutesPerIssue = def.AutomatedMinutesPerIssue
	}
	if cfg.HourlyRate == "" {
		cfg.HourlyRate = def.HourlyRate
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Aggregator{store: store, history: hist, logger: logger, cfg: cfg}
}

// Report scores one table, or every schema table when scope is empty.
//
// Each dimension scores 1 - unresolved/evaluated, floored at zero; the
// overall score is the unweighted mean of the five dimensions. A scope
// with no records scores a clean 1.0 everywhere.
func (m *Aggregator) Report(ctx context.Context, scope string) (quality.Report, error) {
	tables, err := m.scopedTables(scope)
	if err != nil {
		return quality.Report{}, err
	}

	var evaluated int64
	for _, t := range tables {
		n, err := m.store.CountRows(ctx, t.Name, "")
		if err != nil {
			return quality.Report{}, err
		}
		evaluated += n
	}

	unresolvedByDim := make(map[quality.Dimension]int, len(quality.Dimensions))
	totalUnresolved := 0
	issues, err := m.history.ListIssues(history.IssueFilter{Table: scope})
	if err != nil {
		return quality.Report{}, err
	}
	for _, issue := range issues {
		if issue.ReviewState == quality.IssueResolved {
			continue
		}
		unresolvedByDim[issue.Dimension]++
		totalUnresolved++
	}

	scores := make(map[quality.Dimension]float64, len(quality.Dimensions))
	var sum float64
	for _, dim := range quality.Dimensions {
		score := 1.0
		if evaluated > 0 {
			score = 1.0 - float64(unresolvedByDim[dim])/float64(evaluated)
			if score < 0 {
				score = 0
			}
		}
		scores[dim] = score
		sum += score
	}
	overall := sum / float64(len(quality.Dimensions))

	label := scope
	if label == "" {
		label = "all"
	}
	report := quality.Report{
		Scope:            label,
		DimensionScores:  scores,
		Overall:          overall,
		Materiality:      m.materiality(overall),
		ROI:              m.roi(totalUnresolved),
		RecordsEvaluated: evaluated,
		UnresolvedIssues: totalUnresolved,
		ComputedAt:       m.cfg.Now().UTC(),
	}
	m.logger.Info("report computed",
		"scope", label,
		"overall", overall,
		"materiality", string(report.Materiality),
		"unresolved", totalUnresolved)
	return report, nil
}

// Snapshot computes a report and appends it to the trend history.
func (m *Aggregator) Snapshot(ctx context.Context, scope string) (quality.Snapshot, error) {
	report, err := m.Report(ctx, scope)
	if err != nil {
		return quality.Snapshot{}, err
	}
	snap, err := m.history.AppendSnapshot(quality.Snapshot{
		Report:  report,
		TakenAt: report.ComputedAt,
	})
	if err != nil {
		return quality.Snapshot{}, err
	}
	_, _ = m.history.AppendAudit(quality.AuditEntry{
		Actor:      quality.ActorSystem,
		ActionType: quality.ActionSnapshot,
		TargetID:   snap.ID,
		Details:    map[string]any{"scope": report.Scope, "overall": report.Overall},
		Outcome:    quality.AuditSuccess,
	})
	return snap, nil
}

// Trend returns the most recent snapshots, oldest first.
func (m *Aggregator) Trend(limit int) ([]quality.Snapshot, error) {
	return m.history.ListSnapshots(limit)
}

func (m *Aggregator) materiality(overall float64) quality.Materiality {
	switch {
	case overall < m.cfg.CutCritical:
		return quality.MaterialityCritical
	case overall < m.cfg.CutHigh:
		return quality.MaterialityHigh
	case overall < m.cfg.CutMedium:
		return quality.MaterialityMedium
	default:
		return quality.MaterialityLow
	}
}

// roi prices unresolved issues under the manual and automated cost
// models. Estimates, not measurements.
func (m *Aggregator) roi(unresolved int) quality.ROIEstimate {
	rate, err := decimal.NewFromString(m.cfg.HourlyRate)
	if err != nil {
		rate = decimal.NewFromInt(0)
	}
	sixty := decimal.NewFromInt(60)
	count := decimal.NewFromInt(int64(unresolved))

	manual := count.Mul(decimal.NewFromFloat(m.cfg.ManualMinutesPerIssue)).Div(sixty).Mul(rate)
	auto := count.Mul(decimal.NewFromFloat(m.cfg.AutomatedMinutesPerIssue)).Div(sixty).Mul(rate)
	savings := manual.Sub(auto)

	roi := 0.0
	if !auto.IsZero() {
		roi, _ = savings.Div(auto).Round(2).Float64()
	}
	return quality.ROIEstimate{
		IssuesCount:   unresolved,
		ManualCost:    manual.StringFixed(2),
		AutomatedCost: auto.StringFixed(2),
		Savings:       savings.StringFixed(2),
		ROI:           roi,
	}
}

func (m *Aggregator) scopedTables(scope string) ([]warehouse.TableSchema, error) {
	schema := m.store.Schema()
	if scope == "" {
		return schema.Tables, nil
	}
	table, ok := schema.Table(scope)
	if !ok {
		return nil, quality.NewError(quality.ErrValidation, scope,
			fmt.Errorf("%w: table %q", warehouse.ErrUnknownIdentifier, scope))
	}
	return []warehouse.TableSchema{table}, nil
}
