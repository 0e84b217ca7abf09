// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	_ "embed"
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

//go:embed heuristics.yaml
var heuristicsYAML []byte

// Heuristics are the built-in parameters seed rules are generated with.
type Heuristics struct {
	ZScoreThreshold float64           `yaml:"z_score_threshold"`
	MaxAgeDays      int               `yaml:"max_age_days"`
	ValidityPattern []validityPattern `yaml:"validity_patterns"`
}

type validityPattern struct {
	Match       string `yaml:"match"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`

	matchRE *regexp.Regexp
}

// LoadHeuristics parses the embedded defaults. The embedded file is part
// of the build; a parse failure here is a packaging bug.
func LoadHeuristics() (Heuristics, error) {
	var h Heuristics
	if err := yaml.Unmarshal(heuristicsYAML, &h); err != nil {
		return Heuristics{}, quality.NewError(quality.ErrValidation, "heuristics", err)
	}
	for i := range h.ValidityPattern {
		re, err := regexp.Compile(h.ValidityPattern[i].Match)
		if err != nil {
			return Heuristics{}, quality.NewError(quality.ErrValidation, "heuristics", err)
		}
		h.ValidityPattern[i].matchRE = re
	}
	return h, nil
}

// GenerateSeedRules derives the built-in check set from the schema:
//
//   - completeness: is_null per required column
//   - validity: not_matches per column whose name matches a known pattern
//   - consistency: duplicate_key on the primary key, orphan_ref per FK
//   - accuracy: z_outlier per declared numeric column
//   - timeliness: older_than on the timestamp column
//
// Seed IDs are deterministic per (table, op, field) so re-seeding after a
// schema change updates in place instead of duplicating.
func GenerateSeedRules(schema warehouse.Schema, h Heuristics) []quality.Rule {
	var seeds []quality.Rule

	add := func(t warehouse.TableSchema, dim quality.Dimension, sev quality.Severity, desc string, p quality.Predicate) {
		field := p.Field
		if field == "" {
			field = "record"
		}
		seeds = append(seeds, quality.Rule{
			ID:          fmt.Sprintf("seed-%s-%s-%s", t.Name, p.Op, field),
			Table:       t.Name,
			Dimension:   dim,
			Description: desc,
			Predicate:   p,
			Severity:    sev,
		})
	}

	for _, t := range schema.Tables {
		for _, col := range t.RequiredColumns {
			add(t, quality.Completeness, quality.SeverityHigh,
				fmt.Sprintf("%s.%s must be populated", t.Name, col),
				quality.Predicate{Op: quality.OpIsNull, Field: col})
		}

		for _, col := range t.Columns {
			for _, vp := range h.ValidityPattern {
				if vp.matchRE != nil && vp.matchRE.MatchString(col) {
					add(t, quality.Validity, quality.SeverityMedium,
						fmt.Sprintf("%s.%s: %s", t.Name, col, vp.Description),
						quality.Predicate{Op: quality.OpNotMatches, Field: col, Pattern: vp.Pattern})
					break
				}
			}
		}

		if t.PrimaryKey != "" {
			add(t, quality.Consistency, quality.SeverityCritical,
				fmt.Sprintf("%s.%s must be unique", t.Name, t.PrimaryKey),
				quality.Predicate{Op: quality.OpDuplicateKey, Field: t.PrimaryKey})
		}
		for _, fk := range t.ForeignKeys {
			add(t, quality.Consistency, quality.SeverityHigh,
				fmt.Sprintf("%s.%s must reference %s.%s", t.Name, fk.Column, fk.RefTable, fk.RefColumn),
				quality.Predicate{
					Op:       quality.OpOrphanRef,
					Field:    fk.Column,
					RefTable: fk.RefTable,
					RefField: fk.RefColumn,
				})
		}

		for _, col := range t.NumericColumns {
			add(t, quality.Accuracy, quality.SeverityMedium,
				fmt.Sprintf("%s.%s deviates more than %.1f stddev from the mean", t.Name, col, h.ZScoreThreshold),
				quality.Predicate{Op: quality.OpZOutlier, Field: col, Threshold: h.ZScoreThreshold})
		}

		if t.TimestampColumn != "" {
			add(t, quality.Timeliness, quality.SeverityLow,
				fmt.Sprintf("%s.%s is older than %d days", t.Name, t.TimestampColumn, h.MaxAgeDays),
				quality.Predicate{Op: quality.OpOlderThan, Field: t.TimestampColumn, MaxAgeDays: h.MaxAgeDays})
		}
	}
	return seeds
}

// Seed installs the built-in rules for the schema. Each new seed is
// created PENDING under the system actor and immediately approved and
// activated by the installing operator, so every ACTIVE seed carries an
// approve audit entry naming an approver distinct from its automated
// creator. Re-seeding refreshes existing seeds in place without touching
// their lifecycle state.
//
// Returns the number of rules installed or refreshed.
func (s *Store) Seed(schema warehouse.Schema, actor string) (int, error) {
	if quality.AutomatedActor(actor) {
		return 0, quality.NewError(quality.ErrApprovalRequired, "seed",
			fmt.Errorf("automated actor %q cannot install seed rules", actor))
	}
	h, err := LoadHeuristics()
	if err != nil {
		return 0, err
	}
	seeds := GenerateSeedRules(schema, h)
	for _, rule := range seeds {
		rule.CreatedBy = quality.ActorSystem

		existing, err := s.Get(rule.ID)
		if err == nil {
			// Refresh predicate parameters but keep lifecycle history.
			rule.CreatedAt = existing.CreatedAt
			rule.Version = existing.Version
			rule.State = existing.State
			if err := s.writeRuleAndVersion(rule, quality.ActorSystem, "reseeded from schema"); err != nil {
				return 0, err
			}
			s.audit(quality.ActorSystem, quality.ActionCreateRule, rule.ID,
				map[string]any{"seed": true, "table": rule.Table}, quality.AuditSuccess)
			continue
		}

		rule.CreatedAt = time.Now().UTC()
		rule.Version = 1
		rule.State = quality.RulePending
		if err := s.writeRuleAndVersion(rule, quality.ActorSystem, "seeded from schema"); err != nil {
			return 0, err
		}
		s.audit(quality.ActorSystem, quality.ActionCreateRule, rule.ID,
			map[string]any{"seed": true, "table": rule.Table}, quality.AuditSuccess)
		if _, err := s.Approve(rule.ID, actor); err != nil {
			return 0, err
		}
		if _, err := s.Activate(rule.ID, actor); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}
