// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package treat

import (
	"sort"

	"github.com/AleutianAI/AleutianDQ/pkg/logging"
	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/rules"
)

// Advisor ranks candidate fixes for issues.
//
// Candidates are ephemeral: nothing here writes to the record store or
// persists a selection. Suggesting twice returns the same list (modulo
// outcome history recorded in between).
type Advisor struct {
	catalog Catalog
	rules   *rules.Store
	history *history.Store
	logger  *logging.Logger
}

// New wires an advisor over the built-in catalog.
func New(ruleStore *rules.Store, hist *history.Store, logger *logging.Logger) (*Advisor, error) {
	catalog, err := LoadCatalog()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Advisor{catalog: catalog, rules: ruleStore, history: hist, logger: logger}, nil
}

// Catalog exposes the loaded strategy catalog.
func (a *Advisor) Catalog() Catalog { return a.catalog }

// Suggest returns every applicable strategy for the issue, ranked by
// adjusted confidence with cheaper strategies winning ties.
//
// Confidence is base * (0.5 + 0.5 * success_rate), clamped to [0, 1].
// A strategy with no recorded outcomes keeps its base confidence.
func (a *Advisor) Suggest(issueID string) ([]quality.CandidateFix, error) {
	issue, err := a.history.GetIssue(issueID)
	if err != nil {
		return nil, err
	}

	// The rule tells field-targeted strategies which column to touch.
	targetField := ""
	if rule, err := a.rules.Get(issue.RuleID); err == nil {
		targetField = rule.Predicate.Field
	}

	var fixes []quality.CandidateFix
	for _, strategy := range a.catalog.ForDimension(issue.Dimension) {
		transform := strategy.Transform
		switch transform.Kind {
		case quality.TransformSetField, quality.TransformSetFieldAggregate:
			if transform.Field == "" {
				transform.Field = targetField
			}
			if transform.Field == "" {
				// No column to target; the strategy cannot apply here.
				continue
			}
		}

		rate, n, err := a.history.SuccessRate(issue.Dimension, strategy.ID)
		if err != nil {
			return nil, err
		}
		confidence := strategy.BaseConfidence * (0.5 + 0.5*rate)
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		a.logger.Debug("scored strategy",
			"issue_id", issueID,
			"strategy", strategy.ID,
			"confidence", confidence,
			"outcomes", n)

		fixes = append(fixes, quality.CandidateFix{
			IssueID:           issue.ID,
			StrategyID:        strategy.ID,
			ActionDescription: strategy.Description,
			Confidence:        confidence,
			CostTier:          strategy.CostTier,
			RequiresApproval:  strategy.RequiresApproval,
			Transform:         transform,
		})
	}

	sort.SliceStable(fixes, func(i, j int) bool {
		if fixes[i].Confidence != fixes[j].Confidence {
			return fixes[i].Confidence > fixes[j].Confidence
		}
		if fixes[i].CostTier != fixes[j].CostTier {
			return quality.Cheaper(fixes[i].CostTier, fixes[j].CostTier)
		}
		return fixes[i].StrategyID < fixes[j].StrategyID
	})
	return fixes, nil
}
