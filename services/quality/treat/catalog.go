// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package treat suggests candidate fixes for detected issues from a
// closed strategy catalog, ranked by history-adjusted confidence.
package treat

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianDQ/services/quality"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Strategy is one catalog entry.
type Strategy struct {
	ID               string            `yaml:"id"`
	Dimension        quality.Dimension `yaml:"dimension"`
	Description      string            `yaml:"description"`
	BaseConfidence   float64           `yaml:"base_confidence"`
	CostTier         quality.CostTier  `yaml:"cost_tier"`
	RequiresApproval bool              `yaml:"requires_approval"`
	Transform        quality.Transform `yaml:"transform"`
}

// Catalog is the closed set of treatment strategies.
type Catalog struct {
	Strategies []Strategy `yaml:"strategies"`
}

// LoadCatalog parses the embedded catalog. A parse failure is a
// packaging bug.
func LoadCatalog() (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(catalogYAML, &c); err != nil {
		return Catalog{}, quality.NewError(quality.ErrValidation, "catalog", err)
	}
	for _, s := range c.Strategies {
		if s.ID == "" || s.BaseConfidence < 0 || s.BaseConfidence > 1 {
			return Catalog{}, quality.NewError(quality.ErrValidation, s.ID,
				fmt.Errorf("malformed strategy entry"))
		}
	}
	return c, nil
}

// ForDimension returns the strategies treating one dimension, in catalog
// order.
func (c Catalog) ForDimension(dim quality.Dimension) []Strategy {
	var out []Strategy
	for _, s := range c.Strategies {
		if s.Dimension == dim {
			out = append(out, s)
		}
	}
	return out
}

// Get looks up one strategy by id.
func (c Catalog) Get(id string) (Strategy, bool) {
	for _, s := range c.Strategies {
		if s.ID == id {
			return s, true
		}
	}
	return Strategy{}, false
}
