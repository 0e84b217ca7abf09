// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

// Predicates split into three evaluation families:
//
//   - where: compiles to a WHERE clause pushed to the store
//     (is_null, outside_range, compare, raw_fragment)
//   - relational: a fixed grouped/joined shape
//     (duplicate_key, orphan_ref)
//   - clientSide: rows are fetched and matched locally
//     (not_matches, z_outlier, older_than)
type evalFamily int

const (
	familyWhere evalFamily = iota
	familyRelational
	familyClientSide
)

func familyOf(op quality.PredicateOp) evalFamily {
	switch op {
	case quality.OpDuplicateKey, quality.OpOrphanRef:
		return familyRelational
	case quality.OpNotMatches, quality.OpZOutlier, quality.OpOlderThan:
		return familyClientSide
	default:
		return familyWhere
	}
}

// compileWhere turns a where-family predicate into clause and args.
//
// Identifiers are resolved by the caller against the schema before this
// runs; raw fragments additionally pass the sanitizer here so an unsafe
// custom rule fails its own evaluation instead of being skipped.
func compileWhere(p quality.Predicate, table warehouse.TableSchema) (string, []any, error) {
	switch p.Op {
	case quality.OpIsNull:
		col := warehouse.Quote(p.Field)
		return fmt.Sprintf("%s IS NULL OR %s = ''", col, col), nil, nil

	case quality.OpOutsideRange:
		col := warehouse.Quote(p.Field)
		var clauses []string
		var args []any
		if p.Min != nil {
			clauses = append(clauses, col+" < ?")
			args = append(args, *p.Min)
		}
		if p.Max != nil {
			clauses = append(clauses, col+" > ?")
			args = append(args, *p.Max)
		}
		return strings.Join(clauses, " OR "), args, nil

	case quality.OpCompare:
		return fmt.Sprintf("%s %s ?", warehouse.Quote(p.Field), p.Compare), []any{p.Value}, nil

	case quality.OpRawFragment:
		clean, err := warehouse.SanitizeFragment(p.Fragment, table)
		if err != nil {
			return "", nil, quality.NewError(quality.ErrUnsafePredicate, table.Name, err)
		}
		return clean, nil, nil

	default:
		return "", nil, quality.NewError(quality.ErrValidation, table.Name,
			fmt.Errorf("predicate op %s does not compile to a where clause", p.Op))
	}
}

// evidenceColumns picks the columns worth snapshotting for a where-family
// match. Raw fragments snapshot the whole row.
func evidenceColumns(p quality.Predicate, table warehouse.TableSchema) []string {
	if p.Op == quality.OpRawFragment {
		return nil // all columns
	}
	if strings.EqualFold(p.Field, table.PrimaryKey) {
		return []string{table.PrimaryKey}
	}
	return []string{table.PrimaryKey, p.Field}
}
