// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package warehouse

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern is the only shape an identifier may take. No spaces,
// no quotes, no punctuation beyond underscore.
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// forbiddenFragmentPatterns reject raw predicate fragments that attempt
// statement-level or DDL/DML mischief. Fragments are WHERE-clause material
// only; anything that could escape that position is refused outright.
var forbiddenFragmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDROP\b`),
	regexp.MustCompile(`(?i)\bDELETE\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\b`),
	regexp.MustCompile(`(?i)\bINSERT\b`),
	regexp.MustCompile(`(?i)\bUPDATE\b`),
	regexp.MustCompile(`(?i)\bCREATE\b`),
	regexp.MustCompile(`(?i)\bALTER\b`),
	regexp.MustCompile(`(?i)\bGRANT\b`),
	regexp.MustCompile(`(?i)\bREVOKE\b`),
	regexp.MustCompile(`(?i)\bEXEC(UTE)?\b`),
	regexp.MustCompile(`(?i)\bUNION\b`),
	regexp.MustCompile(`(?i)\bSELECT\b`), // no subqueries in fragments
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*`),
	regexp.MustCompile(`\*/`),
	regexp.MustCompile(`;`),
}

// SanitizeIdentifier validates a single table or column identifier shape.
//
// This is the first gate; the schema whitelist is the second. Returns the
// identifier unchanged on success so call sites can use it inline.
func SanitizeIdentifier(ident string) (string, error) {
	if !identifierPattern.MatchString(ident) {
		return "", fmt.Errorf("%w: %q", ErrBadIdentifier, ident)
	}
	return ident, nil
}

// SanitizeFragment validates a raw WHERE-clause fragment from a custom or
// AI-drafted rule.
//
// The fragment must reference only whitelisted columns of the given table
// and must not contain statement keywords, comments, or semicolons.
// Rejection here is a detection-time failure for the owning rule — callers
// record it, they do not silently skip.
func SanitizeFragment(fragment string, table TableSchema) (string, error) {
	trimmed := strings.TrimSpace(fragment)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty fragment", ErrForbiddenFragment)
	}
	for _, pattern := range forbiddenFragmentPatterns {
		if pattern.MatchString(trimmed) {
			return "", fmt.Errorf("%w: matched %s", ErrForbiddenFragment, pattern.String())
		}
	}
	// Every bare word that is not a recognized SQL scalar keyword, number,
	// or quoted string must be a whitelisted column of the table.
	for _, word := range fragmentWords(trimmed) {
		if fragmentKeywords[strings.ToUpper(word)] {
			continue
		}
		if table.HasColumn(word) {
			continue
		}
		return "", fmt.Errorf("%w: %q is not a column of table %q", ErrForbiddenFragment, word, table.Name)
	}
	return trimmed, nil
}

// fragmentKeywords are the scalar-expression keywords a fragment may use.
var fragmentKeywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IS": true, "NULL": true,
	"IN": true, "LIKE": true, "BETWEEN": true, "TRUE": true, "FALSE": true,
}

// fragmentWordPattern extracts bare identifiers from a fragment, skipping
// single-quoted string literals and numbers.
var (
	fragmentLiteralPattern = regexp.MustCompile(`'[^']*'`)
	fragmentWordPattern    = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

func fragmentWords(fragment string) []string {
	withoutLiterals := fragmentLiteralPattern.ReplaceAllString(fragment, "''")
	return fragmentWordPattern.FindAllString(withoutLiterals, -1)
}
