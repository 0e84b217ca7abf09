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
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

// Client-side matchers. These run over fetched rows so every wired driver
// behaves identically; regex dialects and stddev support vary too much
// across engines to push down.

// clientMatch is one offending row found by a client-side matcher.
type clientMatch struct {
	key      string
	evidence map[string]any
}

// matchPattern flags rows whose field value does not match the rule's
// regexp. Null rows are excluded before this runs; absence is a
// completeness concern, not a validity one.
func matchPattern(p quality.Predicate, rows []warehouse.Record, pk string) ([]clientMatch, error) {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return nil, quality.NewError(quality.ErrValidation, p.Field,
			fmt.Errorf("invalid pattern %q: %w", p.Pattern, err))
	}
	var matches []clientMatch
	for _, row := range rows {
		value := fmt.Sprint(row[p.Field])
		if re.MatchString(value) {
			continue
		}
		matches = append(matches, clientMatch{
			key:      fmt.Sprint(row[pk]),
			evidence: map[string]any{p.Field: row[p.Field], "pattern": p.Pattern},
		})
	}
	return matches, nil
}

// matchZOutliers flags rows whose value deviates from the scoped column
// mean by more than threshold population standard deviations.
//
// Fewer than two numeric samples yield no issues: a z-score over a
// single point is undefined, not a finding. A zero stddev likewise
// yields none.
func matchZOutliers(p quality.Predicate, rows []warehouse.Record, pk string, defaultThreshold float64) ([]clientMatch, error) {
	threshold := p.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}

	type sample struct {
		key   string
		value float64
	}
	var samples []sample
	for _, row := range rows {
		v, ok := toFloat(row[p.Field])
		if !ok {
			continue
		}
		samples = append(samples, sample{key: fmt.Sprint(row[pk]), value: v})
	}
	if len(samples) < 2 {
		return nil, nil
	}

	var sum float64
	for _, s := range samples {
		sum += s.value
	}
	mean := sum / float64(len(samples))
	var variance float64
	for _, s := range samples {
		variance += (s.value - mean) * (s.value - mean)
	}
	stddev := math.Sqrt(variance / float64(len(samples)))
	if stddev == 0 {
		return nil, nil
	}

	var matches []clientMatch
	for _, s := range samples {
		z := (s.value - mean) / stddev
		if math.Abs(z) > threshold {
			matches = append(matches, clientMatch{
				key: s.key,
				evidence: map[string]any{
					p.Field:   s.value,
					"z_score": math.Round(z*100) / 100,
					"mean":    math.Round(mean*100) / 100,
				},
			})
		}
	}
	return matches, nil
}

// timestampLayouts are tried in order when a stored timestamp is textual.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// matchStale flags rows whose timestamp is older than the rule's SLA.
// Unparseable timestamps are flagged too; an unreadable freshness marker
// is itself a timeliness finding.
func matchStale(p quality.Predicate, rows []warehouse.Record, pk string, now time.Time) []clientMatch {
	cutoff := now.AddDate(0, 0, -p.MaxAgeDays)
	var matches []clientMatch
	for _, row := range rows {
		ts, ok := toTime(row[p.Field])
		if ok && !ts.Before(cutoff) {
			continue
		}
		evidence := map[string]any{p.Field: row[p.Field], "max_age_days": p.MaxAgeDays}
		if ok {
			evidence["age_days"] = int(now.Sub(ts).Hours() / 24)
		} else {
			evidence["unparseable"] = true
		}
		matches = append(matches, clientMatch{key: fmt.Sprint(row[pk]), evidence: evidence})
	}
	return matches
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
