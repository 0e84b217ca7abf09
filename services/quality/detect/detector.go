// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detect evaluates active rules against the record store and
// persists the resulting issues.
//
// Rules are evaluated concurrently but in isolation: one rule's failure
// (bad regex, unsafe fragment, unreachable parent table) is recorded as a
// failed audit entry and does not stop the batch. Results merge in rule
// order, so two runs over unchanged data report identical output.
package detect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianDQ/pkg/logging"
	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/rules"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

// Config tunes a detection run.
type Config struct {
	// Concurrency bounds parallel rule evaluation.
	Concurrency int `yaml:"concurrency"`

	// DefaultZThreshold applies when an outlier rule leaves its threshold
	// unset.
	DefaultZThreshold float64 `yaml:"default_z_threshold"`

	// SampleLimit caps rows fetched per rule evaluation.
	SampleLimit int `yaml:"sample_limit"`

	// Now is the clock. Tests pin it.
	Now func() time.Time `yaml:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		DefaultZThreshold: 3.0,
		SampleLimit:       10000,
		Now:               time.Now,
	}
}

// Scope names what a run covers: one table, optionally narrowed by a
// sanitized filter fragment, a time window, or a single dimension. An
// empty Table covers every schema table; Where and Since require a Table.
type Scope struct {
	Table string
	Where string

	// Since keeps only records whose timestamp column is at or after this
	// instant. The table must declare a timestamp column.
	Since time.Time

	// Dimension, when set, evaluates only rules of that dimension.
	Dimension quality.Dimension

	// Limit overrides the configured per-rule sample limit for this run.
	Limit int
}

func (s Scope) label() string {
	if s.Table == "" {
		return "all"
	}
	label := s.Table
	if s.Where != "" {
		label += "[" + s.Where + "]"
	}
	if !s.Since.IsZero() {
		label += "[since " + s.Since.UTC().Format("2006-01-02") + "]"
	}
	if s.Dimension != "" {
		label += "/" + string(s.Dimension)
	}
	return label
}

// RuleFailure records one rule that could not be evaluated.
type RuleFailure struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

// Result is the outcome of one detection run.
type Result struct {
	Scope     string          `json:"scope"`
	Issues    []quality.Issue `json:"issues"`
	NewIssues int             `json:"new_issues"`
	Evaluated int64           `json:"records_evaluated"`
	Failures  []RuleFailure   `json:"failures,omitempty"`
}

// Detector runs active rules over the record store.
type Detector struct {
	store   *warehouse.Accessor
	rules   *rules.Store
	history *history.Store
	logger  *logging.Logger
	cfg     Config
}

// New wires a detector.
func New(store *warehouse.Accessor, ruleStore *rules.Store, hist *history.Store, logger *logging.Logger, cfg Config) *Detector {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.DefaultZThreshold <= 0 {
		cfg.DefaultZThreshold = DefaultConfig().DefaultZThreshold
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = DefaultConfig().SampleLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{store: store, rules: ruleStore, history: hist, logger: logger, cfg: cfg}
}

// Run evaluates every active rule in scope and persists the findings.
//
// # Outputs
//
//   - Result: All open issues matched this run (existing ones included),
//     the count of records evaluated, and per-rule failures.
//   - error: Only scope-level problems (unknown table, unsafe scope
//     filter, store unreachable). Per-rule problems land in Failures.
//
// Re-running over unchanged data is idempotent: an issue already open for
// the same rule and record is refreshed, not duplicated, and its review
// state is preserved.
func (d *Detector) Run(ctx context.Context, scope Scope) (Result, error) {
	result := Result{Scope: scope.label()}

	tables, err := d.scopedTables(scope)
	if err != nil {
		return Result{}, err
	}

	limit := d.cfg.SampleLimit
	if scope.Limit > 0 {
		limit = scope.Limit
	}

	type job struct {
		rule  quality.Rule
		table warehouse.TableSchema
		where string
		args  []any
	}
	var jobs []job
	for _, table := range tables {
		baseWhere, baseArgs, err := d.scopeFilter(scope, table)
		if err != nil {
			return Result{}, err
		}
		n, err := d.store.CountRows(ctx, table.Name, baseWhere, baseArgs...)
		if err != nil {
			return Result{}, err
		}
		result.Evaluated += n

		active, err := d.rules.Active(table.Name)
		if err != nil {
			return Result{}, err
		}
		for _, rule := range active {
			if scope.Dimension != "" && rule.Dimension != scope.Dimension {
				continue
			}
			jobs = append(jobs, job{rule: rule, table: table, where: baseWhere, args: baseArgs})
		}
	}

	perRule := make([][]quality.Issue, len(jobs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			issues, err := d.evaluate(gctx, j.rule, j.table, j.where, j.args, limit)
			if err != nil {
				mu.Lock()
				result.Failures = append(result.Failures, RuleFailure{RuleID: j.rule.ID, Reason: err.Error()})
				mu.Unlock()
				d.logger.Warn("rule evaluation failed", "rule_id", j.rule.ID, "error", err)
				_, _ = d.history.AppendAudit(quality.AuditEntry{
					Actor:      quality.ActorSystem,
					ActionType: quality.ActionDetect,
					TargetID:   j.rule.ID,
					Details:    map[string]any{"error": err.Error()},
					Outcome:    quality.AuditFailed,
				})
				return nil
			}
			perRule[i] = issues
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	// Merge in job order for deterministic output, then persist.
	for _, issues := range perRule {
		for _, issue := range issues {
			stored, isNew, err := d.persist(issue)
			if err != nil {
				return Result{}, err
			}
			result.Issues = append(result.Issues, stored)
			if isNew {
				result.NewIssues++
			}
		}
	}

	_, _ = d.history.AppendAudit(quality.AuditEntry{
		Actor:      quality.ActorSystem,
		ActionType: quality.ActionDetect,
		TargetID:   result.Scope,
		Details: map[string]any{
			"issues":    len(result.Issues),
			"new":       result.NewIssues,
			"evaluated": result.Evaluated,
			"failures":  len(result.Failures),
		},
		Outcome: quality.AuditSuccess,
	})
	d.logger.Info("detection complete",
		"scope", result.Scope,
		"issues", len(result.Issues),
		"new", result.NewIssues,
		"evaluated", result.Evaluated,
		"failures", len(result.Failures))
	return result, nil
}

// MatchesRecord re-evaluates one rule and reports whether it still flags
// the given record. Remediation's shadow validation runs this after every
// committed write.
//
// The rule is evaluated over its whole table so population-relative
// predicates (outliers, duplicates) judge the record against fresh
// context, then the record of interest is picked out of the matches.
func (d *Detector) MatchesRecord(ctx context.Context, ruleID, recordKey string) (bool, error) {
	rule, err := d.rules.Get(ruleID)
	if err != nil {
		return false, err
	}
	table, ok := d.store.Schema().Table(rule.Table)
	if !ok {
		return false, quality.NewError(quality.ErrValidation, rule.Table,
			fmt.Errorf("%w: table %q", warehouse.ErrUnknownIdentifier, rule.Table))
	}
	issues, err := d.evaluate(ctx, rule, table, "", nil, d.cfg.SampleLimit)
	if err != nil {
		return false, err
	}
	for _, issue := range issues {
		if issue.RecordKey == recordKey {
			return true, nil
		}
	}
	return false, nil
}

// scopeFilter compiles the scope's narrowing clauses for one table. The
// returned fragment is sanitized text; the time bound travels as an
// argument.
func (d *Detector) scopeFilter(scope Scope, table warehouse.TableSchema) (string, []any, error) {
	var clauses []string
	var args []any
	if scope.Where != "" {
		fragment, err := warehouse.SanitizeFragment(scope.Where, table)
		if err != nil {
			return "", nil, quality.NewError(quality.ErrUnsafePredicate, table.Name, err)
		}
		clauses = append(clauses, fragment)
	}
	if !scope.Since.IsZero() {
		if table.TimestampColumn == "" {
			return "", nil, quality.NewError(quality.ErrValidation, table.Name,
				fmt.Errorf("table %q has no timestamp column for a time window", table.Name))
		}
		clauses = append(clauses, warehouse.Quote(table.TimestampColumn)+" >= ?")
		args = append(args, scope.Since.UTC().Format("2006-01-02 15:04:05"))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func (d *Detector) scopedTables(scope Scope) ([]warehouse.TableSchema, error) {
	schema := d.store.Schema()
	if scope.Table == "" {
		if scope.Where != "" || !scope.Since.IsZero() {
			return nil, quality.NewError(quality.ErrValidation, "scope",
				fmt.Errorf("a scope filter requires a table"))
		}
		return schema.Tables, nil
	}
	table, ok := schema.Table(scope.Table)
	if !ok {
		return nil, quality.NewError(quality.ErrValidation, scope.Table,
			fmt.Errorf("%w: table %q", warehouse.ErrUnknownIdentifier, scope.Table))
	}
	return []warehouse.TableSchema{table}, nil
}

// evaluate runs one rule and returns its candidate issues, unpersisted.
func (d *Detector) evaluate(ctx context.Context, rule quality.Rule, table warehouse.TableSchema, baseWhere string, baseArgs []any, limit int) ([]quality.Issue, error) {
	p := rule.Predicate
	switch familyOf(p.Op) {
	case familyWhere:
		where, args, err := compileWhere(p, table)
		if err != nil {
			return nil, err
		}
		if baseWhere != "" {
			where = "(" + baseWhere + ") AND (" + where + ")"
			args = append(append([]any{}, baseArgs...), args...)
		}
		query, err := d.store.SelectWhere(table.Name, evidenceColumns(p, table), where, limit)
		if err != nil {
			return nil, err
		}
		records, err := d.store.ExecuteRead(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return d.issuesFromRecords(rule, table, records), nil

	case familyRelational:
		// Relational checks always run table-wide; a partial view of a
		// uniqueness or reference constraint proves nothing.
		var records []warehouse.Record
		var err error
		if p.Op == quality.OpDuplicateKey {
			records, err = d.store.DuplicateRows(ctx, table.Name, p.Field)
		} else {
			records, err = d.store.OrphanRows(ctx, table.Name, p.Field, p.RefTable, p.RefField)
		}
		if err != nil {
			return nil, err
		}
		return d.issuesFromRecords(rule, table, records), nil

	case familyClientSide:
		rows, err := d.store.ColumnValues(ctx, table.Name, p.Field, baseWhere, limit, baseArgs...)
		if err != nil {
			return nil, err
		}
		var matches []clientMatch
		switch p.Op {
		case quality.OpNotMatches:
			matches, err = matchPattern(p, rows, table.PrimaryKey)
		case quality.OpZOutlier:
			matches, err = matchZOutliers(p, rows, table.PrimaryKey, d.cfg.DefaultZThreshold)
		case quality.OpOlderThan:
			matches = matchStale(p, rows, table.PrimaryKey, d.cfg.Now())
		}
		if err != nil {
			return nil, err
		}
		issues := make([]quality.Issue, 0, len(matches))
		for _, m := range matches {
			issues = append(issues, d.newIssue(rule, m.key, m.evidence))
		}
		return issues, nil
	}
	return nil, quality.NewError(quality.ErrValidation, rule.ID,
		fmt.Errorf("unknown predicate op %q", p.Op))
}

func (d *Detector) issuesFromRecords(rule quality.Rule, table warehouse.TableSchema, records []warehouse.Record) []quality.Issue {
	issues := make([]quality.Issue, 0, len(records))
	for _, record := range records {
		key := fmt.Sprint(record[table.PrimaryKey])
		evidence := make(map[string]any, len(record))
		for col, v := range record {
			evidence[col] = v
		}
		issues = append(issues, d.newIssue(rule, key, evidence))
	}
	return issues
}

// newIssue builds an issue with a deterministic identity so repeat runs
// converge on the same record.
func (d *Detector) newIssue(rule quality.Rule, recordKey string, evidence map[string]any) quality.Issue {
	return quality.Issue{
		ID:          rule.ID + "@" + recordKey,
		RuleID:      rule.ID,
		Table:       rule.Table,
		RecordKey:   recordKey,
		Dimension:   rule.Dimension,
		Evidence:    evidence,
		Severity:    rule.Severity,
		DetectedAt:  d.cfg.Now().UTC(),
		ReviewState: quality.IssueNew,
	}
}

// persist stores a detected issue, refreshing rather than duplicating an
// already-open one. A previously RESOLVED issue that matches again
// reopens as NEW.
func (d *Detector) persist(issue quality.Issue) (quality.Issue, bool, error) {
	existing, err := d.history.GetIssue(issue.ID)
	if err == nil && existing.ReviewState != quality.IssueResolved {
		existing.Evidence = issue.Evidence
		if err := d.history.SaveIssue(existing); err != nil {
			return quality.Issue{}, false, err
		}
		return existing, false, nil
	}
	if err := d.history.SaveIssue(issue); err != nil {
		return quality.Issue{}, false, err
	}
	return issue, true, nil
}
