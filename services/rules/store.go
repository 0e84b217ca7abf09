// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules manages the detection rule catalog: creation, a full
// version history with rollback, the approval lifecycle, schema-derived
// seed rules, and AI-assisted drafting.
//
// Rules share the history package's Badger handle. The current rule and
// its version entries live under separate prefixes; version entries are
// append-only, so rollback writes the target content as a NEW version
// rather than rewinding history.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality"
)

const (
	prefixRule    = "rule/"
	prefixVersion = "rulever/"
)

// Store is the rule catalog over the shared Badger handle.
//
// Every mutation appends an audit entry through the history store before
// returning; a mutation with no audit entry is a bug.
type Store struct {
	db      *badger.DB
	history *history.Store
}

// NewStore wraps the shared database and audit sink.
func NewStore(db *badger.DB, hist *history.Store) *Store {
	return &Store{db: db, history: hist}
}

func versionKey(ruleID string, version int) string {
	return fmt.Sprintf("%s%s/%06d", prefixVersion, ruleID, version)
}

// =============================================================================
// CRUD and versions
// =============================================================================

// Create validates and persists a new rule in PENDING state at version 1.
//
// # Inputs
//
//   - rule: Table, Dimension, Description, Predicate, Severity are taken
//     from the caller; ID, State, Version, CreatedAt are assigned here.
//   - actor: who is creating the rule. Recorded as CreatedBy and in audit.
//
// # Outputs
//
//   - quality.Rule: The stored rule with identity and lifecycle fields set.
//   - error: ErrValidation when structurally invalid; nothing is stored.
func (s *Store) Create(rule quality.Rule, actor string) (quality.Rule, error) {
	if err := s.validate(rule); err != nil {
		return quality.Rule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedBy = actor
	rule.CreatedAt = time.Now().UTC()
	rule.State = quality.RulePending
	rule.Version = 1

	if err := s.writeRuleAndVersion(rule, actor, "initial version"); err != nil {
		return quality.Rule{}, err
	}
	s.audit(actor, quality.ActionCreateRule, rule.ID, map[string]any{
		"table":     rule.Table,
		"dimension": string(rule.Dimension),
	}, quality.AuditSuccess)
	return rule, nil
}

// Update revises a rule's predicate and description as a new version.
//
// The revised rule drops back to PENDING: edits always re-enter the
// approval workflow, whoever made them.
func (s *Store) Update(ruleID string, predicate quality.Predicate, description, actor, reason string) (quality.Rule, error) {
	rule, err := s.Get(ruleID)
	if err != nil {
		return quality.Rule{}, err
	}
	if err := predicate.Validate(); err != nil {
		return quality.Rule{}, err
	}
	rule.Predicate = predicate
	if description != "" {
		rule.Description = description
	}
	rule.Version++
	rule.State = quality.RulePending

	if err := s.writeRuleAndVersion(rule, actor, reason); err != nil {
		return quality.Rule{}, err
	}
	s.audit(actor, quality.ActionCreateRule, rule.ID, map[string]any{
		"version": rule.Version,
		"reason":  reason,
	}, quality.AuditSuccess)
	return rule, nil
}

// Rollback restores a prior version's content as a NEW version.
//
// The version counter keeps climbing and every prior entry survives, so
// the history always shows what was live when.
func (s *Store) Rollback(ruleID string, targetVersion int, actor, reason string) (quality.Rule, error) {
	rule, err := s.Get(ruleID)
	if err != nil {
		return quality.Rule{}, err
	}
	target, err := s.GetVersion(ruleID, targetVersion)
	if err != nil {
		return quality.Rule{}, err
	}

	rule.Predicate = target.Predicate
	rule.Description = target.Description
	rule.Version++
	rule.State = quality.RulePending

	if reason == "" {
		reason = fmt.Sprintf("rollback to version %d", targetVersion)
	}
	if err := s.writeRuleAndVersion(rule, actor, reason); err != nil {
		return quality.Rule{}, err
	}
	s.audit(actor, quality.ActionRollbackRule, rule.ID, map[string]any{
		"restored_version": targetVersion,
		"new_version":      rule.Version,
	}, quality.AuditSuccess)
	return rule, nil
}

// Get fetches the current state of one rule.
func (s *Store) Get(ruleID string) (quality.Rule, error) {
	var rule quality.Rule
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRule + ruleID))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return json.Unmarshal(data, &rule)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return quality.Rule{}, quality.NewError(quality.ErrNotFound, ruleID, err)
	}
	if err != nil {
		return quality.Rule{}, quality.NewError(quality.ErrRemoteUnavailable, ruleID, err)
	}
	return rule, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Table     string
	Dimension quality.Dimension
	State     quality.LifecycleState
}

// List returns matching rules sorted by creation time then id.
func (s *Store) List(filter Filter) ([]quality.Rule, error) {
	var rules []quality.Rule
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRule)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				var rule quality.Rule
				if err := json.Unmarshal(data, &rule); err != nil {
					return err
				}
				if filter.Table != "" && !strings.EqualFold(filter.Table, rule.Table) {
					return nil
				}
				if filter.Dimension != "" && filter.Dimension != rule.Dimension {
					return nil
				}
				if filter.State != "" && filter.State != rule.State {
					return nil
				}
				rules = append(rules, rule)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, quality.NewError(quality.ErrRemoteUnavailable, "rules", err)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

// Active returns the evaluable rules for a table, or every table when
// table is empty. Only ACTIVE rules are ever handed to the detector.
func (s *Store) Active(table string) ([]quality.Rule, error) {
	return s.List(Filter{Table: table, State: quality.RuleActive})
}

// GetVersion fetches one immutable version entry.
func (s *Store) GetVersion(ruleID string, version int) (quality.RuleVersion, error) {
	var entry quality.RuleVersion
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(versionKey(ruleID, version)))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return json.Unmarshal(data, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return quality.RuleVersion{}, quality.NewError(quality.ErrNotFound,
			fmt.Sprintf("%s@v%d", ruleID, version), err)
	}
	if err != nil {
		return quality.RuleVersion{}, quality.NewError(quality.ErrRemoteUnavailable, ruleID, err)
	}
	return entry, nil
}

// ListVersions returns a rule's full history, oldest first.
func (s *Store) ListVersions(ruleID string) ([]quality.RuleVersion, error) {
	var versions []quality.RuleVersion
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixVersion + ruleID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				var entry quality.RuleVersion
				if err := json.Unmarshal(data, &entry); err != nil {
					return err
				}
				versions = append(versions, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, quality.NewError(quality.ErrRemoteUnavailable, ruleID, err)
	}
	return versions, nil
}

// =============================================================================
// Internals
// =============================================================================

func (s *Store) validate(rule quality.Rule) error {
	if rule.Table == "" {
		return quality.NewError(quality.ErrValidation, rule.ID, errors.New("rule has no table"))
	}
	if _, err := quality.ParseDimension(string(rule.Dimension)); err != nil {
		return err
	}
	return rule.Predicate.Validate()
}

// writeRuleAndVersion stores the current rule and its version entry in one
// transaction.
func (s *Store) writeRuleAndVersion(rule quality.Rule, actor, reason string) error {
	entry := quality.RuleVersion{
		VersionID:     uuid.NewString(),
		RuleID:        rule.ID,
		VersionNumber: rule.Version,
		Predicate:     rule.Predicate,
		Description:   rule.Description,
		CreatedBy:     actor,
		CreatedAt:     time.Now().UTC(),
		ChangeReason:  reason,
	}
	ruleData, err := json.Marshal(rule)
	if err != nil {
		return quality.NewError(quality.ErrValidation, rule.ID, err)
	}
	entryData, err := json.Marshal(entry)
	if err != nil {
		return quality.NewError(quality.ErrValidation, rule.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixRule+rule.ID), ruleData); err != nil {
			return err
		}
		return txn.Set([]byte(versionKey(rule.ID, rule.Version)), entryData)
	})
	if err != nil {
		return quality.NewError(quality.ErrRemoteUnavailable, rule.ID, err)
	}
	return nil
}

// writeRule stores the current rule only (lifecycle transitions, which do
// not change content).
func (s *Store) writeRule(rule quality.Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return quality.NewError(quality.ErrValidation, rule.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixRule+rule.ID), data)
	})
	if err != nil {
		return quality.NewError(quality.ErrRemoteUnavailable, rule.ID, err)
	}
	return nil
}

// audit appends an entry. Best effort; the mutation itself is already
// durable when this runs.
func (s *Store) audit(actor, action, targetID string, details map[string]any, outcome quality.AuditOutcome) {
	_, _ = s.history.AppendAudit(quality.AuditEntry{
		Actor:      actor,
		ActionType: action,
		TargetID:   targetID,
		Details:    details,
		Outcome:    outcome,
	})
}
