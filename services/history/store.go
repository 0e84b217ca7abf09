// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history is the embedded workflow store: detected issues, the
// append-only audit trail, remediation patches, treatment outcomes, and
// metrics snapshots, all on a single Badger keyspace.
//
// Issues and patches are mutable (their state fields advance); everything
// else is append-only. Time-ordered entities carry a zero-padded
// nanosecond timestamp in the key so Badger's lexicographic iteration
// yields insertion order.
//
// # Thread Safety
//
// All methods are safe for concurrent use; Badger transactions provide the
// isolation.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDQ/services/quality"
)

// Key prefixes. A single DB hosts every entity class.
const (
	prefixIssue    = "issue/"
	prefixAudit    = "audit/"
	prefixPatch    = "patch/"
	prefixOutcome  = "outcome/"
	prefixSnapshot = "snapshot/"
)

// Config configures the embedded store.
type Config struct {
	// Dir is the on-disk location. Ignored when InMemory is set.
	Dir string `yaml:"dir"`

	// InMemory runs the store without files. Test use only.
	InMemory bool `yaml:"in_memory"`
}

// DefaultConfig stores under ~/.aleutian_dq/history.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{Dir: filepath.Join(home, ".aleutian_dq", "history")}
}

// InMemoryConfig returns an ephemeral configuration for tests.
func InMemoryConfig() Config { return Config{InMemory: true} }

// Open opens the Badger database described by cfg. The returned handle is
// shared between this package's Store and the rules store; the caller owns
// closing it.
func Open(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, quality.NewError(quality.ErrRemoteUnavailable, "history", err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, quality.NewError(quality.ErrRemoteUnavailable, "history", err)
	}
	return db, nil
}

// Store is the typed surface over the shared Badger handle.
type Store struct {
	db *badger.DB
}

// NewStore wraps an open database.
func NewStore(db *badger.DB) *Store { return &Store{db: db} }

// timeKey renders a timestamp so lexicographic order equals time order.
func timeKey(t time.Time) string { return fmt.Sprintf("%020d", t.UnixNano()) }

// =============================================================================
// Generic helpers
// =============================================================================

func (s *Store) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return quality.NewError(quality.ErrValidation, key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return quality.NewError(quality.ErrRemoteUnavailable, key, err)
	}
	return nil
}

func (s *Store) get(key string, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return json.Unmarshal(data, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return quality.NewError(quality.ErrNotFound, key, err)
	}
	if err != nil {
		return quality.NewError(quality.ErrRemoteUnavailable, key, err)
	}
	return nil
}

// scan visits every value under prefix in key order. The visitor decodes
// into its own target.
func (s *Store) scan(prefix string, visit func(data []byte) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var innerErr error
			err := it.Item().Value(func(data []byte) error {
				innerErr = visit(data)
				return nil
			})
			if err != nil {
				return err
			}
			if innerErr != nil {
				return innerErr
			}
		}
		return nil
	})
	if err != nil {
		return quality.NewError(quality.ErrRemoteUnavailable, prefix, err)
	}
	return nil
}

// =============================================================================
// Issues
// =============================================================================

// SaveIssue persists a detected issue. New issues should arrive with
// ReviewState NEW; the detector sets that.
func (s *Store) SaveIssue(issue quality.Issue) error {
	if issue.ID == "" {
		return quality.NewError(quality.ErrValidation, "", errors.New("issue has no id"))
	}
	return s.put(prefixIssue+issue.ID, issue)
}

// GetIssue fetches one issue by id.
func (s *Store) GetIssue(id string) (quality.Issue, error) {
	var issue quality.Issue
	if err := s.get(prefixIssue+id, &issue); err != nil {
		return quality.Issue{}, err
	}
	return issue, nil
}

// UpdateIssueState advances an issue's review state. Last write wins when
// operators race; the audit trail preserves both attempts.
func (s *Store) UpdateIssueState(id string, state quality.ReviewState) error {
	issue, err := s.GetIssue(id)
	if err != nil {
		return err
	}
	issue.ReviewState = state
	return s.put(prefixIssue+id, issue)
}

// IssueFilter narrows ListIssues. Zero fields match everything.
type IssueFilter struct {
	Table     string
	Dimension quality.Dimension
	State     quality.ReviewState
	RuleID    string
}

// ListIssues returns matching issues ordered by detection time.
func (s *Store) ListIssues(filter IssueFilter) ([]quality.Issue, error) {
	var issues []quality.Issue
	err := s.scan(prefixIssue, func(data []byte) error {
		var issue quality.Issue
		if err := json.Unmarshal(data, &issue); err != nil {
			return err
		}
		if filter.Table != "" && !strings.EqualFold(filter.Table, issue.Table) {
			return nil
		}
		if filter.Dimension != "" && filter.Dimension != issue.Dimension {
			return nil
		}
		if filter.State != "" && filter.State != issue.ReviewState {
			return nil
		}
		if filter.RuleID != "" && filter.RuleID != issue.RuleID {
			return nil
		}
		issues = append(issues, issue)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].DetectedAt.Equal(issues[j].DetectedAt) {
			return issues[i].ID < issues[j].ID
		}
		return issues[i].DetectedAt.Before(issues[j].DetectedAt)
	})
	return issues, nil
}

// =============================================================================
// Audit trail
// =============================================================================

// AppendAudit records one audit entry. ID and Timestamp are filled when
// zero. Entries are never updated or deleted.
func (s *Store) AppendAudit(entry quality.AuditEntry) (quality.AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	key := prefixAudit + timeKey(entry.Timestamp) + "/" + entry.ID
	if err := s.put(key, entry); err != nil {
		return quality.AuditEntry{}, err
	}
	return entry, nil
}

// AuditFilter narrows ListAudit. Zero fields match everything.
type AuditFilter struct {
	Actor      string
	ActionType string
	TargetID   string
	Limit      int
}

// ListAudit returns matching entries in insertion order.
func (s *Store) ListAudit(filter AuditFilter) ([]quality.AuditEntry, error) {
	var entries []quality.AuditEntry
	err := s.scan(prefixAudit, func(data []byte) error {
		var entry quality.AuditEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		if filter.Actor != "" && filter.Actor != entry.Actor {
			return nil
		}
		if filter.ActionType != "" && filter.ActionType != entry.ActionType {
			return nil
		}
		if filter.TargetID != "" && filter.TargetID != entry.TargetID {
			return nil
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[len(entries)-filter.Limit:]
	}
	return entries, nil
}

// =============================================================================
// Patches
// =============================================================================

// SavePatch persists a remediation patch.
func (s *Store) SavePatch(patch quality.RemediationPatch) error {
	if patch.ID == "" {
		return quality.NewError(quality.ErrValidation, "", errors.New("patch has no id"))
	}
	return s.put(prefixPatch+patch.ID, patch)
}

// GetPatch fetches one patch by id.
func (s *Store) GetPatch(id string) (quality.RemediationPatch, error) {
	var patch quality.RemediationPatch
	if err := s.get(prefixPatch+id, &patch); err != nil {
		return quality.RemediationPatch{}, err
	}
	return patch, nil
}

// UpdatePatchStatus marks a patch applied or rolled back.
func (s *Store) UpdatePatchStatus(id string, status quality.PatchStatus) error {
	patch, err := s.GetPatch(id)
	if err != nil {
		return err
	}
	patch.Status = status
	return s.put(prefixPatch+id, patch)
}

// ListPatches returns patches, newest last. issueID filters when non-empty.
func (s *Store) ListPatches(issueID string) ([]quality.RemediationPatch, error) {
	var patches []quality.RemediationPatch
	err := s.scan(prefixPatch, func(data []byte) error {
		var patch quality.RemediationPatch
		if err := json.Unmarshal(data, &patch); err != nil {
			return err
		}
		if issueID != "" && issueID != patch.IssueID {
			return nil
		}
		patches = append(patches, patch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(patches, func(i, j int) bool {
		if patches[i].AppliedAt.Equal(patches[j].AppliedAt) {
			return patches[i].ID < patches[j].ID
		}
		return patches[i].AppliedAt.Before(patches[j].AppliedAt)
	})
	return patches, nil
}

// =============================================================================
// Outcomes
// =============================================================================

// AppendOutcome records one treatment outcome under its (dimension,
// strategy) bucket for the advisor's success-rate lookups.
func (s *Store) AppendOutcome(outcome quality.Outcome) (quality.Outcome, error) {
	if outcome.ID == "" {
		outcome.ID = uuid.NewString()
	}
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now().UTC()
	}
	key := prefixOutcome + string(outcome.Dimension) + "/" + outcome.StrategyID + "/" + outcome.ID
	if err := s.put(key, outcome); err != nil {
		return quality.Outcome{}, err
	}
	return outcome, nil
}

// SuccessRate returns the fraction of successful outcomes for the bucket
// and the sample size. Rate is 1.0 on an empty history; the advisor's
// adjustment formula treats an unknown strategy as neutral.
func (s *Store) SuccessRate(dimension quality.Dimension, strategyID string) (float64, int, error) {
	prefix := prefixOutcome + string(dimension) + "/" + strategyID + "/"
	var total, succeeded int
	err := s.scan(prefix, func(data []byte) error {
		var outcome quality.Outcome
		if err := json.Unmarshal(data, &outcome); err != nil {
			return err
		}
		total++
		if outcome.Success {
			succeeded++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 1.0, 0, nil
	}
	return float64(succeeded) / float64(total), total, nil
}

// =============================================================================
// Metrics snapshots
// =============================================================================

// AppendSnapshot stores one report snapshot for trend queries.
func (s *Store) AppendSnapshot(snap quality.Snapshot) (quality.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	key := prefixSnapshot + timeKey(snap.TakenAt) + "/" + snap.ID
	if err := s.put(key, snap); err != nil {
		return quality.Snapshot{}, err
	}
	return snap, nil
}

// ListSnapshots returns snapshots oldest first. limit > 0 keeps only the
// most recent entries.
func (s *Store) ListSnapshots(limit int) ([]quality.Snapshot, error) {
	var snaps []quality.Snapshot
	err := s.scan(prefixSnapshot, func(data []byte) error {
		var snap quality.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return err
		}
		snaps = append(snaps, snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[len(snaps)-limit:]
	}
	return snaps, nil
}
