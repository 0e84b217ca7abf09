// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package quality

import (
	"errors"
	"fmt"
)

// Sentinel errors for the workflow's error taxonomy.
//
// Every failure surfaced to a caller wraps exactly one of these, so
// errors.Is distinguishes the five kinds without string matching.
var (
	// ErrValidation indicates malformed input (unknown dimension,
	// structurally invalid predicate). Rejected before execution; never
	// reaches the store.
	ErrValidation = errors.New("validation failed")

	// ErrUnsafePredicate indicates a custom or AI-drafted predicate failed
	// the identifier/keyword whitelist sanitizer. Fatal to that one rule's
	// evaluation or activation, not to the batch.
	ErrUnsafePredicate = errors.New("unsafe predicate")

	// ErrApprovalRequired indicates a commit was attempted on a fix or
	// rule lacking approval. The operation aborts; no write occurs.
	ErrApprovalRequired = errors.New("approval required")

	// ErrRemoteUnavailable indicates the record or history store is
	// unreachable. The individual operation fails and is surfaced as-is;
	// the core never retries automatically.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrShadowValidationFailed indicates a post-commit re-check still
	// matched the originating predicate. The write stands; the issue
	// remains unresolved.
	ErrShadowValidationFailed = errors.New("shadow validation failed")

	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// Error attaches the taxonomy kind and the target it concerns to an
// underlying failure, so a caller can distinguish "nothing happened" from
// "partially happened".
type Error struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// TargetID identifies the entity the failure concerns (rule, issue,
	// patch, or table name).
	TargetID string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: target=%s: %v", e.Kind, e.TargetID, e.Err)
	}
	return fmt.Sprintf("%v: target=%s", e.Kind, e.TargetID)
}

// Unwrap exposes the kind (and transitively the cause) to errors.Is.
func (e *Error) Unwrap() error { return e.Kind }

// Cause returns the underlying error, if any.
func (e *Error) Cause() error { return e.Err }

// NewError builds a taxonomy error.
func NewError(kind error, targetID string, err error) *Error {
	return &Error{Kind: kind, TargetID: targetID, Err: err}
}

// TargetOf extracts the TargetID from a taxonomy error, or "" for plain
// errors.
func TargetOf(err error) string {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.TargetID
	}
	return ""
}
