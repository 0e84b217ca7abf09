// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package warehouse

import "errors"

// Sentinel errors for the warehouse package.
var (
	// ErrUnknownIdentifier indicates a table or column outside the schema
	// whitelist.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrBadIdentifier indicates an identifier with characters outside the
	// allowed set.
	ErrBadIdentifier = errors.New("malformed identifier")

	// ErrForbiddenFragment indicates a raw predicate fragment containing a
	// blacklisted keyword or comment sequence.
	ErrForbiddenFragment = errors.New("forbidden predicate fragment")
)
