// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package warehouse

import (
	"context"
	"fmt"
)

// Relational check shapes used by detection. Like the write builders,
// these are fixed statement templates over whitelisted identifiers.

// DuplicateRows returns the primary key and the duplicated column for
// every row whose column value occurs more than once.
func (a *Accessor) DuplicateRows(ctx context.Context, table, column string) ([]Record, error) {
	t, err := a.schema.resolveTable(table)
	if err != nil {
		return nil, err
	}
	if err := a.schema.resolveColumn(t, column); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s IN ("+
			"SELECT %s FROM %s WHERE %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1)",
		quoteIdent(t.PrimaryKey), quoteIdent(column), quoteIdent(t.Name), quoteIdent(column),
		quoteIdent(column), quoteIdent(t.Name), quoteIdent(column), quoteIdent(column))
	return a.ExecuteRead(ctx, query)
}

// OrphanRows returns the primary key and the referencing column for every
// row whose reference has no match in the parent table.
func (a *Accessor) OrphanRows(ctx context.Context, table, column, refTable, refColumn string) ([]Record, error) {
	t, err := a.schema.resolveTable(table)
	if err != nil {
		return nil, err
	}
	if err := a.schema.resolveColumn(t, column); err != nil {
		return nil, err
	}
	ref, err := a.schema.resolveTable(refTable)
	if err != nil {
		return nil, err
	}
	if err := a.schema.resolveColumn(ref, refColumn); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s IS NOT NULL AND %s NOT IN ("+
			"SELECT %s FROM %s WHERE %s IS NOT NULL)",
		quoteIdent(t.PrimaryKey), quoteIdent(column), quoteIdent(t.Name), quoteIdent(column), quoteIdent(column),
		quoteIdent(refColumn), quoteIdent(ref.Name), quoteIdent(refColumn))
	return a.ExecuteRead(ctx, query)
}
