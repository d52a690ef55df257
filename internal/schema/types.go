// Package schema implements the Schema Cache (spec §4.C): a cached,
// per-table column schema fetched from the remote's XML SCHEMA endpoint,
// used by the Type Coercer to drive bidirectional row conversion.
package schema

import "time"

// TTL is how long a published schema entry remains valid before a fresh
// fetch is required (spec §3, §4.C).
const TTL = 5 * time.Minute

// Column is a single column definition as returned by the SCHEMA endpoint:
// name, type, max-length, optional reference-table, optional choice-list
// flag (spec §3 "Schema entry").
type Column struct {
	Name           string
	Type           string
	MaxLength      int
	ReferenceTable string
	IsChoiceList   bool
}

// Table is a table's full column schema: a sorted map of name -> Column,
// keyed for deterministic iteration (spec §4.C "parses the XML into a
// sorted map").
type Table struct {
	Name    string
	Columns map[string]Column
	// Order lists the column names sorted by name, for a deterministic
	// column iteration order.
	Order []string
}

// Get returns the column by name and whether it was present.
func (t *Table) Get(name string) (Column, bool) {
	if t == nil {
		return Column{}, false
	}
	c, ok := t.Columns[name]
	return c, ok
}
