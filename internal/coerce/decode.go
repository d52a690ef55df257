package coerce

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anguspalmer/servicenow/internal/apperr"
	"github.com/anguspalmer/servicenow/internal/schema"
)

// dateLayoutUTC is the canonical decode/encode layout for glide_date_time
// values (spec §4.D "UTC YYYY-MM-DD HH:MM:SS").
const dateLayoutUTC = "2006-01-02 15:04:05"

// dateLayoutDisplay is the secondary decode layout accepted for
// glide_date_time (spec §4.D "DD-MM-YYYY HH:MM:SS (local/display)"). The
// spec leaves the coexistence of these two formats on decode, and the
// single-format-only encode, as-is rather than resolving the ambiguity;
// see the Supplemented Features note in the expanded spec.
const dateLayoutDisplay = "02-01-2006 15:04:05"

// SchemaLookup resolves a table's cached column schema, used to walk
// dotted keys into reference columns during decode (spec §4.D "Dotted
// keys like a.b.c on decode: walk the schema via reference columns to
// resolve nested schemas").
type SchemaLookup interface {
	Get(ctx context.Context, table string) (*schema.Table, error)
}

// Decode converts a single wire row into a typed Row using tbl's column
// schema. lookup resolves reference-column target schemas for dotted
// keys; it may be nil if wire never contains dotted keys for this call.
func Decode(ctx context.Context, tbl *schema.Table, wire WireRow, lookup SchemaLookup) (Row, error) {
	row := make(Row, len(wire))
	for key, raw := range wire {
		head, rest, dotted := strings.Cut(key, ".")
		col, ok := tbl.Get(head)
		if !ok {
			// Unknown columns decode as opaque strings rather than erroring;
			// the remote occasionally returns metadata fields not present in
			// SCHEMA (e.g. sys_id link wrappers under exclude_reference_link=false).
			row[head] = String(stringify(raw))
			continue
		}

		if dotted {
			nestedLookup := lookup
			if nestedLookup == nil {
				return nil, apperr.Coercionf("dotted key requires a schema lookup", "key", key)
			}
			refTable, err := nestedLookup.Get(ctx, col.ReferenceTable)
			if err != nil {
				return nil, err
			}
			nestedWire := WireRow{rest: raw}
			nestedRow, err := Decode(ctx, refTable, nestedWire, lookup)
			if err != nil {
				return nil, err
			}
			existing, ok := row[head]
			if !ok || existing.Kind != KindNested {
				existing = Nested(Row{})
			}
			for k, v := range nestedRow {
				existing.Nested[k] = v
			}
			row[head] = existing
			continue
		}

		v, err := decodeScalar(col, raw)
		if err != nil {
			return nil, err
		}
		row[head] = v
	}
	return row, nil
}

// DecodeAll decodes rows element-wise with bounded concurrency (spec §4.D
// "Arrays of rows map element-wise with bounded concurrency").
func DecodeAll(ctx context.Context, tbl *schema.Table, wireRows []WireRow, lookup SchemaLookup, concurrency int) ([]Row, error) {
	if concurrency <= 0 {
		concurrency = 16
	}
	rows := make([]Row, len(wireRows))
	errs := make([]error, len(wireRows))

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, wr := range wireRows {
		i, wr := i, wr
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			rows[i], errs[i] = Decode(ctx, tbl, wr, lookup)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func decodeScalar(col schema.Column, raw interface{}) (TypedValue, error) {
	s, isString := raw.(string)
	if !isString {
		if raw == nil {
			return Null(), nil
		}
		s = stringify(raw)
	}
	if s == "" && col.Type != "boolean" {
		return Null(), nil
	}

	switch col.Type {
	case "boolean":
		switch s {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		case "":
			return Null(), nil
		default:
			return TypedValue{}, apperr.Coercionf("invalid boolean value", "column", col.Name, "value", s)
		}

	case "integer", "long":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			if col.IsChoiceList {
				// Choice-list integers may be display strings (spec §4.D).
				return String(s), nil
			}
			return TypedValue{}, apperr.Coercionf("invalid integer value", "column", col.Name, "value", s)
		}
		return Int(n), nil

	case "float", "decimal":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return TypedValue{}, apperr.Coercionf("invalid numeric value", "column", col.Name, "value", s)
		}
		return Float(f), nil

	case "glide_date_time":
		if t, err := time.Parse(dateLayoutUTC, s); err == nil {
			return Date(t), nil
		}
		if t, err := time.ParseInLocation(dateLayoutDisplay, s, time.Local); err == nil {
			return Date(t), nil
		}
		return TypedValue{}, apperr.Coercionf("invalid glide_date_time value", "column", col.Name, "value", s)

	case "reference", "glide_list":
		return String(s), nil

	default:
		// string, text, html, url, and anything unrecognized: passthrough.
		return String(s), nil
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// sortedKeys returns wire's keys in ascending order, for iterating a
// WireRow deterministically.
func sortedKeys(wire WireRow) []string {
	keys := make([]string, 0, len(wire))
	for k := range wire {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
