// Package coerce implements the Type Coercer (spec §4.D): bidirectional
// conversion between the remote's untyped wire rows (string-valued JSON
// maps) and typed in-memory rows, driven by a table's cached schema.
package coerce

import "time"

// Kind tags which variant of TypedValue is populated (spec §9 "represent a
// row as a mapping string -> TypedValue where TypedValue is a tagged
// variant {null, bool, int, float, string, date, guid, nested map}").
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindDate
	KindGUID
	KindNested
)

// TypedValue is one cell of a typed Row. Exactly one of the fields
// matching Kind is meaningful; the rest are zero values.
type TypedValue struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	String string
	Date   time.Time
	GUID   string
	Nested Row
}

func Null() TypedValue               { return TypedValue{Kind: KindNull} }
func Bool(b bool) TypedValue          { return TypedValue{Kind: KindBool, Bool: b} }
func Int(i int64) TypedValue          { return TypedValue{Kind: KindInt, Int: i} }
func Float(f float64) TypedValue      { return TypedValue{Kind: KindFloat, Float: f} }
func String(s string) TypedValue      { return TypedValue{Kind: KindString, String: s} }
func Date(t time.Time) TypedValue     { return TypedValue{Kind: KindDate, Date: t} }
func GUID(g string) TypedValue        { return TypedValue{Kind: KindGUID, GUID: g} }
func Nested(r Row) TypedValue         { return TypedValue{Kind: KindNested, Nested: r} }

// IsNull reports whether v is the null variant.
func (v TypedValue) IsNull() bool { return v.Kind == KindNull }

// Row is a typed in-memory record: column name -> TypedValue. Dotted keys
// produced by nested reference resolution (spec §4.D "walk the schema via
// reference columns to resolve nested schemas") live as KindNested values
// under the leading segment, e.g. decoding "caller_id.name" populates
// row["caller_id"].Nested["name"].
type Row map[string]TypedValue

// WireRow is a single record exactly as the remote sends or expects it:
// every value is either a string, or (for exclude_reference_link=false
// link objects) a nested map. Values are whatever encoding/json produces
// for interface{}; decodeScalar stringifies non-string scalars before
// coercing them.
type WireRow map[string]interface{}
