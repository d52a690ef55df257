// Package descriptor holds the desired/actual table and column shapes the
// Table Reconciler and its sub-reconcilers diff against each other (spec
// §3 "Table descriptor" / "Column descriptor"). It is kept separate from
// internal/schema, which models the remote's lighter-weight SCHEMA-endpoint
// view used purely for type coercion.
package descriptor

// ChoiceMode is the closed set of choice-list modes a column may declare
// (spec §3 "choice-mode ∈ {off, nullable, suggestion, required}").
type ChoiceMode string

const (
	ChoiceOff        ChoiceMode = "off"
	ChoiceNullable   ChoiceMode = "nullable"
	ChoiceSuggestion ChoiceMode = "suggestion"
	ChoiceRequired   ChoiceMode = "required"
)

// choiceModeCode is the wire encoding of ChoiceMode used by sys_dictionary's
// "choice" field (spec §4.G "choice-string<->integer mapping 1=nullable,
// 2=suggestion, 3=required").
var choiceModeCode = map[ChoiceMode]string{
	ChoiceNullable:   "1",
	ChoiceSuggestion: "2",
	ChoiceRequired:   "3",
}

var codeToChoiceMode = map[string]ChoiceMode{
	"1": ChoiceNullable,
	"2": ChoiceSuggestion,
	"3": ChoiceRequired,
	"":  ChoiceOff,
	"0": ChoiceOff,
}

// ChoiceModeCode returns the wire string for mode, or "" for ChoiceOff.
func ChoiceModeCode(mode ChoiceMode) string {
	return choiceModeCode[mode]
}

// ParseChoiceModeCode is the inverse of ChoiceModeCode.
func ParseChoiceModeCode(code string) ChoiceMode {
	if mode, ok := codeToChoiceMode[code]; ok {
		return mode
	}
	return ChoiceOff
}

// DataPolicy is the closed set of per-column write policies (spec §3
// "data-policy ∈ {readonly, writable}").
type DataPolicy string

const (
	DataPolicyUnset    DataPolicy = ""
	DataPolicyReadonly DataPolicy = "readonly"
	DataPolicyWritable DataPolicy = "writable"
)

// Column is one column of a Table descriptor (spec §3 "Column descriptor").
type Column struct {
	Name           string
	Label          string
	Type           string
	MaxLength      int
	ReferenceTable string
	ChoiceMap      map[string]string
	ChoiceMode     ChoiceMode
	DataPolicy     DataPolicy
	Syncback       bool
	SysCreatedBy   string

	// Table records the deepest (most-specific) ancestor defining this
	// column after hierarchy merge (spec §3 "the table attribute of each
	// column records the deepest defining ancestor").
	Table string
	// Overridden is true when the column name also appears in another
	// ancestor in the hierarchy (spec §3 "a column appearing in multiple
	// ancestors marks overridden").
	Overridden bool
	// SysUpdateName is the dictionary entry's internal identifier, used to
	// detect and skip synthetic null columns (spec §4.F "sys_update_name
	// == sys_dictionary_{table}_null").
	SysUpdateName string
}

// Table is a flattened table descriptor after ancestor merge (spec §3
// "Table descriptor").
type Table struct {
	Name         string
	Label        string
	Parent       string
	IsExtendable bool
	GlobalID     string
	Columns      map[string]Column
	// Order preserves the user-supplied column iteration order for desired
	// descriptors (spec §5 "columns in the user-supplied iteration order");
	// descriptors returned by table.Reconciler.Get list their columns
	// sorted by name.
	Order []string
}

// Get returns the column by name and whether it is present.
func (t *Table) Get(name string) (Column, bool) {
	if t == nil {
		return Column{}, false
	}
	c, ok := t.Columns[name]
	return c, ok
}

// Set inserts or replaces a column, appending to Order on first insert.
func (t *Table) Set(c Column) {
	if t.Columns == nil {
		t.Columns = make(map[string]Column)
	}
	if _, exists := t.Columns[c.Name]; !exists {
		t.Order = append(t.Order, c.Name)
	}
	t.Columns[c.Name] = c
}
