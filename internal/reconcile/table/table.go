// Package table implements the Table Reconciler (spec §4.F): reads a
// table's flattened column descriptor (including inherited ancestors),
// diffs it against a desired descriptor via the Column sub-reconciler,
// and commits table/column creation and updates in order.
package table

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anguspalmer/servicenow/internal/apperr"
	"github.com/anguspalmer/servicenow/internal/coerce"
	"github.com/anguspalmer/servicenow/internal/descriptor"
	"github.com/anguspalmer/servicenow/internal/gateway"
	"github.com/anguspalmer/servicenow/internal/plan"
	"github.com/anguspalmer/servicenow/internal/reconcile/column"
)

// Reconciler owns the collaborators the Table Reconciler needs: the
// gateway for remote reads/writes and the column sub-reconciler it
// delegates diffing to.
type Reconciler struct {
	Gateway *gateway.Gateway
	Column  *column.Reconciler

	// resyncDelay is the wait before re-fetching a just-created table's
	// descriptor (spec §4.F "wait briefly (2s) and re-sync"); overridable
	// in tests.
	resyncDelay time.Duration
}

// New builds a Reconciler with the production 2s post-create resync delay.
func New(gw *gateway.Gateway, col *column.Reconciler) *Reconciler {
	return &Reconciler{Gateway: gw, Column: col, resyncDelay: 2 * time.Second}
}

// Get returns the flattened descriptor for nameOrID: the table's own
// columns merged with every ancestor reachable via super_class (spec
// §4.F).
func (r *Reconciler) Get(ctx context.Context, nameOrID string) (*descriptor.Table, error) {
	chain, err := r.ancestorChain(ctx, nameOrID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, apperr.Planf("table not found", "table", nameOrID)
	}
	return mergeChain(chain), nil
}

// level is one table's own (non-inherited) descriptor data, before merge.
type level struct {
	table *descriptor.Table
}

// ancestorChain returns levels ordered root-first, target-last (spec §4.F
// "later (more-specific) ancestors overwrite table, labels, and document
// strings" implies a root-to-target merge order).
func (r *Reconciler) ancestorChain(ctx context.Context, name string) ([]level, error) {
	var chain []level
	seen := make(map[string]bool)
	for name != "" {
		if seen[name] {
			break // defensive: a cyclic super_class chain must not hang.
		}
		seen[name] = true

		lvl, parent, err := r.fetchLevel(ctx, name)
		if err != nil {
			return nil, err
		}
		if lvl == nil {
			break
		}
		// Strict is_extendable rule (spec §9 open question, resolved):
		// a table can only serve as another table's super_class if it is
		// itself marked extendable. lvl is acting as a parent here
		// whenever we arrived at it by following a child's super_class.
		if len(chain) > 0 && !lvl.IsExtendable {
			return nil, apperr.Schemaf("parent table is not extendable", "table", name)
		}
		chain = append([]level{{table: lvl}}, chain...)
		name = parent
	}
	return chain, nil
}

// fetchLevel fetches one table's own descriptor (not merged with
// ancestors) plus its parent table name.
func (r *Reconciler) fetchLevel(ctx context.Context, name string) (*descriptor.Table, string, error) {
	dbRows, err := r.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{
		Table: "sys_db_object",
		Query: "name=" + name,
	})
	if err != nil {
		return nil, "", err
	}
	if len(dbRows) == 0 {
		return nil, "", nil
	}
	obj := dbRows[0]

	dictRows, choiceRows, policyRows, docRows, err := r.fetchColumnSources(ctx, name)
	if err != nil {
		return nil, "", err
	}

	choicesByElement := groupChoices(choiceRows)
	policyByField := groupPolicy(policyRows)
	docsByElement := groupDocs(docRows)

	tbl := &descriptor.Table{
		Name:         name,
		Label:        stringField(obj, "label"),
		IsExtendable: boolField(obj, "is_extendable"),
		GlobalID:     stringField(obj, "sys_id"),
		Columns:      make(map[string]descriptor.Column),
	}

	for _, d := range dictRows {
		element := stringField(d, "element")
		if element == "" {
			continue
		}
		if stringField(d, "sys_update_name") == fmt.Sprintf("sys_dictionary_%s_null", name) {
			continue // synthetic null column (spec §4.F)
		}
		col := descriptor.Column{
			Name:           element,
			Label:          stringField(d, "column_label"),
			Type:           stringField(d, "internal_type"),
			MaxLength:      intField(d, "max_length"),
			ReferenceTable: stringField(d, "reference"),
			ChoiceMode:     descriptor.ParseChoiceModeCode(stringField(d, "choice")),
			SysCreatedBy:   stringField(d, "sys_created_by"),
			Table:          name,
			SysUpdateName:  stringField(d, "sys_update_name"),
		}
		if cm, ok := choicesByElement[element]; ok {
			col.ChoiceMap = cm
		}
		if dp, ok := policyByField[element]; ok {
			col.DataPolicy = dp
		}
		if label, ok := docsByElement[element]; ok && label != "" {
			col.Label = label
		}
		tbl.Set(col)
	}

	return tbl, stringField(obj, "super_class"), nil
}

// fetchColumnSources fetches a table's four column-metadata sources in
// parallel (spec §4.F "get(nameOrId)" requires dictionary, choice,
// data-policy, and documentation rows to be fetched concurrently rather
// than as four sequential round trips).
func (r *Reconciler) fetchColumnSources(ctx context.Context, table string) (dict, choices, policies, docs []coerce.Row, err error) {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := r.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{Table: "sys_dictionary", Query: "name=" + table})
		dict = rows
		return err
	})
	g.Go(func() error {
		rows, err := r.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{Table: "sys_choice", Query: "name=" + table})
		choices = rows
		return err
	})
	g.Go(func() error {
		rows, err := r.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{Table: "sys_data_policy_rule", Query: "table=" + table})
		policies = rows
		return err
	})
	g.Go(func() error {
		rows, err := r.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{Table: "sys_documentation", Query: "name=" + table})
		docs = rows
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, nil, nil, err
	}
	return dict, choices, policies, docs, nil
}

func groupChoices(rows []coerce.Row) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, row := range rows {
		element := stringField(row, "element")
		value := stringField(row, "value")
		label := stringField(row, "label")
		if out[element] == nil {
			out[element] = make(map[string]string)
		}
		out[element][value] = label
	}
	return out
}

func groupPolicy(rows []coerce.Row) map[string]descriptor.DataPolicy {
	out := make(map[string]descriptor.DataPolicy)
	for _, row := range rows {
		field := stringField(row, "field")
		if boolField(row, "disabled") {
			out[field] = descriptor.DataPolicyReadonly
		} else {
			out[field] = descriptor.DataPolicyWritable
		}
	}
	return out
}

func groupDocs(rows []coerce.Row) map[string]string {
	out := make(map[string]string)
	for _, row := range rows {
		out[stringField(row, "element")] = stringField(row, "label")
	}
	return out
}

// mergeChain merges levels ordered root-first into one flattened
// descriptor (spec §4.F merge rules).
func mergeChain(chain []level) *descriptor.Table {
	merged := &descriptor.Table{
		Columns: make(map[string]descriptor.Column),
	}
	for i, lvl := range chain {
		if i == 0 {
			merged.Parent = ""
		} else {
			merged.Parent = chain[i-1].table.Name
		}
		merged.Name = lvl.table.Name
		merged.Label = lvl.table.Label
		merged.IsExtendable = lvl.table.IsExtendable
		merged.GlobalID = lvl.table.GlobalID

		for _, name := range lvl.table.Order {
			col := lvl.table.Columns[name]
			if existing, ok := merged.Columns[name]; ok {
				// First occurrence wins for structural fields; this later
				// (more specific) level overwrites table/label/doc strings.
				existing.Table = col.Table
				existing.Label = col.Label
				existing.Overridden = true
				merged.Columns[name] = existing
				continue
			}
			merged.Set(col)
		}
	}
	sort.Strings(merged.Order)
	return merged
}

// Sync diffs desired against the current remote state and, if commit is
// true, executes the resulting plan (spec §4.F "sync(desired, {commit})").
func (r *Reconciler) Sync(ctx context.Context, desired *descriptor.Table, commit bool) (*plan.Plan, error) {
	existing, err := r.Get(ctx, desired.Name)
	isNewTable := false
	if err != nil {
		if appErr, ok := err.(*apperr.Error); !ok || appErr.Kind != apperr.Plan {
			return nil, err
		}
		isNewTable = true
		existing = &descriptor.Table{Name: desired.Name, Columns: map[string]descriptor.Column{}}
	}

	if !isNewTable && desired.Parent != "" && desired.Parent != existing.Parent {
		p := &plan.Plan{}
		p.Add(plan.Action{Kind: plan.Error, Target: desired.Name, Reason: "parent table mismatch: existing=" + existing.Parent + " desired=" + desired.Parent})
		return p, nil
	}

	p := &plan.Plan{}
	if isNewTable {
		p.Add(plan.Action{Kind: plan.Create, Target: desired.Name, Apply: func(ctx context.Context) error {
			return r.createTable(ctx, desired)
		}})
	}

	columnPlan := r.Column.Diff(desired.Name, desired, existing)
	p.Actions = append(p.Actions, columnPlan.Actions...)

	if commit {
		if err := p.Commit(ctx); err != nil {
			return p, err
		}
		if isNewTable {
			select {
			case <-time.After(r.resyncDelay):
			case <-ctx.Done():
				return p, ctx.Err()
			}
			if _, err := r.Sync(ctx, desired, true); err != nil {
				return p, err
			}
		}
	}

	return p, nil
}

func (r *Reconciler) createTable(ctx context.Context, desired *descriptor.Table) error {
	body := map[string]string{
		"name":          desired.Name,
		"label":         desired.Label,
		"is_extendable": boolString(desired.IsExtendable),
	}
	if desired.Parent != "" {
		body["super_class"] = desired.Parent
	}
	_, err := r.Gateway.Do(ctx, "POST", "/v2/table/sys_db_object", nil, body)
	return err
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func stringField(row coerce.Row, field string) string {
	v, ok := row[field]
	if !ok {
		return ""
	}
	switch v.Kind {
	case coerce.KindString:
		return v.String
	case coerce.KindGUID:
		return v.GUID
	case coerce.KindBool:
		return boolString(v.Bool)
	default:
		return ""
	}
}

func intField(row coerce.Row, field string) int {
	v, ok := row[field]
	if !ok {
		return 0
	}
	if v.Kind == coerce.KindInt {
		return int(v.Int)
	}
	return 0
}

func boolField(row coerce.Row, field string) bool {
	v, ok := row[field]
	if !ok {
		return false
	}
	return v.Kind == coerce.KindBool && v.Bool
}
