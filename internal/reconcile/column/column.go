// Package column implements the Column sub-reconciler (spec §4.G): diffs
// a desired table's columns against its existing sys_dictionary-derived
// descriptor, producing a plan.Plan of create/update/delete/error
// actions, and commits it (which also triggers choice-list and
// data-policy sync for affected columns).
package column

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/anguspalmer/servicenow/internal/coerce"
	"github.com/anguspalmer/servicenow/internal/descriptor"
	"github.com/anguspalmer/servicenow/internal/gateway"
	"github.com/anguspalmer/servicenow/internal/plan"
	"github.com/anguspalmer/servicenow/internal/reconcile/choice"
	"github.com/anguspalmer/servicenow/internal/reconcile/policy"
)

// Reconciler owns the gateway and policy collaborator the column
// sub-reconciler needs to create/update/delete sys_dictionary rows and
// fan out to the choice and data-policy sub-reconcilers.
type Reconciler struct {
	Gateway    *gateway.Gateway
	Policy     *policy.Reconciler
	ActingUser string
}

// Diff compares desired against existing (both already-flattened
// descriptors for the same table) and returns the pending plan. id is the
// caller-supplied key the column was declared under in the desired
// descriptor, which may differ from Column.Name when a rename is being
// attempted (spec §4.G "If its id differs from its name and id already
// exists on the table -> error").
func (r *Reconciler) Diff(table string, desired, existing *descriptor.Table) *plan.Plan {
	p := &plan.Plan{}

	for _, id := range desired.Order {
		col := desired.Columns[id]
		if id != col.Name {
			if _, exists := existing.Get(id); exists {
				p.Add(plan.Action{Kind: plan.Error, Target: id, Reason: "rename not supported: id " + id + " already exists on the table"})
				continue
			}
		}

		existingCol, ok := existing.Get(col.Name)
		if !ok {
			if !strings.HasPrefix(col.Name, "u_") {
				p.Add(plan.Action{Kind: plan.Error, Target: col.Name, Reason: "new column names must begin with u_"})
				continue
			}
			col := col
			p.Add(plan.Action{Kind: plan.Create, Target: col.Name, Apply: func(ctx context.Context) error {
				return r.createColumn(ctx, table, col)
			}})
			continue
		}

		if existingCol.Type != col.Type || existingCol.ReferenceTable != col.ReferenceTable {
			p.Add(plan.Action{Kind: plan.Error, Target: col.Name, Reason: "type and reference_table are immutable once created"})
			continue
		}

		if existingCol.Table != table {
			p.Add(plan.Action{Kind: plan.Error, Target: col.Name, Reason: "column is inherited from " + existingCol.Table + ", cannot be updated here"})
			continue
		}
		if !strings.HasPrefix(col.Name, "u_") {
			p.Add(plan.Action{Kind: plan.Error, Target: col.Name, Reason: "only u_-prefixed columns may be updated"})
			continue
		}

		if columnsDiffer(existingCol, col) {
			col := col
			p.Add(plan.Action{Kind: plan.Update, Target: col.Name, Apply: func(ctx context.Context) error {
				return r.updateColumn(ctx, table, col)
			}})
		}
	}

	for name, existingCol := range existing.Columns {
		if _, stillDesired := desired.Columns[name]; stillDesired {
			continue
		}
		if !strings.HasPrefix(name, "u_") {
			continue
		}
		if existingCol.Table != table {
			continue // inherited: not this table's to delete.
		}
		if existingCol.SysCreatedBy != r.ActingUser {
			continue
		}
		name := name
		p.Add(plan.Action{Kind: plan.Delete, Target: name, Apply: func(ctx context.Context) error {
			return r.deleteColumn(ctx, table, name)
		}})
	}

	return p
}

func columnsDiffer(existing, desired descriptor.Column) bool {
	if existing.Label != desired.Label || existing.MaxLength != desired.MaxLength {
		return true
	}
	if existing.ChoiceMode != desired.ChoiceMode {
		return true
	}
	if !reflect.DeepEqual(existing.ChoiceMap, desired.ChoiceMap) {
		return true
	}
	if existing.DataPolicy != desired.DataPolicy {
		return true
	}
	return false
}

func (r *Reconciler) createColumn(ctx context.Context, table string, col descriptor.Column) error {
	body := dictionaryBody(table, col)
	if _, err := r.Gateway.Do(ctx, "POST", "/v2/table/sys_dictionary", nil, body); err != nil {
		return err
	}
	return r.syncSideEffects(ctx, table, col)
}

func (r *Reconciler) updateColumn(ctx context.Context, table string, col descriptor.Column) error {
	rows, err := r.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{
		Table: "sys_dictionary",
		Query: fmt.Sprintf("name=%s^element=%s", table, col.Name),
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("column %s.%s not found for update", table, col.Name)
	}
	body := dictionaryBody(table, col)
	if _, err := r.Gateway.Do(ctx, "PUT", "/v2/table/sys_dictionary/"+stringOf(rows[0]), nil, body); err != nil {
		return err
	}
	return r.syncSideEffects(ctx, table, col)
}

func (r *Reconciler) syncSideEffects(ctx context.Context, table string, col descriptor.Column) error {
	if len(col.ChoiceMap) > 0 {
		if err := choice.Sync(ctx, r.Gateway, table, col.Name, col.ChoiceMap); err != nil {
			return err
		}
	}
	if col.DataPolicy != descriptor.DataPolicyUnset && r.Policy != nil {
		err := r.Policy.Sync(ctx, table, []policy.ColumnPolicy{{
			Field:    col.Name,
			ReadOnly: col.DataPolicy == descriptor.DataPolicyReadonly,
		}}, false)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) deleteColumn(ctx context.Context, table, column string) error {
	rows, err := r.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{
		Table: "sys_dictionary",
		Query: fmt.Sprintf("name=%s^element=%s", table, column),
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	_, err = r.Gateway.Do(ctx, "DELETE", "/v2/table/sys_dictionary/"+stringOf(rows[0]), nil, nil)
	return err
}

func dictionaryBody(table string, col descriptor.Column) map[string]string {
	body := map[string]string{
		"name":            table,
		"element":         col.Name,
		"column_label":    col.Label,
		"internal_type":   col.Type,
		"max_length":      fmt.Sprintf("%d", col.MaxLength),
		"reference":       col.ReferenceTable,
		"choice":          descriptor.ChoiceModeCode(col.ChoiceMode),
	}
	return body
}

func stringOf(row coerce.Row) string {
	v, ok := row["sys_id"]
	if !ok {
		return ""
	}
	if v.Kind == coerce.KindGUID {
		return v.GUID
	}
	return v.String
}
