// Package choice implements the Choice sub-reconciler (spec §4.G.1):
// synchronizes a column's value->label choice list against sys_choice.
package choice

import (
	"context"
	"fmt"

	"github.com/anguspalmer/servicenow/internal/coerce"
	"github.com/anguspalmer/servicenow/internal/gateway"
	"github.com/anguspalmer/servicenow/internal/plan"
)

// desired fields for one sys_choice row (spec §4.G.1 "{name, element,
// value, label, inactive:false}").
type choiceRow struct {
	Name     string
	Element  string
	Value    string
	Label    string
	Inactive string
}

func (r choiceRow) equal(existing coerce.Row) bool {
	return fieldEqual(existing, "name", r.Name) &&
		fieldEqual(existing, "element", r.Element) &&
		fieldEqual(existing, "value", r.Value) &&
		fieldEqual(existing, "label", r.Label) &&
		fieldEqual(existing, "inactive", r.Inactive)
}

func fieldEqual(row coerce.Row, field, want string) bool {
	v, ok := row[field]
	if !ok {
		return want == ""
	}
	return stringOf(v) == want
}

func stringOf(v coerce.TypedValue) string {
	switch v.Kind {
	case coerce.KindString, coerce.KindGUID:
		if v.Kind == coerce.KindGUID {
			return v.GUID
		}
		return v.String
	case coerce.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// Diff builds a plan that reconciles table.column's choice list against
// choiceMap (value -> label). gw is used to fetch the current sys_choice
// rows for this (table, element) pair.
func Diff(ctx context.Context, gw *gateway.Gateway, table, column string, choiceMap map[string]string) (*plan.Plan, error) {
	p := &plan.Plan{}

	existingRows, err := gw.GetRecords(ctx, gateway.GetRecordsOptions{
		Table: "sys_choice",
		Query: fmt.Sprintf("name=%s^element=%s", table, column),
	})
	if err != nil {
		return nil, err
	}

	existingByValue := make(map[string]coerce.Row, len(existingRows))
	for _, row := range existingRows {
		existingByValue[stringOf(row["value"])] = row
	}

	seen := make(map[string]bool, len(choiceMap))
	for value, label := range choiceMap {
		seen[value] = true
		desired := choiceRow{Name: table, Element: column, Value: value, Label: label, Inactive: "false"}

		existing, ok := existingByValue[value]
		if !ok {
			p.Add(plan.Action{
				Kind:   plan.Create,
				Target: value,
				Apply: func(ctx context.Context) error {
					return createChoice(ctx, gw, desired)
				},
			})
			continue
		}
		if !desired.equal(existing) {
			sysID := stringOf(existing["sys_id"])
			p.Add(plan.Action{
				Kind:   plan.Update,
				Target: value,
				Apply: func(ctx context.Context) error {
					return updateChoice(ctx, gw, sysID, desired)
				},
			})
		}
	}

	for value, existing := range existingByValue {
		if seen[value] {
			continue
		}
		sysID := stringOf(existing["sys_id"])
		p.Add(plan.Action{
			Kind:   plan.Delete,
			Target: value,
			Apply: func(ctx context.Context) error {
				_, err := gw.Do(ctx, "DELETE", "/v2/table/sys_choice/"+sysID, nil, nil)
				return err
			},
		})
	}

	return p, nil
}

func createChoice(ctx context.Context, gw *gateway.Gateway, row choiceRow) error {
	_, err := gw.Do(ctx, "POST", "/v2/table/sys_choice", nil, map[string]string{
		"name":     row.Name,
		"element":  row.Element,
		"value":    row.Value,
		"label":    row.Label,
		"inactive": row.Inactive,
	})
	return err
}

func updateChoice(ctx context.Context, gw *gateway.Gateway, sysID string, row choiceRow) error {
	_, err := gw.Do(ctx, "PUT", "/v2/table/sys_choice/"+sysID, nil, map[string]string{
		"name":     row.Name,
		"element":  row.Element,
		"value":    row.Value,
		"label":    row.Label,
		"inactive": row.Inactive,
	})
	return err
}

// Sync is the convenience entry point column creation/update uses: diff
// then immediately commit (spec §4.G "Column creation also triggers
// choice-list sync...Updates do the same").
func Sync(ctx context.Context, gw *gateway.Gateway, table, column string, choiceMap map[string]string) error {
	if len(choiceMap) == 0 {
		return nil
	}
	p, err := Diff(ctx, gw, table, column, choiceMap)
	if err != nil {
		return err
	}
	return p.Commit(ctx)
}
