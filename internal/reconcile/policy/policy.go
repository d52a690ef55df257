// Package policy implements the Data-policy sub-reconciler (spec §4.G.2):
// ensures a table has exactly one user-owned sys_data_policy2 record and a
// matching set of sys_data_policy_rule rows, and provides the toggle
// operation that brackets Row Delta-Merge writes (spec §4.I).
package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anguspalmer/servicenow/internal/apperr"
	"github.com/anguspalmer/servicenow/internal/coerce"
	"github.com/anguspalmer/servicenow/internal/gateway"
	"github.com/anguspalmer/servicenow/internal/plan"
)

// ColumnPolicy is one column's desired data-policy rule input.
type ColumnPolicy struct {
	Field    string
	ReadOnly bool
}

// Reconciler owns the data-policy sync and toggle operations for one
// client (it needs the acting user's name to build the policy's
// selection condition).
type Reconciler struct {
	Gateway    *gateway.Gateway
	ActingUser string
}

func (r *Reconciler) shortDescription(table string) string {
	return fmt.Sprintf("Data policy for %s (%s)", table, r.ActingUser)
}

func (r *Reconciler) condition() string {
	return fmt.Sprintf("sys_created_by=%s^EQ", r.ActingUser)
}

// ensurePolicy returns the user-owned sys_data_policy2 sys_id for table,
// creating the canonical record if none exists.
func (r *Reconciler) ensurePolicy(ctx context.Context, table string) (string, error) {
	rows, err := r.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{
		Table: "sys_data_policy2",
		Query: fmt.Sprintf("table=%s^condition=%s", table, r.condition()),
	})
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		return stringOf(rows[0]["sys_id"]), nil
	}

	res, err := r.Gateway.Do(ctx, "POST", "/v2/table/sys_data_policy2", nil, map[string]string{
		"table":             table,
		"short_description": r.shortDescription(table),
		"condition":         r.condition(),
		"apply_import_set":  "true",
		"apply_soap":        "false",
		"enforce_ui":        "true",
		"inherit":           "false",
		"active":            "true",
	})
	if err != nil {
		return "", err
	}
	var created struct {
		Result struct {
			SysID string `json:"sys_id"`
		} `json:"result"`
	}
	if err := decodeResult(res.Raw, &created); err != nil {
		return "", err
	}
	return created.Result.SysID, nil
}

// Sync diffs and commits the per-column sys_data_policy_rule rows against
// columns. deleteUnused enables the opt-in delete pass (spec §4.G.2
// "Delete pass is opt-in").
func (r *Reconciler) Sync(ctx context.Context, table string, columns []ColumnPolicy, deleteUnused bool) error {
	if len(columns) == 0 {
		return nil
	}
	policyID, err := r.ensurePolicy(ctx, table)
	if err != nil {
		return err
	}

	existingRows, err := r.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{
		Table: "sys_data_policy_rule",
		Query: fmt.Sprintf("sys_data_policy2=%s", policyID),
	})
	if err != nil {
		return err
	}
	existingByField := make(map[string]coerce.Row, len(existingRows))
	for _, row := range existingRows {
		existingByField[stringOf(row["field"])] = row
	}

	p := &plan.Plan{}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		seen[c.Field] = true
		disabled := "false"
		if c.ReadOnly {
			disabled = "true"
		}
		existing, ok := existingByField[c.Field]
		if !ok {
			p.Add(plan.Action{Kind: plan.Create, Target: c.Field, Apply: func(ctx context.Context) error {
				_, err := r.Gateway.Do(ctx, "POST", "/v2/table/sys_data_policy_rule", nil, map[string]string{
					"field":              c.Field,
					"table":              table,
					"disabled":           disabled,
					"mandatory":          "ignore",
					"sys_data_policy2":   policyID,
				})
				return err
			}})
			continue
		}
		if stringOf(existing["disabled"]) != disabled {
			sysID := stringOf(existing["sys_id"])
			p.Add(plan.Action{Kind: plan.Update, Target: c.Field, Apply: func(ctx context.Context) error {
				_, err := r.Gateway.Do(ctx, "PUT", "/v2/table/sys_data_policy_rule/"+sysID, nil, map[string]string{
					"disabled":  disabled,
					"mandatory": "ignore",
				})
				return err
			}})
		}
	}

	if deleteUnused {
		for field, existing := range existingByField {
			if seen[field] {
				continue
			}
			sysID := stringOf(existing["sys_id"])
			p.Add(plan.Action{Kind: plan.Delete, Target: field, Apply: func(ctx context.Context) error {
				_, err := r.Gateway.Do(ctx, "DELETE", "/v2/table/sys_data_policy_rule/"+sysID, nil, nil)
				return err
			}})
		}
	}

	return p.Commit(ctx)
}

// Toggle flips the table's user-owned policy active flag. It is used to
// bracket Row Delta-Merge write phases (spec §4.I, §5 "Toggle of the
// table data policy must happen-before any bulk write and happen-after
// the last write").
func (r *Reconciler) Toggle(ctx context.Context, table string, active bool) error {
	rows, err := r.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{
		Table: "sys_data_policy2",
		Query: fmt.Sprintf("table=%s^condition=%s", table, r.condition()),
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		// Nothing to toggle: a table with no user-owned policy has no
		// write-time data-policy interference to suppress.
		return nil
	}
	sysID := stringOf(rows[0]["sys_id"])
	value := "false"
	if active {
		value = "true"
	}
	_, err = r.Gateway.Do(ctx, "PUT", "/v2/table/sys_data_policy2/"+sysID, nil, map[string]string{"active": value})
	return err
}

// Bracket runs fn with the table's policy disabled, re-enabling it on
// every exit path including a cancelled or panicking fn (spec §4.H
// "bracket the entire write phase with policy.toggle(table, false) before
// and policy.toggle(table, true) on every exit path").
func (r *Reconciler) Bracket(ctx context.Context, table string, fn func(ctx context.Context) error) (err error) {
	if toggleErr := r.Toggle(ctx, table, false); toggleErr != nil {
		return toggleErr
	}
	defer func() {
		if restoreErr := r.Toggle(context.WithoutCancel(ctx), table, true); restoreErr != nil && err == nil {
			err = restoreErr
		}
	}()
	return fn(ctx)
}

func stringOf(v coerce.TypedValue) string {
	switch v.Kind {
	case coerce.KindGUID:
		return v.GUID
	case coerce.KindString:
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

func decodeResult(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return apperr.Protocolf("empty create response")
	}
	return json.Unmarshal(raw, out)
}
