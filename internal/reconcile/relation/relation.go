// Package relation implements the Relationship sub-reconciler (spec
// §4.G.3): synchronizes cmdb_rel_ci rows for one relationship column
// against a row set's reference values.
package relation

import (
	"context"
	"fmt"
	"strings"

	"github.com/anguspalmer/servicenow/internal/apperr"
	"github.com/anguspalmer/servicenow/internal/coerce"
	"github.com/anguspalmer/servicenow/internal/gateway"
	"github.com/anguspalmer/servicenow/internal/plan"
)

// Row is one input row: its own sys_id and the relationship columns'
// reference values, keyed by column name.
type Row struct {
	SysID   string
	Columns map[string]string
}

// Sync reconciles cmdb_rel_ci for rows against descriptors, a
// mapping column-name -> "<parent-descriptor>::<child-descriptor>" (spec
// §4.G.3). Each column may appear at most once per descriptor pair;
// duplicate descriptor pairs across columns are a Plan error (spec
// "Invariants: at most one relationship column per type").
func Sync(ctx context.Context, gw *gateway.Gateway, rows []Row, descriptors map[string]string) error {
	seenType := make(map[string]string, len(descriptors))
	for column, descriptorPair := range descriptors {
		if existingColumn, dup := seenType[descriptorPair]; dup {
			return apperr.Planf("duplicate relationship type", "descriptor", descriptorPair, "columns", existingColumn+","+column)
		}
		seenType[descriptorPair] = column

		if err := syncColumn(ctx, gw, rows, column, descriptorPair); err != nil {
			return err
		}
	}
	return nil
}

func syncColumn(ctx context.Context, gw *gateway.Gateway, rows []Row, column, descriptorPair string) error {
	typeID, err := lookupRelType(ctx, gw, descriptorPair)
	if err != nil {
		return err
	}

	desired := make(map[string]string) // "parent|child" -> child, keyed for diffing
	parentsInScope := make(map[string]bool, len(rows))
	for _, row := range rows {
		parentsInScope[row.SysID] = true
		child, ok := row.Columns[column]
		if !ok || child == "" {
			continue // spec: empty value means "disconnected", a valid delete not a create.
		}
		desired[row.SysID+"|"+child] = child
	}

	existingRows, err := gw.GetRecords(ctx, gateway.GetRecordsOptions{
		Table: "cmdb_rel_ci",
		Query: fmt.Sprintf("type=%s", typeID),
	})
	if err != nil {
		return err
	}

	existing := make(map[string]coerce.Row)
	for _, row := range existingRows {
		parent := stringOf(row["parent"])
		if !parentsInScope[parent] {
			continue
		}
		child := stringOf(row["child"])
		existing[parent+"|"+child] = row
	}

	p := &plan.Plan{}
	for key := range desired {
		if _, ok := existing[key]; ok {
			continue
		}
		parts := strings.SplitN(key, "|", 2)
		parent, child := parts[0], parts[1]
		p.Add(plan.Action{Kind: plan.Create, Target: key, Apply: func(ctx context.Context) error {
			_, err := gw.Do(ctx, "POST", "/v2/table/cmdb_rel_ci", nil, map[string]string{
				"type": typeID, "parent": parent, "child": child,
			})
			return err
		}})
	}
	for key, row := range existing {
		if _, ok := desired[key]; ok {
			continue
		}
		sysID := stringOf(row["sys_id"])
		p.Add(plan.Action{Kind: plan.Delete, Target: key, Apply: func(ctx context.Context) error {
			_, err := gw.Do(ctx, "DELETE", "/v2/table/cmdb_rel_ci/"+sysID, nil, nil)
			return err
		}})
	}
	return p.Commit(ctx)
}

func lookupRelType(ctx context.Context, gw *gateway.Gateway, descriptorPair string) (string, error) {
	parts := strings.SplitN(descriptorPair, "::", 2)
	if len(parts) != 2 {
		return "", apperr.Planf("malformed relationship descriptor", "descriptor", descriptorPair)
	}
	rows, err := gw.GetRecords(ctx, gateway.GetRecordsOptions{
		Table: "cmdb_rel_type",
		Query: fmt.Sprintf("parent_descriptor=%s^child_descriptor=%s", parts[0], parts[1]),
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", apperr.Planf("relationship type not found, please create manually", "descriptor", descriptorPair)
	}
	return stringOf(rows[0]["sys_id"]), nil
}

func stringOf(v coerce.TypedValue) string {
	switch v.Kind {
	case coerce.KindGUID:
		return v.GUID
	case coerce.KindString:
		return v.String
	default:
		return ""
	}
}
