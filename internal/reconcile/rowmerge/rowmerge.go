// Package rowmerge implements the Row Delta-Merge core (spec §4.H): bulk
// reconciliation of a desired row set against a table's current rows,
// keyed by a caller-chosen primary-key function, producing and executing
// an ordered create/update/soft-or-hard-delete plan bracketed by a
// data-policy toggle.
package rowmerge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anguspalmer/servicenow/internal/apperr"
	"github.com/anguspalmer/servicenow/internal/coerce"
	"github.com/anguspalmer/servicenow/internal/gateway"
	"github.com/anguspalmer/servicenow/internal/plan"
	"github.com/anguspalmer/servicenow/internal/reconcile/policy"
	"github.com/anguspalmer/servicenow/internal/recordcache"
	"github.com/anguspalmer/servicenow/internal/schema"
	"github.com/anguspalmer/servicenow/status"
)

// writeConcurrency bounds each execution phase (spec §4.H "each with
// bounded concurrency (40)").
const writeConcurrency = 40

// defaultDeletedFlag is the column soft-delete toggles when the caller
// doesn't supply one (spec §4.H "optional deleted-flag column name
// (default u_in_datamart)").
const defaultDeletedFlag = "u_in_datamart"

// Options configures one Merge call.
type Options struct {
	Table             string
	PrimaryKey        PrimaryKey
	DeletedFlagColumn string
	AllowDeletes      bool
	// ReferenceLookup maps a reference column to the business-key field on
	// its referenced table; Merge rewrites matching incoming values from
	// business key to sys_id before encoding (spec §4.H "Reference lookup
	// (preprocessing)").
	ReferenceLookup map[string]string

	Cache    recordcache.Cache
	CacheKey string
	CacheTTL time.Duration
}

// Result reports the merge's effect (spec §3 "Delta-merge plan" counters).
type Result struct {
	RowsMatched int
	RowsCreated int
	RowsUpdated int
	RowsDeleted int
}

// Merger owns the collaborators Merge needs: the gateway for reads and
// writes, the schema cache to determine soft-delete eligibility and drive
// type coercion, and the policy reconciler that brackets the write phase.
type Merger struct {
	Gateway *gateway.Gateway
	Schema  *schema.Cache
	Policy  *policy.Reconciler
	Status  status.Status
}

func (m *Merger) st() status.Status {
	if m.Status == nil {
		return status.Nop{}
	}
	return m.Status
}

// Merge reconciles desired against opts.Table's current rows (spec §4.H
// "Planning" + "Execution").
func (m *Merger) Merge(ctx context.Context, opts Options, desired []coerce.Row) (Result, error) {
	deletedFlag := opts.DeletedFlagColumn
	if deletedFlag == "" {
		deletedFlag = defaultDeletedFlag
	}

	tbl, err := m.Schema.Get(ctx, opts.Table)
	if err != nil {
		return Result{}, err
	}
	_, hasDeletedFlag := tbl.Get(deletedFlag)
	_, hasFirstDiscovered := tbl.Get("first_discovered")

	if err := m.applyReferenceLookups(ctx, tbl, opts, desired); err != nil {
		return Result{}, err
	}

	existingTyped, err := m.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{
		Table:    opts.Table,
		Cache:    opts.Cache,
		CacheKey: opts.CacheKey,
		CacheTTL: opts.CacheTTL,
	})
	if err != nil {
		return Result{}, err
	}

	desiredWire := make([]coerce.WireRow, len(desired))
	for i, row := range desired {
		wr, err := coerce.Encode(ctx, tbl, row, m.st())
		if err != nil {
			return Result{}, err
		}
		desiredWire[i] = wr
	}
	existingWire := make([]coerce.WireRow, len(existingTyped))
	for i, row := range existingTyped {
		wr, err := coerce.Encode(ctx, tbl, row, m.st())
		if err != nil {
			return Result{}, err
		}
		existingWire[i] = wr
	}

	// Key the existing set, separating genuine duplicates (spec §4.H.6
	// "Existing duplicates always go to delete").
	existingByKey := make(map[string]int, len(existingWire))
	var duplicateExisting []int
	for i, wr := range existingWire {
		key := opts.PrimaryKey.Resolve(wr)
		if key == "" {
			continue
		}
		if _, dup := existingByKey[key]; dup {
			duplicateExisting = append(duplicateExisting, i)
			continue
		}
		existingByKey[key] = i
	}

	result := Result{}
	var creates, updates, deletes []plan.Action

	seenIncoming := make(map[string]bool, len(desiredWire))
	matchedExisting := make(map[int]bool, len(existingByKey))

	for i, wr := range desiredWire {
		key := opts.PrimaryKey.Resolve(wr)
		if key == "" {
			// No resolvable key means the row can never match an existing
			// one, so "retain uncompared" (spec §4.H step 4) means create it
			// rather than drop it (spec §8 |created|+|updated|+|matched| =
			// |I|-|duplicates_in_I|).
			m.st().Warn("servicenow: row has no resolvable primary key, retaining uncompared", "table", opts.Table, "index", i)
			if hasDeletedFlag {
				wr[deletedFlag] = "1"
			}
			if hasFirstDiscovered {
				wr["first_discovered"] = time.Now().UTC().Format("2006-01-02 15:04:05")
			}
			createRow := wr
			target := fmt.Sprintf("%s[%d]", opts.Table, i)
			creates = append(creates, plan.Action{Kind: plan.Create, Target: target, Apply: func(ctx context.Context) error {
				_, err := m.Gateway.Do(ctx, "POST", "/v2/table/"+opts.Table, nil, createRow)
				return err
			}})
			result.RowsCreated++
			continue
		}
		if seenIncoming[key] {
			// index collision among incoming rows: duplicate-discard (spec
			// §4.H.4).
			continue
		}
		seenIncoming[key] = true

		if hasDeletedFlag {
			wr[deletedFlag] = "1"
		}

		existingIdx, ok := existingByKey[key]
		if !ok {
			if hasFirstDiscovered {
				wr["first_discovered"] = time.Now().UTC().Format("2006-01-02 15:04:05")
			}
			createRow := wr
			creates = append(creates, plan.Action{Kind: plan.Create, Target: key, Apply: func(ctx context.Context) error {
				_, err := m.Gateway.Do(ctx, "POST", "/v2/table/"+opts.Table, nil, createRow)
				return err
			}})
			result.RowsCreated++
			continue
		}

		matchedExisting[existingIdx] = true
		payload := diffFields(existingWire[existingIdx], wr)
		if len(payload) == 0 {
			result.RowsMatched++
			continue
		}
		sysID := stringField(existingTyped[existingIdx], "sys_id")
		payload["sys_id"] = sysID
		payload["sys_class_name"] = stringField(existingTyped[existingIdx], "sys_class_name")
		updatePayload := payload
		updateSysID := sysID
		updates = append(updates, plan.Action{Kind: plan.Update, Target: key, Apply: func(ctx context.Context) error {
			_, err := m.Gateway.Do(ctx, "PUT", "/v2/table/"+opts.Table+"/"+updateSysID, nil, updatePayload)
			return err
		}})
		result.RowsUpdated++
	}

	for i, row := range existingTyped {
		if matchedExisting[i] {
			continue
		}
		sysID := stringField(row, "sys_id")
		if sysID == "" {
			continue
		}
		switch {
		case opts.AllowDeletes:
			deletes = append(deletes, hardDelete(m.Gateway, opts.Table, sysID))
			result.RowsDeleted++
		case hasDeletedFlag:
			if existingWire[i][deletedFlag] == "0" {
				continue // already soft-deleted, no change needed.
			}
			id := sysID
			deletes = append(deletes, plan.Action{Kind: plan.Update, Target: id, Apply: func(ctx context.Context) error {
				_, err := m.Gateway.Do(ctx, "PUT", "/v2/table/"+opts.Table+"/"+id, nil, map[string]string{deletedFlag: "0"})
				return err
			}})
			result.RowsDeleted++
		}
	}
	for _, i := range duplicateExisting {
		sysID := stringField(existingTyped[i], "sys_id")
		if sysID == "" {
			continue
		}
		deletes = append(deletes, hardDelete(m.Gateway, opts.Table, sysID))
		result.RowsDeleted++
	}

	if len(creates) == 0 && len(updates) == 0 && len(deletes) == 0 {
		// spec §9 open question, resolved: skip the policy toggle bracket
		// entirely when nothing will be written.
		return result, nil
	}

	err = m.Policy.Bracket(ctx, opts.Table, func(ctx context.Context) error {
		if err := runPhase(ctx, creates); err != nil {
			return err
		}
		if err := runPhase(ctx, updates); err != nil {
			return err
		}
		return runPhase(ctx, deletes)
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func hardDelete(gw *gateway.Gateway, table, sysID string) plan.Action {
	return plan.Action{Kind: plan.Delete, Target: sysID, Apply: func(ctx context.Context) error {
		_, err := gw.Do(ctx, "DELETE", "/v2/table/"+table+"/"+sysID, nil, nil)
		return err
	}}
}

// runPhase executes actions with bounded concurrency, aborting (but
// letting every already-started action finish) on the first failure
// (spec §4.H "Failures abort within that phase but must still restore
// policy state" — restoration itself is the caller's Policy.Bracket defer).
func runPhase(ctx context.Context, actions []plan.Action) error {
	if len(actions) == 0 {
		return nil
	}
	sem := make(chan struct{}, writeConcurrency)
	var wg sync.WaitGroup
	errs := make([]error, len(actions))
	var failed atomic.Bool
	for i, a := range actions {
		i, a := i, a
		sem <- struct{}{}
		if failed.Load() {
			<-sem
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if errs[i] = a.Apply(ctx); errs[i] != nil {
				failed.Store(true)
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// applyReferenceLookups rewrites business-key reference values in rows to
// sys_ids using each mapped column's referenced table (spec §4.H
// "Reference lookup (preprocessing)").
func (m *Merger) applyReferenceLookups(ctx context.Context, tbl *schema.Table, opts Options, rows []coerce.Row) error {
	for column, lookupField := range opts.ReferenceLookup {
		col, ok := tbl.Get(column)
		if !ok || (col.Type != "reference" && col.Type != "glide_list") {
			return apperr.Planf("reference lookup column is not a reference", "table", opts.Table, "column", column)
		}
		refRows, err := m.Gateway.GetRecords(ctx, gateway.GetRecordsOptions{
			Table:  col.ReferenceTable,
			Fields: []gateway.Rename{{From: "sys_id"}, {From: lookupField}},
		})
		if err != nil {
			return err
		}
		index := make(map[string]string, len(refRows))
		for _, r := range refRows {
			key := stringField(r, lookupField)
			if key == "" {
				continue
			}
			index[key] = stringField(r, "sys_id")
		}

		for _, row := range rows {
			v, ok := row[column]
			if !ok {
				continue
			}
			businessKey := typedString(v)
			if businessKey == "" {
				continue
			}
			sysID, found := index[businessKey]
			if !found {
				m.st().Log("servicenow: reference lookup miss", "table", opts.Table, "column", column, "value", businessKey)
				row[column] = coerce.String("")
				continue
			}
			row[column] = coerce.GUID(sysID)
		}
	}
	return nil
}

// diffFields compares desired's fields against existing by JSON-string
// equality, returning only the fields that differ (spec §4.H.5 "compare
// fields one-by-one using JSON-string equality").
func diffFields(existing, desired coerce.WireRow) map[string]interface{} {
	diff := make(map[string]interface{})
	for k, v := range desired {
		ev, ok := existing[k]
		if !ok || !jsonEqual(ev, v) {
			diff[k] = v
		}
	}
	return diff
}

func jsonEqual(a, b interface{}) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return string(ab) == string(bb)
}

func stringField(row coerce.Row, field string) string {
	v, ok := row[field]
	if !ok {
		return ""
	}
	return typedString(v)
}

func typedString(v coerce.TypedValue) string {
	switch v.Kind {
	case coerce.KindString:
		return v.String
	case coerce.KindGUID:
		return v.GUID
	case coerce.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
