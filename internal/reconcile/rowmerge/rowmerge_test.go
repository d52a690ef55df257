package rowmerge

import (
	"context"
	"net/http"
	"testing"

	"github.com/anguspalmer/servicenow/internal/coerce"
	"github.com/anguspalmer/servicenow/internal/fake"
	"github.com/anguspalmer/servicenow/internal/gateway"
	"github.com/anguspalmer/servicenow/internal/ratelimit"
	"github.com/anguspalmer/servicenow/internal/reconcile/policy"
	"github.com/anguspalmer/servicenow/internal/schema"
	"github.com/anguspalmer/servicenow/internal/transport"
)

func hostSchema() *fake.Table {
	return &fake.Table{
		Columns: []fake.Column{
			{Name: "sys_id", Type: "string"},
			{Name: "sys_class_name", Type: "string"},
			{Name: "u_name", Type: "string"},
			{Name: "u_in_datamart", Type: "boolean"},
		},
		Rows: []map[string]string{
			{"sys_id": "a1111111111111111111111111111111", "sys_class_name": "cmdb_ci", "u_name": "n1", "u_in_datamart": "true"},
			{"sys_id": "a2222222222222222222222222222222", "sys_class_name": "cmdb_ci", "u_name": "n2", "u_in_datamart": "true"},
		},
	}
}

func newTestMerger(backend *fake.RoundTripper) *Merger {
	tr := transport.New("test", "user", "pass")
	tr.HTTPClient = &http.Client{Transport: backend}
	lim := ratelimit.New(0, 0)
	var gw *gateway.Gateway
	sc := schema.New(func(ctx context.Context, t string) ([]byte, error) {
		return gw.FetchSchema(ctx, t)
	})
	gw = gateway.New(tr, lim, sc, false, nil)
	policyRec := &policy.Reconciler{Gateway: gw, ActingUser: "tester"}
	return &Merger{Gateway: gw, Schema: sc, Policy: policyRec}
}

// TestMergeSoftDelete exercises spec §8 scenario 3: an incoming row
// matching "n1" leaves that row untouched, and the existing-only "n2" row
// gets soft-deleted via its u_in_datamart flag rather than removed.
func TestMergeSoftDelete(t *testing.T) {
	backend := fake.New()
	backend.Seed("u_dm_host", hostSchema())
	backend.Seed("sys_data_policy2", &fake.Table{})

	m := newTestMerger(backend)
	desired := []coerce.Row{
		{"u_name": coerce.String("n1")},
	}
	result, err := m.Merge(context.Background(), Options{
		Table:      "u_dm_host",
		PrimaryKey: PrimaryKey{Field: "u_name"},
	}, desired)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.RowsCreated != 0 || result.RowsUpdated != 0 {
		t.Errorf("expected no creates/updates, got %+v", result)
	}
	if result.RowsMatched != 1 {
		t.Errorf("expected 1 matched row, got %d", result.RowsMatched)
	}
	if result.RowsDeleted != 1 {
		t.Errorf("expected 1 soft-deleted row, got %d", result.RowsDeleted)
	}
}

// TestMergeHardDelete exercises spec §8 scenario 4: without a
// deleted-flag column, AllowDeletes issues a real DELETE for the
// unmatched existing row instead of a soft-delete update.
func TestMergeHardDelete(t *testing.T) {
	backend := fake.New()
	tbl := &fake.Table{
		Columns: []fake.Column{
			{Name: "sys_id", Type: "string"},
			{Name: "sys_class_name", Type: "string"},
			{Name: "u_name", Type: "string"},
		},
		Rows: []map[string]string{
			{"sys_id": "a1111111111111111111111111111111", "sys_class_name": "cmdb_ci", "u_name": "n1"},
			{"sys_id": "a2222222222222222222222222222222", "sys_class_name": "cmdb_ci", "u_name": "n2"},
		},
	}
	backend.Seed("u_dm_host", tbl)
	backend.Seed("sys_data_policy2", &fake.Table{})

	m := newTestMerger(backend)
	desired := []coerce.Row{
		{"u_name": coerce.String("n1")},
	}
	result, err := m.Merge(context.Background(), Options{
		Table:        "u_dm_host",
		PrimaryKey:   PrimaryKey{Field: "u_name"},
		AllowDeletes: true,
	}, desired)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.RowsDeleted != 1 {
		t.Errorf("expected 1 hard-deleted row, got %d", result.RowsDeleted)
	}
	if len(tbl.Rows) != 1 || tbl.Rows[0]["u_name"] != "n1" {
		t.Errorf("expected only n1 to remain, got %+v", tbl.Rows)
	}
}

// TestMergeCreatesUnkeyedRows exercises spec §4.H step 4: an incoming row
// that resolves no primary key can never match an existing row, so it must
// still be created rather than silently dropped (spec §8's
// |created|+|updated|+|matched| = |I|-|duplicates_in_I| invariant).
func TestMergeCreatesUnkeyedRows(t *testing.T) {
	backend := fake.New()
	backend.Seed("u_dm_host", hostSchema())
	backend.Seed("sys_data_policy2", &fake.Table{})

	m := newTestMerger(backend)
	desired := []coerce.Row{
		{"u_name": coerce.String("n1")},
		// No u_key field at all: PrimaryKey.Resolve returns "".
		{"u_other": coerce.String("unkeyed")},
	}
	result, err := m.Merge(context.Background(), Options{
		Table:      "u_dm_host",
		PrimaryKey: PrimaryKey{Field: "u_key"},
	}, desired)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.RowsCreated != 2 {
		t.Errorf("expected both unkeyed rows to be created, got %+v", result)
	}
	if result.RowsMatched != 0 || result.RowsUpdated != 0 {
		t.Errorf("expected no matches/updates against unkeyed rows, got %+v", result)
	}
}

func TestMergeSkipsPolicyToggleWhenPlanEmpty(t *testing.T) {
	backend := fake.New()
	backend.Seed("u_dm_host", hostSchema())
	// No sys_data_policy2 table seeded: if Merge attempted to toggle the
	// policy it would 404 and fail. An empty plan must never reach it.
	m := newTestMerger(backend)

	desired := []coerce.Row{
		{"u_name": coerce.String("n1")},
		{"u_name": coerce.String("n2")},
	}
	result, err := m.Merge(context.Background(), Options{
		Table:      "u_dm_host",
		PrimaryKey: PrimaryKey{Field: "u_name"},
	}, desired)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.RowsMatched != 2 {
		t.Errorf("expected both rows matched with no writes, got %+v", result)
	}
}
