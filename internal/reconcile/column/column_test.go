package column

import (
	"testing"

	"github.com/anguspalmer/servicenow/internal/descriptor"
	"github.com/anguspalmer/servicenow/internal/plan"
)

func newTable(name string, cols ...descriptor.Column) *descriptor.Table {
	tbl := &descriptor.Table{Name: name}
	for _, c := range cols {
		if c.Table == "" {
			c.Table = name
		}
		tbl.Set(c)
	}
	return tbl
}

// TestDiffRejectsImmutableTypeChange exercises spec §8 scenario 2: an
// existing column's type (or reference_table) is immutable once created,
// so a desired descriptor changing it produces an Error action rather
// than an Update.
func TestDiffRejectsImmutableTypeChange(t *testing.T) {
	existing := newTable("u_dm_host",
		descriptor.Column{Name: "u_name", Type: "string", SysCreatedBy: "tester"},
	)
	desired := &descriptor.Table{Name: "u_dm_host"}
	desired.Set(descriptor.Column{Name: "u_name", Type: "integer"})

	r := &Reconciler{ActingUser: "tester"}
	p := r.Diff("u_dm_host", desired, existing)

	if !p.HasErrors() {
		t.Fatalf("expected an error action for an immutable type change, got %+v", p.Actions)
	}
	errs := p.Errors()
	if len(errs) != 1 || errs[0].Target != "u_name" {
		t.Fatalf("unexpected errors: %+v", errs)
	}
}

// TestDiffCreatesNewColumnInDeclaredOrder exercises spec §5's ordering
// guarantee: pending create actions follow the desired descriptor's
// user-supplied column order, not Go's randomized map iteration order.
func TestDiffCreatesNewColumnInDeclaredOrder(t *testing.T) {
	existing := newTable("u_dm_host")
	desired := &descriptor.Table{Name: "u_dm_host"}
	desired.Set(descriptor.Column{Name: "u_third", Type: "string"})
	desired.Set(descriptor.Column{Name: "u_first", Type: "string"})
	desired.Set(descriptor.Column{Name: "u_second", Type: "string"})

	r := &Reconciler{}
	p := r.Diff("u_dm_host", desired, existing)

	var creates []string
	for _, a := range p.Actions {
		if a.Kind == plan.Create {
			creates = append(creates, a.Target)
		}
	}
	want := []string{"u_third", "u_first", "u_second"}
	if len(creates) != len(want) {
		t.Fatalf("expected %d creates, got %+v", len(want), creates)
	}
	for i, name := range want {
		if creates[i] != name {
			t.Errorf("expected create order %v, got %v", want, creates)
			break
		}
	}
}

// TestDiffNoChangeForIdenticalColumn ensures an unchanged desired column
// produces no pending action.
func TestDiffNoChangeForIdenticalColumn(t *testing.T) {
	existing := newTable("u_dm_host",
		descriptor.Column{Name: "u_name", Type: "string", Label: "Name", SysCreatedBy: "tester"},
	)
	desired := &descriptor.Table{Name: "u_dm_host"}
	desired.Set(descriptor.Column{Name: "u_name", Type: "string", Label: "Name"})

	r := &Reconciler{ActingUser: "tester"}
	p := r.Diff("u_dm_host", desired, existing)

	if len(p.Actions) != 0 {
		t.Fatalf("expected no pending actions, got %+v", p.Actions)
	}
}
