package descriptoryaml

import "testing"

func TestDecodeEncodeRoundTrip(t *testing.T) {
	raw := []byte(`
name: u_dm_host
label: Discovered Host
is_extendable: true
columns:
  - name: u_name
    type: string
    max_length: 100
  - name: u_owner
    type: reference
    reference_table: sys_user
    data_policy: writable
`)
	tbl, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tbl.Name != "u_dm_host" || !tbl.IsExtendable {
		t.Fatalf("unexpected table: %+v", tbl)
	}
	if len(tbl.Order) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(tbl.Order))
	}
	col, ok := tbl.Get("u_owner")
	if !ok || col.ReferenceTable != "sys_user" {
		t.Fatalf("unexpected column: %+v", col)
	}

	out, err := Encode(tbl)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	roundTripped, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode roundtrip: %v", err)
	}
	if roundTripped.Name != tbl.Name || len(roundTripped.Order) != len(tbl.Order) {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", roundTripped, tbl)
	}
}

func TestDecodeRequiresName(t *testing.T) {
	if _, err := Decode([]byte(`label: no name here`)); err == nil {
		t.Fatal("expected error for missing name")
	}
}
