package gateway

import "testing"

func TestParsePathTable(t *testing.T) {
	_, kind, table, id, err := parsePath("/v2/table/incident/a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4")
	if err != nil {
		t.Fatalf("parsePath: %v", err)
	}
	if kind != "table" || table != "incident" || id != "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4" {
		t.Errorf("got kind=%q table=%q id=%q", kind, table, id)
	}
}

func TestParsePathRejectsUnknownKind(t *testing.T) {
	if _, _, _, _, err := parsePath("/v2/bogus/incident"); err == nil {
		t.Fatal("expected error for unknown path kind")
	}
}

func TestIsGUID(t *testing.T) {
	if !isGUID("a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4") {
		t.Error("expected valid GUID to pass")
	}
	if isGUID("not-a-guid") {
		t.Error("expected invalid GUID to fail")
	}
}
