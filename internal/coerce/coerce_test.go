package coerce

import (
	"context"
	"testing"
	"time"

	"github.com/anguspalmer/servicenow/internal/schema"
	"github.com/anguspalmer/servicenow/status"
)

func testTable() *schema.Table {
	return &schema.Table{
		Name: "incident",
		Columns: map[string]schema.Column{
			"active":         {Name: "active", Type: "boolean"},
			"priority":       {Name: "priority", Type: "integer", IsChoiceList: true},
			"business_stc":   {Name: "business_stc", Type: "float"},
			"opened_at":      {Name: "opened_at", Type: "glide_date_time"},
			"short_desc":     {Name: "short_desc", Type: "string", MaxLength: 5},
			"caller_id":      {Name: "caller_id", Type: "reference", ReferenceTable: "sys_user"},
		},
	}
}

func TestDecodeScalars(t *testing.T) {
	tbl := testTable()
	wire := WireRow{
		"active":       "true",
		"priority":     "1",
		"business_stc": "12.3456789",
		"opened_at":    "2024-01-02 03:04:05",
		"short_desc":   "hello world",
		"caller_id":    "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4",
	}
	row, err := Decode(context.Background(), tbl, wire, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !row["active"].Bool {
		t.Errorf("active: want true, got %+v", row["active"])
	}
	if row["priority"].Kind != KindInt || row["priority"].Int != 1 {
		t.Errorf("priority: want int 1, got %+v", row["priority"])
	}
	wantDate := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if !row["opened_at"].Date.Equal(wantDate) {
		t.Errorf("opened_at: want %v, got %v", wantDate, row["opened_at"].Date)
	}
}

func TestDecodeChoiceListFallback(t *testing.T) {
	tbl := testTable()
	wire := WireRow{"priority": "critical"}
	row, err := Decode(context.Background(), tbl, wire, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if row["priority"].Kind != KindString || row["priority"].String != "critical" {
		t.Errorf("priority: want string fallback, got %+v", row["priority"])
	}
}

func TestDecodeInvalidBoolean(t *testing.T) {
	tbl := testTable()
	wire := WireRow{"active": "maybe"}
	if _, err := Decode(context.Background(), tbl, wire, nil); err == nil {
		t.Fatal("expected error for invalid boolean")
	}
}

func TestEncodeTruncatesWithWarning(t *testing.T) {
	tbl := testTable()
	row := Row{"short_desc": String("hello world")}
	var warned bool
	st := warnCapture{fn: func() { warned = true }}
	wire, err := Encode(context.Background(), tbl, row, st)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if wire["short_desc"] != "hello" {
		t.Errorf("short_desc: want truncated \"hello\", got %v", wire["short_desc"])
	}
	if !warned {
		t.Error("expected truncation warning")
	}
}

func TestEncodeRejectsNonGUIDReference(t *testing.T) {
	tbl := testTable()
	row := Row{"caller_id": String("not-a-guid")}
	if _, err := Encode(context.Background(), tbl, row, nil); err == nil {
		t.Fatal("expected error for non-GUID reference")
	}
}

func TestEncodeRoundsFloat(t *testing.T) {
	tbl := testTable()
	row := Row{"business_stc": Float(12.34567891234)}
	wire, err := Encode(context.Background(), tbl, row, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if wire["business_stc"] != "12.3456789" {
		t.Errorf("business_stc: want rounded to 7 places, got %v", wire["business_stc"])
	}
}

type warnCapture struct {
	fn func()
}

func (w warnCapture) Log(args ...interface{})   {}
func (w warnCapture) Debug(args ...interface{}) {}
func (w warnCapture) Warn(args ...interface{}) {
	if w.fn != nil {
		w.fn()
	}
}

var _ status.Status = warnCapture{}
