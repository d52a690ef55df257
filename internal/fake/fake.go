// Package fake implements the scripted in-process transport the client
// substitutes for the real HTTP stack in fake mode (spec §6 "Fake mode:
// when instance is the sentinel dev instance and no credentials are
// given, substitute a scripted in-process transport (external
// collaborator)"). It is a reference implementation of the collaborator
// spec.md treats as out of scope: a minimal in-memory table store that
// speaks the same table/stats/SCHEMA surface real transport.Transport
// expects, wired in as an http.RoundTripper so no change to Transport's
// shape is needed.
package fake

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Column describes one column for the SCHEMA endpoint's benefit.
type Column struct {
	Name           string
	Type           string
	MaxLength      int
	ReferenceTable string
	ChoiceList     bool
}

// Table is one in-memory table: its column schema plus its current rows,
// each row a plain string-valued map mirroring the wire representation.
type Table struct {
	Columns []Column
	Rows    []map[string]string
}

// RoundTripper is an http.RoundTripper that serves the table/stats/SCHEMA
// surface entirely from memory, guarded by a single mutex (spec §5
// "entire client is intended to run inside a single process"; the fake
// has no concurrency requirements of its own beyond not racing).
type RoundTripper struct {
	mu     sync.Mutex
	tables map[string]*Table
}

// New creates an empty fake backend. Seed tables with Seed before use.
func New() *RoundTripper {
	return &RoundTripper{tables: make(map[string]*Table)}
}

// Seed registers or replaces a table's schema and starting rows.
func (rt *RoundTripper) Seed(name string, tbl *Table) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.tables[name] = tbl
}

// RoundTrip implements http.RoundTripper.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	path := req.URL.Path
	switch {
	case strings.HasSuffix(path, ".do"):
		return rt.schema(req)
	case strings.Contains(path, "/stats/"):
		return rt.stats(req)
	case strings.Contains(path, "/table/"):
		return rt.table(req)
	default:
		return notFound(req), nil
	}
}

func (rt *RoundTripper) tableFromPath(path, marker string) (*Table, string, string, bool) {
	idx := strings.Index(path, marker)
	if idx < 0 {
		return nil, "", "", false
	}
	rest := strings.Trim(path[idx+len(marker):], "/")
	parts := strings.SplitN(rest, "/", 2)
	name := parts[0]
	id := ""
	if len(parts) > 1 {
		id = parts[1]
	}
	tbl, ok := rt.tables[name]
	return tbl, name, id, ok
}

func (rt *RoundTripper) schema(req *http.Request) (*http.Response, error) {
	name := strings.TrimSuffix(strings.Trim(req.URL.Path, "/"), ".do")
	tbl, ok := rt.tables[name]
	if !ok {
		return notFound(req), nil
	}
	type element struct {
		XMLName        xml.Name `xml:"element"`
		Name           string   `xml:"name,attr"`
		InternalType   string   `xml:"internal_type,attr"`
		MaxLength      string   `xml:"max_length,attr,omitempty"`
		ReferenceTable string   `xml:"reference_table,attr,omitempty"`
		ChoiceList     string   `xml:"choice_list,attr,omitempty"`
	}
	type doc struct {
		XMLName  xml.Name `xml:""`
		Elements []element
	}
	d := doc{XMLName: xml.Name{Local: name}}
	for _, c := range tbl.Columns {
		el := element{Name: c.Name, InternalType: c.Type, ReferenceTable: c.ReferenceTable}
		if c.MaxLength > 0 {
			el.MaxLength = strconv.Itoa(c.MaxLength)
		}
		if c.ChoiceList {
			el.ChoiceList = "true"
		}
		d.Elements = append(d.Elements, el)
	}
	body, err := xml.Marshal(d)
	if err != nil {
		return nil, err
	}
	return xmlResponse(req, body), nil
}

func (rt *RoundTripper) stats(req *http.Request) (*http.Response, error) {
	tbl, _, _, ok := rt.tableFromPath(req.URL.Path, "/stats/")
	if !ok {
		return notFound(req), nil
	}
	matches := filterRows(tbl.Rows, req.URL.Query().Get("sysparm_query"))
	return jsonResponse(req, http.StatusOK, map[string]interface{}{
		"result": map[string]interface{}{
			"stats": map[string]interface{}{"count": strconv.Itoa(len(matches))},
		},
	}), nil
}

func (rt *RoundTripper) table(req *http.Request) (*http.Response, error) {
	tbl, _, id, ok := rt.tableFromPath(req.URL.Path, "/table/")
	if !ok {
		return notFound(req), nil
	}

	switch req.Method {
	case http.MethodGet:
		rows := filterRows(tbl.Rows, req.URL.Query().Get("sysparm_query"))
		rows = paginate(rows, req.URL.Query())
		return jsonResponse(req, http.StatusOK, map[string]interface{}{"result": toInterfaceRows(rows)}), nil

	case http.MethodPost:
		row, err := decodeBody(req)
		if err != nil {
			return nil, err
		}
		row["sys_id"] = strings.ReplaceAll(uuid.New().String(), "-", "")
		tbl.Rows = append(tbl.Rows, row)
		return jsonResponse(req, http.StatusCreated, map[string]interface{}{"result": row}), nil

	case http.MethodPut:
		row, err := decodeBody(req)
		if err != nil {
			return nil, err
		}
		for i, existing := range tbl.Rows {
			if existing["sys_id"] == id {
				for k, v := range row {
					tbl.Rows[i][k] = v
				}
				return jsonResponse(req, http.StatusOK, map[string]interface{}{"result": tbl.Rows[i]}), nil
			}
		}
		return notFound(req), nil

	case http.MethodDelete:
		for i, existing := range tbl.Rows {
			if existing["sys_id"] == id {
				tbl.Rows = append(tbl.Rows[:i], tbl.Rows[i+1:]...)
				break
			}
		}
		return emptyResponse(req, http.StatusNoContent), nil

	default:
		return notFound(req), nil
	}
}

// filterRows applies a very small subset of ServiceNow encoded-query
// syntax: ^-joined exact-match "field=value" clauses. Anything richer
// (ranges, ORs) is out of scope for a scripted fake.
func filterRows(rows []map[string]string, query string) []map[string]string {
	if query == "" {
		return rows
	}
	clauses := strings.Split(query, "^")
	var out []map[string]string
	for _, row := range rows {
		if matchesAll(row, clauses) {
			out = append(out, row)
		}
	}
	return out
}

func matchesAll(row map[string]string, clauses []string) bool {
	for _, clause := range clauses {
		if strings.HasPrefix(clause, "condition=") {
			continue // opaque condition clauses aren't modeled by the fake.
		}
		kv := strings.SplitN(clause, "=", 2)
		if len(kv) != 2 {
			continue
		}
		if row[kv[0]] != kv[1] {
			return false
		}
	}
	return true
}

func paginate(rows []map[string]string, q url.Values) []map[string]string {
	offset := 0
	if v := q.Get("sysparm_offset"); v != "" {
		offset, _ = strconv.Atoi(v)
	}
	limit := len(rows)
	if v := q.Get("sysparm_limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if offset >= len(rows) {
		return nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func toInterfaceRows(rows []map[string]string) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		m := make(map[string]interface{}, len(row))
		for k, v := range row {
			m[k] = v
		}
		out[i] = m
	}
	return out
}

func decodeBody(req *http.Request) (map[string]string, error) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("fake transport: malformed request body: %w", err)
		}
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func jsonResponse(req *http.Request, status int, body interface{}) *http.Response {
	raw, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(raw)),
		Request:    req,
	}
}

func xmlResponse(req *http.Request, body []byte) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/xml"}},
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
}

func emptyResponse(req *http.Request, status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Request:    req,
	}
}

func notFound(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Request:    req,
	}
}
