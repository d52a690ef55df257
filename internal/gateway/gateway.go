// Package gateway implements the Request Gateway (spec §4.I): the single
// entry point every reconciler uses to talk to the remote. It validates
// the request shape, enforces the read-only and import/table method
// rules, dispatches through the Rate Limiter and Transport, and — for
// table-API reads — runs the response through the Type Coercer before
// returning it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/anguspalmer/servicenow/internal/apperr"
	"github.com/anguspalmer/servicenow/internal/coerce"
	"github.com/anguspalmer/servicenow/internal/ratelimit"
	"github.com/anguspalmer/servicenow/internal/schema"
	"github.com/anguspalmer/servicenow/internal/transport"
	"github.com/anguspalmer/servicenow/status"
)

// Gateway is the façade over Transport + Rate Limiter + Schema Cache +
// Type Coercer (spec §2 row I).
type Gateway struct {
	Transport *transport.Transport
	Limiter   *ratelimit.Limiter
	Schema    *schema.Cache
	ReadOnly  bool
	Status    status.Status
}

// New builds a Gateway. st may be nil, in which case status.Nop is used.
func New(tr *transport.Transport, lim *ratelimit.Limiter, sc *schema.Cache, readOnly bool, st status.Status) *Gateway {
	if st == nil {
		st = status.Nop{}
	}
	return &Gateway{Transport: tr, Limiter: lim, Schema: sc, ReadOnly: readOnly, Status: st}
}

// Result is the decoded, optionally coerced outcome of Do.
type Result struct {
	StatusCode int
	// Rows holds table-API results after Type Coercion, in the order the
	// remote returned them.
	Rows []coerce.Row
	// Raw holds the decoded-but-uncoerced JSON result payload, used by
	// callers that address non-table endpoints (stats, import, sys_user
	// lookups) where no schema-driven coercion applies.
	Raw json.RawMessage
	XML []byte
	// Sentinel mirrors transport.Response.Sentinel: a 201/204 with no body.
	Sentinel bool
}

// Do validates path, enforces read-only and method rules, and executes
// the request. path is the portion after the table-API or import-API
// base (e.g. "/v2/table/incident/{sys_id}"). SCHEMA requests at the
// instance root go through FetchSchema, not Do.
func (g *Gateway) Do(ctx context.Context, method, path string, query url.Values, body interface{}) (*Result, error) {
	if method != "GET" && g.ReadOnly {
		return nil, apperr.Configurationf("write blocked: client is in read-only mode", "method", method, "path", path)
	}

	apiVersion, kind, tableOrID, id, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	if kind == "table" {
		if (method == "PUT" || method == "DELETE") && id == "" {
			return nil, apperr.RequestValidationf("table-API PUT/DELETE requires an id", "path", path)
		}
		if id != "" && !isGUID(id) {
			return nil, apperr.RequestValidationf("malformed sys_id", "id", id, "path", path)
		}
	}
	if kind == "import" && !strings.HasPrefix(tableOrID, importTablePrefix) {
		return nil, apperr.RequestValidationf("import-API table name must begin with u_imp_dm_", "table", tableOrID)
	}
	if kind == "attachment" && id == "file" {
		// "file" is a valid literal id slot for attachment downloads (spec
		// §4.I "the id slot may be 'file' with the real id preceding it").
	}

	fullURL := g.Transport.BaseURL() + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	dir := ratelimit.DirectionForMethod(method)
	release, err := g.Limiter.Acquire(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := g.Transport.Do(ctx, transport.Request{
		Method:                method,
		URL:                   fullURL,
		Body:                  body,
		ExcludeReferenceLink:  kind == "table" && method == "GET",
	})
	if err != nil {
		return nil, err
	}

	result := &Result{StatusCode: resp.StatusCode, Sentinel: resp.Sentinel}
	if resp.Sentinel {
		return result, nil
	}
	if resp.XML != nil {
		result.XML = resp.XML
		return result, nil
	}
	if resp.JSON == nil {
		return result, nil
	}

	if kind == "table" && method == "GET" {
		rows, err := g.decodeTableRows(ctx, tableOrID, resp.JSON)
		if err != nil {
			return nil, err
		}
		result.Rows = rows
		return result, nil
	}

	result.Raw = resp.JSON
	return result, nil
}

func (g *Gateway) decodeTableRows(ctx context.Context, table string, raw json.RawMessage) ([]coerce.Row, error) {
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperr.Protocolf("malformed JSON response", "cause", err.Error())
	}
	if len(env.Result) == 0 {
		return nil, apperr.Protocolf("response missing result array", "table", table)
	}

	var wireRows []coerce.WireRow
	if err := json.Unmarshal(env.Result, &wireRows); err != nil {
		return nil, apperr.Protocolf("expected an array of rows, got an object", "table", table)
	}

	tbl, err := g.Schema.Get(ctx, table)
	if err != nil {
		return nil, err
	}

	return coerce.DecodeAll(ctx, tbl, wireRows, schemaLookup{g}, 0)
}

// schemaLookup adapts Gateway to coerce.SchemaLookup for dotted-key
// reference resolution.
type schemaLookup struct{ g *Gateway }

func (s schemaLookup) Get(ctx context.Context, table string) (*schema.Table, error) {
	return s.g.Schema.Get(ctx, table)
}

func parsePath(path string) (apiVersion, kind, tableOrID, id string, err error) {
	m := pathPattern.FindStringSubmatch(path)
	if m == nil {
		return "", "", "", "", apperr.RequestValidationf("invalid request URL", "path", path)
	}
	return m[1], m[2], m[3], m[4], nil
}

// SchemaURL builds the SCHEMA-endpoint URL for a table, used by the
// client aggregate to wire a schema.Fetcher backed by this Gateway's
// Transport (the SCHEMA endpoint lives at the instance root, not under
// /api/now — spec §4.A).
func (g *Gateway) SchemaURL(table string) string {
	return fmt.Sprintf("%s/%s.do?SCHEMA", g.Transport.SchemaBaseURL(), table)
}

// FetchSchema issues the raw SCHEMA-endpoint request for table, bypassing
// the table-API URL rules above (this isn't a table-API path). It
// implements schema.Fetcher.
func (g *Gateway) FetchSchema(ctx context.Context, table string) ([]byte, error) {
	release, err := g.Limiter.Acquire(ctx, ratelimit.Read)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := g.Transport.Do(ctx, transport.Request{Method: "GET", URL: g.SchemaURL(table)})
	if err != nil {
		return nil, err
	}
	if resp.XML != nil {
		return resp.XML, nil
	}
	return resp.Bytes, nil
}
