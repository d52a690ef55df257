// Package servicenow is a client library for a multi-tenant
// configuration/CMDB service exposed over an HTTP+JSON REST API (with a
// secondary XML schema endpoint). Callers provide a declarative desired
// state — tables, columns, choice lists, data policies, relationships, and
// row sets — and Client reconciles the remote instance to match it.
package servicenow

import (
	"context"
	"net/http"
	"net/url"

	"github.com/anguspalmer/servicenow/internal/apperr"
	"github.com/anguspalmer/servicenow/internal/coerce"
	"github.com/anguspalmer/servicenow/internal/descriptor"
	"github.com/anguspalmer/servicenow/internal/fake"
	"github.com/anguspalmer/servicenow/internal/gateway"
	"github.com/anguspalmer/servicenow/internal/plan"
	"github.com/anguspalmer/servicenow/internal/ratelimit"
	"github.com/anguspalmer/servicenow/internal/reconcile/choice"
	"github.com/anguspalmer/servicenow/internal/reconcile/column"
	"github.com/anguspalmer/servicenow/internal/reconcile/policy"
	"github.com/anguspalmer/servicenow/internal/reconcile/relation"
	"github.com/anguspalmer/servicenow/internal/reconcile/rowmerge"
	"github.com/anguspalmer/servicenow/internal/reconcile/table"
	"github.com/anguspalmer/servicenow/internal/recordcache"
	"github.com/anguspalmer/servicenow/internal/schema"
	"github.com/anguspalmer/servicenow/internal/transport"
	"github.com/anguspalmer/servicenow/status"
)

// devInstance is the sentinel instance name that switches the client into
// fake mode (spec §6 "Fake mode: when instance is the sentinel dev
// instance and no credentials are given, substitute a scripted in-process
// transport").
const devInstance = "dev"

// Config carries the recognized client options (spec §6 Configuration).
type Config struct {
	Instance string
	Username string
	Password string

	ReadOnly bool
	Debug    bool

	// ReadConcurrency and WriteConcurrency size the two Rate Limiter
	// buckets; zero uses the package defaults (40 / 80).
	ReadConcurrency  int
	WriteConcurrency int

	// Status receives progress/log events from every reconciler and the
	// request gateway. A nil Status defaults to status.Nop.
	Status status.Status

	// RecordCache, when set, makes Row Delta-Merge and any caller-opted-in
	// GetRecords query eligible for result caching (spec §4.E).
	RecordCache recordcache.Cache

	// transport, when non-nil, is used by New instead of building one from
	// Instance/Username/Password. It is unexported, so only code in this
	// package can set it; New never sets it, and builds its own transport
	// (backed by the in-process fake in fake mode) when it is nil.
	transport *transport.Transport
}

// Client is the root aggregate: it owns the Schema Cache and Rate Limiter
// (process-wide relative to this instance, spec §9 "keep them on the
// client aggregate, never at module scope") and every sub-reconciler, each
// holding a non-owning handle back to the shared Gateway rather than a
// cyclic reference to Client itself (spec §9 "Cross-component
// back-references").
type Client struct {
	cfg     Config
	gateway *gateway.Gateway

	Table    *table.Reconciler
	Column   *column.Reconciler
	Policy   *policy.Reconciler
	RowMerge *rowmerge.Merger

	// Fake is non-nil only in fake mode (spec §6): it lets a caller seed
	// the scripted in-process backend's tables before exercising the
	// reconcilers against it.
	Fake *fake.RoundTripper
}

// New builds a Client from cfg. It does not perform any I/O; the acting
// user (used by column deletion ownership checks and data-policy
// conditions) is taken from cfg up front, without a remote lookup.
func New(cfg Config) (*Client, error) {
	if cfg.Instance == "" {
		return nil, ConfigurationError("instance is required")
	}
	if cfg.Instance != devInstance && (cfg.Username == "" || cfg.Password == "") {
		return nil, ConfigurationError("username and password are required outside fake mode")
	}
	if cfg.Status == nil {
		cfg.Status = status.Nop{}
	}

	tr := cfg.transport
	var fakeBackend *fake.RoundTripper
	if tr == nil {
		tr = transport.New(cfg.Instance, cfg.Username, cfg.Password)
		if cfg.Instance == devInstance {
			fakeBackend = fake.New()
			tr.HTTPClient = &http.Client{Transport: fakeBackend}
		}
	}

	lim := ratelimit.New(cfg.ReadConcurrency, cfg.WriteConcurrency)

	var gw *gateway.Gateway
	sc := schema.New(func(ctx context.Context, t string) ([]byte, error) {
		return gw.FetchSchema(ctx, t)
	})
	gw = gateway.New(tr, lim, sc, cfg.ReadOnly, cfg.Status)

	actingUser, err := resolveActingUser(cfg)
	if err != nil {
		return nil, err
	}

	policyRec := &policy.Reconciler{Gateway: gw, ActingUser: actingUser}
	columnRec := &column.Reconciler{Gateway: gw, Policy: policyRec, ActingUser: actingUser}
	tableRec := table.New(gw, columnRec)
	merger := &rowmerge.Merger{Gateway: gw, Schema: sc, Policy: policyRec, Status: cfg.Status}

	return &Client{
		cfg:      cfg,
		gateway:  gw,
		Table:    tableRec,
		Column:   columnRec,
		Policy:   policyRec,
		RowMerge: merger,
		Fake:     fakeBackend,
	}, nil
}

// resolveActingUser returns "dev" in fake mode and, for real instances,
// the configured Username: that is the acting user's user_name, which is
// what sys_created_by records on rows this client writes, so no round trip
// through sys_user is made.
func resolveActingUser(cfg Config) (string, error) {
	if cfg.Instance == devInstance {
		return "dev", nil
	}
	return cfg.Username, nil
}

// Do is the low-level escape hatch exposing the Request Gateway directly
// (spec §2 row I "the single entry point do(request)"), for callers that
// need direct CRUD rather than a reconciler.
func (c *Client) Do(ctx context.Context, method, path string, query map[string]string, body interface{}) (*gateway.Result, error) {
	return c.gateway.Do(ctx, method, path, toURLValues(query), body)
}

// GetRecords exposes the Request Gateway's paginated query helper (spec
// §4.I "getRecords layered atop do") to direct callers.
func (c *Client) GetRecords(ctx context.Context, opts gateway.GetRecordsOptions) ([]coerce.Row, error) {
	if opts.Cache == nil {
		opts.Cache = c.cfg.RecordCache
	}
	return c.gateway.GetRecords(ctx, opts)
}

// SyncTable reconciles a table's shape (spec §4.F): desired columns are
// created or updated as needed, honoring immutable-field and ownership
// rules. When commit is false this only plans the change.
func (c *Client) SyncTable(ctx context.Context, desired *descriptor.Table, commit bool) (*plan.Plan, error) {
	return c.Table.Sync(ctx, desired, commit)
}

// GetTable returns a table's flattened descriptor, merged across its
// ancestor chain (spec §4.F "get(nameOrId)").
func (c *Client) GetTable(ctx context.Context, nameOrID string) (*descriptor.Table, error) {
	return c.Table.Get(ctx, nameOrID)
}

// SyncChoices reconciles one column's choice list against sys_choice
// (spec §4.G.1).
func (c *Client) SyncChoices(ctx context.Context, table, column string, choiceMap map[string]string) error {
	return choice.Sync(ctx, c.gateway, table, column, choiceMap)
}

// SyncRelationships reconciles cmdb_rel_ci rows for a set of CI rows
// against a mapping column -> "<parent-descriptor>::<child-descriptor>"
// (spec §4.G.3).
func (c *Client) SyncRelationships(ctx context.Context, rows []relation.Row, descriptors map[string]string) error {
	return relation.Sync(ctx, c.gateway, rows, descriptors)
}

// MergeRows reconciles desired against table's current rows (spec §4.H
// Row Delta-Merge).
func (c *Client) MergeRows(ctx context.Context, opts rowmerge.Options, desired []coerce.Row) (rowmerge.Result, error) {
	if opts.Cache == nil {
		opts.Cache = c.cfg.RecordCache
	}
	return c.RowMerge.Merge(ctx, opts, desired)
}

func toURLValues(m map[string]string) url.Values {
	if len(m) == 0 {
		return nil
	}
	q := make(url.Values, len(m))
	for k, v := range m {
		q.Set(k, v)
	}
	return q
}

// ConfigurationError builds a ConfigurationError-kind *Error, exported for
// callers assembling their own Config validation errors consistently with
// the client's own (spec §7 "ConfigurationError -- missing
// credentials/instance; invalid URL; read-only violation").
func ConfigurationError(msg string, kv ...interface{}) error {
	return apperr.Configurationf(msg, kv...)
}
