package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/anguspalmer/servicenow/internal/apperr"
	"github.com/anguspalmer/servicenow/internal/coerce"
	"github.com/anguspalmer/servicenow/internal/recordcache"
)

const (
	defaultPageSize  = 500
	pageConcurrency  = 4
	maxTotalRecords  = 100000
)

// Rename is a single projected field. When To is empty it defaults to
// From; a caller-supplied list may mix plain field names and single-entry
// {from: to} objects (spec §4.I "incoming list may contain strings or
// single-entry {from: to} objects").
type Rename struct {
	From string
	To   string
}

// GetRecordsOptions configures GetRecords (spec §4.I "getRecords layered
// atop do").
type GetRecordsOptions struct {
	Table      string
	Query      string
	Fields     []Rename
	MaxRecords int

	Cache    recordcache.Cache
	CacheKey string
	CacheTTL time.Duration
}

// GetRecords fetches every row matching opts.Query from opts.Table, with
// adaptive pagination, bounded parallel page fetch, and rename
// projection. It fails if the remote reports more than 100,000 matching
// rows (spec §4.I "If total count exceeds 100 000, fail").
func (g *Gateway) GetRecords(ctx context.Context, opts GetRecordsOptions) ([]coerce.Row, error) {
	if opts.Cache != nil && opts.CacheKey != "" {
		if rows, ok := g.tryCache(ctx, opts); ok {
			return rows, nil
		}
	}

	total, err := g.count(ctx, opts.Table, opts.Query)
	if err != nil {
		return nil, err
	}
	if total > maxTotalRecords {
		return nil, apperr.Quotaf("query result exceeds the row hard cap", "table", opts.Table, "count", total)
	}

	limit := total
	if opts.MaxRecords > 0 && opts.MaxRecords < limit {
		limit = opts.MaxRecords
	}

	pageSize := defaultPageSize
	pages := (limit + pageSize - 1) / pageSize
	if pages == 0 {
		return nil, nil
	}

	results := make([][]coerce.Row, pages)
	errs := make([]error, pages)
	sem := make(chan struct{}, pageConcurrency)
	var wg sync.WaitGroup

	for p := 0; p < pages; p++ {
		p := p
		offset := p * pageSize
		count := pageSize
		if offset+count > limit {
			count = limit - offset
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[p], errs[p] = g.fetchPage(ctx, opts.Table, opts.Query, offset, count)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var rows []coerce.Row
	for _, page := range results {
		rows = append(rows, page...)
	}

	rows = applyRenames(rows, opts.Fields)

	if opts.Cache != nil && opts.CacheKey != "" {
		if encoded, err := json.Marshal(rows); err == nil {
			_ = opts.Cache.Put(opts.CacheKey, encoded)
		}
	}

	return rows, nil
}

func (g *Gateway) fetchPage(ctx context.Context, table, query string, offset, limit int) ([]coerce.Row, error) {
	q := url.Values{}
	if query != "" {
		q.Set("sysparm_query", query)
	}
	q.Set("sysparm_limit", strconv.Itoa(limit))
	q.Set("sysparm_offset", strconv.Itoa(offset))

	res, err := g.Do(ctx, "GET", "/v2/table/"+table, q, nil)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func (g *Gateway) count(ctx context.Context, table, query string) (int, error) {
	q := url.Values{}
	q.Set("sysparm_count", "true")
	if query != "" {
		q.Set("sysparm_query", query)
	}
	res, err := g.Do(ctx, "GET", "/v1/stats/"+table, q, nil)
	if err != nil {
		return 0, err
	}
	return parseStatsCount(res.Raw)
}

func parseStatsCount(raw json.RawMessage) (int, error) {
	var env struct {
		Result struct {
			Stats struct {
				Count string `json:"count"`
			} `json:"stats"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, apperr.Protocolf("malformed stats response", "cause", err.Error())
	}
	n, err := strconv.Atoi(env.Result.Stats.Count)
	if err != nil {
		return 0, apperr.Protocolf("malformed stats count", "count", env.Result.Stats.Count)
	}
	return n, nil
}

// tryCache implements the staleness check from spec §4.E: compare a
// second count of rows updated since the cache's mtime, and (if that count
// is zero) a third count of rows updated at-or-before mtime against the cached
// row count.
func (g *Gateway) tryCache(ctx context.Context, opts GetRecordsOptions) ([]coerce.Row, bool) {
	mtime, ok := opts.Cache.MTime(opts.CacheKey)
	if !ok {
		return nil, false
	}
	cached, ok := opts.Cache.Get(opts.CacheKey, opts.CacheTTL)
	if !ok {
		return nil, false
	}
	var rows []coerce.Row
	if err := json.Unmarshal(cached, &rows); err != nil {
		return nil, false
	}

	since := fmt.Sprintf("updated_at>=%s", mtime.UTC().Format("2006-01-02 15:04:05"))
	newer, err := g.count(ctx, opts.Table, combineQuery(opts.Query, since))
	if err != nil {
		return nil, false
	}
	if newer != 0 {
		return nil, false
	}

	before := fmt.Sprintf("updated_at<=%s", mtime.UTC().Format("2006-01-02 15:04:05"))
	unchanged, err := g.count(ctx, opts.Table, combineQuery(opts.Query, before))
	if err != nil {
		return nil, false
	}
	if unchanged != len(rows) {
		return nil, false
	}

	return rows, true
}

func combineQuery(query, clause string) string {
	if query == "" {
		return clause
	}
	return query + "^" + clause
}

func applyRenames(rows []coerce.Row, renames []Rename) []coerce.Row {
	if len(renames) == 0 {
		return rows
	}
	out := make([]coerce.Row, len(rows))
	for i, row := range rows {
		projected := make(coerce.Row, len(renames))
		for _, r := range renames {
			to := r.To
			if to == "" {
				to = r.From
			}
			if v, ok := row[r.From]; ok {
				projected[to] = v
			}
		}
		out[i] = projected
	}
	return out
}
