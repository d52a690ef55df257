package schema

import (
	"context"
	"sync"
	"time"
)

// Fetcher retrieves the raw SCHEMA endpoint XML body for a table. The
// client aggregate supplies this (backed by Transport); the cache itself
// never does I/O so it has no cyclic dependency on the transport layer
// (spec §9 "global/shared mutable state... keep them on the client
// aggregate, never at module scope").
type Fetcher func(ctx context.Context, tableName string) ([]byte, error)

// entry models the "promise-in-cache" pattern from spec §9: either pending
// (a fetch is in flight, waiters block on done) or ready (a published
// Table with an expiry).
type entry struct {
	done   chan struct{}
	table  *Table
	err    error
	expiry time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiry.IsZero() && now.After(e.expiry)
}

// Cache is the per-client Schema Cache (spec §4.C). It coalesces
// concurrent misses for the same table into a single in-flight fetch: the
// first caller publishes a pending entry and does the fetch; subsequent
// callers for the same table observe the pending entry and await its
// result instead of issuing their own request (spec §8 "if N concurrent
// callers request table T on a miss, the underlying HTTP request is
// issued at most once").
type Cache struct {
	fetch Fetcher

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Cache that uses fetch to retrieve a table's schema on a
// cold miss or after expiry.
func New(fetch Fetcher) *Cache {
	return &Cache{fetch: fetch, entries: make(map[string]*entry)}
}

// Get returns the cached schema for table, fetching (and coalescing
// concurrent fetches) on a miss or expired entry.
func (c *Cache) Get(ctx context.Context, table string) (*Table, error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[table]
		now := time.Now()
		if ok && e.done != nil {
			select {
			case <-e.done:
				if e.expired(now) {
					delete(c.entries, table)
					c.mu.Unlock()
					continue
				}
				c.mu.Unlock()
				return e.table, e.err
			default:
				// A fetch is in flight; wait for it below.
				c.mu.Unlock()
				select {
				case <-e.done:
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		// Miss: publish a pending entry and become the fetcher.
		pending := &entry{done: make(chan struct{})}
		c.entries[table] = pending
		c.mu.Unlock()

		t, err := c.fetch(ctx, table)
		var parsed *Table
		var perr error
		if err != nil {
			perr = err
		} else {
			parsed, perr = Parse(table, t)
		}

		pending.table = parsed
		pending.err = perr
		pending.expiry = time.Now().Add(TTL)
		close(pending.done)

		if perr != nil {
			// Don't cache failures; the next caller retries the fetch.
			c.mu.Lock()
			if c.entries[table] == pending {
				delete(c.entries, table)
			}
			c.mu.Unlock()
		}
		return parsed, perr
	}
}

// Invalidate forces the next Get for table to issue a fresh fetch,
// regardless of TTL (spec §4.C "callers may force invalidation").
func (c *Cache) Invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, table)
}
