package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

const sampleSchemaXML = `<table><element name="u_name" internal_type="string"/></table>`

// TestCacheCoalescesConcurrentMisses exercises spec §8 scenario 1: N
// concurrent Get calls for the same table on a cold miss must coalesce
// into a single underlying fetch.
func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context, table string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte(sampleSchemaXML), nil
	}
	c := New(fetch)

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Table, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "u_dm_host")
		}(i)
	}

	// Give every goroutine a chance to observe the pending entry before the
	// fetch is allowed to complete.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 underlying fetch, got %d", got)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("Get(%d): %v", i, errs[i])
		}
		if results[i] == nil || results[i].Name != "u_dm_host" {
			t.Fatalf("Get(%d): unexpected result %+v", i, results[i])
		}
	}
}

// TestCacheRetriesAfterFailure ensures a failed fetch is not cached, so
// the next Get issues a fresh fetch rather than replaying the error.
func TestCacheRetriesAfterFailure(t *testing.T) {
	attempt := 0
	fetch := func(ctx context.Context, table string) ([]byte, error) {
		attempt++
		if attempt == 1 {
			return nil, errBoom
		}
		return []byte(sampleSchemaXML), nil
	}
	c := New(fetch)

	if _, err := c.Get(context.Background(), "u_dm_host"); err == nil {
		t.Fatalf("expected first fetch to fail")
	}
	tbl, err := c.Get(context.Background(), "u_dm_host")
	if err != nil {
		t.Fatalf("expected second fetch to succeed, got %v", err)
	}
	if tbl.Name != "u_dm_host" {
		t.Errorf("unexpected table %+v", tbl)
	}
	if attempt != 2 {
		t.Errorf("expected exactly 2 fetch attempts, got %d", attempt)
	}
}
