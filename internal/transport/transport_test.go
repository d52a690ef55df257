package transport

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBackoffStaysWithinCapAndBase(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		d := backoff(attempt, rng)
		if d < 0 {
			t.Fatalf("attempt %d: negative backoff %v", attempt, d)
		}
		if d > backoffCap+backoffCap/2 {
			t.Fatalf("attempt %d: backoff %v exceeds cap plus jitter", attempt, d)
		}
	}
}

func TestDoSucceedsOnJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"result": []interface{}{}})
	}))
	defer srv.Close()

	tr := New("test", "user", "pass")
	tr.HTTPClient = srv.Client()
	resp, err := tr.Do(context.Background(), Request{Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.JSON == nil {
		t.Fatal("expected JSON body")
	}
}

func TestDoRetriesOn429ThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"result": []interface{}{}})
	}))
	defer srv.Close()

	tr := New("test", "user", "pass")
	tr.HTTPClient = srv.Client()
	tr.Rand = rand.New(rand.NewSource(1))
	start := time.Now()
	resp, err := tr.Do(context.Background(), Request{Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.JSON == nil {
		t.Fatal("expected JSON body after retry")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if time.Since(start) <= 0 {
		t.Fatal("expected nonzero elapsed time across retry")
	}
}

func TestDo403IsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tr := New("test", "acting-user", "pass")
	tr.HTTPClient = srv.Client()
	_, err := tr.Do(context.Background(), Request{Method: "GET", URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDoSentinelOn204(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := New("test", "user", "pass")
	tr.HTTPClient = srv.Client()
	resp, err := tr.Do(context.Background(), Request{Method: "DELETE", URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !resp.Sentinel {
		t.Fatal("expected sentinel response")
	}
}
