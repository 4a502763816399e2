package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type counterStore struct {
	counts map[string]int64
	err    error
}

func (c *counterStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if c.err != nil {
		return false, 0, c.err
	}
	c.counts[scope]++
	return c.counts[scope] <= limit, c.counts[scope], nil
}

func serveAs(handler http.Handler, method, actor, ip string) int {
	req := httptest.NewRequest(method, "/api/v1/ledger/entries", nil)
	req.RemoteAddr = ip + ":5555"
	req = req.WithContext(WithActor(req.Context(), actor, "accountant"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp.Code
}

func TestRateLimitBlocksActorAfterLimit(t *testing.T) {
	store := &counterStore{counts: map[string]int64{}}
	policy := NewRateLimitPolicy("writes", time.Minute, 2, 0)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		if code := serveAs(handler, http.MethodPost, "u-1", "10.0.0.1"); code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d", i, code)
		}
	}
	if code := serveAs(handler, http.MethodPost, "u-1", "10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", code)
	}
	if code := serveAs(handler, http.MethodPost, "u-2", "10.0.0.1"); code != http.StatusCreated {
		t.Fatalf("other actor should pass, got %d", code)
	}
	if code := serveAs(handler, http.MethodGet, "u-1", "10.0.0.1"); code != http.StatusCreated {
		t.Fatalf("reads are not throttled, got %d", code)
	}
}

func TestRateLimitCountsPerPolicyAndScope(t *testing.T) {
	store := &counterStore{counts: map[string]int64{}}
	handler := RateLimit(NewRateLimitPolicy("Writes", time.Minute, 5, 5), store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	serveAs(handler, http.MethodPost, "u-1", "10.0.0.1")
	if store.counts["actor:writes:u-1"] != 1 || store.counts["ip:writes:10.0.0.1"] != 1 {
		t.Fatalf("unexpected counters %v", store.counts)
	}
}

func TestRateLimitSurfacesStoreFailure(t *testing.T) {
	store := &counterStore{counts: map[string]int64{}, err: errors.New("redis down")}
	handler := RateLimit(NewRateLimitPolicy("writes", time.Minute, 5, 5), store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	if code := serveAs(handler, http.MethodPost, "u-1", "10.0.0.1"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", code)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	handler := RateLimit(NewRateLimitPolicy("writes", 0, 1, 1), nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	for i := 0; i < 3; i++ {
		if code := serveAs(handler, http.MethodPost, "u-1", "10.0.0.1"); code != http.StatusCreated {
			t.Fatalf("expected 201 got %d", code)
		}
	}
}
