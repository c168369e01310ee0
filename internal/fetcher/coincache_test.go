package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoinListCacheRefreshesOnTTL(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode([]map[string]string{{"id": "bitcoin", "symbol": "btc"}})
	}))
	defer srv.Close()

	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cache := NewCoinListCache(srv.URL, time.Second, time.Hour, clock, noopLogger())

	for i := 0; i < 3; i++ {
		id, ok, err := cache.CoinID(context.Background(), "BTC")
		if err != nil || !ok || id != "bitcoin" {
			t.Fatalf("lookup failed: id=%q ok=%v err=%v", id, ok, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("repeated lookups within TTL should hit the API once, got %d", hits.Load())
	}

	now = now.Add(time.Hour)
	if _, _, err := cache.CoinID(context.Background(), "btc"); err != nil {
		t.Fatalf("lookup after TTL failed: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expired cache should refetch, got %d hits", hits.Load())
	}
}

func TestCoinListCacheServesStaleOnRefreshFailure(t *testing.T) {
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]string{{"id": "bitcoin", "symbol": "btc"}})
	}))
	defer srv.Close()

	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cache := NewCoinListCache(srv.URL, time.Second, time.Hour, clock, noopLogger())

	if _, ok, err := cache.CoinID(context.Background(), "btc"); err != nil || !ok {
		t.Fatalf("initial fill failed: ok=%v err=%v", ok, err)
	}

	failing.Store(true)
	now = now.Add(2 * time.Hour)

	id, ok, err := cache.CoinID(context.Background(), "btc")
	if err != nil {
		t.Fatalf("stale cache should mask a failed refresh: %v", err)
	}
	if !ok || id != "bitcoin" {
		t.Fatalf("stale entry should still resolve, id=%q ok=%v", id, ok)
	}
}

func TestCoinListCacheUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{{"id": "bitcoin", "symbol": "btc"}})
	}))
	defer srv.Close()

	cache := NewCoinListCache(srv.URL, time.Second, time.Hour, nil, noopLogger())
	_, ok, err := cache.CoinID(context.Background(), "doesnotexist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("unknown symbol should not resolve")
	}
}
