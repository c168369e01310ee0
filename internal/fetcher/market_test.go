package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coin-price-alerts/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func marketServer(t *testing.T, prices map[string]map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/coins/list":
			_ = json.NewEncoder(w).Encode([]map[string]string{
				{"id": "bitcoin", "symbol": "btc"},
				{"id": "ethereum", "symbol": "eth"},
			})
		case "/simple/price":
			_ = json.NewEncoder(w).Encode(prices)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestMarket(baseURL string) *Market {
	coins := NewCoinListCache(baseURL, time.Second, time.Hour, nil, noopLogger())
	return NewMarket(MarketOptions{
		BaseURL:    baseURL,
		VsCurrency: "usd",
		Timeout:    time.Second,
		UserAgent:  "test",
	}, coins, noopLogger())
}

func TestFetchPricesSuccess(t *testing.T) {
	srv := marketServer(t, map[string]map[string]float64{
		"bitcoin":  {"usd": 64000.5},
		"ethereum": {"usd": 3100},
	})
	defer srv.Close()

	m := newTestMarket(srv.URL)
	assets := []storage.Asset{
		{ID: 1, Symbol: "btc", Name: "Bitcoin"},
		{ID: 2, Symbol: "eth", Name: "Ethereum"},
	}

	prices, err := m.FetchPrices(context.Background(), assets)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(prices) != 2 {
		t.Fatalf("期望 2 个价格, 实际 %d", len(prices))
	}
	if prices[1].String() != "64000.5" {
		t.Fatalf("btc 价格不正确: %s", prices[1].String())
	}
}

func TestFetchPricesUnknownSymbolSkipped(t *testing.T) {
	srv := marketServer(t, map[string]map[string]float64{
		"bitcoin": {"usd": 64000.5},
	})
	defer srv.Close()

	m := newTestMarket(srv.URL)
	assets := []storage.Asset{
		{ID: 1, Symbol: "btc", Name: "Bitcoin"},
		{ID: 9, Symbol: "notacoin", Name: "Not A Coin"},
	}

	prices, err := m.FetchPrices(context.Background(), assets)
	if err != nil {
		t.Fatalf("未知符号应跳过而不是报错: %v", err)
	}
	if _, ok := prices[9]; ok {
		t.Fatal("未知符号不应出现在结果里")
	}
	if _, ok := prices[1]; !ok {
		t.Fatal("已知符号应正常返回")
	}
}

func TestFetchPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/coins/list" {
			_ = json.NewEncoder(w).Encode([]map[string]string{{"id": "bitcoin", "symbol": "btc"}})
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{"error_code": 429, "error_message": "rate limited"},
		})
	}))
	defer srv.Close()

	m := newTestMarket(srv.URL)
	assets := []storage.Asset{{ID: 1, Symbol: "btc", Name: "Bitcoin"}}

	if _, err := m.FetchPrices(context.Background(), assets); err == nil {
		t.Fatal("HTTP 429 应返回错误")
	}
}

func TestFetchRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/coins/list":
			_ = json.NewEncoder(w).Encode([]map[string]string{{"id": "bitcoin", "symbol": "btc"}})
		case "/coins/bitcoin/market_chart/range":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"prices": [][2]float64{
					{1705312800000, 42000.25},
					{1705316400000, 42100},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m := newTestMarket(srv.URL)
	asset := storage.Asset{ID: 1, Symbol: "btc", Name: "Bitcoin"}

	points, err := m.FetchRange(context.Background(), asset, time.Unix(1705312800, 0), time.Unix(1705320000, 0))
	if err != nil {
		t.Fatalf("FetchRange 失败: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("期望 2 个点, 实际 %d", len(points))
	}
	if points[0].AssetID != 1 {
		t.Fatalf("asset id 不正确: %d", points[0].AssetID)
	}
	if points[0].Price.String() != "42000.25" {
		t.Fatalf("价格不正确: %s", points[0].Price.String())
	}
	if !points[0].Timestamp.Equal(time.UnixMilli(1705312800000).UTC()) {
		t.Fatalf("时间戳不正确: %s", points[0].Timestamp)
	}
}
