package oracle_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/oracle"
	"github.com/shopspring/decimal"
)

// ── Mock provider HTTP servers ────────────────────────────────────────────────

// DexScreener expects: {"pairs":[{"priceUsd":"..."}]}
func mockDexOK(price string, hits *int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if r.URL.Path != "/latest/dex/pairs/base/0xpair" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pairs": []map[string]string{{"priceUsd": price}},
		})
	})
}

// CoinGecko expects: [{"id":"...","current_price":...,"market_cap_rank":...}]
func mockGeckoOK(ranks map[string]int, wantKey string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantKey != "" && r.Header.Get("x-cg-demo-api-key") != wantKey {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		id := r.URL.Query().Get("ids")
		rank, ok := ranks[id]
		if !ok {
			_ = json.NewEncoder(w).Encode([]any{})
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": id, "current_price": 142.5, "market_cap_rank": rank},
		})
	})
}

func mockServerError() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
}

func buildOracleConfig(dexURL, geckoURL, key string, ttl time.Duration) config.OracleConfig {
	return config.OracleConfig{
		DexScreenerURL: dexURL,
		CoinGeckoURL:   geckoURL,
		CoinGeckoKey:   key,
		FetchTimeout:   2 * time.Second,
		CacheTTL:       ttl,
	}
}

var pairRef = domain.OracleRef{Chain: "base", PairAddress: "0xpair"}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestGetPrice_DexScreener(t *testing.T) {
	dex := httptest.NewServer(mockDexOK("1.2345", nil))
	defer dex.Close()

	r := oracle.NewRouter(buildOracleConfig(dex.URL, "", "", 0), nil, nil)
	q, ok := r.GetPrice(context.Background(), domain.ProviderDexScreener, pairRef)
	if !ok {
		t.Fatal("expected a price")
	}
	if !q.PriceUSD.Equal(decimal.RequireFromString("1.2345")) {
		t.Errorf("price = %s, want 1.2345", q.PriceUSD)
	}
	if q.Provider != domain.ProviderDexScreener || q.Ts.IsZero() {
		t.Errorf("unexpected quote metadata: %+v", q)
	}
}

func TestGetPrice_FailuresReportMiss(t *testing.T) {
	tests := []struct {
		name    string
		handler http.Handler
	}{
		{"server error", mockServerError()},
		{"empty pairs", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"pairs":[]}`))
		})},
		{"malformed json", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"pairs":`))
		})},
		{"zero price", mockDexOK("0", nil)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			r := oracle.NewRouter(buildOracleConfig(srv.URL, "", "", 0), nil, nil)
			if _, ok := r.GetPrice(context.Background(), domain.ProviderDexScreener, pairRef); ok {
				t.Error("expected a miss")
			}
		})
	}
}

func TestGetPrice_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	cfg := buildOracleConfig(slow.URL, "", "", 0)
	cfg.FetchTimeout = 50 * time.Millisecond
	r := oracle.NewRouter(cfg, nil, nil)
	if _, ok := r.GetPrice(context.Background(), domain.ProviderDexScreener, pairRef); ok {
		t.Error("a timed-out request must be a miss")
	}
}

func TestGetPrice_UnknownProvider(t *testing.T) {
	r := oracle.NewRouter(buildOracleConfig("http://127.0.0.1:1", "http://127.0.0.1:1", "", 0), nil, nil)
	if _, ok := r.GetPrice(context.Background(), "BINANCE", pairRef); ok {
		t.Error("unknown provider must be a miss")
	}
}

func TestGetPrice_CachedWithinTTL(t *testing.T) {
	var hits int32
	dex := httptest.NewServer(mockDexOK("2.5", &hits))
	defer dex.Close()

	r := oracle.NewRouter(buildOracleConfig(dex.URL, "", "", time.Minute), oracle.NewMemoryCache(), nil)
	for i := 0; i < 3; i++ {
		if _, ok := r.GetPrice(context.Background(), domain.ProviderDexScreener, pairRef); !ok {
			t.Fatalf("call %d: expected a price", i)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("provider hit %d times, want 1", got)
	}
}

func TestGetPrice_ConcurrentCallsShareOneRequest(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	dex := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		_, _ = w.Write([]byte(`{"pairs":[{"priceUsd":"3"}]}`))
	}))
	defer dex.Close()

	r := oracle.NewRouter(buildOracleConfig(dex.URL, "", "", 0), nil, nil)

	const n = 8
	var wg sync.WaitGroup
	var okCount int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.GetPrice(context.Background(), domain.ProviderDexScreener, pairRef); ok {
				atomic.AddInt32(&okCount, 1)
			}
		}()
	}
	// Let every goroutine join the in-flight call before answering.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if okCount != n {
		t.Errorf("%d/%d callers got a price", okCount, n)
	}
	if got := atomic.LoadInt32(&hits); got < 1 || got > 2 {
		t.Errorf("provider hit %d times, want the lookups collapsed", got)
	}
}

func TestGetRank_CoinGecko(t *testing.T) {
	gecko := httptest.NewServer(mockGeckoOK(map[string]int{"solana": 5, "cardano": 9}, "demo-key"))
	defer gecko.Close()

	r := oracle.NewRouter(buildOracleConfig("", gecko.URL, "demo-key", 0), nil, nil)

	sol, ok := r.GetRank(context.Background(), domain.OracleRef{BaseID: "solana"})
	if !ok || sol.Rank != 5 {
		t.Fatalf("solana rank = %d ok=%v, want 5", sol.Rank, ok)
	}
	if _, ok := r.GetRank(context.Background(), domain.OracleRef{BaseID: "unlisted"}); ok {
		t.Error("a coin missing from the response must be a miss")
	}

	price, ok := r.GetPrice(context.Background(), domain.ProviderCoinGecko, domain.OracleRef{BaseID: "cardano"})
	if !ok || !price.PriceUSD.Equal(decimal.RequireFromString("142.5")) {
		t.Errorf("cardano price = %s ok=%v, want 142.5", price.PriceUSD, ok)
	}
}

func TestGetRank_MissingAPIKeyIsMiss(t *testing.T) {
	gecko := httptest.NewServer(mockGeckoOK(map[string]int{"solana": 5}, "demo-key"))
	defer gecko.Close()

	r := oracle.NewRouter(buildOracleConfig("", gecko.URL, "", 0), nil, nil)
	if _, ok := r.GetRank(context.Background(), domain.OracleRef{BaseID: "solana"}); ok {
		t.Error("unauthorised request must be a miss")
	}
}

func TestProviderStatus(t *testing.T) {
	dex := httptest.NewServer(mockDexOK("1", nil))
	defer dex.Close()
	gecko := httptest.NewServer(mockServerError())
	defer gecko.Close()

	r := oracle.NewRouter(buildOracleConfig(dex.URL, gecko.URL, "", 0), nil, nil)
	status := r.ProviderStatus()
	if status[domain.ProviderDexScreener].Healthy || status[domain.ProviderCoinGecko].Healthy {
		t.Error("providers should not be healthy before any request")
	}

	r.GetPrice(context.Background(), domain.ProviderDexScreener, pairRef)
	r.GetRank(context.Background(), domain.OracleRef{BaseID: "solana"})

	status = r.ProviderStatus()
	if !status[domain.ProviderDexScreener].Healthy {
		t.Error("dexscreener should be healthy after a successful fetch")
	}
	gs := status[domain.ProviderCoinGecko]
	if gs.Healthy || gs.LastError == "" || gs.LastFailure == nil {
		t.Errorf("coingecko status = %+v, want unhealthy with an error", gs)
	}
}

func TestMemoryCache_Expires(t *testing.T) {
	c := oracle.NewMemoryCache()
	ctx := context.Background()
	if _, err := c.Get(ctx, "k"); err != oracle.ErrCacheMiss {
		t.Fatalf("empty cache: got %v, want ErrCacheMiss", err)
	}
	_ = c.Set(ctx, "k", oracle.Reading{Value: decimal.NewFromInt(7), Ts: time.Now()}, 20*time.Millisecond)
	got, err := c.Get(ctx, "k")
	if err != nil || !got.Value.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("fresh read: %v %v", got.Value, err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); err != oracle.ErrCacheMiss {
		t.Errorf("expired entry: got %v, want ErrCacheMiss", err)
	}
}
