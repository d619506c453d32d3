// Package api_test runs HTTP-level smoke tests using net/http/httptest
// against the in-memory ledger. They verify:
//   - Gin router routing and middleware wiring
//   - Domain error mapping onto status codes
//   - Response format consistency (success/error envelope)
//   - CORS preflight handling
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/pointsmarket/internal/api"
	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/repository"
	"github.com/evetabi/pointsmarket/internal/service"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

type testServer struct {
	handler http.Handler
	markets *service.MarketService
}

func testCfg() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Env = "development"
	cfg.DB.Driver = "memory"
	cfg.Server.RateLimitRPS = 100
	return cfg
}

func buildTestRouter(t *testing.T) *testServer {
	t.Helper()
	cfg := testCfg()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := repository.NewMemoryLedger()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	markets := service.NewMarketService(ledger, logger)
	r := api.SetupRouter(ctx, api.RouterDeps{
		MarketSvc: markets,
		TradeSvc:  service.NewTradeService(ledger, cfg, logger),
		WalletSvc: service.NewWalletService(ledger, cfg, logger),
		Cfg:       cfg,
	})
	return &testServer{handler: r, markets: markets}
}

func (s *testServer) openMarket(t *testing.T) *domain.Market {
	t.Helper()
	m, err := s.markets.CreateMarket(context.Background(), service.CreateMarketRequest{
		Title:          "ETH above 4k by Friday?",
		Type:           domain.MarketYesNo,
		ResolutionType: domain.ResolveManual,
		ClosesAt:       time.Now().Add(time.Hour),
		ResolvesAt:     time.Now().Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v, body: %s", err, rr.Body.String())
	}
	return m
}

func data(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("envelope data is not an object: %v", body)
	}
	return d
}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.handler, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

// ── Markets ───────────────────────────────────────────────────────────────────

func TestListMarkets(t *testing.T) {
	s := buildTestRouter(t)
	s.openMarket(t)
	s.openMarket(t)

	rr := do(t, s.handler, http.MethodGet, "/api/markets?status=open", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /api/markets = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	items, _ := body["data"].([]interface{})
	if len(items) != 2 {
		t.Errorf("got %d markets, want 2", len(items))
	}
	meta, _ := body["meta"].(map[string]interface{})
	if meta["total"] != float64(2) {
		t.Errorf("meta.total = %v, want 2", meta["total"])
	}
}

func TestListMarkets_BadStatus(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.handler, http.MethodGet, "/api/markets?status=bogus", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", rr.Code)
	}
}

func TestGetMarket(t *testing.T) {
	s := buildTestRouter(t)
	m := s.openMarket(t)

	rr := do(t, s.handler, http.MethodGet, "/api/markets/"+m.ID.String(), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET market = %d, body %s", rr.Code, rr.Body.String())
	}
	d := data(t, decodeBody(t, rr))
	if d["chance"] == nil || d["prices"] == nil {
		t.Errorf("market view missing chance or prices: %v", d)
	}

	rr = do(t, s.handler, http.MethodGet, "/api/markets/not-a-uuid", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", rr.Code)
	}
	rr = do(t, s.handler, http.MethodGet, "/api/markets/11111111-1111-1111-1111-111111111111", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", rr.Code)
	}
	if code := decodeBody(t, rr)["code"]; code != "ERR_MARKET_NOT_FOUND" {
		t.Errorf("code = %v, want ERR_MARKET_NOT_FOUND", code)
	}
}

func TestQuote(t *testing.T) {
	s := buildTestRouter(t)
	m := s.openMarket(t)

	rr := do(t, s.handler, http.MethodGet, "/api/markets/"+m.ID.String()+"/quote?side=yes&amount=100", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("quote = %d, body %s", rr.Code, rr.Body.String())
	}
	d := data(t, decodeBody(t, rr))
	if d["price"] != "0.5" {
		t.Errorf("price on an empty market = %v, want 0.5", d["price"])
	}

	rr = do(t, s.handler, http.MethodGet, "/api/markets/"+m.ID.String()+"/quote?side=MAYBE&amount=100", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad side = %d, want 400", rr.Code)
	}
}

// ── Trades ────────────────────────────────────────────────────────────────────

func TestPlaceTrade(t *testing.T) {
	s := buildTestRouter(t)
	m := s.openMarket(t)
	path := "/api/markets/" + m.ID.String() + "/trades"

	rr := do(t, s.handler, http.MethodPost, path, `{"wallet":"0xAbC","side":"YES","amount":"100"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST trade = %d, body %s", rr.Code, rr.Body.String())
	}
	d := data(t, decodeBody(t, rr))
	if d["balance"] != "900" {
		t.Errorf("balance after trade = %v, want 900", d["balance"])
	}

	rr = do(t, s.handler, http.MethodGet, path, "")
	body := decodeBody(t, rr)
	if trades, _ := body["data"].([]interface{}); len(trades) != 1 {
		t.Errorf("market trades = %d, want 1", len(trades))
	}

	rr = do(t, s.handler, http.MethodGet, "/api/wallets/0xabc/positions", "")
	body = decodeBody(t, rr)
	if positions, _ := body["data"].([]interface{}); len(positions) != 1 {
		t.Errorf("positions = %d, want 1", len(positions))
	}
}

func TestPlaceTrade_Errors(t *testing.T) {
	s := buildTestRouter(t)
	m := s.openMarket(t)
	path := "/api/markets/" + m.ID.String() + "/trades"

	tests := []struct {
		name string
		body string
		code int
		err  string
	}{
		{"missing fields", `{}`, http.StatusBadRequest, "ERR_VALIDATION"},
		{"bad amount", `{"wallet":"0xa","side":"YES","amount":"lots"}`, http.StatusBadRequest, "ERR_INVALID_AMOUNT"},
		{"zero amount", `{"wallet":"0xa","side":"YES","amount":"0"}`, http.StatusBadRequest, "ERR_INVALID_AMOUNT"},
		{"wrong side", `{"wallet":"0xa","side":"A","amount":"10"}`, http.StatusBadRequest, "ERR_INVALID_SIDE"},
		{"overspend", `{"wallet":"0xa","side":"NO","amount":"5000"}`, http.StatusPaymentRequired, "ERR_INSUFFICIENT_BALANCE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, s.handler, http.MethodPost, path, tc.body)
			if rr.Code != tc.code {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tc.code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["code"] != tc.err {
				t.Errorf("code = %v, want %s", body["code"], tc.err)
			}
		})
	}
}

// ── Wallets ───────────────────────────────────────────────────────────────────

func TestWallet_CreatedOnFirstVisit(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.handler, http.MethodGet, "/api/wallets/0xNEW", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET wallet = %d, body %s", rr.Code, rr.Body.String())
	}
	d := data(t, decodeBody(t, rr))
	if d["points"] != "1000" {
		t.Errorf("starting points = %v, want 1000", d["points"])
	}
}

func TestFaucet_Cooldown(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.handler, http.MethodPost, "/api/wallets/0xdrip/faucet", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("first faucet = %d, body %s", rr.Code, rr.Body.String())
	}
	if d := data(t, decodeBody(t, rr)); d["points"] != "1100" {
		t.Errorf("points after faucet = %v, want 1100", d["points"])
	}

	rr = do(t, s.handler, http.MethodPost, "/api/wallets/0xdrip/faucet", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("second faucet = %d, want 429", rr.Code)
	}
	if code := decodeBody(t, rr)["code"]; code != "ERR_FAUCET_COOLDOWN" {
		t.Errorf("code = %v, want ERR_FAUCET_COOLDOWN", code)
	}
}

func TestWalletClaims_EmptyList(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.handler, http.MethodGet, "/api/wallets/0xa/claims", "")
	if rr.Code != http.StatusOK {
		t.Errorf("GET claims = %d", rr.Code)
	}
}

// ── Error envelope format ─────────────────────────────────────────────────────

func TestErrorEnvelope_HasRequiredFields(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.handler, http.MethodGet, "/api/markets/not-a-uuid", "")
	body := decodeBody(t, rr)

	for _, field := range []string{"success", "error", "code"} {
		if _, ok := body[field]; !ok {
			t.Errorf("error envelope missing field %q, got: %v", field, body)
		}
	}
	if body["success"] != false {
		t.Errorf("error envelope.success = %v, want false", body["success"])
	}
}

// ── CORS headers ──────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	s := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("OPTIONS /api/markets = %d, want 204", rr.Code)
	}
	allow := rr.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allow, "POST") {
		t.Errorf("Access-Control-Allow-Methods missing POST, got %q", allow)
	}
}

func TestCORSAllowOrigin_Dev(t *testing.T) {
	s := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Dev CORS origin = %q, want *", origin)
	}
}
