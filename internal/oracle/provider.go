// Package oracle fetches USD prices and market-cap ranks from public price
// feeds. Readings never surface an error to callers: a failed lookup is
// reported as a miss and logged.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/shopspring/decimal"
)

const userAgent = "pointsmarket-oracle/1.0"

// ──────────────────────────────────────────────────────────────────────────────
// DexScreener
// ──────────────────────────────────────────────────────────────────────────────

// DexScreener reads pair prices from the DexScreener REST API.
type DexScreener struct {
	baseURL string
	client  *http.Client
}

// NewDexScreener returns a DexScreener client rooted at baseURL.
func NewDexScreener(baseURL string, client *http.Client) *DexScreener {
	return &DexScreener{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// FetchPrice returns the USD price of the first pair in the response.
//
//	GET /latest/dex/pairs/{chain}/{pairAddress}
//	{"pairs":[{"priceUsd":"1.2345",...}]}
func (d *DexScreener) FetchPrice(ctx context.Context, ref domain.OracleRef) (decimal.Decimal, error) {
	if ref.PairAddress == "" {
		return decimal.Zero, fmt.Errorf("dexscreener: pair address is required")
	}
	chain := ref.Chain
	if chain == "" {
		chain = "ethereum"
	}
	u := fmt.Sprintf("%s/latest/dex/pairs/%s/%s", d.baseURL, url.PathEscape(chain), url.PathEscape(ref.PairAddress))
	body, err := doGet(ctx, d.client, u, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("dexscreener: %w", err)
	}

	var resp struct {
		Pairs []struct {
			PriceUsd string `json:"priceUsd"`
		} `json:"pairs"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("dexscreener parse: %w", err)
	}
	if len(resp.Pairs) == 0 || resp.Pairs[0].PriceUsd == "" {
		return decimal.Zero, fmt.Errorf("dexscreener: no pair data")
	}
	price, err := decimal.NewFromString(resp.Pairs[0].PriceUsd)
	if err != nil {
		return decimal.Zero, fmt.Errorf("dexscreener decimal: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("dexscreener: non-positive price %s", price)
	}
	return price, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// CoinGecko
// ──────────────────────────────────────────────────────────────────────────────

// CoinGecko reads spot prices and market-cap ranks from the CoinGecko API.
type CoinGecko struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCoinGecko returns a CoinGecko client. apiKey may be empty.
func NewCoinGecko(baseURL, apiKey string, client *http.Client) *CoinGecko {
	return &CoinGecko{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

type coinGeckoMarket struct {
	ID            string          `json:"id"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketCapRank *int            `json:"market_cap_rank"`
}

// coin fetches the markets row for one coin id.
//
//	GET /api/v3/coins/markets?vs_currency=usd&ids={baseId}
//	[{"id":"solana","current_price":142.1,"market_cap_rank":5,...}]
func (c *CoinGecko) coin(ctx context.Context, id string) (*coinGeckoMarket, error) {
	if id == "" {
		return nil, fmt.Errorf("coingecko: coin id is required")
	}
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("ids", id)
	u := c.baseURL + "/api/v3/coins/markets?" + q.Encode()

	var headers map[string]string
	if c.apiKey != "" {
		headers = map[string]string{"x-cg-demo-api-key": c.apiKey}
	}
	body, err := doGet(ctx, c.client, u, headers)
	if err != nil {
		return nil, fmt.Errorf("coingecko: %w", err)
	}

	var rows []coinGeckoMarket
	if err = json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("coingecko parse: %w", err)
	}
	for i := range rows {
		if rows[i].ID == id {
			return &rows[i], nil
		}
	}
	return nil, fmt.Errorf("coingecko: coin %q not in response", id)
}

// FetchPrice returns the USD price of ref.BaseID.
func (c *CoinGecko) FetchPrice(ctx context.Context, ref domain.OracleRef) (decimal.Decimal, error) {
	row, err := c.coin(ctx, ref.BaseID)
	if err != nil {
		return decimal.Zero, err
	}
	if !row.CurrentPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("coingecko: non-positive price for %s", ref.BaseID)
	}
	return row.CurrentPrice, nil
}

// FetchRank returns the market-cap rank of ref.BaseID (1 = largest).
func (c *CoinGecko) FetchRank(ctx context.Context, ref domain.OracleRef) (int, error) {
	row, err := c.coin(ctx, ref.BaseID)
	if err != nil {
		return 0, err
	}
	if row.MarketCapRank == nil || *row.MarketCapRank < 1 {
		return 0, fmt.Errorf("coingecko: no market cap rank for %s", ref.BaseID)
	}
	return *row.MarketCapRank, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP helper
// ──────────────────────────────────────────────────────────────────────────────

// doGet performs an HTTP GET with client and returns the body bytes, or an
// error for any non-200 status code.
func doGet(ctx context.Context, client *http.Client, u string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
