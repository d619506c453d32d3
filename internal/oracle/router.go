package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type priceFetcher interface {
	FetchPrice(ctx context.Context, ref domain.OracleRef) (decimal.Decimal, error)
}

type rankFetcher interface {
	FetchRank(ctx context.Context, ref domain.OracleRef) (int, error)
}

// ProviderStatus is the health snapshot of one provider.
type ProviderStatus struct {
	Healthy     bool       `json:"healthy"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type providerHealth struct {
	lastSuccess time.Time
	lastFailure time.Time
	lastErr     string
}

// Router dispatches lookups to the configured provider, collapses concurrent
// identical lookups into one request and caches readings for cfg.CacheTTL.
type Router struct {
	prices map[domain.OracleProvider]priceFetcher
	ranks  rankFetcher
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time

	statusMu sync.RWMutex
	health   map[domain.OracleProvider]*providerHealth
}

// NewRouter builds a Router over DexScreener and CoinGecko. cache may be nil,
// in which case a MemoryCache is used.
func NewRouter(cfg config.OracleConfig, cache Cache, logger *slog.Logger) *Router {
	client := &http.Client{Timeout: cfg.FetchTimeout}
	gecko := NewCoinGecko(cfg.CoinGeckoURL, cfg.CoinGeckoKey, client)
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		prices: map[domain.OracleProvider]priceFetcher{
			domain.ProviderDexScreener: NewDexScreener(cfg.DexScreenerURL, client),
			domain.ProviderCoinGecko:   gecko,
		},
		ranks:  gecko,
		cache:  cache,
		ttl:    cfg.CacheTTL,
		logger: logger.With("component", "oracle"),
		now:    time.Now,
		health: map[domain.OracleProvider]*providerHealth{
			domain.ProviderDexScreener: {},
			domain.ProviderCoinGecko:   {},
		},
	}
}

// GetPrice returns the USD price for ref from provider. The boolean is false
// when no reading could be obtained; the cause is logged, never returned.
func (r *Router) GetPrice(ctx context.Context, provider domain.OracleProvider, ref domain.OracleRef) (domain.PriceQuote, bool) {
	fetcher, ok := r.prices[provider]
	if !ok {
		r.logger.Warn("unknown oracle provider", "provider", provider, "ref", ref.String())
		return domain.PriceQuote{}, false
	}
	key := fmt.Sprintf("price:%s:%s", provider, ref)
	reading, err := r.lookup(ctx, provider, key, func(ctx context.Context) (decimal.Decimal, error) {
		return fetcher.FetchPrice(ctx, ref)
	})
	if err != nil {
		r.logger.Warn("price lookup failed", "provider", provider, "ref", ref.String(), "err", err)
		return domain.PriceQuote{}, false
	}
	return domain.PriceQuote{Provider: provider, Ref: ref, PriceUSD: reading.Value, Ts: reading.Ts}, true
}

// GetRank returns the market-cap rank for ref (CoinGecko).
func (r *Router) GetRank(ctx context.Context, ref domain.OracleRef) (domain.RankQuote, bool) {
	key := fmt.Sprintf("rank:%s", ref)
	reading, err := r.lookup(ctx, domain.ProviderCoinGecko, key, func(ctx context.Context) (decimal.Decimal, error) {
		rank, err := r.ranks.FetchRank(ctx, ref)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromInt(int64(rank)), nil
	})
	if err != nil {
		r.logger.Warn("rank lookup failed", "ref", ref.String(), "err", err)
		return domain.RankQuote{}, false
	}
	return domain.RankQuote{Ref: ref, Rank: int(reading.Value.IntPart()), Ts: reading.Ts}, true
}

// lookup serves key from the cache, or fetches it once for all concurrent
// callers and stores the result.
func (r *Router) lookup(
	ctx context.Context,
	provider domain.OracleProvider,
	key string,
	fetch func(context.Context) (decimal.Decimal, error),
) (Reading, error) {
	cached, err := r.cache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.logger.Debug("oracle cache read failed", "key", key, "err", err)
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		value, err := fetch(ctx)
		if err != nil {
			r.markFailure(provider, err)
			return nil, err
		}
		reading := Reading{Value: value, Ts: r.now().UTC()}
		r.markSuccess(provider, reading.Ts)
		if r.ttl > 0 {
			if cerr := r.cache.Set(ctx, key, reading, r.ttl); cerr != nil {
				r.logger.Debug("oracle cache write failed", "key", key, "err", cerr)
			}
		}
		return reading, nil
	})
	if err != nil {
		return Reading{}, err
	}
	return v.(Reading), nil
}

func (r *Router) markSuccess(p domain.OracleProvider, ts time.Time) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	h := r.healthFor(p)
	h.lastSuccess = ts
	h.lastErr = ""
}

func (r *Router) markFailure(p domain.OracleProvider, err error) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	h := r.healthFor(p)
	h.lastFailure = r.now().UTC()
	h.lastErr = err.Error()
}

func (r *Router) healthFor(p domain.OracleProvider) *providerHealth {
	h, ok := r.health[p]
	if !ok {
		h = &providerHealth{}
		r.health[p] = h
	}
	return h
}

// ProviderStatus reports, per provider, whether the most recent request
// succeeded. Used by the back-office dashboard.
func (r *Router) ProviderStatus() map[domain.OracleProvider]ProviderStatus {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()

	out := make(map[domain.OracleProvider]ProviderStatus, len(r.health))
	for p, h := range r.health {
		s := ProviderStatus{LastError: h.lastErr}
		if !h.lastSuccess.IsZero() {
			t := h.lastSuccess
			s.LastSuccess = &t
		}
		if !h.lastFailure.IsZero() {
			t := h.lastFailure
			s.LastFailure = &t
		}
		s.Healthy = !h.lastSuccess.IsZero() && h.lastSuccess.After(h.lastFailure)
		out[p] = s
	}
	return out
}
