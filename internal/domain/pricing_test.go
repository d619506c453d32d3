package domain_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	zero    = decimal.Zero
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

func pts(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// ── GetChance ─────────────────────────────────────────────────────────────────

func TestGetChance_EmptyMarketIsFiftyFifty(t *testing.T) {
	c := domain.GetChance(zero, zero, zero, zero, domain.MarketYesNo)
	if !c.Percentage.Equal(decimal.NewFromInt(50)) {
		t.Errorf("empty YES_NO chance = %s, want exactly 50", c.Percentage)
	}
	if c.Side != domain.OutcomeYes {
		t.Errorf("empty YES_NO side = %s, want YES", c.Side)
	}

	c = domain.GetChance(zero, zero, zero, zero, domain.MarketAvsB)
	if !c.Percentage.Equal(decimal.NewFromInt(50)) || c.Side != domain.OutcomeA {
		t.Errorf("empty A_VS_B chance = %s/%s, want 50/A", c.Percentage, c.Side)
	}
}

func TestGetChance_SmoothingFloor(t *testing.T) {
	// 100 × (100 + 1000) / (200 + 1000) = 91.666…
	c := domain.GetChance(pts(1000), zero, zero, zero, domain.MarketYesNo)
	if !c.Percentage.LessThan(hundred) {
		t.Fatalf("chance = %s, must stay strictly below 100", c.Percentage)
	}
	want := decimal.RequireFromString("91.6667")
	if c.Percentage.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(0.001)) {
		t.Errorf("chance = %s, want ~%s", c.Percentage, want)
	}

	c = domain.GetChance(zero, pts(1_000_000_000), zero, zero, domain.MarketYesNo)
	if !c.Percentage.IsPositive() {
		t.Errorf("chance = %s, must stay strictly above 0", c.Percentage)
	}
	if c.Side != domain.OutcomeNo {
		t.Errorf("side = %s, want NO", c.Side)
	}
}

func TestGetChance_MonotonicInYesStake(t *testing.T) {
	for _, no := range []int64{0, 1, 250, 10_000} {
		prev := decimal.NewFromInt(-1)
		for yes := int64(0); yes <= 5000; yes += 125 {
			c := domain.GetChance(pts(yes), pts(no), zero, zero, domain.MarketYesNo)
			if c.Percentage.LessThan(prev) {
				t.Fatalf("no=%d: chance decreased at yes=%d (%s < %s)", no, yes, c.Percentage, prev)
			}
			if !c.Percentage.IsPositive() || !c.Percentage.LessThan(hundred) {
				t.Fatalf("no=%d yes=%d: chance %s outside (0,100)", no, yes, c.Percentage)
			}
			prev = c.Percentage
		}
	}
}

func TestGetChance_AvsBUsesABStakes(t *testing.T) {
	// YES/NO stakes must be ignored for an A_VS_B market.
	c := domain.GetChance(pts(9999), zero, zero, pts(300), domain.MarketAvsB)
	if c.Side != domain.OutcomeB {
		t.Errorf("side = %s, want B", c.Side)
	}
	want := decimal.NewFromInt(20) // 100 × 100 / 500
	if !c.Percentage.Equal(want) {
		t.Errorf("chance = %s, want %s", c.Percentage, want)
	}
}

// ── ComputePrice ──────────────────────────────────────────────────────────────

func TestComputePrice_SidesSumToOne(t *testing.T) {
	stakes := []int64{0, 1, 3, 7, 100, 333, 1000, 123_457}
	for _, yes := range stakes {
		for _, no := range stakes {
			py := domain.ComputePrice(domain.OutcomeYes, pts(yes), pts(no), zero, zero, domain.MarketYesNo)
			pn := domain.ComputePrice(domain.OutcomeNo, pts(yes), pts(no), zero, zero, domain.MarketYesNo)
			if !py.Add(pn).Equal(one) {
				t.Errorf("yes=%d no=%d: %s + %s != 1", yes, no, py, pn)
			}
			if !py.IsPositive() || !py.LessThan(one) {
				t.Errorf("yes=%d no=%d: price %s outside (0,1)", yes, no, py)
			}
		}
	}
}

func TestComputePrice_MatchesChance(t *testing.T) {
	c := domain.GetChance(pts(700), pts(300), zero, zero, domain.MarketYesNo)
	p := domain.ComputePrice(domain.OutcomeYes, pts(700), pts(300), zero, zero, domain.MarketYesNo)
	if !p.Mul(hundred).Equal(c.Percentage) {
		t.Errorf("price×100 = %s, chance = %s", p.Mul(hundred), c.Percentage)
	}
}

// ── CalculateTrade ────────────────────────────────────────────────────────────

func TestCalculateTrade_BalancedMarketScenario(t *testing.T) {
	m := validPriceMarket()
	m.YesStake = pts(500)
	m.NoStake = pts(500)
	m.PoolUSD = pts(1000)

	q, err := domain.CalculateTrade(m, domain.OutcomeYes, pts(100))
	if err != nil {
		t.Fatalf("CalculateTrade: %v", err)
	}
	if !q.Price.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("price = %s, want 0.5", q.Price)
	}
	if !q.Shares.Equal(pts(200)) {
		t.Errorf("shares = %s, want 200", q.Shares)
	}
	if !q.MaxPayout.Equal(q.Shares) {
		t.Errorf("maxPayout = %s, want shares %s", q.MaxPayout, q.Shares)
	}
	if !q.MaxProfit.Equal(pts(100)) {
		t.Errorf("maxProfit = %s, want 100", q.MaxProfit)
	}
	if !q.AvgPrice.Equal(q.Price) {
		t.Errorf("avgPrice = %s, want price %s", q.AvgPrice, q.Price)
	}
	// The market itself must not move.
	if !m.YesStake.Equal(pts(500)) || !m.PoolUSD.Equal(pts(1000)) {
		t.Errorf("CalculateTrade mutated the market: yes=%s pool=%s", m.YesStake, m.PoolUSD)
	}
}

func TestCalculateTrade_Pure(t *testing.T) {
	m := validPriceMarket()
	m.YesStake = pts(137)
	m.NoStake = pts(911)

	a, errA := domain.CalculateTrade(m, domain.OutcomeNo, decimal.RequireFromString("42.5"))
	b, errB := domain.CalculateTrade(m, domain.OutcomeNo, decimal.RequireFromString("42.5"))
	if errA != nil || errB != nil {
		t.Fatalf("unexpected errors: %v / %v", errA, errB)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical inputs gave different quotes:\n%+v\n%+v", a, b)
	}
}

func TestCalculateTrade_SharesTimesPriceRoundTrips(t *testing.T) {
	m := validPriceMarket()
	m.YesStake = pts(1)
	m.NoStake = pts(2)

	amount := pts(10)
	q, err := domain.CalculateTrade(m, domain.OutcomeYes, amount)
	if err != nil {
		t.Fatalf("CalculateTrade: %v", err)
	}
	drift := q.Shares.Mul(q.Price).Sub(amount).Abs()
	if drift.GreaterThan(decimal.New(1, -12)) {
		t.Errorf("shares×price drifted from amount by %s", drift)
	}
}

func TestCalculateTrade_Rejects(t *testing.T) {
	m := validPriceMarket()
	if _, err := domain.CalculateTrade(m, domain.OutcomeYes, zero); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := domain.CalculateTrade(m, domain.OutcomeA, pts(10)); !errors.Is(err, domain.ErrInvalidSide) {
		t.Errorf("A on YES_NO: got %v, want ErrInvalidSide", err)
	}
}

// ── Positions ─────────────────────────────────────────────────────────────────

func TestFoldPositions(t *testing.T) {
	m := validPriceMarket()
	trades := []*domain.Trade{
		{MarketID: m.ID, Wallet: "0xb", Side: domain.OutcomeYes, AmountPts: pts(100), Shares: pts(200)},
		{MarketID: m.ID, Wallet: "0xa", Side: domain.OutcomeNo, AmountPts: pts(50), Shares: pts(80)},
		{MarketID: m.ID, Wallet: "0xb", Side: domain.OutcomeYes, AmountPts: pts(60), Shares: pts(100)},
	}
	ps := domain.FoldPositions(trades)
	if len(ps) != 2 {
		t.Fatalf("got %d positions, want 2", len(ps))
	}
	if ps[0].Wallet != "0xa" || ps[1].Wallet != "0xb" {
		t.Errorf("positions not sorted by wallet: %s, %s", ps[0].Wallet, ps[1].Wallet)
	}
	b := ps[1]
	if !b.Shares.Equal(pts(300)) || !b.CostBasis.Equal(pts(160)) {
		t.Errorf("0xb position = %s shares / %s cost, want 300 / 160", b.Shares, b.CostBasis)
	}
	wantAvg := decimal.RequireFromString("0.5333")
	if b.AvgPrice().Sub(wantAvg).Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Errorf("avg price = %s, want ~%s", b.AvgPrice(), wantAvg)
	}
}
