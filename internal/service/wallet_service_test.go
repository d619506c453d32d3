package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
)

func TestGetOrCreate_StartsWithStartingPoints(t *testing.T) {
	h := newHarness(t)
	w, err := h.wallets.GetOrCreate(context.Background(), " 0xABC ")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if w.Address != "0xabc" {
		t.Errorf("address = %q, want 0xabc", w.Address)
	}
	assertDecimal(t, "points", w.Points, pts(1000))

	writes := h.ledger.WriteCount()
	if _, err := h.wallets.GetOrCreate(context.Background(), "0xabc"); err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if h.ledger.WriteCount() != writes {
		t.Error("reading an existing wallet must not write")
	}
	if _, err := h.wallets.GetOrCreate(context.Background(), ""); !errors.Is(err, domain.ErrInvalidWallet) {
		t.Errorf("empty address: got %v, want ErrInvalidWallet", err)
	}
}

func TestClaimFaucet_Cooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w, err := h.wallets.ClaimFaucet(ctx, "0xa", now)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	assertDecimal(t, "points after first claim", w.Points, pts(1100))

	_, err = h.wallets.ClaimFaucet(ctx, "0xa", now.Add(23*time.Hour))
	if !errors.Is(err, domain.ErrFaucetCooldown) {
		t.Fatalf("claim inside cooldown: got %v, want ErrFaucetCooldown", err)
	}
	assertDecimal(t, "points after rejected claim", h.getWallet(t, "0xa").Points, pts(1100))

	w, err = h.wallets.ClaimFaucet(ctx, "0xa", now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("claim after cooldown: %v", err)
	}
	assertDecimal(t, "points after second claim", w.Points, pts(1200))
}
