package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/repository"
	"github.com/shopspring/decimal"
)

// WalletService creates wallets on first use and runs the points faucet.
type WalletService struct {
	ledger repository.Ledger
	cfg    *config.Config
	logger *slog.Logger
}

// NewWalletService creates a WalletService.
func NewWalletService(ledger repository.Ledger, cfg *config.Config, logger *slog.Logger) *WalletService {
	return &WalletService{ledger: ledger, cfg: cfg, logger: loggerOrDefault(logger)}
}

// GetOrCreate returns the wallet for addr, creating it with the starting
// balance if it does not exist yet.
func (s *WalletService) GetOrCreate(ctx context.Context, addr string) (*domain.Wallet, error) {
	addr = domain.NormalizeAddress(addr)
	if addr == "" {
		return nil, domain.ErrInvalidWallet
	}
	w, err := s.ledger.GetWallet(ctx, addr)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, fmt.Errorf("wallet_service.GetOrCreate: %w", err)
	}

	err = s.ledger.InTx(ctx, func(tx repository.Tx) error {
		w, err = tx.EnsureWallet(ctx, addr, s.startingPoints(), time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("wallet_service.GetOrCreate: %w", err)
	}
	s.logger.Info("wallet created", "wallet", addr, "points", w.Points.String())
	return w, nil
}

// ClaimFaucet credits Wallet.FaucetAmount points once per FaucetCooldown.
func (s *WalletService) ClaimFaucet(ctx context.Context, addr string, now time.Time) (*domain.Wallet, error) {
	addr = domain.NormalizeAddress(addr)
	if addr == "" {
		return nil, domain.ErrInvalidWallet
	}
	amount := decimal.NewFromFloat(s.cfg.Wallet.FaucetAmount)
	cooldown := s.cfg.Wallet.FaucetCooldown

	var out *domain.Wallet
	err := s.ledger.InTx(ctx, func(tx repository.Tx) error {
		w, err := tx.EnsureWallet(ctx, addr, s.startingPoints(), now)
		if err != nil {
			return err
		}
		if !w.CanClaimFaucet(now, cooldown) {
			return fmt.Errorf("%w: next claim at %s", domain.ErrFaucetCooldown, w.NextFaucetAt(cooldown).Format(time.RFC3339))
		}
		if err = tx.UpdateWalletPoints(ctx, addr, amount); err != nil {
			return err
		}
		if err = tx.SetFaucetClaim(ctx, addr, now); err != nil {
			return err
		}
		out, err = tx.LockWallet(ctx, addr)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("wallet_service.ClaimFaucet: %w", err)
	}
	s.logger.Info("faucet claimed", "wallet", addr, "amount", amount.String())
	return out, nil
}

func (s *WalletService) startingPoints() decimal.Decimal {
	return decimal.NewFromFloat(s.cfg.Wallet.StartingPoints)
}
