package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// TickOutcome describes what one lifecycle step did to a market.
type TickOutcome string

const (
	TickNoop      TickOutcome = "noop"
	TickClosed    TickOutcome = "closed"
	TickResolved  TickOutcome = "resolved"
	TickRetry     TickOutcome = "retry_scheduled"
	TickCancelled TickOutcome = "cancelled"
	TickSettled   TickOutcome = "settled"
)

// TickSummary counts the outcomes of one TickDue pass.
type TickSummary struct {
	Due      int                 `json:"due"`
	Outcomes map[TickOutcome]int `json:"outcomes"`
	Failed   int                 `json:"failed"`
}

// ResolveResult is returned by Resolve and Cancel.
type ResolveResult struct {
	Market     *domain.Market    `json:"market"`
	Settlement *SettlementReport `json:"settlement,omitempty"`
	NoOp       bool              `json:"no_op"`
}

// ──────────────────────────────────────────────────────────────────────────────
// LifecycleService
// ──────────────────────────────────────────────────────────────────────────────

// LifecycleService drives markets through OPEN → CLOSED → RESOLVED, or to
// CANCELLED, and settles them on the way.
type LifecycleService struct {
	ledger     repository.Ledger
	oracle     PriceOracle
	settlement *SettlementService
	cfg        *config.Config
	logger     *slog.Logger
	notifier   Notifier
}

// NewLifecycleService creates a LifecycleService.
func NewLifecycleService(
	ledger repository.Ledger,
	oracle PriceOracle,
	settlement *SettlementService,
	cfg *config.Config,
	logger *slog.Logger,
) *LifecycleService {
	return &LifecycleService{
		ledger:     ledger,
		oracle:     oracle,
		settlement: settlement,
		cfg:        cfg,
		logger:     loggerOrDefault(logger).With("component", "lifecycle"),
	}
}

// SetNotifier injects the realtime notifier post-construction.
func (s *LifecycleService) SetNotifier(n Notifier) { s.notifier = n }

// ──────────────────────────────────────────────────────────────────────────────
// TickDue: called by the scheduler
// ──────────────────────────────────────────────────────────────────────────────

// TickDue advances every due market by one step, processing up to
// Lifecycle.Concurrency markets at a time. A failing market is logged and
// counted; it never stops the others.
func (s *LifecycleService) TickDue(ctx context.Context, now time.Time) (*TickSummary, error) {
	due, err := s.ledger.ListDueMarkets(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("lifecycle_service.TickDue: list: %w", err)
	}
	summary := &TickSummary{Due: len(due), Outcomes: make(map[TickOutcome]int)}
	if len(due) == 0 {
		return summary, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(max(s.cfg.Lifecycle.Concurrency, 1))
	for _, m := range due {
		id := m.ID
		g.Go(func() error {
			outcome, err := s.Tick(ctx, id, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				s.logger.Error("tick failed", "market", id, "err", err)
				return nil
			}
			summary.Outcomes[outcome]++
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("lifecycle tick", "due", summary.Due, "outcomes", summary.Outcomes, "failed", summary.Failed)
	return summary, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Tick: one market, one step
// ──────────────────────────────────────────────────────────────────────────────

// Tick performs at most one lifecycle step for the market:
//   - an OPEN market past closesAt is CLOSED and nothing else happens;
//   - a CLOSED market past resolvesAt is resolved from the oracle, or has its
//     next attempt scheduled when no reading is available;
//   - a terminal market that was never settled is settled.
//
// MANUAL markets are never resolved here.
func (s *LifecycleService) Tick(ctx context.Context, marketID uuid.UUID, now time.Time) (TickOutcome, error) {
	m, err := s.ledger.GetMarket(ctx, marketID)
	if err != nil {
		return TickNoop, fmt.Errorf("lifecycle_service.Tick: %w", err)
	}

	switch {
	case m.ShouldClose(now):
		return s.close(ctx, m.ID, now)

	case m.IsTerminal() && m.SettledAt == nil:
		if _, err := s.settlement.Settle(ctx, m.ID); err != nil {
			return TickNoop, err
		}
		return TickSettled, nil

	case m.ShouldAttemptResolution(now) && m.ResolutionType != domain.ResolveManual:
		return s.attemptResolution(ctx, m, now)
	}
	return TickNoop, nil
}

func (s *LifecycleService) close(ctx context.Context, id uuid.UUID, now time.Time) (TickOutcome, error) {
	var closed *domain.Market
	err := s.ledger.InTx(ctx, func(tx repository.Tx) error {
		m, err := tx.LockMarket(ctx, id)
		if err != nil {
			return err
		}
		if !m.ShouldClose(now) {
			return nil
		}
		if err = tx.UpdateMarketStatus(ctx, id, domain.StatusOpen, domain.StatusClosed); err != nil {
			return err
		}
		m.Status = domain.StatusClosed
		closed = m
		return nil
	})
	if err != nil {
		return TickNoop, fmt.Errorf("lifecycle_service.close %s: %w", id, err)
	}
	if closed == nil {
		return TickNoop, nil
	}
	s.logger.Info("market closed", "market", id)
	notify(ctx, s.notifier, domain.NewMarketEvent(domain.EventMarketStatus, closed, now))
	return TickClosed, nil
}

// attemptResolution reads the oracle outside any transaction, then either
// resolves the market or records the miss.
func (s *LifecycleService) attemptResolution(ctx context.Context, m *domain.Market, now time.Time) (TickOutcome, error) {
	winner, value, reason, ok := s.readOracle(ctx, m)
	if !ok {
		return s.recordMiss(ctx, m, now)
	}
	res, err := s.resolve(ctx, m.ID, winner, value, reason, now)
	if err != nil {
		return TickNoop, err
	}
	if res.NoOp {
		return TickNoop, nil
	}
	return TickResolved, nil
}

// readOracle determines the winner from the market's source.
func (s *LifecycleService) readOracle(ctx context.Context, m *domain.Market) (domain.OutcomeKey, decimal.Decimal, string, bool) {
	switch m.ResolutionType {
	case domain.ResolvePriceGE:
		q, ok := s.oracle.GetPrice(ctx, m.Source.Provider, m.Source.Ref)
		if !ok {
			return "", decimal.Zero, "", false
		}
		winner := domain.OutcomeNo
		if q.PriceUSD.GreaterThanOrEqual(m.Source.Threshold) {
			winner = domain.OutcomeYes
		}
		reason := fmt.Sprintf("%s %s price %s >= %s: %t",
			m.Source.Provider, m.Source.Ref, q.PriceUSD, m.Source.Threshold, winner == domain.OutcomeYes)
		return winner, q.PriceUSD, reason, true

	case domain.ResolveRankAvsB:
		a, okA := s.oracle.GetRank(ctx, m.Source.Ref)
		b, okB := s.oracle.GetRank(ctx, m.Source.RefB)
		if !okA || !okB || a.Rank == b.Rank {
			return "", decimal.Zero, "", false
		}
		winner, value := domain.OutcomeA, a.Rank
		if b.Rank < a.Rank {
			winner, value = domain.OutcomeB, b.Rank
		}
		reason := fmt.Sprintf("market cap rank %s=#%d vs %s=#%d", m.Source.Ref, a.Rank, m.Source.RefB, b.Rank)
		return winner, decimal.NewFromInt(int64(value)), reason, true
	}
	return "", decimal.Zero, "", false
}

// recordMiss counts a failed oracle attempt. After MaxOracleFailures
// consecutive misses the market is cancelled and refunded; before that the
// next attempt is pushed back exponentially. The count is read and written
// under the market lock so overlapping ticks each add one.
func (s *LifecycleService) recordMiss(ctx context.Context, m *domain.Market, now time.Time) (TickOutcome, error) {
	var (
		outcome  = TickNoop
		failures int
		next     time.Time
		res      = &ResolveResult{}
	)
	limit := s.cfg.Lifecycle.MaxOracleFailures
	err := s.ledger.InTx(ctx, func(tx repository.Tx) error {
		cur, err := tx.LockMarket(ctx, m.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.StatusClosed {
			return nil
		}
		failures = cur.OracleFailures + 1
		if limit > 0 && failures >= limit {
			res.Market = cur
			res.Settlement, err = s.cancelTx(ctx, tx, cur, failures, now)
			if err != nil {
				return err
			}
			outcome = TickCancelled
			return nil
		}
		next = now.Add(domain.OracleBackoff(failures, s.cfg.Lifecycle.BackoffBase, s.cfg.Lifecycle.BackoffMax))
		if err = tx.RecordOracleFailure(ctx, m.ID, failures, &next); err != nil {
			return err
		}
		outcome = TickRetry
		return nil
	})
	if err != nil {
		return TickNoop, fmt.Errorf("lifecycle_service.recordMiss %s: %w", m.ID, err)
	}

	switch outcome {
	case TickCancelled:
		reason := fmt.Sprintf("%v after %d attempts", domain.ErrOracleUnavailable, failures)
		s.logger.Warn("oracle unavailable, market cancelled", "market", m.ID, "failures", failures)
		s.announceCancel(ctx, res, reason, now)
	case TickRetry:
		s.logger.Warn("oracle miss, retry scheduled", "market", m.ID, "failures", failures, "next_attempt", next)
	}
	return outcome, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Resolve / Cancel: shared by the ticker and the admin surface
// ──────────────────────────────────────────────────────────────────────────────

// Resolve records winner for the market and distributes the pool in the same
// transaction. An OPEN market past closesAt is closed first. Resolving an
// already RESOLVED market is a no-op whatever winner is named: the result
// carries the recorded resolution and nothing is paid again.
func (s *LifecycleService) Resolve(ctx context.Context, marketID uuid.UUID, winner domain.OutcomeKey, value decimal.Decimal, reason string) (*ResolveResult, error) {
	return s.resolve(ctx, marketID, winner, value, reason, time.Now().UTC())
}

func (s *LifecycleService) resolve(ctx context.Context, marketID uuid.UUID, winner domain.OutcomeKey, value decimal.Decimal, reason string, now time.Time) (*ResolveResult, error) {
	res := &ResolveResult{}
	err := s.ledger.InTx(ctx, func(tx repository.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		res.Market = m

		switch m.Status {
		case domain.StatusResolved:
			if m.Resolution != nil && m.Resolution.Winner != winner {
				s.logger.Warn("resolve ignored, market already resolved",
					"market", m.ID, "recorded", m.Resolution.Winner, "requested", winner)
			}
			res.NoOp = true
			return nil
		case domain.StatusCancelled:
			return fmt.Errorf("%w: market is CANCELLED", domain.ErrInvalidTransition)
		case domain.StatusOpen:
			if !m.ShouldClose(now) {
				return fmt.Errorf("%w: market trades until %s", domain.ErrInvalidTransition, m.ClosesAt.Format(time.RFC3339))
			}
			if err = tx.UpdateMarketStatus(ctx, m.ID, domain.StatusOpen, domain.StatusClosed); err != nil {
				return err
			}
			m.Status = domain.StatusClosed
		}
		if !m.Type.IsValidSide(winner) {
			return domain.ErrInvalidSide
		}

		resolution := domain.Resolution{Winner: winner, ValueAtResolution: value, Reason: reason, ResolvedAt: now}
		if err = tx.ResolveMarket(ctx, m.ID, resolution); err != nil {
			return err
		}
		m.Status = domain.StatusResolved
		m.Resolution = &resolution
		m.NextAttemptAt = nil

		res.Settlement, err = s.settlement.settleTx(ctx, tx, m, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle_service.Resolve %s: %w", marketID, err)
	}
	if res.NoOp {
		return res, nil
	}

	s.logger.Info("market resolved", "market", marketID, "winner", winner, "value", value.String(), "reason", reason)
	notify(ctx, s.notifier, domain.NewMarketEvent(domain.EventMarketResolved, res.Market, now))
	s.settlement.announce(ctx, res.Settlement)
	return res, nil
}

// Cancel voids an OPEN or CLOSED market and refunds every wallet's cost
// basis. Cancelling an already CANCELLED market is a no-op.
func (s *LifecycleService) Cancel(ctx context.Context, marketID uuid.UUID, reason string) (*ResolveResult, error) {
	return s.cancel(ctx, marketID, reason, time.Now().UTC())
}

func (s *LifecycleService) cancel(ctx context.Context, marketID uuid.UUID, reason string, now time.Time) (*ResolveResult, error) {
	res := &ResolveResult{}
	err := s.ledger.InTx(ctx, func(tx repository.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		res.Market = m
		if m.Status == domain.StatusCancelled {
			res.NoOp = true
			return nil
		}
		res.Settlement, err = s.cancelTx(ctx, tx, m, -1, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle_service.Cancel %s: %w", marketID, err)
	}
	if res.NoOp {
		return res, nil
	}
	s.announceCancel(ctx, res, reason, now)
	return res, nil
}

// cancelTx moves the locked market m to CANCELLED and writes the refunds.
// failures is recorded on the market when it is not negative.
func (s *LifecycleService) cancelTx(ctx context.Context, tx repository.Tx, m *domain.Market, failures int, now time.Time) (*SettlementReport, error) {
	if err := domain.CheckTransition(m.Status, domain.StatusCancelled); err != nil {
		return nil, err
	}
	if failures >= 0 {
		if err := tx.RecordOracleFailure(ctx, m.ID, failures, nil); err != nil {
			return nil, err
		}
		m.OracleFailures = failures
		m.NextAttemptAt = nil
	}
	if err := tx.UpdateMarketStatus(ctx, m.ID, m.Status, domain.StatusCancelled); err != nil {
		return nil, err
	}
	m.Status = domain.StatusCancelled
	return s.settlement.settleTx(ctx, tx, m, now)
}

func (s *LifecycleService) announceCancel(ctx context.Context, res *ResolveResult, reason string, now time.Time) {
	s.logger.Info("market cancelled", "market", res.Market.ID, "reason", reason)
	notify(ctx, s.notifier, domain.NewMarketEvent(domain.EventMarketStatus, res.Market, now))
	s.settlement.announce(ctx, res.Settlement)
}
