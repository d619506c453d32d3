package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-process Ledger. Transactions are serialised by a
// single mutex and rolled back with an undo log, so a failed unit of work
// leaves no trace.
type MemoryLedger struct {
	mu      sync.RWMutex
	markets map[uuid.UUID]*domain.Market
	wallets map[string]*domain.Wallet
	trades  []*domain.Trade
	claims  []*domain.ClaimRecord
	claimIx map[claimKey]struct{}

	writes int
	faults map[string]error
}

type claimKey struct {
	marketID uuid.UUID
	wallet   string
	kind     domain.ClaimKind
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		markets: make(map[uuid.UUID]*domain.Market),
		wallets: make(map[string]*domain.Wallet),
		claimIx: make(map[claimKey]struct{}),
		faults:  make(map[string]error),
	}
}

// WriteCount returns how many Tx write calls have been made, including ones
// that were later rolled back.
func (l *MemoryLedger) WriteCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.writes
}

// FailOn makes the next call to the named Tx method (e.g. "CreateTrade")
// return err. Used to exercise rollback paths.
func (l *MemoryLedger) FailOn(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = err
}

// InTx runs fn under the ledger's write lock. When fn returns an error or
// panics, every write it made is undone before the lock is released.
func (l *MemoryLedger) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &memTx{l: l}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (l *MemoryLedger) GetMarket(_ context.Context, id uuid.UUID) (*domain.Market, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.markets[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return cloneMarket(m), nil
}

func (l *MemoryLedger) ListMarkets(_ context.Context, f MarketFilter) ([]*domain.Market, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var all []*domain.Market
	for _, m := range l.markets {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	page := paginate(all, f.Limit, f.Offset)
	out := make([]*domain.Market, 0, len(page))
	for _, m := range page {
		out = append(out, cloneMarket(m))
	}
	return out, total, nil
}

func (l *MemoryLedger) ListDueMarkets(_ context.Context, now time.Time) ([]*domain.Market, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*domain.Market
	for _, m := range l.markets {
		if isDue(m, now) {
			out = append(out, cloneMarket(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosesAt.Before(out[j].ClosesAt) })
	return out, nil
}

func isDue(m *domain.Market, now time.Time) bool {
	switch m.Status {
	case domain.StatusOpen:
		return m.ShouldClose(now)
	case domain.StatusClosed:
		return m.ResolutionType != domain.ResolveManual && m.ShouldAttemptResolution(now)
	default:
		return m.SettledAt == nil
	}
}

func (l *MemoryLedger) ListTradesForMarket(_ context.Context, marketID uuid.UUID) ([]*domain.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tradesForMarket(marketID), nil
}

func (l *MemoryLedger) tradesForMarket(marketID uuid.UUID) []*domain.Trade {
	var out []*domain.Trade
	for _, t := range l.trades {
		if t.MarketID == marketID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

func (l *MemoryLedger) ListTradesForWallet(_ context.Context, addr string, limit, offset int) ([]*domain.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var all []*domain.Trade
	for i := len(l.trades) - 1; i >= 0; i-- {
		if l.trades[i].Wallet == addr {
			cp := *l.trades[i]
			all = append(all, &cp)
		}
	}
	return paginate(all, limit, offset), nil
}

func (l *MemoryLedger) GetWallet(_ context.Context, addr string) (*domain.Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.wallets[addr]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return cloneWallet(w), nil
}

func (l *MemoryLedger) ListClaims(_ context.Context, f ClaimFilter) ([]*domain.ClaimRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var all []*domain.ClaimRecord
	for i := len(l.claims) - 1; i >= 0; i-- {
		c := l.claims[i]
		if f.MarketID != uuid.Nil && c.MarketID != f.MarketID {
			continue
		}
		if f.Wallet != "" && c.Wallet != f.Wallet {
			continue
		}
		if f.Kind != "" && c.Kind != f.Kind {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	return paginate(all, f.Limit, f.Offset), nil
}

func (l *MemoryLedger) Stats(_ context.Context) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := &Stats{
		MarketsByStatus: make(map[domain.MarketStatus]int),
		Wallets:         len(l.wallets),
		Trades:          len(l.trades),
		VolumePts:       decimal.Zero,
		PaidOutPts:      decimal.Zero,
		RefundedPts:     decimal.Zero,
		PointsInWallets: decimal.Zero,
	}
	for _, m := range l.markets {
		s.MarketsByStatus[m.Status]++
	}
	for _, t := range l.trades {
		s.VolumePts = s.VolumePts.Add(t.AmountPts)
	}
	for _, c := range l.claims {
		if c.Kind == domain.ClaimRefund {
			s.RefundedPts = s.RefundedPts.Add(c.Amount)
		} else {
			s.PaidOutPts = s.PaidOutPts.Add(c.Amount)
		}
	}
	for _, w := range l.wallets {
		s.PointsInWallets = s.PointsInWallets.Add(w.Points)
	}
	return s, nil
}

// ── Transaction ───────────────────────────────────────────────────────────────

type memTx struct {
	l    *MemoryLedger
	undo []func()
}

// write counts the call and returns an injected fault, if any.
func (tx *memTx) write(op string) error {
	tx.l.writes++
	if err, ok := tx.l.faults[op]; ok {
		delete(tx.l.faults, op)
		return fmt.Errorf("memory.%s: %w", op, err)
	}
	return nil
}

func (tx *memTx) market(id uuid.UUID) (*domain.Market, error) {
	m, ok := tx.l.markets[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return m, nil
}

func (tx *memTx) wallet(addr string) (*domain.Wallet, error) {
	w, ok := tx.l.wallets[addr]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return w, nil
}

// snapshotMarket records the market's current state for rollback.
func (tx *memTx) snapshotMarket(m *domain.Market) {
	prev := *cloneMarket(m)
	tx.undo = append(tx.undo, func() { *m = prev })
}

func (tx *memTx) snapshotWallet(w *domain.Wallet) {
	prev := *cloneWallet(w)
	tx.undo = append(tx.undo, func() { *w = prev })
}

func (tx *memTx) CreateMarket(_ context.Context, m *domain.Market) error {
	if err := tx.write("CreateMarket"); err != nil {
		return err
	}
	if _, exists := tx.l.markets[m.ID]; exists {
		return fmt.Errorf("memory.CreateMarket: %w: duplicate id %s", domain.ErrLedgerWrite, m.ID)
	}
	tx.l.markets[m.ID] = cloneMarket(m)
	id := m.ID
	tx.undo = append(tx.undo, func() { delete(tx.l.markets, id) })
	return nil
}

func (tx *memTx) LockMarket(_ context.Context, id uuid.UUID) (*domain.Market, error) {
	m, err := tx.market(id)
	if err != nil {
		return nil, err
	}
	return cloneMarket(m), nil
}

func (tx *memTx) UpdateMarketStakes(_ context.Context, id uuid.UUID, side domain.OutcomeKey, delta decimal.Decimal) error {
	if err := tx.write("UpdateMarketStakes"); err != nil {
		return err
	}
	m, err := tx.market(id)
	if err != nil {
		return err
	}
	if !m.Type.IsValidSide(side) {
		return domain.ErrInvalidSide
	}
	tx.snapshotMarket(m)
	m.AddStake(side, delta)
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) UpdateMarketStatus(_ context.Context, id uuid.UUID, from, to domain.MarketStatus) error {
	if err := tx.write("UpdateMarketStatus"); err != nil {
		return err
	}
	m, err := tx.market(id)
	if err != nil {
		return err
	}
	if m.Status != from {
		return fmt.Errorf("%w: market is %s, expected %s", domain.ErrInvalidTransition, m.Status, from)
	}
	if err := domain.CheckTransition(from, to); err != nil {
		return err
	}
	tx.snapshotMarket(m)
	m.Status = to
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) ResolveMarket(_ context.Context, id uuid.UUID, res domain.Resolution) error {
	if err := tx.write("ResolveMarket"); err != nil {
		return err
	}
	m, err := tx.market(id)
	if err != nil {
		return err
	}
	if err := domain.CheckTransition(m.Status, domain.StatusResolved); err != nil {
		return err
	}
	tx.snapshotMarket(m)
	r := res
	m.Status = domain.StatusResolved
	m.Resolution = &r
	m.NextAttemptAt = nil
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) RecordOracleFailure(_ context.Context, id uuid.UUID, failures int, nextAttemptAt *time.Time) error {
	if err := tx.write("RecordOracleFailure"); err != nil {
		return err
	}
	m, err := tx.market(id)
	if err != nil {
		return err
	}
	tx.snapshotMarket(m)
	m.OracleFailures = failures
	m.NextAttemptAt = copyTime(nextAttemptAt)
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) MarkSettled(_ context.Context, id uuid.UUID, ts time.Time) error {
	if err := tx.write("MarkSettled"); err != nil {
		return err
	}
	m, err := tx.market(id)
	if err != nil {
		return err
	}
	tx.snapshotMarket(m)
	m.SettledAt = &ts
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) EnsureWallet(_ context.Context, addr string, startingPoints decimal.Decimal, now time.Time) (*domain.Wallet, error) {
	if w, ok := tx.l.wallets[addr]; ok {
		return cloneWallet(w), nil
	}
	if err := tx.write("EnsureWallet"); err != nil {
		return nil, err
	}
	w := &domain.Wallet{
		Address:     addr,
		Points:      startingPoints,
		PnLRealized: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx.l.wallets[addr] = w
	tx.undo = append(tx.undo, func() { delete(tx.l.wallets, addr) })
	return cloneWallet(w), nil
}

func (tx *memTx) LockWallet(_ context.Context, addr string) (*domain.Wallet, error) {
	w, err := tx.wallet(addr)
	if err != nil {
		return nil, err
	}
	return cloneWallet(w), nil
}

func (tx *memTx) UpdateWalletPoints(_ context.Context, addr string, delta decimal.Decimal) error {
	if err := tx.write("UpdateWalletPoints"); err != nil {
		return err
	}
	w, err := tx.wallet(addr)
	if err != nil {
		return err
	}
	next := w.Points.Add(delta)
	if next.IsNegative() {
		return domain.ErrInsufficientBalance
	}
	tx.snapshotWallet(w)
	w.Points = next
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) UpdateWalletPnL(_ context.Context, addr string, delta decimal.Decimal) error {
	if err := tx.write("UpdateWalletPnL"); err != nil {
		return err
	}
	w, err := tx.wallet(addr)
	if err != nil {
		return err
	}
	tx.snapshotWallet(w)
	w.PnLRealized = w.PnLRealized.Add(delta)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) SetFaucetClaim(_ context.Context, addr string, ts time.Time) error {
	if err := tx.write("SetFaucetClaim"); err != nil {
		return err
	}
	w, err := tx.wallet(addr)
	if err != nil {
		return err
	}
	tx.snapshotWallet(w)
	w.LastFaucetClaim = &ts
	w.UpdatedAt = ts
	return nil
}

func (tx *memTx) CreateTrade(_ context.Context, t *domain.Trade) error {
	if err := tx.write("CreateTrade"); err != nil {
		return err
	}
	cp := *t
	tx.l.trades = append(tx.l.trades, &cp)
	n := len(tx.l.trades) - 1
	tx.undo = append(tx.undo, func() { tx.l.trades = tx.l.trades[:n] })
	return nil
}

func (tx *memTx) ListTradesForMarket(_ context.Context, marketID uuid.UUID) ([]*domain.Trade, error) {
	return tx.l.tradesForMarket(marketID), nil
}

func (tx *memTx) CreateClaim(_ context.Context, c *domain.ClaimRecord) (bool, error) {
	if err := tx.write("CreateClaim"); err != nil {
		return false, err
	}
	k := claimKey{marketID: c.MarketID, wallet: c.Wallet, kind: c.Kind}
	if _, exists := tx.l.claimIx[k]; exists {
		return false, nil
	}
	cp := *c
	tx.l.claims = append(tx.l.claims, &cp)
	tx.l.claimIx[k] = struct{}{}
	n := len(tx.l.claims) - 1
	tx.undo = append(tx.undo, func() {
		tx.l.claims = tx.l.claims[:n]
		delete(tx.l.claimIx, k)
	})
	return true, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func cloneMarket(m *domain.Market) *domain.Market {
	cp := *m
	if m.Resolution != nil {
		r := *m.Resolution
		cp.Resolution = &r
	}
	cp.NextAttemptAt = copyTime(m.NextAttemptAt)
	cp.SettledAt = copyTime(m.SettledAt)
	return &cp
}

func cloneWallet(w *domain.Wallet) *domain.Wallet {
	cp := *w
	cp.LastFaucetClaim = copyTime(w.LastFaucetClaim)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func paginate[T any](items []T, limit, offset int) []T {
	limit = normalizeLimit(limit)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

var _ Ledger = (*MemoryLedger)(nil)
