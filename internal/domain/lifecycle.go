package domain

import (
	"fmt"
	"math"
	"time"
)

// transitions lists every permitted status change. RESOLVED and CANCELLED
// have no outgoing edges.
var transitions = map[MarketStatus][]MarketStatus{
	StatusOpen:   {StatusClosed, StatusCancelled},
	StatusClosed: {StatusResolved, StatusCancelled},
}

// CanTransition reports whether a market may move from one status to another.
func CanTransition(from, to MarketStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when from→to is not allowed.
func CheckTransition(from, to MarketStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ShouldClose returns true when an OPEN market has reached its closing time.
func (m *Market) ShouldClose(now time.Time) bool {
	return m.Status == StatusOpen && !now.Before(m.ClosesAt)
}

// ShouldAttemptResolution returns true when a CLOSED market is past its
// resolution time and any oracle backoff has elapsed.
func (m *Market) ShouldAttemptResolution(now time.Time) bool {
	if m.Status != StatusClosed || now.Before(m.ResolvesAt) {
		return false
	}
	return m.NextAttemptAt == nil || !now.Before(*m.NextAttemptAt)
}

// OracleBackoff returns the delay before the next oracle attempt after the
// given number of consecutive failures: base·2^(failures−1), capped at ceiling.
// Without a ceiling the delay saturates at the largest time.Duration.
func OracleBackoff(failures int, base, ceiling time.Duration) time.Duration {
	if failures < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}
