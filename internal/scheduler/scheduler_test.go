package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/scheduler"
	"github.com/evetabi/pointsmarket/internal/service"
)

type countingTicker struct {
	calls int32
	err   error
	panic bool
}

func (c *countingTicker) TickDue(_ context.Context, _ time.Time) (*service.TickSummary, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.panic {
		panic("boom")
	}
	return &service.TickSummary{}, c.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestScheduler_RunsOnSpec(t *testing.T) {
	cfg := config.Defaults()
	cfg.Lifecycle.TickSpec = "* * * * * *" // every second
	ticker := &countingTicker{}
	s := scheduler.NewScheduler(ticker, cfg, quietLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&ticker.calls) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("lifecycle job never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	cfg := config.Defaults()
	cfg.Lifecycle.TickSpec = "every now and then"
	s := scheduler.NewScheduler(&countingTicker{}, cfg, quietLogger())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid spec")
	}
}

func TestRunOnce_SurvivesErrorsAndPanics(t *testing.T) {
	cfg := config.Defaults()
	for _, tk := range []*countingTicker{{err: errors.New("ledger down")}, {panic: true}} {
		s := scheduler.NewScheduler(tk, cfg, quietLogger())
		s.RunOnce(context.Background())
		if tk.calls != 1 {
			t.Errorf("calls = %d, want 1", tk.calls)
		}
	}
}

func TestRunOnce_SkipsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tk := &countingTicker{}
	scheduler.NewScheduler(tk, config.Defaults(), quietLogger()).RunOnce(ctx)
	if tk.calls != 0 {
		t.Error("a cancelled context must skip the pass")
	}
}
