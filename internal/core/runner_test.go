package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"CreditLedger/internal/core"
	"CreditLedger/internal/event"
	fpmath "CreditLedger/internal/math"

	"github.com/rs/zerolog"
)

type memorySink struct {
	mu    sync.Mutex
	saved []*core.SnapshotState
}

func (s *memorySink) Save(_ context.Context, snap *core.SnapshotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return nil
}

func (s *memorySink) sequences() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.saved))
	for _, snap := range s.saved {
		out = append(out, snap.Sequence)
	}
	return out
}

func TestRunner_SubmitViewAndSnapshots(t *testing.T) {
	f := newFixture(t)
	sink := &memorySink{}
	runner := core.NewRunner(f.core, 16, sink, 2, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	if _, err := runner.Submit(ctx, f.marketCreated(t0)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := runner.Submit(ctx, &event.Supplied{Header: header(t0), Market: testMarket, Assets: amt(400), Shares: fpmath.Zero(), OnBehalf: f.lender})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", res.Sequence)
	}
	if _, err := runner.Submit(ctx, &event.Supplied{Header: header(t0), Market: testMarket, OnBehalf: f.lender}); err == nil {
		t.Errorf("expected rejection for a supply with no amount")
	}

	var supplied uint64
	var lastSeq int64
	err = runner.View(ctx, func(v core.View) {
		mv, ok := v.MarketView(testMarket)
		if ok {
			supplied = mv.Market.TotalSupplyAssets.Uint64()
		}
		lastSeq = v.Sequence()
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if supplied != 400 || lastSeq != 1 {
		t.Errorf("view saw supply %d at sequence %d", supplied, lastSeq)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	seqs := sink.sequences()
	if len(seqs) == 0 || seqs[len(seqs)-1] != 1 {
		t.Errorf("snapshots taken at %v, want the last at sequence 1", seqs)
	}
	if _, err := runner.Submit(context.Background(), f.marketCreated(t0)); err != core.ErrRunnerStopped {
		t.Errorf("expected ErrRunnerStopped after shutdown, got %v", err)
	}
}
