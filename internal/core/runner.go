package core

import (
	"context"
	"errors"
	"time"

	"CreditLedger/internal/event"
	"CreditLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrRunnerStopped = errors.New("core runner stopped")

// Submission is one command handed to the core goroutine.
type Submission struct {
	Event    event.Event
	Received time.Time
	Reply    chan<- Reply // optional, must be buffered
}

type Reply struct {
	Result Result
	Err    error
}

// SnapshotSink stores snapshots taken by the runner.
type SnapshotSink interface {
	Save(ctx context.Context, snap *SnapshotState) error
}

// View is the read access granted to a View callback. It is only valid
// inside the callback and must not be mutated.
type View interface {
	MarketIDs() []string
	MarketView(marketID string) (MarketView, bool)
	AccountView(marketID string, account uuid.UUID) (AccountView, bool)
	Sequence() int64
	StateHash() [32]byte
	Now() int64
	InsuranceFunds() []FundSnapshot
}

type viewRequest struct {
	fn   func(View)
	done chan struct{}
}

// Runner owns the DeterministicCore and is the only goroutine that touches it.
// Commands arrive on the input channel, reads on the view channel, and
// snapshots are captured between events so they are always consistent.
type Runner struct {
	core     *DeterministicCore
	input    chan Submission
	views    chan viewRequest
	sink     SnapshotSink
	interval int64
	metrics  *observability.Metrics
	logger   zerolog.Logger

	lastSnapshot int64
	pending      chan *SnapshotState
	stopped      chan struct{}
}

func NewRunner(core *DeterministicCore, queueSize int, sink SnapshotSink, snapshotInterval int64, metrics *observability.Metrics, logger zerolog.Logger) *Runner {
	return &Runner{
		core:         core,
		input:        make(chan Submission, queueSize),
		views:        make(chan viewRequest),
		sink:         sink,
		interval:     snapshotInterval,
		metrics:      metrics,
		logger:       logger,
		lastSnapshot: core.GetSequence() - 1,
		pending:      make(chan *SnapshotState, 1),
		stopped:      make(chan struct{}),
	}
}

// Submit enqueues a command and waits for its result.
func (r *Runner) Submit(ctx context.Context, evt event.Event) (Result, error) {
	reply := make(chan Reply, 1)
	sub := Submission{Event: evt, Received: time.Now(), Reply: reply}
	select {
	case r.input <- sub:
	case <-r.stopped:
		return Result{}, ErrRunnerStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case rep := <-reply:
		return rep.Result, rep.Err
	case <-r.stopped:
		return Result{}, ErrRunnerStopped
	case <-ctx.Done():
		// The command may still be applied; its idempotency key makes a retry safe.
		return Result{}, ctx.Err()
	}
}

// Enqueue hands a command to the core without waiting. The reply, if any,
// arrives on sub.Reply.
func (r *Runner) Enqueue(ctx context.Context, sub Submission) error {
	if sub.Received.IsZero() {
		sub.Received = time.Now()
	}
	select {
	case r.input <- sub:
		return nil
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View runs fn on the core goroutine between two events.
func (r *Runner) View(ctx context.Context, fn func(View)) error {
	req := viewRequest{fn: fn, done: make(chan struct{})}
	select {
	case r.views <- req:
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-r.stopped:
		return ErrRunnerStopped
	}
}

// QueueDepth reports queued commands, for channel metrics.
func (r *Runner) QueueDepth() (size, capacity int) {
	return len(r.input), cap(r.input)
}

// Run processes commands until ctx is cancelled. A final snapshot is taken on
// the way out.
func (r *Runner) Run(ctx context.Context) error {
	saverDone := make(chan struct{})
	go r.saveLoop(saverDone)
	defer func() {
		close(r.stopped)
		close(r.pending)
		<-saverDone
	}()

	for {
		select {
		case <-ctx.Done():
			r.finalSnapshot()
			return nil
		case sub := <-r.input:
			r.apply(sub)
		case req := <-r.views:
			req.fn(coreView{r.core})
			close(req.done)
		}
	}
}

func (r *Runner) apply(sub Submission) {
	eventType := sub.Event.EventType().String()
	res, err := r.core.ProcessEvent(sub.Event)
	if r.metrics != nil && !sub.Received.IsZero() {
		r.metrics.IngestToApply.WithLabelValues(eventType).Observe(time.Since(sub.Received).Seconds())
	}
	if err != nil {
		r.logger.Debug().Err(err).
			Str("event_type", eventType).
			Str("idempotency_key", sub.Event.IdempotencyKey()).
			Msg("command rejected")
	}
	if sub.Reply != nil {
		select {
		case sub.Reply <- Reply{Result: res, Err: err}:
		default:
			r.logger.Warn().Str("idempotency_key", sub.Event.IdempotencyKey()).Msg("reply channel full, dropping reply")
		}
	}
	if err == nil && !res.Duplicate {
		r.maybeSnapshot()
	}
}

func (r *Runner) maybeSnapshot() {
	if r.sink == nil || r.interval <= 0 {
		return
	}
	last := r.core.GetSequence() - 1
	if last-r.lastSnapshot < r.interval {
		return
	}
	snap := r.core.CreateSnapshotState()
	select {
	case r.pending <- snap:
		r.lastSnapshot = last
	default:
		// Previous snapshot still being written; retry after the next event.
	}
}

func (r *Runner) finalSnapshot() {
	if r.sink == nil {
		return
	}
	last := r.core.GetSequence() - 1
	if last < 0 || last == r.lastSnapshot {
		return
	}
	snap := r.core.CreateSnapshotState()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.sink.Save(ctx, snap); err != nil {
		r.logger.Error().Err(err).Int64("sequence", snap.Sequence).Msg("final snapshot failed")
		return
	}
	r.lastSnapshot = last
	r.logger.Info().Int64("sequence", snap.Sequence).Msg("final snapshot taken")
}

func (r *Runner) saveLoop(done chan<- struct{}) {
	defer close(done)
	for snap := range r.pending {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.sink.Save(ctx, snap); err != nil {
			r.logger.Error().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot failed")
		} else {
			r.logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot taken")
		}
		cancel()
	}
}

type coreView struct {
	c *DeterministicCore
}

func (v coreView) MarketIDs() []string { return v.c.ledger.MarketIDs() }
func (v coreView) MarketView(marketID string) (MarketView, bool) { return v.c.MarketView(marketID) }
func (v coreView) AccountView(marketID string, account uuid.UUID) (AccountView, bool) {
	return v.c.AccountView(marketID, account)
}
func (v coreView) Sequence() int64     { return v.c.GetSequence() - 1 }
func (v coreView) StateHash() [32]byte { return v.c.GetStateHash() }
func (v coreView) Now() int64          { return v.c.Now() }

func (v coreView) InsuranceFunds() []FundSnapshot {
	funds := v.c.creditLine.Funds()
	out := make([]FundSnapshot, 0, len(funds))
	for _, f := range funds {
		out = append(out, FundSnapshot{Asset: f.Asset, Balance: f.Balance.Dec()})
	}
	return out
}
