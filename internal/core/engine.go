package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"CreditLedger/internal/config"
	"CreditLedger/internal/credit"
	"CreditLedger/internal/creditline"
	"CreditLedger/internal/event"
	"CreditLedger/internal/ledger"
	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// globalCheckInterval is how often (in events) the zero-sum check runs over
// every account.
const globalCheckInterval = 1024

// rawUnits converts base-unit amounts to floats for gauges.
var rawUnits = fpmath.DecimalConfig{Scale: 1}

// eventClock is the ledger clock. It only moves when an event is applied, so
// replaying the log reproduces every time-dependent computation.
type eventClock struct {
	now int64
}

func (c *eventClock) Now() int64 { return c.now }

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	clock             *eventClock
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	ledger            *credit.Ledger
	creditLine        *creditline.CreditLine
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one applied event.
type CoreOutput struct {
	Envelope  *event.EventEnvelope
	Event     event.Event
	Batch     *ledger.Batch
	Result    Result
	Delta     StateDelta
	AppliedAt time.Time // wall clock, latency metrics only

	// Rejection is set, and every other field left empty, when a sequenced
	// command was refused. Only the persist channel receives these.
	Rejection *Rejection
}

// Rejection records a sequenced command the core refused. A refusal is final,
// so its source sequence is consumed like an applied one.
type Rejection struct {
	Partition      string
	SourceSequence int64
	EventType      string
	IdempotencyKey string
	Reason         string
	RejectedAt     time.Time
}

// Result is the outcome returned to the submitter of a command.
type Result struct {
	Sequence   int64 // global sequence, -1 for a skipped duplicate
	Duplicate  bool
	Assets     *uint256.Int
	Shares     *uint256.Int
	CycleID    uint64
	Settlement *creditline.SettlementResult
}

// Options configures a DeterministicCore.
type Options struct {
	StartSequence  int64
	Protocol       *config.Protocol
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
	DBChecker      DBIdempotencyChecker
	LRUCapacity    int
	Metrics        *observability.Metrics
	Logger         zerolog.Logger
}

func NewDeterministicCore(opts Options) (*DeterministicCore, error) {
	if opts.Protocol == nil {
		return nil, errors.New("protocol config required")
	}
	protocolConfig, err := opts.Protocol.ProtocolConfig()
	if err != nil {
		return nil, err
	}
	clock := &eventClock{}
	l := credit.NewLedger(opts.Protocol.Owner, clock, protocolConfig)
	opts.Protocol.Register(l)
	if opts.Protocol.FeeRecipient != opts.Protocol.Owner {
		if err := l.SetFeeRecipient(opts.Protocol.Owner, opts.Protocol.FeeRecipient); err != nil {
			return nil, fmt.Errorf("set fee recipient: %w", err)
		}
	}
	if opts.LRUCapacity <= 0 {
		opts.LRUCapacity = 1_000_000
	}

	balanceTracker := ledger.NewBalanceTracker()
	return &DeterministicCore{
		sequence:          opts.StartSequence,
		clock:             clock,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		ledger:            l,
		creditLine:        creditline.New(l, protocolConfig),
		idempotency:       NewIdempotencyChecker(opts.LRUCapacity, opts.DBChecker, opts.Metrics, opts.Logger),
		sequenceValidator: NewSequenceValidator(opts.Metrics),
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		persistChan:       opts.PersistChan,
		projectionChan:    opts.ProjectionChan,
	}, nil
}

// ProcessEvent is the main processing pipeline. A rejected command changes
// no state and gets no envelope. Its source sequence is still consumed, so
// the next command of the partition is not held up behind it.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (Result, error) {
	res, _, err := c.process(evt, false)
	return res, err
}

func (c *DeterministicCore) process(evt event.Event, replay bool) (Result, *CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey, replay)

	// Step 2: Sequence validation. The log may skip sequences that were
	// rejected live, so replay only advances.
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()
	if !replay {
		if err := c.sequenceValidator.Check(partition, sourceSequence, isDuplicate); err != nil {
			c.reject(eventType, "sequence")
			return Result{}, nil, fmt.Errorf("sequence validation failed: %w", err)
		}
	}
	if isDuplicate {
		c.reject(eventType, "duplicate")
		return Result{Sequence: -1, Duplicate: true}, nil, nil
	}

	// Step 3: Time. The clock never runs backwards.
	now := evt.EventTime()
	if now < c.clock.now {
		c.refuse(evt, partition, "timestamp", replay)
		return Result{}, nil, fmt.Errorf("%w: %d before ledger time %d", ErrStaleTimestamp, now, c.clock.now)
	}
	payload, err := event.Encode(evt)
	if err != nil {
		c.refuse(evt, partition, "encode", replay)
		return Result{}, nil, err
	}

	// Step 4: Dispatch against the credit ledger
	prevClock := c.clock.now
	c.clock.now = now
	batch, res, err := c.dispatchEvent(evt)
	if err != nil {
		c.clock.now = prevClock
		c.refuse(evt, partition, rejectReason(err), replay)
		return Result{}, nil, fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 5: Validate and apply the cash batch. The credit state has already
	// moved, so a bad batch here is a bug, not a bad command.
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch: %v", err))
		}
	}
	c.sequenceValidator.Advance(partition, sourceSequence)

	// Step 6: Hash chain
	prevHash := c.hasher.GetPrevHash()
	stateDigest := c.computeStateDigest(evt, batch)
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		MarketID:       evt.MarketID(),
		Timestamp:      time.Unix(now, 0).UTC(),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	res.Sequence = c.sequence

	// Step 7: Post-checks
	if err := c.postCheckInvariants(evt, batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	output := CoreOutput{
		Envelope:  envelope,
		Event:     evt,
		Batch:     batch,
		Result:    res,
		Delta:     c.collectDelta(evt),
		AppliedAt: time.Now(),
	}
	c.sequence++

	// Step 8: Emit. Persistence uses a blocking send (backpressure),
	// projections a non-blocking send that drops on a full channel.
	if !replay {
		if c.persistChan != nil {
			c.persistChan <- output
		}
		if c.projectionChan != nil {
			select {
			case c.projectionChan <- output:
			default:
				if c.metrics != nil {
					c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
				}
			}
		}
	}

	// Step 9: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		c.recordDomainMetrics(evt, res)
	}
	return res, &output, nil
}

// refuse counts a rejection that passed ordering and consumes its source
// sequence. The persist channel gets a record so recovery can restore the
// partition even when no later command of it was applied.
func (c *DeterministicCore) refuse(evt event.Event, partition, reason string, replay bool) {
	c.reject(evt.EventType().String(), reason)

	sourceSequence := evt.SourceSequence()
	if replay || sourceSequence == 0 {
		return
	}
	c.sequenceValidator.Advance(partition, sourceSequence)
	if c.persistChan != nil {
		c.persistChan <- CoreOutput{Rejection: &Rejection{
			Partition:      partition,
			SourceSequence: sourceSequence,
			EventType:      evt.EventType().String(),
			IdempotencyKey: evt.IdempotencyKey(),
			Reason:         reason,
			RejectedAt:     time.Now(),
		}}
	}
}

// AdvancePartitions raises partitions to at least the given sequences. Recovery
// uses it for rejections recorded after the last applied command.
func (c *DeterministicCore) AdvancePartitions(parts map[string]int64) {
	for partition, seq := range parts {
		c.sequenceValidator.Advance(partition, seq)
	}
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// rejectReason maps a ledger error to a low-cardinality metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, credit.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, credit.ErrMarketNotCreated), errors.Is(err, credit.ErrMarketAlreadyCreated):
		return "market"
	case errors.Is(err, credit.ErrMarketFrozen):
		return "frozen"
	case errors.Is(err, credit.ErrInsufficientLiquidity), errors.Is(err, credit.ErrInsufficientCollateral),
		errors.Is(err, credit.ErrInsufficientSupply), errors.Is(err, credit.ErrInsufficientBorrowAmount):
		return "insufficient"
	case errors.Is(err, credit.ErrOutstandingRepayment), errors.Is(err, credit.ErrMustPayFullObligation):
		return "obligation"
	default:
		return "invalid"
	}
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if marketID := evt.MarketID(); marketID != nil {
		return fmt.Sprintf("market:%s", *marketID)
	}
	return "global"
}

// computeStateDigest creates canonical bytes for the state hash: the touched
// cash accounts in path order, then the totals of the event's market.
func (c *DeterministicCore) computeStateDigest(evt event.Event, batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*96+256)
	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)
		digest = appendString(digest, key.AccountPath())
		digest = appendAmount(digest, balance.Debits)
		digest = appendAmount(digest, balance.Credits)
	}

	if marketID := evt.MarketID(); marketID != nil {
		if m, err := c.ledger.Market(*marketID); err == nil {
			digest = appendString(digest, *marketID)
			for _, v := range []*uint256.Int{
				m.TotalSupplyAssets, m.TotalSupplyShares,
				m.TotalBorrowAssets, m.TotalBorrowShares,
				m.Fee, m.TotalMarkdownAmount,
			} {
				digest = appendAmount(digest, v)
			}
			digest = binary.LittleEndian.AppendUint64(digest, uint64(m.LastUpdate))
		}
	}
	return digest
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendAmount(buf []byte, v *uint256.Int) []byte {
	b := v.Bytes32()
	return append(buf, b[:]...)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(evt event.Event, batch *ledger.Batch) error {
	if marketID := evt.MarketID(); marketID != nil {
		if err := c.ledger.CheckInvariants(*marketID); err != nil {
			return fmt.Errorf("post-check market: %w", err)
		}
		params, _ := c.ledger.MarketParams(*marketID)
		m, _ := c.ledger.Market(*marketID)
		if err := c.validator.ValidatePoolCash(*marketID, params.LoanToken, m.ExpectedCash()); err != nil {
			return fmt.Errorf("post-check pool cash: %w", err)
		}
	}
	if err := c.validator.ValidateSystemAccounts(batch); err != nil {
		return fmt.Errorf("post-check system accounts: %w", err)
	}

	switch e := evt.(type) {
	case *event.InsuranceFunded:
		if err := c.validator.ValidateInsuranceFund(e.Asset, c.creditLine.InsuranceBalance(e.Asset)); err != nil {
			return fmt.Errorf("post-check insurance: %w", err)
		}
	case *event.AccountSettled:
		params, _ := c.ledger.MarketParams(e.Market)
		if err := c.validator.ValidateInsuranceFund(params.LoanToken, c.creditLine.InsuranceBalance(params.LoanToken)); err != nil {
			return fmt.Errorf("post-check insurance: %w", err)
		}
	}

	if c.sequence%globalCheckInterval == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check zero-sum: %w", err)
		}
	}
	return nil
}

func (c *DeterministicCore) recordDomainMetrics(evt event.Event, res Result) {
	switch e := evt.(type) {
	case *event.CycleClosed:
		c.metrics.CyclesClosed.WithLabelValues(e.Market).Inc()
		c.metrics.ObligationsPosted.WithLabelValues(e.Market).Add(float64(len(e.Obligations)))
	case *event.AccountSettled:
		c.metrics.SettlementsTotal.WithLabelValues(e.Market).Inc()
		if s := res.Settlement; s != nil {
			c.metrics.InsuranceCovered.WithLabelValues(e.Market).Add(fpmath.ToFloat(s.Covered, rawUnits))
			c.metrics.WrittenOffTotal.WithLabelValues(e.Market).Add(fpmath.ToFloat(s.WrittenOffAssets, rawUnits))
		}
	}
	for _, f := range c.fundsTouched(evt) {
		c.metrics.InsuranceFundBalance.WithLabelValues(f.Asset).Set(fpmath.ToFloat(f.Balance, rawUnits))
	}

	marketID := evt.MarketID()
	if marketID == nil {
		return
	}
	m, err := c.ledger.Market(*marketID)
	if err != nil {
		return
	}
	c.metrics.MarketSupplyAssets.WithLabelValues(*marketID).Set(fpmath.ToFloat(m.TotalSupplyAssets, rawUnits))
	c.metrics.MarketBorrowAssets.WithLabelValues(*marketID).Set(fpmath.ToFloat(m.TotalBorrowAssets, rawUnits))
	c.metrics.MarketMarkdown.WithLabelValues(*marketID).Set(fpmath.ToFloat(m.TotalMarkdownAmount, rawUnits))
	c.metrics.MarketUtilization.WithLabelValues(*marketID).Set(fpmath.ToFloat(m.Utilization(), fpmath.WadConfig))
	frozen := 0.0
	if ok, _ := c.ledger.IsMarketFrozen(*marketID); ok {
		frozen = 1
	}
	c.metrics.MarketFrozen.WithLabelValues(*marketID).Set(frozen)
}

// --- Accessors ---

// GetSequence returns the next global sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Now returns the ledger clock.
func (c *DeterministicCore) Now() int64 {
	return c.clock.now
}

// Ledger exposes the credit ledger for reads on the core goroutine.
func (c *DeterministicCore) Ledger() *credit.Ledger {
	return c.ledger
}

// CreditLine exposes the credit-line authority for reads on the core goroutine.
func (c *DeterministicCore) CreditLine() *creditline.CreditLine {
	return c.creditLine
}

// Balances exposes the cash balances for reads on the core goroutine.
func (c *DeterministicCore) Balances() *ledger.BalanceTracker {
	return c.balanceTracker
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return fpmath.Zero()
	}
	return v
}

// accountsTouched lists the accounts whose per-market state an event may change.
func accountsTouched(evt event.Event, feeRecipient uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	switch e := evt.(type) {
	case *event.Supplied:
		ids = append(ids, e.OnBehalf)
	case *event.Withdrawn:
		ids = append(ids, e.OnBehalf)
	case *event.Borrowed:
		ids = append(ids, e.OnBehalf)
	case *event.Repaid:
		ids = append(ids, e.OnBehalf)
	case *event.CreditLineSet:
		ids = append(ids, e.Borrower)
	case *event.PremiumsAccrued:
		ids = append(ids, e.Borrowers...)
	case *event.CycleClosed:
		for _, o := range e.Obligations {
			ids = append(ids, o.Borrower)
		}
	case *event.AccountSettled:
		ids = append(ids, e.Borrower)
	case *event.MarketCreated, *event.FeeRecipientSet, *event.InsuranceFunded:
		return nil
	}
	// Accrual mints fee shares to the recipient on every market mutation.
	ids = append(ids, feeRecipient)

	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
