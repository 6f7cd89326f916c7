package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"CreditLedger/internal/core"
	"CreditLedger/internal/ledger"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioOutputs runs the lending scenario and returns what the core emitted
// for persistence.
func scenarioOutputs(t *testing.T) (testutil.Actors, []core.CoreOutput) {
	t.Helper()
	actors := testutil.NewActors()
	persist := make(chan core.CoreOutput, 64)
	c := testutil.NewCore(t, testutil.Protocol(actors.Owner), persist, nil)
	testutil.Apply(t, c, testutil.LendingScenario(actors)...)
	close(persist)

	var outs []core.CoreOutput
	for o := range persist {
		outs = append(outs, o)
	}
	require.Len(t, outs, 5)
	return actors, outs
}

func TestRowsFromOutput(t *testing.T) {
	actors, outs := scenarioOutputs(t)

	ev, journals := RowsFromOutput(outs[1])
	assert.Equal(t, int64(1), ev.Sequence)
	assert.Equal(t, "Supplied", ev.EventType)
	require.NotNil(t, ev.MarketID)
	assert.Equal(t, testutil.Market, *ev.MarketID)
	assert.Len(t, ev.StateHash, 32)
	assert.Len(t, ev.PrevHash, 32)
	assert.Equal(t, outs[0].Envelope.StateHash[:], ev.PrevHash)
	assert.Contains(t, string(ev.Payload), `"market":"usdc-credit"`)

	require.Len(t, journals, 1)
	j := journals[0]
	assert.Equal(t, "1000", j.Amount)
	assert.Equal(t, "USDC", j.Asset)
	assert.Equal(t, "supply", j.JournalType)
	assert.Equal(t, ledger.LiquidityAccount(testutil.Market, testutil.Asset).AccountPath(), j.DebitAccount)
	assert.Equal(t, ledger.WalletAccount(actors.Lender, testutil.Asset).AccountPath(), j.CreditAccount)
	assert.Equal(t, ev.IdempotencyKey, j.EventRef)

	_, none := RowsFromOutput(outs[0])
	assert.Empty(t, none)
}

func TestWriteAll_OneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, outs := scenarioOutputs(t)
	var events []EventRow
	var journals []JournalRow
	for _, o := range outs {
		ev, js := RowsFromOutput(o)
		events = append(events, ev)
		journals = append(journals, js...)
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.events")).
		WillReturnResult(sqlmock.NewResult(0, int64(len(events))))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.journal")).
		WillReturnResult(sqlmock.NewResult(0, int64(len(journals))))
	mock.ExpectCommit()

	w := NewEventLogWriter(db)
	require.NoError(t, w.WriteAll(context.Background(), events, journals))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteAll_RollsBackOnJournalFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, outs := scenarioOutputs(t)
	ev, js := RowsFromOutput(outs[1])

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.journal")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	w := NewEventLogWriter(db)
	err = w.WriteAll(context.Background(), []EventRow{ev}, js)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write journals")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteEventBatch_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := NewEventLogWriter(db)
	require.NoError(t, w.WriteEventBatch(context.Background(), db, nil))
	require.NoError(t, w.WriteJournalBatch(context.Background(), db, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistenceWorker_FlushesOnClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, outs := scenarioOutputs(t)
	in := make(chan core.CoreOutput, len(outs))
	for _, o := range outs {
		in <- o
	}
	close(in)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.events")).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.journal")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	worker := NewPersistenceWorker(db, in, 100, time.Hour, nil, zerolog.Nop())
	require.NoError(t, worker.Run(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistenceWorker_RetriesFailedFlush(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, outs := scenarioOutputs(t)
	in := make(chan core.CoreOutput, 1)
	in <- outs[0]
	close(in)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	worker := NewPersistenceWorker(db, in, 100, time.Hour, nil, zerolog.Nop())
	require.NoError(t, worker.Run(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistenceWorker_ForwardsCommittedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, outs := scenarioOutputs(t)
	in := make(chan core.CoreOutput, len(outs))
	for _, o := range outs {
		in <- o
	}
	close(in)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.events")).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.journal")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	// Room for three rows; the rest are dropped rather than blocking.
	published := make(chan EventRow, 3)
	worker := NewPersistenceWorker(db, in, 100, time.Hour, nil, zerolog.Nop())
	worker.PublishTo(published)
	require.NoError(t, worker.Run(context.Background()))

	require.Len(t, published, 3)
	first := <-published
	assert.Equal(t, int64(0), first.Sequence)
	assert.Equal(t, "MarketCreated", first.EventType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistenceWorker_WritesRejections(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, outs := scenarioOutputs(t)
	rejectedAt := time.Unix(1_700_000_000, 0).UTC()
	in := make(chan core.CoreOutput, 2)
	in <- outs[0]
	in <- core.CoreOutput{Rejection: &core.Rejection{
		Partition:      "market:usdc-credit",
		SourceSequence: 3,
		EventType:      "Borrowed",
		IdempotencyKey: "cmd-3",
		Reason:         "insufficient",
		RejectedAt:     rejectedAt,
	}}
	close(in)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.rejections")).
		WithArgs("market:usdc-credit", int64(3), "Borrowed", "cmd-3", "insufficient", rejectedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Only the applied event is published.
	published := make(chan EventRow, 4)
	worker := NewPersistenceWorker(db, in, 100, time.Hour, nil, zerolog.Nop())
	worker.PublishTo(published)
	require.NoError(t, worker.Run(context.Background()))

	require.Len(t, published, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistenceWorker_RejectionOnlyBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	in := make(chan core.CoreOutput, 1)
	in <- core.CoreOutput{Rejection: &core.Rejection{Partition: "global", SourceSequence: 1, EventType: "InsuranceFunded", RejectedAt: time.Now()}}
	close(in)

	// With metrics on, a batch without events must not read a last sequence.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log.rejections")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	worker := NewPersistenceWorker(db, in, 100, time.Hour, observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	require.NoError(t, worker.Run(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
