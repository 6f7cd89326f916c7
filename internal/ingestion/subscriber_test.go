package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"CreditLedger/internal/core"
	"CreditLedger/internal/event"
	"CreditLedger/internal/persistence"
	"CreditLedger/internal/testutil"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMsg struct {
	subject string
	data    []byte
	acked   string
	delay   time.Duration
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Ack() error      { m.acked = "ack"; return nil }
func (m *fakeMsg) Nak() error      { m.acked = "nak"; return nil }
func (m *fakeMsg) Term() error     { m.acked = "term"; return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.acked, m.delay = "nak_delay", d
	return nil
}

type fakeSubmitter struct {
	got []event.Event
	res core.Result
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, evt event.Event) (core.Result, error) {
	f.got = append(f.got, evt)
	return f.res, f.err
}

func encodedSupply(t *testing.T) *fakeMsg {
	t.Helper()
	cmd := supplyCommand(testutil.NewActors())
	data, err := event.Encode(cmd)
	require.NoError(t, err)
	return &fakeMsg{subject: CommandSubject(cmd), data: data}
}

func TestHandle_AckOutcomes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"applied", nil, "ack"},
		{"rejected", errors.New("insufficient liquidity"), "ack"},
		{"stopped", core.ErrRunnerStopped, "nak"},
		{"cancelled", context.Canceled, "nak"},
		{"gap", core.ErrSequenceGap, "nak_delay"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tc.err}
			ns := NewNATSSubscriber(nil, sub, zerolog.Nop())
			msg := encodedSupply(t)

			ns.handle(context.Background(), msg)

			assert.Equal(t, tc.want, msg.acked)
			require.Len(t, sub.got, 1)
			assert.Equal(t, event.EventTypeSupplied, sub.got[0].EventType())
		})
	}
}

func TestHandle_TerminatesUnparseable(t *testing.T) {
	sub := &fakeSubmitter{}
	ns := NewNATSSubscriber(nil, sub, zerolog.Nop())
	msg := &fakeMsg{subject: "credit.commands.Supplied.m", data: []byte("nope")}

	ns.handle(context.Background(), msg)

	assert.Equal(t, "term", msg.acked)
	assert.Empty(t, sub.got)
}

type fakePublisher struct {
	subjects []string
	bodies   [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, payload)
	return &jetstream.PubAck{}, nil
}

func TestOutboundPublisher_PublishesRows(t *testing.T) {
	market := testutil.Market
	rows := make(chan persistence.EventRow, 2)
	rows <- persistence.EventRow{
		Sequence:       7,
		EventType:      "Supplied",
		IdempotencyKey: "k",
		MarketID:       &market,
		Payload:        []byte(`{"assets":"1000"}`),
		StateHash:      []byte{0xab, 0xcd},
		Timestamp:      time.Unix(testutil.T0, 0).UTC(),
	}
	rows <- persistence.EventRow{Sequence: 8, EventType: "InsuranceFunded", Payload: []byte(`{}`)}
	close(rows)

	pub := &fakePublisher{}
	op := NewOutboundPublisher(pub, rows, nil, zerolog.Nop())
	require.NoError(t, op.Run(context.Background()))

	assert.Equal(t, []string{
		"credit.ledger.events.Supplied.usdc-credit",
		"credit.ledger.events.InsuranceFunded",
	}, pub.subjects)

	var got PublishableEvent
	require.NoError(t, json.Unmarshal(pub.bodies[0], &got))
	assert.Equal(t, int64(7), got.Sequence)
	assert.Equal(t, "abcd", got.StateHash)
	assert.JSONEq(t, `{"assets":"1000"}`, string(got.Payload))
}

func TestOutboundPublisher_FailuresDoNotStopTheLoop(t *testing.T) {
	rows := make(chan persistence.EventRow, 1)
	rows <- persistence.EventRow{Sequence: 1, EventType: "Supplied", Payload: []byte(`{}`)}
	close(rows)

	op := NewOutboundPublisher(&fakePublisher{err: errors.New("no responders")}, rows, nil, zerolog.Nop())
	assert.NoError(t, op.Run(context.Background()))
}

func TestCommandService_SubmitRaw(t *testing.T) {
	sub := &fakeSubmitter{res: core.Result{Sequence: 3}}
	svc := NewCommandService(sub)

	msg := encodedSupply(t)
	evt, res, err := svc.SubmitRaw(context.Background(), "Supplied", msg.data)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Sequence)
	assert.Equal(t, event.EventTypeSupplied, evt.EventType())

	_, _, err = svc.SubmitRaw(context.Background(), "Supplied", []byte("{"))
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = svc.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidCommand)
}
