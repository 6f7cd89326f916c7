package main

import (
	"context"
	"time"

	"CreditLedger/internal/config"
	"CreditLedger/internal/core"
	"CreditLedger/internal/event"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// bootstrapNamespace derives stable command IDs for configured markets, so a
// restart re-submitting them is caught as a duplicate.
var bootstrapNamespace = uuid.MustParse("3f0c7c0e-2b59-4a53-9d0f-0c56f1f3a6d2")

// bootstrapEvents returns a MarketCreated for every configured market that
// the core does not know yet.
func bootstrapEvents(protocol *config.Protocol, known func(string) bool, now int64) []event.Event {
	var out []event.Event
	for _, m := range protocol.Markets {
		if known(m.Params.ID) {
			continue
		}
		out = append(out, &event.MarketCreated{
			Header: event.Header{
				CommandID: uuid.NewSHA1(bootstrapNamespace, []byte(m.Params.ID)),
				Timestamp: now,
			},
			Market:              m.Params.ID,
			LoanToken:           m.Params.LoanToken,
			CreditLineAuthority: m.Params.CreditLineAuthority,
			IRM:                 m.Params.IRM,
			MarkdownPolicy:      m.Params.MarkdownPolicy,
			Fee:                 m.Fee,
			Caller:              protocol.Owner,
		})
	}
	return out
}

// bootstrapMarkets creates configured markets through the runner.
func bootstrapMarkets(ctx context.Context, runner *core.Runner, protocol *config.Protocol, logger zerolog.Logger) error {
	if len(protocol.Markets) == 0 {
		return nil
	}
	known := map[string]bool{}
	var clock int64
	err := runner.View(ctx, func(v core.View) {
		for _, id := range v.MarketIDs() {
			known[id] = true
		}
		clock = v.Now()
	})
	if err != nil {
		return err
	}

	// Ledger time never moves backwards.
	now := max(time.Now().Unix(), clock)
	for _, evt := range bootstrapEvents(protocol, func(id string) bool { return known[id] }, now) {
		res, err := runner.Submit(ctx, evt)
		if err != nil {
			return err
		}
		logger.Info().
			Str("market", *evt.MarketID()).
			Int64("sequence", res.Sequence).
			Bool("duplicate", res.Duplicate).
			Msg("bootstrapped market")
	}
	return nil
}
