package projection

import (
	"context"
	"database/sql"
	"fmt"

	"CreditLedger/internal/core"
	"CreditLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// EventSource pages through the persisted event log.
type EventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

var projectionTables = []string{
	"projections.markets",
	"projections.positions",
	"projections.obligations",
	"projections.account_balances",
	"projections.insurance_funds",
	"projections.settlements",
	"projections.cycles",
	"projections.watermark",
}

// Rebuild truncates every projection table and refills it by replaying the
// whole event log through fresh, a core built from the same protocol config
// and never started. All writes happen in one transaction, so readers see
// either the old projections or the rebuilt ones.
func Rebuild(ctx context.Context, db *sql.DB, src EventSource, fresh *core.DeterministicCore, logger zerolog.Logger) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, table := range projectionTables {
		if _, err := tx.ExecContext(ctx, "TRUNCATE "+table); err != nil {
			return 0, fmt.Errorf("truncate %s: %w", table, err)
		}
	}

	var (
		from     = fresh.GetSequence()
		replayed int64
		last     int64 = -1
	)
	for {
		rows, err := src.LoadEventsFrom(ctx, from, 1000)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			stored, err := row.Stored()
			if err != nil {
				return replayed, err
			}
			out, err := fresh.ReplayOutput(stored)
			if err != nil {
				return replayed, err
			}
			if err := applyOutput(ctx, tx, out); err != nil {
				return replayed, err
			}
			last = out.Envelope.Sequence
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if last >= 0 {
		if err := writeWatermark(ctx, tx, last); err != nil {
			return replayed, err
		}
	}
	if err := tx.Commit(); err != nil {
		return replayed, err
	}
	logger.Info().Int64("events", replayed).Int64("watermark", last).Msg("projection rebuild complete")
	return replayed, nil
}
