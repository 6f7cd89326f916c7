package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"CreditLedger/internal/core"
	"CreditLedger/internal/event"
	"CreditLedger/internal/ledger"
	"CreditLedger/internal/observability"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ProjectionWorker updates the projection tables from core outputs. The core
// drops outputs when this worker falls behind; market and position rows are
// absolute and heal on the next touch, balances do not and need Rebuild.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	history   *History
	metrics   *observability.Metrics
	logger    zerolog.Logger

	lastSeq int64
	gaps    int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, history *History, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// LoadWatermark reads the last projected sequence. Outputs at or below it are
// skipped.
func (pw *ProjectionWorker) LoadWatermark(ctx context.Context) error {
	var seq int64
	err := pw.db.QueryRowContext(ctx, `SELECT last_sequence FROM projections.watermark WHERE id = 1`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		pw.lastSeq = -1
		return nil
	}
	if err != nil {
		return err
	}
	pw.lastSeq = seq
	return nil
}

// Gaps reports how many dropped outputs this worker has detected.
func (pw *ProjectionWorker) Gaps() int64 { return pw.gaps }

// Run applies outputs until ctx is cancelled or the channel is closed.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.Apply(ctx, out); err != nil {
				// Projections are eventually consistent and can be rebuilt from the log.
				pw.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("projection update failed")
			}
		}
	}
}

// Apply projects one output in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, out core.CoreOutput) error {
	seq := out.Envelope.Sequence
	if seq <= pw.lastSeq {
		return nil
	}
	if seq != pw.lastSeq+1 && pw.lastSeq >= 0 {
		pw.gaps += seq - pw.lastSeq - 1
		if pw.metrics != nil {
			pw.metrics.ProjectionDrops.WithLabelValues("gap").Add(float64(seq - pw.lastSeq - 1))
		}
		pw.logger.Warn().
			Int64("expected", pw.lastSeq+1).
			Int64("got", seq).
			Msg("projection gap, balances need a rebuild")
	}

	start := time.Now()
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyOutput(ctx, tx, out); err != nil {
		return err
	}
	if err := writeWatermark(ctx, tx, seq); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	pw.lastSeq = seq
	pw.record(out)
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(out.Envelope.EventType.String()).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (pw *ProjectionWorker) record(out core.CoreOutput) {
	if pw.history == nil {
		return
	}
	switch e := out.Event.(type) {
	case *event.AccountSettled:
		if s := out.Result.Settlement; s != nil {
			pw.history.AddSettlement(SettlementRecord{
				Sequence:         out.Envelope.Sequence,
				MarketID:         e.Market,
				Account:          e.Borrower,
				Covered:          s.Covered,
				CoveredShares:    s.CoveredShares,
				WrittenOffAssets: s.WrittenOffAssets,
				WrittenOffShares: s.WrittenOffShares,
				Timestamp:        e.Timestamp,
			})
		}
	case *event.CycleClosed:
		pw.history.AddCycle(CycleRecord{
			Sequence:    out.Envelope.Sequence,
			MarketID:    e.Market,
			CycleID:     out.Result.CycleID,
			EndDate:     e.EndDate,
			Obligations: len(e.Obligations),
		})
	}
}

// applyOutput writes every row one output changes.
func applyOutput(ctx context.Context, ex execer, out core.CoreOutput) error {
	seq := out.Envelope.Sequence

	for _, mv := range out.Delta.Markets {
		if err := upsertMarket(ctx, ex, mv, seq); err != nil {
			return fmt.Errorf("market projection: %w", err)
		}
	}
	for _, av := range out.Delta.Accounts {
		if err := upsertPosition(ctx, ex, av, seq); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
		if err := upsertObligation(ctx, ex, av, seq); err != nil {
			return fmt.Errorf("obligation projection: %w", err)
		}
	}
	for _, f := range out.Delta.Funds {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO projections.insurance_funds (asset, balance, sequence)
			VALUES ($1, $2::numeric, $3)
			ON CONFLICT (asset) DO UPDATE SET balance = EXCLUDED.balance, sequence = EXCLUDED.sequence
		`, f.Asset, dec(f.Balance), seq); err != nil {
			return fmt.Errorf("insurance fund projection: %w", err)
		}
	}
	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			if err := applyJournal(ctx, ex, j, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	switch e := out.Event.(type) {
	case *event.AccountSettled:
		if s := out.Result.Settlement; s != nil {
			if _, err := ex.ExecContext(ctx, `
				INSERT INTO projections.settlements
					(sequence, market_id, account, covered, covered_shares, written_off_assets, written_off_shares, timestamp)
				VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8)
				ON CONFLICT (sequence) DO NOTHING
			`, seq, e.Market, e.Borrower.String(), dec(s.Covered), dec(s.CoveredShares),
				dec(s.WrittenOffAssets), dec(s.WrittenOffShares), e.Timestamp); err != nil {
				return fmt.Errorf("settlement projection: %w", err)
			}
		}
	case *event.CycleClosed:
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO projections.cycles (market_id, cycle_id, end_date, obligations, sequence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (market_id, cycle_id) DO NOTHING
		`, e.Market, int64(out.Result.CycleID), e.EndDate, len(e.Obligations), seq); err != nil {
			return fmt.Errorf("cycle projection: %w", err)
		}
	}
	return nil
}

func upsertMarket(ctx context.Context, ex execer, mv core.MarketView, seq int64) error {
	m := mv.Market
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.markets
			(market_id, loan_token, irm, markdown_policy,
			 total_supply_assets, total_supply_shares, total_borrow_assets, total_borrow_shares,
			 total_markdown, fee, last_update, frozen, cycle_count, last_cycle_end, sequence)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric,
		        $9::numeric, $10::numeric, $11, $12, $13, $14, $15)
		ON CONFLICT (market_id) DO UPDATE SET
			markdown_policy     = EXCLUDED.markdown_policy,
			total_supply_assets = EXCLUDED.total_supply_assets,
			total_supply_shares = EXCLUDED.total_supply_shares,
			total_borrow_assets = EXCLUDED.total_borrow_assets,
			total_borrow_shares = EXCLUDED.total_borrow_shares,
			total_markdown      = EXCLUDED.total_markdown,
			fee                 = EXCLUDED.fee,
			last_update         = EXCLUDED.last_update,
			frozen              = EXCLUDED.frozen,
			cycle_count         = EXCLUDED.cycle_count,
			last_cycle_end      = EXCLUDED.last_cycle_end,
			sequence            = EXCLUDED.sequence
	`, mv.Params.ID, mv.Params.LoanToken, mv.Params.IRM, mv.Params.MarkdownPolicy,
		dec(m.TotalSupplyAssets), dec(m.TotalSupplyShares), dec(m.TotalBorrowAssets), dec(m.TotalBorrowShares),
		dec(m.TotalMarkdownAmount), dec(m.Fee), m.LastUpdate, mv.Frozen, mv.CycleCount, mv.LastCycleEnd, seq)
	return err
}

func upsertPosition(ctx context.Context, ex execer, av core.AccountView, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.positions
			(market_id, account, supply_shares, borrow_shares, credit_limit, debt, supply_value,
			 premium_rate, last_accrual_time, status, status_since, markdown, sequence)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric,
		        $8::numeric, $9, $10, $11, $12::numeric, $13)
		ON CONFLICT (market_id, account) DO UPDATE SET
			supply_shares     = EXCLUDED.supply_shares,
			borrow_shares     = EXCLUDED.borrow_shares,
			credit_limit      = EXCLUDED.credit_limit,
			debt              = EXCLUDED.debt,
			supply_value      = EXCLUDED.supply_value,
			premium_rate      = EXCLUDED.premium_rate,
			last_accrual_time = EXCLUDED.last_accrual_time,
			status            = EXCLUDED.status,
			status_since      = EXCLUDED.status_since,
			markdown          = EXCLUDED.markdown,
			sequence          = EXCLUDED.sequence
	`, av.MarketID, av.Account.String(),
		dec(av.Position.SupplyShares), dec(av.Position.BorrowShares), dec(av.Position.CreditLimit),
		dec(av.Debt), dec(av.SupplyValue), dec(av.PremiumRate), av.LastAccrualTime,
		av.Status.String(), av.StatusSince, dec(av.Markdown.Amount), seq)
	return err
}

func upsertObligation(ctx context.Context, ex execer, av core.AccountView, seq int64) error {
	if !av.HasObligation {
		_, err := ex.ExecContext(ctx, `
			DELETE FROM projections.obligations WHERE market_id = $1 AND account = $2
		`, av.MarketID, av.Account.String())
		return err
	}
	o := av.Obligation
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.obligations (market_id, account, cycle_id, amount_due, ending_balance, sequence)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		ON CONFLICT (market_id, account) DO UPDATE SET
			cycle_id       = EXCLUDED.cycle_id,
			amount_due     = EXCLUDED.amount_due,
			ending_balance = EXCLUDED.ending_balance,
			sequence       = EXCLUDED.sequence
	`, av.MarketID, av.Account.String(), int64(o.CycleID), dec(o.AmountDue), dec(o.EndingBalance), seq)
	return err
}

func applyJournal(ctx context.Context, ex execer, j ledger.Journal, seq int64) error {
	amount := dec(j.Amount)
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projections.account_balances (account_path, debits, credits, sequence)
		VALUES ($1, $2::numeric, 0, $3)
		ON CONFLICT (account_path) DO UPDATE SET
			debits   = projections.account_balances.debits + EXCLUDED.debits,
			sequence = EXCLUDED.sequence
	`, j.DebitAccount.AccountPath(), amount, seq); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.account_balances (account_path, debits, credits, sequence)
		VALUES ($1, 0, $2::numeric, $3)
		ON CONFLICT (account_path) DO UPDATE SET
			credits  = projections.account_balances.credits + EXCLUDED.credits,
			sequence = EXCLUDED.sequence
	`, j.CreditAccount.AccountPath(), amount, seq)
	return err
}

func writeWatermark(ctx context.Context, ex execer, seq int64) error {
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projections.watermark (id, last_sequence, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
