package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"CreditLedger/internal/ledger"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/projection"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidAccountPath = errors.New("invalid account path")
)

const maxPageSize = 500

// QueryService provides read-only access to the projection tables and the
// journal. Responses carry as_of_sequence: projections trail the core, so a
// caller can tell how fresh an answer is.
type QueryService struct {
	db      *sql.DB
	recent  *projection.History
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// WithHistory serves first pages of settlements and cycles from the
// projection worker's in-memory history when it holds a full page.
func (qs *QueryService) WithHistory(h *projection.History) *QueryService {
	qs.recent = h
	return qs
}

// GetMarket returns one market.
func (qs *QueryService) GetMarket(ctx context.Context, marketID string) (resp *MarketResponse, err error) {
	defer qs.track("get_market", time.Now(), &err)

	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	m := MarketResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT market_id, loan_token, irm, markdown_policy,
		       total_supply_assets, total_supply_shares, total_borrow_assets, total_borrow_shares,
		       total_markdown, fee, last_update, frozen, cycle_count, last_cycle_end
		FROM projections.markets
		WHERE market_id = $1
	`, marketID).Scan(
		&m.MarketID, &m.LoanToken, &m.IRM, &m.MarkdownPolicy,
		&m.TotalSupplyAssets, &m.TotalSupplyShares, &m.TotalBorrowAssets, &m.TotalBorrowShares,
		&m.TotalMarkdown, &m.Fee, &m.LastUpdate, &m.Frozen, &m.CycleCount, &m.LastCycleEnd,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetPositions returns every market position of an account.
func (qs *QueryService) GetPositions(ctx context.Context, account uuid.UUID) (positions []PositionResponse, err error) {
	defer qs.track("get_positions", time.Now(), &err)

	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT market_id, supply_shares, borrow_shares, credit_limit, debt, supply_value,
		       premium_rate, last_accrual_time, status, status_since, markdown
		FROM projections.positions
		WHERE account = $1
		ORDER BY market_id
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p := PositionResponse{Account: account, AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&p.MarketID, &p.SupplyShares, &p.BorrowShares, &p.CreditLimit, &p.Debt, &p.SupplyValue,
			&p.PremiumRate, &p.LastAccrualTime, &p.Status, &p.StatusSince, &p.Markdown,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetObligations returns the open obligations of a market, largest first.
func (qs *QueryService) GetObligations(ctx context.Context, marketID string) (obligations []ObligationResponse, err error) {
	defer qs.track("get_obligations", time.Now(), &err)

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account, cycle_id, amount_due, ending_balance
		FROM projections.obligations
		WHERE market_id = $1
		ORDER BY amount_due DESC, account
	`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		o := ObligationResponse{MarketID: marketID}
		if err := rows.Scan(&o.Account, &o.CycleID, &o.AmountDue, &o.EndingBalance); err != nil {
			return nil, err
		}
		obligations = append(obligations, o)
	}
	return obligations, rows.Err()
}

// GetSettlements returns settlements of an account, newest first. A non-nil
// beforeSequence pages backwards.
func (qs *QueryService) GetSettlements(ctx context.Context, account uuid.UUID, limit int, beforeSequence *int64) (out []SettlementResponse, err error) {
	defer qs.track("get_settlements", time.Now(), &err)

	// The history records every settlement committed since startup, in
	// order, so a full page from it is the newest page.
	if beforeSequence == nil && qs.recent != nil {
		if recs := qs.recent.SettlementsByAccount(account, pageSize(limit)); len(recs) == pageSize(limit) {
			out = make([]SettlementResponse, 0, len(recs))
			for _, r := range recs {
				out = append(out, SettlementResponse{
					Sequence:         r.Sequence,
					MarketID:         r.MarketID,
					Account:          r.Account,
					Covered:          decString(r.Covered),
					CoveredShares:    decString(r.CoveredShares),
					WrittenOffAssets: decString(r.WrittenOffAssets),
					WrittenOffShares: decString(r.WrittenOffShares),
					Timestamp:        r.Timestamp,
				})
			}
			return out, nil
		}
	}

	query := `
		SELECT sequence, market_id, covered, covered_shares, written_off_assets, written_off_shares, timestamp
		FROM projections.settlements
		WHERE account = $1
	`
	args := []any{account}
	if beforeSequence != nil {
		args = append(args, *beforeSequence)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	args = append(args, pageSize(limit))
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		s := SettlementResponse{Account: account}
		if err := rows.Scan(
			&s.Sequence, &s.MarketID, &s.Covered, &s.CoveredShares,
			&s.WrittenOffAssets, &s.WrittenOffShares, &s.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetCycles returns closed cycles of a market, newest first.
func (qs *QueryService) GetCycles(ctx context.Context, marketID string, limit int) (out []CycleResponse, err error) {
	defer qs.track("get_cycles", time.Now(), &err)

	if qs.recent != nil {
		if recs := qs.recent.CyclesByMarket(marketID, pageSize(limit)); len(recs) == pageSize(limit) {
			out = make([]CycleResponse, 0, len(recs))
			for _, r := range recs {
				out = append(out, CycleResponse{
					MarketID:    r.MarketID,
					CycleID:     int64(r.CycleID),
					EndDate:     r.EndDate,
					Obligations: r.Obligations,
					Sequence:    r.Sequence,
				})
			}
			return out, nil
		}
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT cycle_id, end_date, obligations, sequence
		FROM projections.cycles
		WHERE market_id = $1
		ORDER BY cycle_id DESC
		LIMIT $2
	`, marketID, pageSize(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c := CycleResponse{MarketID: marketID}
		if err := rows.Scan(&c.CycleID, &c.EndDate, &c.Obligations, &c.Sequence); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetBalance returns the projected balance of one ledger account path.
func (qs *QueryService) GetBalance(ctx context.Context, accountPath string) (resp *BalanceResponse, err error) {
	defer qs.track("get_balance", time.Now(), &err)

	if _, err := ledger.ParseAccountPath(accountPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountPath, err)
	}
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}

	b := BalanceResponse{AccountPath: accountPath, Debits: "0", Credits: "0", AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT debits, credits FROM projections.account_balances WHERE account_path = $1
	`, accountPath).Scan(&b.Debits, &b.Credits)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if b.Net, err = netBalance(b.Debits, b.Credits); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetJournalHistory returns the journal entries that touch any wallet of a
// user, newest first.
func (qs *QueryService) GetJournalHistory(ctx context.Context, user uuid.UUID, limit int, beforeSequence *int64) (entries []JournalHistoryEntry, err error) {
	defer qs.track("get_journal_history", time.Now(), &err)

	prefix := fmt.Sprintf("user:%s:%%", user)
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{prefix}
	if beforeSequence != nil {
		args = append(args, *beforeSequence)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	args = append(args, pageSize(limit))
	query += fmt.Sprintf(" ORDER BY sequence DESC, journal_id LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain of the event log, that projected
// debits equal projected credits, and how far projections trail the log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.track("verify_integrity", time.Now(), &err)

	report = &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(debits), 0)::TEXT, COALESCE(SUM(credits), 0)::TEXT
		FROM projections.account_balances
	`).Scan(&report.TotalDebits, &report.TotalCredits)
	if err != nil {
		return nil, err
	}

	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), -1) FROM event_log.events
	`).Scan(&report.LogSequence); err != nil {
		return nil, err
	}
	if report.ProjectedUntil, err = qs.Watermark(ctx); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.TotalDebits == report.TotalCredits
	return report, nil
}

// Watermark is the last sequence reflected in the projections, -1 before
// the first.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE id = 1
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	return seq, nil
}

func (qs *QueryService) track(endpoint string, start time.Time, errp *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case *errp == nil:
	case errors.Is(*errp, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func pageSize(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
