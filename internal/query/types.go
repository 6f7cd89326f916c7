package query

import "github.com/google/uuid"

// Amounts are base-10 strings: projection columns are NUMERIC(78,0) and do
// not fit a JSON number.

// MarketResponse is a market row from the projections.
type MarketResponse struct {
	MarketID          string `json:"market_id"`
	LoanToken         string `json:"loan_token"`
	IRM               string `json:"irm"`
	MarkdownPolicy    string `json:"markdown_policy,omitempty"`
	TotalSupplyAssets string `json:"total_supply_assets"`
	TotalSupplyShares string `json:"total_supply_shares"`
	TotalBorrowAssets string `json:"total_borrow_assets"`
	TotalBorrowShares string `json:"total_borrow_shares"`
	TotalMarkdown     string `json:"total_markdown"`
	Fee               string `json:"fee"`
	LastUpdate        int64  `json:"last_update"`
	Frozen            bool   `json:"frozen"`
	CycleCount        int64  `json:"cycle_count"`
	LastCycleEnd      int64  `json:"last_cycle_end"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// PositionResponse is one account's position in one market.
type PositionResponse struct {
	Account         uuid.UUID `json:"account"`
	MarketID        string    `json:"market_id"`
	SupplyShares    string    `json:"supply_shares"`
	BorrowShares    string    `json:"borrow_shares"`
	CreditLimit     string    `json:"credit_limit"`
	Debt            string    `json:"debt"`
	SupplyValue     string    `json:"supply_value"`
	PremiumRate     string    `json:"premium_rate"`
	LastAccrualTime int64     `json:"last_accrual_time"`
	Status          string    `json:"status"`
	StatusSince     int64     `json:"status_since"`
	Markdown        string    `json:"markdown"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// ObligationResponse is the open payment obligation of a borrower.
type ObligationResponse struct {
	Account       uuid.UUID `json:"account"`
	MarketID      string    `json:"market_id"`
	CycleID       int64     `json:"cycle_id"`
	AmountDue     string    `json:"amount_due"`
	EndingBalance string    `json:"ending_balance"`
}

// SettlementResponse records one settled account.
type SettlementResponse struct {
	Sequence         int64     `json:"sequence"`
	MarketID         string    `json:"market_id"`
	Account          uuid.UUID `json:"account"`
	Covered          string    `json:"covered"`
	CoveredShares    string    `json:"covered_shares"`
	WrittenOffAssets string    `json:"written_off_assets"`
	WrittenOffShares string    `json:"written_off_shares"`
	Timestamp        int64     `json:"timestamp"`
}

// CycleResponse records one closed payment cycle.
type CycleResponse struct {
	MarketID    string `json:"market_id"`
	CycleID     int64  `json:"cycle_id"`
	EndDate     int64  `json:"end_date"`
	Obligations int    `json:"obligations"`
	Sequence    int64  `json:"sequence"`
}

// JournalHistoryEntry is a journal row from the event log.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// Debits and credits summed over every projected account. Double entry
	// keeps them equal.
	TotalDebits    string `json:"total_debits"`
	TotalCredits   string `json:"total_credits"`
	LogSequence    int64  `json:"log_sequence"`
	ProjectedUntil int64  `json:"projected_until"`
}
