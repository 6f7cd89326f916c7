package query

import (
	"context"
	"regexp"
	"testing"

	"CreditLedger/internal/ledger"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/projection"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*QueryService, sqlmock.Sqlmock, *observability.Metrics) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewQueryService(db, metrics), mock, metrics
}

func expectWatermark(mock sqlmock.Sqlmock, seq int64) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM projections.watermark")).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(seq))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestGetMarket(t *testing.T) {
	qs, mock, metrics := newService(t)

	expectWatermark(mock, 9)
	mock.ExpectQuery(regexp.QuoteMeta("FROM projections.markets")).
		WithArgs("usdc-credit").
		WillReturnRows(sqlmock.NewRows([]string{
			"market_id", "loan_token", "irm", "markdown_policy",
			"total_supply_assets", "total_supply_shares", "total_borrow_assets", "total_borrow_shares",
			"total_markdown", "fee", "last_update", "frozen", "cycle_count", "last_cycle_end",
		}).AddRow("usdc-credit", "USDC", "fixed", "", "1000", "1000000000", "200", "200000000",
			"0", "0", int64(60), false, int64(1), int64(0)))

	m, err := qs.GetMarket(context.Background(), "usdc-credit")
	require.NoError(t, err)
	assert.Equal(t, "1000", m.TotalSupplyAssets)
	assert.Equal(t, int64(9), m.AsOfSequence)
	assert.Equal(t, float64(1), counterValue(t, metrics.QueryRequests.WithLabelValues("get_market", "ok")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMarket_NotFound(t *testing.T) {
	qs, mock, metrics := newService(t)

	expectWatermark(mock, 0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM projections.markets")).
		WillReturnRows(sqlmock.NewRows([]string{"market_id"}))

	_, err := qs.GetMarket(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, float64(1), counterValue(t, metrics.QueryRequests.WithLabelValues("get_market", "not_found")))
}

func TestGetSettlements_Pagination(t *testing.T) {
	qs, mock, _ := newService(t)
	account := uuid.New()
	before := int64(40)

	mock.ExpectQuery(regexp.QuoteMeta("AND sequence < $2 ORDER BY sequence DESC LIMIT $3")).
		WithArgs(account, before, 2).
		WillReturnRows(sqlmock.NewRows([]string{
			"sequence", "market_id", "covered", "covered_shares", "written_off_assets", "written_off_shares", "timestamp",
		}).
			AddRow(int64(31), "m", "50", "50000000", "150", "150000000", int64(100)).
			AddRow(int64(12), "m", "0", "0", "10", "10000000", int64(50)))

	got, err := qs.GetSettlements(context.Background(), account, 2, &before)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(31), got[0].Sequence)
	assert.Equal(t, "150", got[0].WrittenOffAssets)
	assert.Equal(t, account, got[1].Account)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSettlements_FromHistory(t *testing.T) {
	qs, mock, _ := newService(t)
	account := uuid.New()

	h := projection.NewHistory(10)
	for i, seq := range []int64{5, 9} {
		h.AddSettlement(projection.SettlementRecord{
			Sequence:         seq,
			MarketID:         "m",
			Account:          account,
			Covered:          uint256.NewInt(uint64(i)),
			WrittenOffAssets: uint256.NewInt(100),
			Timestamp:        seq * 10,
		})
	}
	qs.WithHistory(h)

	// No query is expected: two records fill a page of two.
	got, err := qs.GetSettlements(context.Background(), account, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(9), got[0].Sequence)
	assert.Equal(t, "1", got[0].Covered)
	assert.Equal(t, "0", got[0].CoveredShares)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCycles_ShortHistoryFallsBackToDB(t *testing.T) {
	qs, mock, _ := newService(t)

	h := projection.NewHistory(10)
	h.AddCycle(projection.CycleRecord{Sequence: 7, MarketID: "m", CycleID: 1, EndDate: 200})
	qs.WithHistory(h)

	mock.ExpectQuery(regexp.QuoteMeta("FROM projections.cycles")).
		WithArgs("m", 3).
		WillReturnRows(sqlmock.NewRows([]string{"cycle_id", "end_date", "obligations", "sequence"}).
			AddRow(int64(1), int64(200), 2, int64(7)).
			AddRow(int64(0), int64(100), 3, int64(4)))

	got, err := qs.GetCycles(context.Background(), "m", 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[1].CycleID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalance(t *testing.T) {
	qs, mock, _ := newService(t)
	path := ledger.WalletAccount(uuid.New(), "USDC").AccountPath()

	expectWatermark(mock, 4)
	mock.ExpectQuery(regexp.QuoteMeta("FROM projections.account_balances")).
		WithArgs(path).
		WillReturnRows(sqlmock.NewRows([]string{"debits", "credits"}).AddRow("200", "1000"))

	b, err := qs.GetBalance(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "800", b.Net)

	expectWatermark(mock, 4)
	mock.ExpectQuery(regexp.QuoteMeta("FROM projections.account_balances")).
		WillReturnRows(sqlmock.NewRows([]string{"debits", "credits"}))

	b, err = qs.GetBalance(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "0", b.Net)

	_, err = qs.GetBalance(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalidAccountPath)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNetBalance(t *testing.T) {
	n, err := netBalance("1000", "250")
	require.NoError(t, err)
	assert.Equal(t, "-750", n)

	_, err = netBalance("x", "1")
	assert.Error(t, err)
}

func TestVerifyIntegrity(t *testing.T) {
	qs, mock, _ := newService(t)

	mock.ExpectQuery(regexp.QuoteMeta("e1.prev_hash <> e2.state_hash")).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta("SUM(debits)")).
		WillReturnRows(sqlmock.NewRows([]string{"debits", "credits"}).AddRow("1200", "1200"))
	mock.ExpectQuery(regexp.QuoteMeta("MAX(sequence)")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(10)))
	expectWatermark(mock, 8)

	report, err := qs.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []int64{7}, report.HashChainBreaks)
	assert.Equal(t, int64(10), report.LogSequence)
	assert.Equal(t, int64(8), report.ProjectedUntil)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatermark_EmptyTable(t *testing.T) {
	qs, mock, _ := newService(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM projections.watermark")).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}))

	seq, err := qs.Watermark(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), seq)
}
