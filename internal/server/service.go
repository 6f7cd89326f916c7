package server

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"CreditLedger/internal/core"
	"CreditLedger/internal/event"
	"CreditLedger/internal/ingestion"
	"CreditLedger/internal/query"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "creditledger.v1.LedgerService"

// ============================================================================
// Messages
// ============================================================================

type SubmitRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type SubmitResponse struct {
	Sequence   int64              `json:"sequence"`
	Duplicate  bool               `json:"duplicate"`
	Assets     string             `json:"assets,omitempty"`
	Shares     string             `json:"shares,omitempty"`
	CycleID    *uint64            `json:"cycle_id,omitempty"`
	Settlement *SettlementOutcome `json:"settlement,omitempty"`
}

type SettlementOutcome struct {
	Covered          string `json:"covered"`
	CoveredShares    string `json:"covered_shares"`
	WrittenOffAssets string `json:"written_off_assets"`
	WrittenOffShares string `json:"written_off_shares"`
}

type MarketRequest struct {
	MarketID string `json:"market_id"`
	PageSize int    `json:"page_size,omitempty"`
}

type PositionRequest struct {
	MarketID string `json:"market_id"`
	Account  string `json:"account"`
}

type AccountRequest struct {
	Account        string `json:"account"`
	PageSize       int    `json:"page_size,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type BalanceRequest struct {
	AccountPath string `json:"account_path"`
}

type Empty struct{}

type PositionState struct {
	Position   query.PositionResponse    `json:"position"`
	Obligation *query.ObligationResponse `json:"obligation,omitempty"`
}

type PositionList struct {
	Positions []query.PositionResponse `json:"positions"`
}

type ObligationList struct {
	Obligations []query.ObligationResponse `json:"obligations"`
}

type SettlementList struct {
	Settlements []query.SettlementResponse `json:"settlements"`
}

type CycleList struct {
	Cycles []query.CycleResponse `json:"cycles"`
}

type JournalList struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type InsuranceFundList struct {
	Funds        []core.FundSnapshot `json:"funds"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

type SystemStatus struct {
	Sequence      int64    `json:"sequence"`
	StateHash     string   `json:"state_hash"`
	Clock         int64    `json:"clock"`
	Markets       []string `json:"markets"`
	LogSequence   int64    `json:"log_sequence"`
	QueueDepth    int      `json:"queue_depth"`
	QueueCapacity int      `json:"queue_capacity"`
}

// ============================================================================
// Service
// ============================================================================

// StateReader gives consistent reads of the live core. core.Runner
// implements it.
type StateReader interface {
	View(ctx context.Context, fn func(core.View)) error
	QueueDepth() (size, capacity int)
}

// EventLog reports the persisted head of the event log.
type EventLog interface {
	GetLatestSequence(ctx context.Context) (int64, error)
}

// LedgerServer is the ledger API. Live reads go through the core; history
// and balances come from the projections.
type LedgerServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetMarket(context.Context, *MarketRequest) (*query.MarketResponse, error)
	GetPosition(context.Context, *PositionRequest) (*PositionState, error)
	GetInsuranceFunds(context.Context, *Empty) (*InsuranceFundList, error)
	GetSystemStatus(context.Context, *Empty) (*SystemStatus, error)
	ListPositions(context.Context, *AccountRequest) (*PositionList, error)
	ListObligations(context.Context, *MarketRequest) (*ObligationList, error)
	ListCycles(context.Context, *MarketRequest) (*CycleList, error)
	ListSettlements(context.Context, *AccountRequest) (*SettlementList, error)
	ListJournals(context.Context, *AccountRequest) (*JournalList, error)
	GetBalance(context.Context, *BalanceRequest) (*query.BalanceResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
}

type ledgerService struct {
	commands *ingestion.CommandService
	live     StateReader
	queries  *query.QueryService
	log      EventLog
}

func (s *ledgerService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	evt, res, err := s.commands.SubmitRaw(ctx, req.EventType, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}
	return submitResponse(evt, res), nil
}

func submitResponse(evt event.Event, res core.Result) *SubmitResponse {
	resp := &SubmitResponse{
		Sequence:  res.Sequence,
		Duplicate: res.Duplicate,
		Assets:    optDec(res.Assets),
		Shares:    optDec(res.Shares),
	}
	if evt.EventType() == event.EventTypeCycleClosed && !res.Duplicate {
		id := res.CycleID
		resp.CycleID = &id
	}
	if st := res.Settlement; st != nil {
		resp.Settlement = &SettlementOutcome{
			Covered:          dec(st.Covered),
			CoveredShares:    dec(st.CoveredShares),
			WrittenOffAssets: dec(st.WrittenOffAssets),
			WrittenOffShares: dec(st.WrittenOffShares),
		}
	}
	return resp
}

func (s *ledgerService) GetMarket(ctx context.Context, req *MarketRequest) (*query.MarketResponse, error) {
	if req.MarketID == "" {
		return nil, status.Error(codes.InvalidArgument, "market_id is required")
	}
	var (
		resp  query.MarketResponse
		found bool
	)
	err := s.live.View(ctx, func(v core.View) {
		var mv core.MarketView
		if mv, found = v.MarketView(req.MarketID); found {
			resp = marketResponse(mv, v.Sequence())
		}
	})
	if err != nil {
		return nil, toStatus(err)
	}
	if !found {
		return nil, status.Errorf(codes.NotFound, "market %s not found", req.MarketID)
	}
	return &resp, nil
}

func (s *ledgerService) GetPosition(ctx context.Context, req *PositionRequest) (*PositionState, error) {
	if req.MarketID == "" || req.Account == "" {
		return nil, status.Error(codes.InvalidArgument, "market_id and account are required")
	}
	account, err := uuid.Parse(req.Account)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid account: %v", err)
	}
	var (
		resp  PositionState
		found bool
	)
	err = s.live.View(ctx, func(v core.View) {
		var av core.AccountView
		if av, found = v.AccountView(req.MarketID, account); found {
			resp = positionState(av, v.Sequence())
		}
	})
	if err != nil {
		return nil, toStatus(err)
	}
	if !found {
		return nil, status.Errorf(codes.NotFound, "market %s not found", req.MarketID)
	}
	return &resp, nil
}

func (s *ledgerService) GetInsuranceFunds(ctx context.Context, _ *Empty) (*InsuranceFundList, error) {
	var resp InsuranceFundList
	err := s.live.View(ctx, func(v core.View) {
		resp.Funds = v.InsuranceFunds()
		resp.AsOfSequence = v.Sequence()
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &resp, nil
}

func (s *ledgerService) GetSystemStatus(ctx context.Context, _ *Empty) (*SystemStatus, error) {
	var resp SystemStatus
	err := s.live.View(ctx, func(v core.View) {
		hash := v.StateHash()
		resp.Sequence = v.Sequence()
		resp.StateHash = hex.EncodeToString(hash[:])
		resp.Clock = v.Now()
		resp.Markets = v.MarketIDs()
	})
	if err != nil {
		return nil, toStatus(err)
	}
	resp.QueueDepth, resp.QueueCapacity = s.live.QueueDepth()
	resp.LogSequence = -1
	if s.log != nil {
		if resp.LogSequence, err = s.log.GetLatestSequence(ctx); err != nil {
			return nil, status.Errorf(codes.Internal, "event log: %v", err)
		}
	}
	return &resp, nil
}

func (s *ledgerService) ListPositions(ctx context.Context, req *AccountRequest) (*PositionList, error) {
	account, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	positions, err := s.queries.GetPositions(ctx, account)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PositionList{Positions: positions}, nil
}

func (s *ledgerService) ListObligations(ctx context.Context, req *MarketRequest) (*ObligationList, error) {
	if req.MarketID == "" {
		return nil, status.Error(codes.InvalidArgument, "market_id is required")
	}
	obligations, err := s.queries.GetObligations(ctx, req.MarketID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ObligationList{Obligations: obligations}, nil
}

func (s *ledgerService) ListCycles(ctx context.Context, req *MarketRequest) (*CycleList, error) {
	if req.MarketID == "" {
		return nil, status.Error(codes.InvalidArgument, "market_id is required")
	}
	cycles, err := s.queries.GetCycles(ctx, req.MarketID, req.PageSize)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CycleList{Cycles: cycles}, nil
}

func (s *ledgerService) ListSettlements(ctx context.Context, req *AccountRequest) (*SettlementList, error) {
	account, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	settlements, err := s.queries.GetSettlements(ctx, account, req.PageSize, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SettlementList{Settlements: settlements}, nil
}

func (s *ledgerService) ListJournals(ctx context.Context, req *AccountRequest) (*JournalList, error) {
	account, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	journals, err := s.queries.GetJournalHistory(ctx, account, req.PageSize, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JournalList{Journals: journals}, nil
}

func (s *ledgerService) GetBalance(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error) {
	if req.AccountPath == "" {
		return nil, status.Error(codes.InvalidArgument, "account_path is required")
	}
	b, err := s.queries.GetBalance(ctx, req.AccountPath)
	if err != nil {
		return nil, toStatus(err)
	}
	return b, nil
}

func (s *ledgerService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := s.queries.VerifyIntegrity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return report, nil
}

// ============================================================================
// Service descriptor
// ============================================================================

// unary builds a method descriptor that decodes Req, runs the interceptor
// chain and calls fn.
func unary[Req any, Resp any](name string, fn func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", LedgerServer.Submit),
		unary("GetMarket", LedgerServer.GetMarket),
		unary("GetPosition", LedgerServer.GetPosition),
		unary("GetInsuranceFunds", LedgerServer.GetInsuranceFunds),
		unary("GetSystemStatus", LedgerServer.GetSystemStatus),
		unary("ListPositions", LedgerServer.ListPositions),
		unary("ListObligations", LedgerServer.ListObligations),
		unary("ListCycles", LedgerServer.ListCycles),
		unary("ListSettlements", LedgerServer.ListSettlements),
		unary("ListJournals", LedgerServer.ListJournals),
		unary("GetBalance", LedgerServer.GetBalance),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "creditledger/v1/ledger",
}

// ============================================================================
// Helpers
// ============================================================================

func parseAccount(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "account is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid account: %v", err)
	}
	return id, nil
}

func marketResponse(mv core.MarketView, seq int64) query.MarketResponse {
	m := mv.Market
	return query.MarketResponse{
		MarketID:          mv.Params.ID,
		LoanToken:         mv.Params.LoanToken,
		IRM:               mv.Params.IRM,
		MarkdownPolicy:    mv.Params.MarkdownPolicy,
		TotalSupplyAssets: dec(m.TotalSupplyAssets),
		TotalSupplyShares: dec(m.TotalSupplyShares),
		TotalBorrowAssets: dec(m.TotalBorrowAssets),
		TotalBorrowShares: dec(m.TotalBorrowShares),
		TotalMarkdown:     dec(m.TotalMarkdownAmount),
		Fee:               dec(m.Fee),
		LastUpdate:        m.LastUpdate,
		Frozen:            mv.Frozen,
		CycleCount:        int64(mv.CycleCount),
		LastCycleEnd:      mv.LastCycleEnd,
		AsOfSequence:      seq,
	}
}

func positionState(av core.AccountView, seq int64) PositionState {
	ps := PositionState{Position: query.PositionResponse{
		Account:         av.Account,
		MarketID:        av.MarketID,
		SupplyShares:    dec(av.Position.SupplyShares),
		BorrowShares:    dec(av.Position.BorrowShares),
		CreditLimit:     dec(av.Position.CreditLimit),
		Debt:            dec(av.Debt),
		SupplyValue:     dec(av.SupplyValue),
		PremiumRate:     dec(av.PremiumRate),
		LastAccrualTime: av.LastAccrualTime,
		Status:          av.Status.String(),
		StatusSince:     av.StatusSince,
		Markdown:        dec(av.Markdown.Amount),
		AsOfSequence:    seq,
	}}
	if av.HasObligation {
		ps.Obligation = &query.ObligationResponse{
			Account:       av.Account,
			MarketID:      av.MarketID,
			CycleID:       int64(av.Obligation.CycleID),
			AmountDue:     dec(av.Obligation.AmountDue),
			EndingBalance: dec(av.Obligation.EndingBalance),
		}
	}
	return ps
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func optDec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}
