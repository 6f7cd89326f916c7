package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxCommandBytes = 1 << 20

// Handler returns the HTTP/JSON surface: REST routes on a gateway mux calling
// the ledger service in process, plus the health probes.
func (s *Server) Handler() http.Handler {
	gw := runtime.NewServeMux()
	s.mustHandle(gw, http.MethodPost, "/v1/commands/{event_type}", s.handleSubmit)

	s.mustHandle(gw, http.MethodGet, "/v1/markets/{market_id}", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
		return s.service.GetMarket(ctx, &MarketRequest{MarketID: p["market_id"]})
	})
	s.mustHandle(gw, http.MethodGet, "/v1/markets/{market_id}/positions/{account}", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
		return s.service.GetPosition(ctx, &PositionRequest{MarketID: p["market_id"], Account: p["account"]})
	})
	s.mustHandle(gw, http.MethodGet, "/v1/markets/{market_id}/obligations", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
		return s.service.ListObligations(ctx, &MarketRequest{MarketID: p["market_id"]})
	})
	s.mustHandle(gw, http.MethodGet, "/v1/markets/{market_id}/cycles", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
		size, err := intParam(r, "page_size")
		if err != nil {
			return nil, err
		}
		return s.service.ListCycles(ctx, &MarketRequest{MarketID: p["market_id"], PageSize: size})
	})
	s.mustHandle(gw, http.MethodGet, "/v1/accounts/{account}/positions", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
		return s.service.ListPositions(ctx, &AccountRequest{Account: p["account"]})
	})
	s.mustHandle(gw, http.MethodGet, "/v1/accounts/{account}/settlements", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
		req, err := accountPage(r, p)
		if err != nil {
			return nil, err
		}
		return s.service.ListSettlements(ctx, req)
	})
	s.mustHandle(gw, http.MethodGet, "/v1/accounts/{account}/journals", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
		req, err := accountPage(r, p)
		if err != nil {
			return nil, err
		}
		return s.service.ListJournals(ctx, req)
	})
	// Account paths contain colons, which the gateway treats as a verb
	// separator in a path segment, so they travel as a query parameter.
	s.mustHandle(gw, http.MethodGet, "/v1/balances", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
		return s.service.GetBalance(ctx, &BalanceRequest{AccountPath: r.URL.Query().Get("account_path")})
	})
	s.mustHandle(gw, http.MethodGet, "/v1/insurance-funds", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
		return s.service.GetInsuranceFunds(ctx, &Empty{})
	})
	s.mustHandle(gw, http.MethodGet, "/v1/status", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
		return s.service.GetSystemStatus(ctx, &Empty{})
	})
	s.mustHandle(gw, http.MethodPost, "/v1/admin/verify-integrity", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
		return s.service.VerifyIntegrity(ctx, &Empty{})
	})

	mux := http.NewServeMux()
	if s.healthChecker != nil {
		mux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	mux.Handle("/", gw)
	return mux
}

type routeFunc func(ctx context.Context, r *http.Request, pathParams map[string]string) (any, error)

func (s *Server) mustHandle(gw *runtime.ServeMux, method, pattern string, fn routeFunc) {
	err := gw.HandlePath(method, pattern, func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		resp, err := fn(r.Context(), r, pathParams)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
	if err != nil {
		panic("server: bad route " + pattern + ": " + err.Error())
	}
}

// handleSubmit takes the raw command JSON as the body.
func (s *Server) handleSubmit(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
	if !s.allow("http") {
		return nil, status.Error(codes.ResourceExhausted, "submit rate limit exceeded")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
	}
	return s.service.Submit(ctx, &SubmitRequest{EventType: p["event_type"], Payload: body})
}

func accountPage(r *http.Request, p map[string]string) (*AccountRequest, error) {
	size, err := intParam(r, "page_size")
	if err != nil {
		return nil, err
	}
	req := &AccountRequest{Account: p["account"], PageSize: size}
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid before_sequence: %v", err)
		}
		req.BeforeSequence = &seq
	}
	return req, nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s: %v", name, err)
	}
	return n, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{Code: st.Code().String(), Message: st.Message()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
