package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"CreditLedger/internal/ingestion"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/query"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Server wraps the gRPC server and the HTTP/JSON gateway in front of the
// same LedgerServer.
type Server struct {
	grpcServer    *grpc.Server
	grpcHealth    *health.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       LedgerServer
	limiter       *rate.Limiter
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// Deps holds everything the services need.
type Deps struct {
	Commands      *ingestion.CommandService
	Live          StateReader
	Queries       *query.QueryService
	EventLog      EventLog
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger

	// Submit rate limit across both surfaces. Zero disables it.
	SubmitRate  float64
	SubmitBurst int
}

func New(grpcAddr, httpAddr string, deps Deps) *Server {
	s := &Server{
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
		service: &ledgerService{
			commands: deps.Commands,
			live:     deps.Live,
			queries:  deps.Queries,
			log:      deps.EventLog,
		},
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
	}
	if deps.SubmitRate > 0 {
		burst := deps.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(deps.SubmitRate), burst)
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.throttleInterceptor))
	s.grpcServer.RegisterService(&ledgerServiceDesc, s.service)

	s.grpcHealth = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.grpcHealth)
	s.grpcHealth.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(s.grpcServer)
	return s
}

// SetServing flips the gRPC health status of the ledger service.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.grpcHealth.SetServingStatus(serviceName, st)
}

// allow reports whether a submit may proceed and counts refusals.
func (s *Server) allow(surface string) bool {
	if s.limiter == nil || s.limiter.Allow() {
		return true
	}
	if s.metrics != nil {
		s.metrics.IngestThrottled.WithLabelValues(surface).Inc()
	}
	return false
}

func (s *Server) throttleInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if info.FullMethod == "/"+serviceName+"/Submit" && !s.allow("grpc") {
		return nil, status.Error(codes.ResourceExhausted, "submit rate limit exceeded")
	}
	return handler(ctx, req)
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves gRPC on lis until ctx is cancelled.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the HTTP/JSON gateway and health probes until ctx is
// cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
