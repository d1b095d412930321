package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"VaultLedger/internal/auth"
	"VaultLedger/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps the gRPC server and the HTTP gateway.
type GRPCServer struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	handler      http.Handler
	grpcAddr     string
	httpAddr     string
	logger       zerolog.Logger
}

// ServerDeps holds everything the transports need.
type ServerDeps struct {
	Service       *VaultService
	Tokens        *auth.TokenAuthenticator
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	// Gatherer, when set, mounts /metrics on the HTTP gateway.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// NewGRPCServer registers the vault service and the gRPC health service and
// builds the HTTP handler.
func NewGRPCServer(grpcAddr, httpAddr string, deps ServerDeps) (*GRPCServer, error) {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		metricsInterceptor(deps.Metrics),
		deps.Tokens.UnaryInterceptor(isProtectedMethod),
	))
	RegisterVaultService(grpcServer, deps.Service)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	gateway, err := NewGateway(deps.Service, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	httpMux := http.NewServeMux()
	if deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	if deps.Gatherer != nil {
		httpMux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	httpMux.Handle("/", deps.Tokens.Middleware(isProtectedRequest, gateway))

	return &GRPCServer{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		handler:      httpMux,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		logger:       deps.Logger,
	}, nil
}

// Server exposes the gRPC server, e.g. to serve on a custom listener.
func (s *GRPCServer) Server() *grpc.Server { return s.grpcServer }

// Handler is the HTTP gateway including health and metrics endpoints.
func (s *GRPCServer) Handler() http.Handler { return s.handler }

// SetServing flips the gRPC health status.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(ServiceName, st)
}

// StartGRPC serves gRPC until ctx is cancelled (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP gateway until ctx is cancelled (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var readOnlyMethods = map[string]bool{
	FullMethod("GetVault"):        true,
	FullMethod("GetPrice"):        true,
	FullMethod("ListOperations"):  true,
	FullMethod("VerifyIntegrity"): true,
}

// isProtectedMethod reports vault service methods that require a token.
// Health checks and reads are open.
func isProtectedMethod(fullMethod string) bool {
	if readOnlyMethods[fullMethod] {
		return false
	}
	return strings.HasPrefix(fullMethod, "/"+ServiceName+"/")
}

func metricsInterceptor(metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if metrics == nil {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		method := methodName(info.FullMethod)
		metrics.Requests.WithLabelValues("grpc", method, status.Code(err).String()).Inc()
		metrics.RequestDuration.WithLabelValues("grpc", method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

func methodName(fullMethod string) string {
	return fullMethod[strings.LastIndex(fullMethod, "/")+1:]
}
