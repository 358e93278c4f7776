package grpcapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"authsvc/internal/gateway"
	authgrpc "authsvc/internal/grpc/auth"
	"authsvc/internal/grpc/ratelimit"
)

type App struct {
	logger     *slog.Logger
	gRPCServer *grpc.Server
	health     *health.Server
	port       int
}

func New(
	logger *slog.Logger,
	authService authgrpc.Auth,
	verifier *gateway.Verifier,
	limiter *ratelimit.Limiter,
	port int,
	timeout time.Duration,
) *App {
	gRPCServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			timeoutInterceptor(timeout),
			limiter.UnaryServerInterceptor(),
			verifier.UnaryServerInterceptor(authgrpc.ProtectedMethods...),
		),
	)
	authgrpc.Register(gRPCServer, authService)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(gRPCServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(authgrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &App{
		logger:     logger,
		gRPCServer: gRPCServer,
		health:     healthServer,
		port:       port,
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

// Run listens on the configured port and serves until Stop.
func (a *App) Run() error {
	const op = "grpcapp.Run"

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return a.Serve(listener)
}

func (a *App) Serve(listener net.Listener) error {
	const op = "grpcapp.Serve"

	log := a.logger.With(
		slog.String("op", op),
		slog.Int("port", a.port),
	)

	log.Info("gRPC server is running", slog.String("address", listener.Addr().String()))

	if err := a.gRPCServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop() {
	const op = "grpcapp.Stop"

	log := a.logger.With(slog.String("op", op))
	log.Info("stopping gRPC server", slog.Int("port", a.port))

	a.health.Shutdown()
	a.gRPCServer.GracefulStop()
}

// timeoutInterceptor bounds every call, store access included, by d.
func timeoutInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if d <= 0 {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return handler(ctx, req)
	}
}
