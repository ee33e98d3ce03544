package router

import (
	"context"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/dtroode/moodist-server/internal/api/grpc/middleware"
	"github.com/dtroode/moodist-server/internal/logger"
)

// ServiceName is the health service name reported for the account API.
const ServiceName = "moodist.Auth"

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router builds the admin gRPC server: health checking and reflection.
type Router struct {
	store  Pinger
	health *health.Server
	logger *logger.Logger
}

// New creates new gRPC Router instance.
func New(store Pinger, logger *logger.Logger) *Router {
	return &Router{
		store:  store,
		health: health.NewServer(),
		logger: logger,
	}
}

// Register registers the health and reflection services with logging and
// panic recovery interceptors.
func (r *Router) Register() *grpc.Server {
	logging := middleware.NewLogging(r.logger)
	recoveryOpt := recovery.WithRecoveryHandlerContext(func(ctx context.Context, p any) error {
		r.logger.Error("gRPC handler panicked", "panic", p)
		return status.Error(codes.Internal, "internal server error")
	})

	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logging.HandleGRPC,
			recovery.UnaryServerInterceptor(recoveryOpt),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(recoveryOpt),
		),
	)

	healthpb.RegisterHealthServer(s, r.health)
	reflection.Register(s)

	return s
}

// Probe pings the store once and publishes the result as serving status.
func (r *Router) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	state := healthpb.HealthCheckResponse_SERVING
	if err := r.store.Ping(ctx); err != nil {
		r.logger.Warn("gRPC health: store unavailable", "error", err.Error())
		state = healthpb.HealthCheckResponse_NOT_SERVING
	}

	r.health.SetServingStatus("", state)
	r.health.SetServingStatus(ServiceName, state)
	return state
}

// Monitor probes every interval until ctx is done, then marks the server as
// shutting down.
func (r *Router) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		r.Probe(probeCtx)
		cancel()

		select {
		case <-ctx.Done():
			r.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
