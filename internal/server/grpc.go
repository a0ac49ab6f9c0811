// Package server builds the gRPC server: otelgrpc instrumentation, request telemetry, and the
// standard health service.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"credential-lifecycle/backend/internal/server/interceptors"
	"credential-lifecycle/backend/internal/telemetry"
)

// HealthCheckMethod is the full method name of the standard health check RPC.
const HealthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps holds the services registered on the server.
type Deps struct {
	// Health serves grpc.health.v1. If nil, a fresh server reporting SERVING is registered.
	Health *grpchealth.Server
	// Emitter receives one grpc_request event per RPC. If nil, no request events are emitted.
	Emitter telemetry.EventEmitter
}

// NewGRPCServer returns a server instrumented with otelgrpc and the telemetry interceptor,
// with all services in deps registered. Health checks are not emitted as request events.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.TelemetryUnary(deps.Emitter, map[string]bool{HealthCheckMethod: true}),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given registrar.
//
//   - grpc.health.v1.Health → internal/health (status driven by health.Checker)
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	h := deps.Health
	if h == nil {
		h = grpchealth.NewServer()
	}
	healthpb.RegisterHealthServer(s, h)
}
