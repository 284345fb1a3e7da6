package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"rent360.org/internal/obs"
)

// HealthServer implements grpc.health.v1 on top of the readiness probe.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness readinessChecker
}

func NewHealthServer(r readinessChecker) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &HealthServer{readiness: r}
}

// Check answers for the overall server ("") and for serviceName.
func (s *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

// NewGRPCServer returns a server with the health service registered.
func NewGRPCServer(r readinessChecker, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(srv, NewHealthServer(r))
	return srv
}
