package server

import (
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported next to the overall status.
const HealthService = "presencehub.Hub"

func (s *Server) setServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
}

// RegisterHealth exposes the standard gRPC health service on gs.
func (s *Server) RegisterHealth(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.health)
}

// StartGRPCHealth listens on addr and serves the health service in the
// background. The caller stops the returned server.
func (s *Server) StartGRPCHealth(addr string) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	gs := grpc.NewServer()
	s.RegisterHealth(gs)

	log := s.log.Named("grpc")
	go func() {
		log.Info("gRPC health listening", zap.String("addr", lis.Addr().String()))
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC health server failed", zap.Error(err))
		}
	}()
	return gs, nil
}
