package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server exposes the standard gRPC health service so orchestration platforms
// can probe the process without going through the HTTP API.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	addr   string
}

func NewServer(addr string) *Server {
	s := &Server{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		addr:   addr,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	s.srv.GracefulStop()
	return nil
}
