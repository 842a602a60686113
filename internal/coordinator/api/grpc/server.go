package grpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/shared/config"
	"github.com/nemanja-m/shardmr/internal/shared/logging"
)

type Server struct {
	addr       string
	grpcServer *grpc.Server
	logger     logging.Logger
}

func NewServer(
	cfg config.GRPCConfig,
	jobService core.JobService,
	defaults core.Settings,
	logger logging.Logger,
) *Server {
	grpcServer := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             cfg.KeepaliveMinTime,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			tracingServerInterceptor,
			loggingServerInterceptor(logger),
			versionServerInterceptor(Version),
		),
	)

	RegisterJobServiceServer(grpcServer, NewJobService(jobService, defaults, logger))

	if cfg.EnableReflection {
		reflection.Register(grpcServer)
	}

	return &Server{
		addr:       cfg.Addr,
		grpcServer: grpcServer,
		logger:     logger,
	}
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
