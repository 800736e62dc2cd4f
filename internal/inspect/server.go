package inspect

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/yanet-platform/nd6/internal/xgrpc"
)

// GRPCServer exposes the inspect service over gRPC.
type GRPCServer struct {
	endpoint string
	server   *grpc.Server
	log      *zap.SugaredLogger
}

// NewGRPCServer creates a gRPC server for the inspect service over src.
func NewGRPCServer(endpoint string, src Source, log *zap.SugaredLogger) *GRPCServer {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(xgrpc.AccessLogInterceptor(log)),
	)

	service := NewService(src)
	server.RegisterService(&ServiceDesc, service)
	log.Infow("registered service", zap.String("service", fmt.Sprintf("%T", service)))

	return &GRPCServer{
		endpoint: endpoint,
		server:   server,
		log:      log,
	}
}

// Run serves until ctx is canceled.
func (m *GRPCServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", m.endpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize gRPC listener: %w", err)
	}

	return m.Serve(ctx, listener)
}

// Serve serves on listener until ctx is canceled.
func (m *GRPCServer) Serve(ctx context.Context, listener net.Listener) error {
	m.log.Infow("exposing inspect service", zap.Stringer("addr", listener.Addr()))

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.server.Serve(listener)
	})

	<-ctx.Done()

	m.log.Infow("stopping inspect service", zap.Stringer("addr", listener.Addr()))
	defer m.log.Infow("stopped inspect service", zap.Stringer("addr", listener.Addr()))

	m.server.GracefulStop()

	return wg.Wait()
}
