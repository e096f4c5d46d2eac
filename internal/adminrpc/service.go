package adminrpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"stepserver/internal/httpapi"
	"stepserver/internal/logging"
)

// Provider supplies the diagnostic snapshot the admin plane serves.
type Provider interface {
	AdminStats() StatsResponse
}

// Service implements the hand-registered AdminService over Provider, gated
// by the same sliding-window limiter pattern the teacher guards its
// replay-dump trigger with.
type Service struct {
	provider      Provider
	logger        *logging.Logger
	limiter       *httpapi.SlidingWindowLimiter
	watchInterval time.Duration
}

// NewService constructs a Service. limiter may be nil to disable rate
// limiting (tests only); production wiring should always supply one.
func NewService(provider Provider, logger *logging.Logger, limiter *httpapi.SlidingWindowLimiter, watchInterval time.Duration) *Service {
	if watchInterval <= 0 {
		watchInterval = time.Second
	}
	return &Service{provider: provider, logger: logger, limiter: limiter, watchInterval: watchInterval}
}

func (s *Service) stats(ctx context.Context, _ *StatsRequest) (*StatsResponse, error) {
	if !s.limiter.Allow() {
		return nil, grpcRateLimited()
	}
	resp := s.provider.AdminStats()
	return &resp, nil
}

// DumpDiagnostics is the explicit "dump diagnostics" admin call from
// SPEC_FULL §5: it logs the current snapshot at Info level and echoes it
// back, the same role the teacher's rate limiter plays guarding its
// replay-dump trigger.
func (s *Service) dumpDiagnostics(ctx context.Context, _ *StatsRequest) (*StatsResponse, error) {
	if !s.limiter.Allow() {
		return nil, grpcRateLimited()
	}
	resp := s.provider.AdminStats()
	s.logger.Info("admin diagnostics dump",
		logging.Int("connections", resp.Connections),
		logging.Int("participants", resp.Participants),
		logging.Uint32("authoritative_step_id", resp.AuthoritativeStepID),
		logging.Int("unresponsive", resp.UnresponsiveCount),
	)
	return &resp, nil
}

// watchTicks streams a TickUpdate every watchInterval until the client
// cancels, mirroring the teacher's StreamTimeSync periodic-push shape.
func (s *Service) watchTicks(_ *StatsRequest, stream grpc.ServerStream) error {
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	send := func() error {
		resp := s.provider.AdminStats()
		return stream.SendMsg(&TickUpdate{AuthoritativeStepID: resp.AuthoritativeStepID})
	}
	if err := send(); err != nil {
		return err
	}
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
			if err := send(); err != nil {
				return err
			}
		}
	}
}

func statsUnaryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		return svc.stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Stats"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.stats(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func dumpDiagnosticsUnaryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		return svc.dumpDiagnostics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/DumpDiagnostics"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.dumpDiagnostics(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchTicksStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(StatsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Service).watchTicks(in, stream)
}

// ServiceName is the fully-qualified name registered on the gRPC server.
const ServiceName = "stepserver.admin.AdminService"

// ServiceDesc is the hand-written analogue of a protoc-generated
// grpc.ServiceDesc, used with grpc.ForceServerCodec(jsonCodec{}) since no
// generated message/service types are available in this pack.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: statsUnaryHandler},
		{MethodName: "DumpDiagnostics", Handler: dumpDiagnosticsUnaryHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchTicks", Handler: watchTicksStreamHandler, ServerStreams: true},
	},
	Metadata: "stepserver/adminrpc.proto",
}

// Register attaches svc to server under ServiceDesc.
func Register(server *grpc.Server, svc *Service) {
	server.RegisterService(&ServiceDesc, svc)
}

func grpcRateLimited() error {
	return status.Error(codes.ResourceExhausted, "admin rpc rate limit exceeded")
}
