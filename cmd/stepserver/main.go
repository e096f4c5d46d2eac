// Command stepserver runs the authoritative step server: config → logging
// → the Server aggregate → a websocket-backed transport → the admin gRPC
// side-channel → HTTP health/stats, mirroring the teacher's main() wiring
// sequence.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"

	"stepserver/internal/adminrpc"
	"stepserver/internal/config"
	"stepserver/internal/httpapi"
	"stepserver/internal/logging"
	"stepserver/internal/server"
	"stepserver/internal/transport"
)

const (
	tickInterval        = 16 * time.Millisecond
	pingInterval        = 15 * time.Second
	wsInboundQueueDepth = 1024

	adminWatchInterval   = time.Second
	adminRateLimitWindow = time.Second
	adminRateLimitBurst  = 5

	statsRateLimitWindow = time.Second
	statsRateLimitBurst  = 10
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logging.ReplaceGlobals(logger)

	mt := transport.NewWSMultiTransport(logger.With(logging.String("component", "transport")), pingInterval, wsInboundQueueDepth)
	defer mt.Close()

	srv := server.New(cfg, logger, mt)

	go runTickLoop(srv, logger)

	grpcServer := buildAdminServer(srv, logger)
	go serveAdmin(grpcServer, cfg.AdminAddr, logger)
	defer grpcServer.GracefulStop()

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/connect", connectHandler(srv, mt, cfg, logger))
	wsServer := &http.Server{Addr: cfg.Address, Handler: logging.HTTPTraceMiddleware(logger)(wsMux)}
	go func() {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("transport listener terminated", logging.Error(err))
		}
	}()

	handler := buildHTTPHandler(srv, logger)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}

	logger.Info("step server listening",
		logging.String("address", cfg.Address),
		logging.String("http_address", cfg.HTTPAddr),
		logging.String("admin_address", cfg.AdminAddr),
	)
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Fatal("step server terminated", logging.Error(err))
	}
}

// runTickLoop drives Server.Update at a fixed cadence: the core has no
// internal timers, so something external must call it regularly.
func runTickLoop(srv *server.Server, logger *logging.Logger) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for now := range ticker.C {
		if err := srv.Update(now); err != nil {
			logger.Warn("update drain stopped early", logging.Error(err))
		}
	}
}

// statsAdapter bridges *server.Server to the two diagnostic-consuming
// interfaces (httpapi.StatsProvider, adminrpc.Provider), each of which
// names its own response type so neither package depends on the other.
type statsAdapter struct{ srv *server.Server }

func (a statsAdapter) Stats() httpapi.Stats {
	d := a.srv.Stats()
	return httpapi.Stats{
		Connections:         d.Connections,
		Participants:        d.Participants,
		AuthoritativeStepID: d.AuthoritativeStepID,
	}
}

func (a statsAdapter) Healthy() (bool, string) { return a.srv.Healthy() }

func (a statsAdapter) AdminStats() adminrpc.StatsResponse {
	d := a.srv.Stats()
	return adminrpc.StatsResponse{
		Connections:         d.Connections,
		Participants:        d.Participants,
		AuthoritativeStepID: d.AuthoritativeStepID,
		UnresponsiveCount:   d.UnresponsiveCount,
	}
}

func buildAdminServer(srv *server.Server, logger *logging.Logger) *grpc.Server {
	adapter := statsAdapter{srv: srv}
	limiter := httpapi.NewSlidingWindowLimiter(adminRateLimitWindow, adminRateLimitBurst, nil)
	svc := adminrpc.NewService(adapter, logger.With(logging.String("component", "adminrpc")), limiter, adminWatchInterval)

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(adminrpc.Codec()))
	adminrpc.Register(grpcServer, svc)
	return grpcServer
}

func serveAdmin(grpcServer *grpc.Server, addr string, logger *logging.Logger) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to start admin gRPC listener", logging.Error(err), logging.String("address", addr))
	}
	logger.Info("admin gRPC server listening", logging.String("address", addr))
	if err := grpcServer.Serve(listener); err != nil {
		logger.Fatal("admin gRPC server terminated", logging.Error(err))
	}
}

func buildHTTPHandler(srv *server.Server, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()
	adapter := statsAdapter{srv: srv}

	statsLimiter := httpapi.NewSlidingWindowLimiter(statsRateLimitWindow, statsRateLimitBurst, nil)
	mux.HandleFunc("/api/stats", httpapi.StatsHandler(adapter, statsLimiter))
	mux.HandleFunc("/healthz", httpapi.HealthzHandler(adapter))

	return logging.HTTPTraceMiddleware(logger)(mux)
}

// connectHandler upgrades an inbound request to a websocket peer and binds
// it to the first free transport slot, the HTTP-facing equivalent of an
// explicit connectionConnected call for a datagram transport that has no
// listen-socket-level notion of "new peer".
func connectHandler(srv *server.Server, mt *transport.WSMultiTransport, cfg *config.Config, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotIndex := -1
		for i := 0; i < cfg.MaxConnectionCount; i++ {
			if tc, found := srv.Transports.Get(i); found && !tc.InUse {
				slotIndex = i
				break
			}
		}
		if slotIndex < 0 {
			http.Error(w, "no free connection slots", http.StatusServiceUnavailable)
			return
		}
		if _, err := srv.ConnectionConnected(slotIndex); err != nil {
			http.Error(w, "connect failed", http.StatusInternalServerError)
			return
		}
		if err := mt.Accept(w, r, slotIndex); err != nil {
			logger.Warn("websocket upgrade failed", logging.Int("slot", slotIndex), logging.Error(err))
			_ = srv.ConnectionDisconnected(slotIndex)
		}
	}
}
