package rpcbench

import (
	"net"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

type grpcServer struct {
	service Service
	codec   Codec
	cfg     TransportConfig
	logger  *Logger

	mu         sync.Mutex
	srv        *grpc.Server
	socketPath string
	running    bool
	serveDone  chan struct{}
	stopped    chan struct{}
}

func newGRPCServer(svc Service, codec Codec, cfg TransportConfig, logger *Logger) *grpcServer {
	return &grpcServer{
		service: svc,
		codec:   codec,
		cfg:     cfg,
		logger:  logger,
		stopped: make(chan struct{}),
	}
}

func (s *grpcServer) Start(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	network, addr, err := ParseAddress(address)
	if err != nil {
		s.logger.Error("invalid address", "address", address, "error", err)
		return false
	}
	if network == "unix" {
		if err := prepareSocketPath(addr); err != nil {
			s.logger.Error("cannot use socket path", "path", addr, "error", err)
			return false
		}
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		s.logger.Error("listen failed", "address", address, "error", err)
		return false
	}
	if network == "unix" {
		s.socketPath = addr
	}

	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(s.codec),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if s.cfg.KeepaliveTime > 0 {
		opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.cfg.KeepaliveTime,
			Timeout: s.cfg.KeepaliveTimeout,
		}))
	}
	if s.cfg.MaxFrameSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.cfg.MaxFrameSize), grpc.MaxSendMsgSize(s.cfg.MaxFrameSize))
	}

	srv := grpc.NewServer(opts...)
	srv.RegisterService(&benchmarkServiceDesc, s.service)

	s.srv = srv
	s.serveDone = make(chan struct{})
	// Waiters that arrived before Start keep the channel until Stop closes
	// it; only a restart after Stop needs a fresh one.
	select {
	case <-s.stopped:
		s.stopped = make(chan struct{})
	default:
	}
	s.running = true

	go func(done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil {
			s.logger.Error("grpc serve failed", "error", err)
		}
	}(s.serveDone)

	s.logger.Info("grpc server listening", "network", network, "address", ln.Addr().String())
	return true
}

// Stop drains in-flight calls for a short grace period, then forces the
// remaining ones closed.
func (s *grpcServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	srv, serveDone, stopped := s.srv, s.serveDone, s.stopped
	socketPath := s.socketPath
	s.socketPath = ""
	s.mu.Unlock()

	graceful := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(graceful)
	}()
	select {
	case <-graceful:
	case <-time.After(2 * time.Second):
		srv.Stop()
		<-graceful
	}
	<-serveDone

	if socketPath != "" {
		if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
			s.logger.Debug("failed to remove socket file", "path", socketPath, "error", err)
		}
	}

	close(stopped)
	s.logger.Info("grpc server stopped")
}

func (s *grpcServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *grpcServer) Wait() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	<-stopped
}
