package rpcbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/YuminosukeSato/rpcbench/internal/framing"
	"github.com/YuminosukeSato/rpcbench/internal/protocol"
)

type framedServer struct {
	service Service
	codec   Codec
	cfg     TransportConfig
	logger  *Logger

	mu         sync.Mutex
	ln         net.Listener
	socketPath string
	running    bool
	conns      map[net.Conn]struct{}
	cancel     context.CancelFunc
	wg         conc.WaitGroup
	stopped    chan struct{}
}

func newFramedServer(svc Service, codec Codec, cfg TransportConfig, logger *Logger) *framedServer {
	return &framedServer{
		service: svc,
		codec:   codec,
		cfg:     cfg,
		logger:  logger,
		stopped: make(chan struct{}),
	}
}

func (s *framedServer) Start(address string) bool {
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
		perm := os.FileMode(s.cfg.SocketPermissions)
		if perm == 0 {
			perm = 0600
		}
		if err := os.Chmod(addr, perm); err != nil {
			s.logger.Warn("failed to set socket permissions", "path", addr, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.ln = ln
	s.cancel = cancel
	s.conns = make(map[net.Conn]struct{})
	// Waiters that arrived before Start keep the channel until Stop closes
	// it; only a restart after Stop needs a fresh one.
	select {
	case <-s.stopped:
		s.stopped = make(chan struct{})
	default:
	}
	s.running = true

	s.wg.Go(func() { s.acceptLoop(ctx, ln) })

	s.logger.Info("framed server listening", "network", network, "address", ln.Addr().String())
	return true
}

// prepareSocketPath removes a stale socket file. A socket that still
// accepts connections belongs to a live server and is left alone.
func prepareSocketPath(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat socket file: %w", err)
	}

	if conn, err := net.DialTimeout("unix", path, 100*time.Millisecond); err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is in use", path)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove socket file: %w", err)
	}
	return nil
}

func (s *framedServer) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("accept failed", "error", err)
			}
			return
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Go(func() {
			s.serveConn(ctx, conn)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		})
	}
}

// inboundStream receives the client half of an upload or bidi stream.
type inboundStream struct {
	chunks chan DataChunk
	done   chan struct{} // closed when the handler returns
	closed bool
}

// serveConn reads envelopes until the connection closes. Calls run on
// their own goroutines so stream chunks keep flowing while a handler is
// busy.
func (s *framedServer) serveConn(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	framer := framing.NewFramerWithMaxSize(conn, s.cfg.MaxFrameSize)
	streams := make(map[uint64]*inboundStream)
	var handlers conc.WaitGroup

	// Streams still open when the connection drops stay unclosed; their
	// handlers end through ctx with a non-OK code.
	defer func() {
		cancel()
		handlers.Wait()
		conn.Close()
	}()

	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug("connection read failed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}

		var env protocol.Envelope
		if err := env.Unmarshal(frame.Payload); err != nil {
			s.logger.Warn("malformed envelope", "error", err)
			continue
		}
		id := frame.RequestID

		switch env.Kind {
		case protocol.KindCall:
			if env.Method == MethodUploadData || env.Method == MethodBidirectionalStream {
				st := &inboundStream{
					chunks: make(chan DataChunk, 64),
					done:   make(chan struct{}),
				}
				streams[id] = st
				handlers.Go(func() {
					defer close(st.done)
					s.dispatch(ctx, framer, id, env, st.chunks)
				})
				continue
			}
			handlers.Go(func() { s.dispatch(ctx, framer, id, env, nil) })

		case protocol.KindChunk:
			st, ok := streams[id]
			if !ok || st.closed {
				continue
			}
			var chunk DataChunk
			if err := s.codec.Unmarshal(env.Body, &chunk); err != nil {
				s.logger.Warn("dropping undecodable chunk", "id", id, "error", err)
				continue
			}
			select {
			case st.chunks <- chunk:
			case <-st.done:
			}

		case protocol.KindEnd:
			if st, ok := streams[id]; ok && !st.closed {
				close(st.chunks)
				st.closed = true
			}
			delete(streams, id)

		default:
			s.logger.Warn("unexpected envelope from client", "kind", env.Kind)
		}
	}
}

// dispatch runs one call against the service and writes its envelopes.
func (s *framedServer) dispatch(ctx context.Context, framer *framing.Framer, id uint64, env protocol.Envelope, chunks <-chan DataChunk) {
	write := func(e protocol.Envelope) {
		if err := framer.WriteFrame(id, e.Marshal()); err != nil && ctx.Err() == nil {
			s.logger.Debug("write failed", "id", id, "error", err)
		}
	}
	reply := func(code ErrorCode, msg string, body any) {
		var data []byte
		if body != nil {
			var err error
			if data, err = s.codec.Marshal(body); err != nil {
				write(protocol.NewReply(uint8(CodeInternal), "encode reply: "+err.Error(), nil))
				return
			}
		}
		write(protocol.NewReply(uint8(code), msg, data))
	}
	sendChunk := func(c DataChunk) {
		data, err := s.codec.Marshal(&c)
		if err != nil {
			s.logger.Error("encode chunk failed", "error", err)
			return
		}
		write(protocol.NewChunk(data))
	}
	complete := func(code ErrorCode, msg string) { reply(code, msg, nil) }

	switch env.Method {
	case MethodEcho:
		var req EchoRequest
		if err := s.codec.Unmarshal(env.Body, &req); err != nil {
			reply(CodeInvalidArgument, err.Error(), nil)
			return
		}
		res := s.service.Echo(ctx, req)
		reply(res.Code, res.Message, resultBody(res))

	case MethodBatchProcess:
		var req BatchRequest
		if err := s.codec.Unmarshal(env.Body, &req); err != nil {
			reply(CodeInvalidArgument, err.Error(), nil)
			return
		}
		res := s.service.BatchProcess(ctx, req)
		reply(res.Code, res.Message, resultBody(res))

	case MethodStreamData:
		var req StreamRequest
		if err := s.codec.Unmarshal(env.Body, &req); err != nil {
			reply(CodeInvalidArgument, err.Error(), nil)
			return
		}
		// completion is delivered through the channel so a callback fired
		// from another goroutine still ends this handler
		doneCh := make(chan struct{})
		s.service.StreamData(ctx, req, sendChunk, func(code ErrorCode, msg string) {
			complete(code, msg)
			close(doneCh)
		})
		<-doneCh

	case MethodUploadData:
		doneCh := make(chan struct{})
		s.service.UploadData(ctx, chunks, func(res Result[UploadResponse]) {
			reply(res.Code, res.Message, resultBody(res))
			close(doneCh)
		})
		<-doneCh

	case MethodBidirectionalStream:
		doneCh := make(chan struct{})
		s.service.BidirectionalStream(ctx, chunks, sendChunk, func(code ErrorCode, msg string) {
			complete(code, msg)
			close(doneCh)
		})
		<-doneCh

	default:
		reply(CodeNotFound, "unknown method: "+env.Method, nil)
	}
}

// resultBody returns a pointer to the value of an OK result, nil otherwise.
func resultBody[T any](res Result[T]) any {
	if !res.OK() {
		return nil
	}
	return &res.Value
}

func (s *framedServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()

	var err error
	err = multierr.Append(err, s.ln.Close())
	for conn := range s.conns {
		err = multierr.Append(err, conn.Close())
	}
	socketPath := s.socketPath
	s.socketPath = ""
	stopped := s.stopped
	s.mu.Unlock()

	s.wg.Wait()

	if socketPath != "" {
		if rmErr := os.Remove(socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, rmErr)
		}
	}
	if err != nil {
		s.logger.Debug("errors during shutdown", "error", err)
	}

	close(stopped)
	s.logger.Info("framed server stopped")
}

func (s *framedServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *framedServer) Wait() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	<-stopped
}
