package rpcbench

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/YuminosukeSato/rpcbench/internal/framing"
	"github.com/YuminosukeSato/rpcbench/internal/protocol"
)

// FramedFactory builds clients and servers speaking the framed socket
// protocol with one body codec.
type FramedFactory struct {
	codec  Codec
	cfg    TransportConfig
	logger *Logger
}

// NewFramedFactory returns a framed backend using codec for message bodies.
func NewFramedFactory(codec Codec, cfg TransportConfig, logger *Logger) *FramedFactory {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &FramedFactory{codec: codec, cfg: cfg, logger: logger}
}

func (f *FramedFactory) Name() string { return "Framed (" + f.codec.Name() + ")" }

func (f *FramedFactory) CreateClient() (Client, error) {
	c := &framedClient{
		codec:  f.codec,
		cfg:    f.cfg,
		logger: f.logger.WithFramework(f.Name()),
	}
	c.svc = &framedService{client: c}
	return c, nil
}

func (f *FramedFactory) CreateServer(svc Service) (Server, error) {
	if svc == nil {
		return nil, errors.New("framed server requires a service")
	}
	return newFramedServer(svc, f.codec, f.cfg, f.logger.WithFramework(f.Name())), nil
}

var errConnLost = errors.New("connection lost")

// framedCall is one in-flight call or stream, keyed by frame request ID.
type framedCall struct {
	id   uint64
	in   chan protocol.Envelope // closed by the read loop if the connection drops
	quit chan struct{}          // closed by release
}

type framedClient struct {
	codec  Codec
	cfg    TransportConfig
	logger *Logger
	svc    *framedService

	mu     sync.Mutex // guards conn lifecycle
	conn   net.Conn
	framer *framing.Framer
	done   chan struct{} // closed when the read loop exits

	nextID    atomic.Uint64
	connected atomic.Bool

	pendMu  sync.Mutex
	pending map[uint64]*framedCall
	broken  bool
}

// Connect dials address, retrying until the connect timeout expires.
func (c *framedClient) Connect(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return true
	}

	network, addr, err := ParseAddress(address)
	if err != nil {
		c.logger.Error("invalid address", "address", address, "error", err)
		return false
	}

	conn, err := dialWithRetry(network, addr, c.cfg.ConnectTimeout)
	if err != nil {
		c.logger.Warn("connect failed", "address", address, "error", err)
		return false
	}

	c.conn = conn
	c.framer = framing.NewFramerWithMaxSize(conn, c.cfg.MaxFrameSize)
	c.done = make(chan struct{})
	c.pendMu.Lock()
	c.pending = make(map[uint64]*framedCall)
	c.broken = false
	c.pendMu.Unlock()
	c.connected.Store(true)

	go c.readLoop(c.framer, c.done)

	c.logger.Debug("connected", "network", network, "address", addr)
	return true
}

// dialWithRetry keeps dialing until it succeeds or timeout elapses, so a
// client may start slightly before its server.
func dialWithRetry(network, addr string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		conn, err := net.DialTimeout(network, addr, remaining)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		// Wait a bit before retrying
		time.Sleep(min(100*time.Millisecond, max(time.Until(deadline), 0)))
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return nil, fmt.Errorf("failed to connect to %s after %v: %w", addr, timeout, lastErr)
}

func (c *framedClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Swap(false) {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("close failed", "error", err)
	}
	<-c.done
	c.conn = nil
	c.framer = nil
}

func (c *framedClient) IsConnected() bool {
	if !c.connected.Load() {
		return false
	}
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	return !c.broken
}

func (c *framedClient) Service() Service { return c.svc }

// readLoop routes every incoming envelope to the call that owns its
// request ID.
func (c *framedClient) readLoop(framer *framing.Framer, done chan struct{}) {
	defer close(done)

	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			if c.connected.Load() {
				c.logger.Warn("read failed, dropping connection", "error", err)
			}
			c.failPending()
			return
		}

		var env protocol.Envelope
		if err := env.Unmarshal(frame.Payload); err != nil {
			c.logger.Error("failed to decode envelope", "error", err)
			continue
		}

		c.pendMu.Lock()
		call, ok := c.pending[frame.RequestID]
		c.pendMu.Unlock()
		if !ok {
			c.logger.Debug("envelope for unknown request", "id", frame.RequestID, "kind", env.Kind)
			continue
		}

		select {
		case call.in <- env:
		case <-call.quit:
		}
	}
}

func (c *framedClient) failPending() {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()

	for id, call := range c.pending {
		close(call.in)
		delete(c.pending, id)
	}
	c.broken = true
}

// open registers a new call and sends its opening envelope.
func (c *framedClient) open(method string, body []byte) (*framedCall, error) {
	c.mu.Lock()
	framer := c.framer
	c.mu.Unlock()
	if framer == nil || !c.connected.Load() {
		return nil, errors.New("not connected")
	}

	call := &framedCall{
		id:   c.nextID.Add(1),
		in:   make(chan protocol.Envelope, 16),
		quit: make(chan struct{}),
	}

	c.pendMu.Lock()
	if c.broken {
		c.pendMu.Unlock()
		return nil, errConnLost
	}
	c.pending[call.id] = call
	c.pendMu.Unlock()

	if err := framer.WriteFrame(call.id, protocol.NewCall(method, body).Marshal()); err != nil {
		c.release(call)
		return nil, err
	}
	return call, nil
}

func (c *framedClient) send(call *framedCall, env protocol.Envelope) error {
	c.mu.Lock()
	framer := c.framer
	c.mu.Unlock()
	if framer == nil {
		return errors.New("not connected")
	}
	return framer.WriteFrame(call.id, env.Marshal())
}

func (c *framedClient) release(call *framedCall) {
	c.pendMu.Lock()
	delete(c.pending, call.id)
	c.pendMu.Unlock()
	close(call.quit)
}

// recv waits for the next envelope of call.
func (call *framedCall) recv(ctx context.Context) (protocol.Envelope, ErrorCode, string) {
	select {
	case env, ok := <-call.in:
		if !ok {
			return protocol.Envelope{}, CodeUnavailable, errConnLost.Error()
		}
		return env, CodeOK, ""
	case <-ctx.Done():
		return protocol.Envelope{}, CodeFromContext(ctx.Err()), ctx.Err().Error()
	}
}

// framedService adapts Service calls to envelopes on the client connection.
type framedService struct {
	client *framedClient
}

var _ Service = (*framedService)(nil)

// invokeFramed runs one unary call and decodes the reply into T.
func invokeFramed[T any](ctx context.Context, c *framedClient, method string, req any) Result[T] {
	body, err := c.codec.Marshal(req)
	if err != nil {
		return Failure[T](CodeInternal, fmt.Sprintf("encode %s request: %v", method, err))
	}
	call, err := c.open(method, body)
	if err != nil {
		return Failure[T](CodeUnavailable, err.Error())
	}
	defer c.release(call)

	env, code, msg := call.recv(ctx)
	if code != CodeOK {
		return Failure[T](code, msg)
	}
	return decodeReply[T](c.codec, env)
}

func decodeReply[T any](codec Codec, env protocol.Envelope) Result[T] {
	if env.Kind != protocol.KindReply {
		return Failure[T](CodeInternal, "unexpected "+env.Kind.String()+" envelope")
	}
	if code := ErrorCodeFrom(env.Code); code != CodeOK {
		return Failure[T](code, env.Message)
	}
	var out T
	if err := codec.Unmarshal(env.Body, &out); err != nil {
		return Failure[T](CodeInternal, fmt.Sprintf("decode reply: %v", err))
	}
	return Success(out)
}

func (s *framedService) Echo(ctx context.Context, req EchoRequest) Result[EchoResponse] {
	return invokeFramed[EchoResponse](ctx, s.client, MethodEcho, &req)
}

// EchoAsync completes on another goroutine.
func (s *framedService) EchoAsync(ctx context.Context, req EchoRequest, cb ResponseCallback[EchoResponse]) {
	go func() { cb(s.Echo(ctx, req)) }()
}

func (s *framedService) BatchProcess(ctx context.Context, req BatchRequest) Result[BatchResponse] {
	return invokeFramed[BatchResponse](ctx, s.client, MethodBatchProcess, &req)
}

func (s *framedService) BatchProcessAsync(ctx context.Context, req BatchRequest, cb ResponseCallback[BatchResponse]) {
	go func() { cb(s.BatchProcess(ctx, req)) }()
}

func (s *framedService) StreamData(ctx context.Context, req StreamRequest, onChunk ChunkCallback, onComplete CompletionCallback) {
	c := s.client
	body, err := c.codec.Marshal(&req)
	if err != nil {
		onComplete(CodeInternal, err.Error())
		return
	}
	call, err := c.open(MethodStreamData, body)
	if err != nil {
		onComplete(CodeUnavailable, err.Error())
		return
	}
	defer c.release(call)

	s.receiveChunks(ctx, call, onChunk, onComplete)
}

// receiveChunks delivers chunk envelopes until the terminating reply.
func (s *framedService) receiveChunks(ctx context.Context, call *framedCall, onChunk ChunkCallback, onComplete CompletionCallback) {
	codec := s.client.codec
	for {
		env, code, msg := call.recv(ctx)
		if code != CodeOK {
			onComplete(code, msg)
			return
		}
		switch env.Kind {
		case protocol.KindChunk:
			var chunk DataChunk
			if err := codec.Unmarshal(env.Body, &chunk); err != nil {
				onComplete(CodeInternal, fmt.Sprintf("decode chunk: %v", err))
				return
			}
			onChunk(chunk)
		case protocol.KindReply:
			onComplete(ErrorCodeFrom(env.Code), env.Message)
			return
		default:
			onComplete(CodeInternal, "unexpected "+env.Kind.String()+" envelope")
			return
		}
	}
}

// pump forwards chunks to the server and half-closes the stream once the
// producer closes the channel. It gives up when the call is released.
func (s *framedService) pump(ctx context.Context, call *framedCall, chunks <-chan DataChunk) error {
	c := s.client
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return c.send(call, protocol.NewEnd())
			}
			body, err := c.codec.Marshal(&chunk)
			if err != nil {
				return fmt.Errorf("encode chunk %d: %w", chunk.SequenceNumber, err)
			}
			if err := c.send(call, protocol.NewChunk(body)); err != nil {
				return err
			}
		case <-call.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *framedService) UploadData(ctx context.Context, chunks <-chan DataChunk, cb ResponseCallback[UploadResponse]) {
	c := s.client
	call, err := c.open(MethodUploadData, nil)
	if err != nil {
		cb(Failure[UploadResponse](CodeUnavailable, err.Error()))
		return
	}
	defer c.release(call)

	if err := s.pump(ctx, call, chunks); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			cb(Failure[UploadResponse](CodeFromContext(ctxErr), ctxErr.Error()))
			return
		}
		cb(Failure[UploadResponse](CodeUnavailable, err.Error()))
		return
	}

	env, code, msg := call.recv(ctx)
	if code != CodeOK {
		cb(Failure[UploadResponse](code, msg))
		return
	}
	cb(decodeReply[UploadResponse](c.codec, env))
}

func (s *framedService) BidirectionalStream(ctx context.Context, chunks <-chan DataChunk, onChunk ChunkCallback, onComplete CompletionCallback) {
	c := s.client
	call, err := c.open(MethodBidirectionalStream, nil)
	if err != nil {
		onComplete(CodeUnavailable, err.Error())
		return
	}
	defer c.release(call)

	go func() {
		if err := s.pump(ctx, call, chunks); err != nil {
			c.logger.Debug("bidi send side stopped", "id", call.id, "error", err)
		}
	}()

	s.receiveChunks(ctx, call, onChunk, onComplete)
}
