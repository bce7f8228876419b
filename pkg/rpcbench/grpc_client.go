package rpcbench

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// GRPCName is the display name of the gRPC backend.
const GRPCName = "gRPC"

// GRPCFactory builds gRPC clients and servers. Messages use protobuf wire
// encoding through ProtobufCodec.
type GRPCFactory struct {
	cfg    TransportConfig
	codec  Codec
	logger *Logger
}

// NewGRPCFactory returns the gRPC backend.
func NewGRPCFactory(cfg TransportConfig, logger *Logger) *GRPCFactory {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &GRPCFactory{cfg: cfg, codec: &ProtobufCodec{}, logger: logger.WithFramework(GRPCName)}
}

func (f *GRPCFactory) Name() string { return GRPCName }

func (f *GRPCFactory) CreateClient() (Client, error) {
	c := &grpcClient{cfg: f.cfg, codec: f.codec, logger: f.logger}
	c.svc = &grpcService{client: c}
	return c, nil
}

func (f *GRPCFactory) CreateServer(svc Service) (Server, error) {
	if svc == nil {
		return nil, errors.New("grpc server requires a service")
	}
	return newGRPCServer(svc, f.codec, f.cfg, f.logger), nil
}

type grpcClient struct {
	cfg    TransportConfig
	codec  Codec
	logger *Logger
	svc    *grpcService

	mu   sync.RWMutex
	conn *grpc.ClientConn
}

// grpcTarget turns an address into a gRPC dial target.
func grpcTarget(address string) (string, error) {
	network, addr, err := ParseAddress(address)
	if err != nil {
		return "", err
	}
	if network == "unix" {
		return "unix://" + addr, nil
	}
	return "passthrough:///" + addr, nil
}

// Connect dials address and waits until the channel is READY or the
// connect timeout expires.
func (c *grpcClient) Connect(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return true
	}

	target, err := grpcTarget(address)
	if err != nil {
		c.logger.Error("invalid address", "address", address, "error", err)
		return false
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(c.codec)),
	}
	if c.cfg.KeepaliveTime > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                c.cfg.KeepaliveTime,
			Timeout:             c.cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}))
	}
	if c.cfg.MaxFrameSize > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(c.cfg.MaxFrameSize),
			grpc.MaxCallSendMsgSize(c.cfg.MaxFrameSize),
		))
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		c.logger.Error("failed to create grpc client", "target", target, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	if !waitForReady(ctx, conn) {
		c.logger.Warn("connect failed", "target", target, "state", conn.GetState().String(), "timeout", c.cfg.ConnectTimeout)
		_ = conn.Close()
		return false
	}

	c.conn = conn
	c.logger.Debug("connected", "target", target)
	return true
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) bool {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return true
		case connectivity.Shutdown:
			return false
		case connectivity.Idle:
			conn.Connect()
		}
		if !conn.WaitForStateChange(ctx, state) {
			return false
		}
	}
}

func (c *grpcClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("close failed", "error", err)
	}
	c.conn = nil
}

func (c *grpcClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.GetState() != connectivity.Shutdown
}

func (c *grpcClient) Service() Service { return c.svc }

func (c *grpcClient) getConn() *grpc.ClientConn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

var errNotConnected = errors.New("not connected")

type grpcService struct {
	client *grpcClient
}

var _ Service = (*grpcService)(nil)

func invokeGRPC[T any](ctx context.Context, c *grpcClient, method string, req any) Result[T] {
	conn := c.getConn()
	if conn == nil {
		return Failure[T](CodeUnavailable, errNotConnected.Error())
	}
	var out T
	if err := conn.Invoke(ctx, grpcMethod(method), req, &out); err != nil {
		code, msg := fromGRPCError(err)
		return Failure[T](code, msg)
	}
	return Success(out)
}

func (s *grpcService) Echo(ctx context.Context, req EchoRequest) Result[EchoResponse] {
	return invokeGRPC[EchoResponse](ctx, s.client, MethodEcho, &req)
}

// EchoAsync completes on another goroutine.
func (s *grpcService) EchoAsync(ctx context.Context, req EchoRequest, cb ResponseCallback[EchoResponse]) {
	go func() { cb(s.Echo(ctx, req)) }()
}

func (s *grpcService) BatchProcess(ctx context.Context, req BatchRequest) Result[BatchResponse] {
	return invokeGRPC[BatchResponse](ctx, s.client, MethodBatchProcess, &req)
}

func (s *grpcService) BatchProcessAsync(ctx context.Context, req BatchRequest, cb ResponseCallback[BatchResponse]) {
	go func() { cb(s.BatchProcess(ctx, req)) }()
}

func (s *grpcService) newStream(ctx context.Context, desc *grpc.StreamDesc) (grpc.ClientStream, error) {
	conn := s.client.getConn()
	if conn == nil {
		return nil, errNotConnected
	}
	return conn.NewStream(ctx, desc, grpcMethod(desc.StreamName))
}

// recvAll delivers server-sent chunks until the stream ends.
func recvAll(stream grpc.ClientStream, onChunk ChunkCallback, onComplete CompletionCallback) {
	for {
		var c DataChunk
		err := stream.RecvMsg(&c)
		if errors.Is(err, io.EOF) {
			onComplete(CodeOK, "")
			return
		}
		if err != nil {
			onComplete(fromGRPCError(err))
			return
		}
		onChunk(c)
	}
}

func (s *grpcService) StreamData(ctx context.Context, req StreamRequest, onChunk ChunkCallback, onComplete CompletionCallback) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.newStream(ctx, streamDataDesc)
	if err != nil {
		onComplete(CodeUnavailable, err.Error())
		return
	}
	if err := stream.SendMsg(&req); err != nil && !errors.Is(err, io.EOF) {
		onComplete(fromGRPCError(err))
		return
	}
	if err := stream.CloseSend(); err != nil {
		onComplete(fromGRPCError(err))
		return
	}
	recvAll(stream, onChunk, onComplete)
}

// sendAll forwards chunks and half-closes. io.EOF from SendMsg means the
// server already finished; the real status comes from RecvMsg.
func sendAll(ctx context.Context, stream grpc.ClientStream, chunks <-chan DataChunk) error {
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return stream.CloseSend()
			}
			if err := stream.SendMsg(&c); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *grpcService) UploadData(ctx context.Context, chunks <-chan DataChunk, cb ResponseCallback[UploadResponse]) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.newStream(ctx, uploadDesc)
	if err != nil {
		cb(Failure[UploadResponse](CodeUnavailable, err.Error()))
		return
	}
	if err := sendAll(ctx, stream, chunks); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			cb(Failure[UploadResponse](CodeFromContext(ctxErr), ctxErr.Error()))
			return
		}
		cb(Failure[UploadResponse](fromGRPCError(err)))
		return
	}

	var resp UploadResponse
	if err := stream.RecvMsg(&resp); err != nil {
		cb(Failure[UploadResponse](fromGRPCError(err)))
		return
	}
	cb(Success(resp))
}

func (s *grpcService) BidirectionalStream(ctx context.Context, chunks <-chan DataChunk, onChunk ChunkCallback, onComplete CompletionCallback) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.newStream(ctx, bidiDesc)
	if err != nil {
		onComplete(CodeUnavailable, err.Error())
		return
	}

	go func() {
		if err := sendAll(ctx, stream, chunks); err != nil && ctx.Err() == nil {
			s.client.logger.Debug("bidi send side stopped", "error", err)
		}
	}()

	recvAll(stream, onChunk, onComplete)
}
