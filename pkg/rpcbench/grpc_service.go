package rpcbench

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCServiceName is the fully qualified gRPC service name, matching
// api/v1/benchmark.proto.
const GRPCServiceName = "rpcbench.v1.BenchmarkService"

func grpcMethod(name string) string {
	return "/" + GRPCServiceName + "/" + name
}

// benchmarkServiceDesc is written by hand instead of generated; messages
// are encoded by ProtobufCodec.
var benchmarkServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodEcho, Handler: grpcEchoHandler},
		{MethodName: MethodBatchProcess, Handler: grpcBatchHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: MethodStreamData, Handler: grpcStreamDataHandler, ServerStreams: true},
		{StreamName: MethodUploadData, Handler: grpcUploadHandler, ClientStreams: true},
		{StreamName: MethodBidirectionalStream, Handler: grpcBidiHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "api/v1/benchmark.proto",
}

var (
	streamDataDesc = &benchmarkServiceDesc.Streams[0]
	uploadDesc     = &benchmarkServiceDesc.Streams[1]
	bidiDesc       = &benchmarkServiceDesc.Streams[2]
)

var toGRPCCode = map[ErrorCode]codes.Code{
	CodeOK:               codes.OK,
	CodeInvalidArgument:  codes.InvalidArgument,
	CodeDeadlineExceeded: codes.DeadlineExceeded,
	CodeNotFound:         codes.NotFound,
	CodeInternal:         codes.Internal,
	CodeUnavailable:      codes.Unavailable,
}

// FromGRPCCode maps a gRPC status code onto ErrorCode. Codes without a
// counterpart become CodeInternal.
func FromGRPCCode(c codes.Code) ErrorCode {
	for ec, gc := range toGRPCCode {
		if gc == c {
			return ec
		}
	}
	return CodeInternal
}

// ToGRPCCode maps an ErrorCode onto a gRPC status code.
func ToGRPCCode(c ErrorCode) codes.Code {
	if gc, ok := toGRPCCode[c]; ok {
		return gc
	}
	return codes.Internal
}

// statusError converts an outcome to a gRPC error, nil for CodeOK.
func statusError(code ErrorCode, msg string) error {
	if code == CodeOK {
		return nil
	}
	return status.Error(ToGRPCCode(code), msg)
}

// fromGRPCError splits a gRPC error into ErrorCode and message.
func fromGRPCError(err error) (ErrorCode, string) {
	if err == nil {
		return CodeOK, ""
	}
	st, _ := status.FromError(err)
	return FromGRPCCode(st.Code()), st.Message()
}

func grpcEchoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EchoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		res := srv.(Service).Echo(ctx, *req.(*EchoRequest))
		if !res.OK() {
			return nil, statusError(res.Code, res.Message)
		}
		return &res.Value, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcMethod(MethodEcho)}
	return interceptor(ctx, in, info, handler)
}

func grpcBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		res := srv.(Service).BatchProcess(ctx, *req.(*BatchRequest))
		if !res.OK() {
			return nil, statusError(res.Code, res.Message)
		}
		return &res.Value, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcMethod(MethodBatchProcess)}
	return interceptor(ctx, in, info, handler)
}

// completion collects the terminal outcome of a callback-style call, which
// may arrive on any goroutine.
type completion struct {
	code ErrorCode
	msg  string
}

func grpcStreamDataHandler(srv any, stream grpc.ServerStream) error {
	var req StreamRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}

	var sendErr error
	done := make(chan completion, 1)
	srv.(Service).StreamData(stream.Context(), req,
		func(c DataChunk) {
			if sendErr == nil {
				sendErr = stream.SendMsg(&c)
			}
		},
		func(code ErrorCode, msg string) { done <- completion{code, msg} },
	)
	res := <-done
	if sendErr != nil {
		return sendErr
	}
	return statusError(res.code, res.msg)
}

// recvChunks feeds client-sent chunks into a channel. The channel is closed
// only when the client half-closes; any other receive error cancels the
// call instead, so the service completes with a non-OK code.
func recvChunks(ctx context.Context, cancel context.CancelFunc, stream grpc.ServerStream, stop <-chan struct{}) <-chan DataChunk {
	chunks := make(chan DataChunk, 64)
	go func() {
		for {
			var c DataChunk
			if err := stream.RecvMsg(&c); err != nil {
				if errors.Is(err, io.EOF) {
					close(chunks)
				} else {
					cancel()
				}
				return
			}
			select {
			case chunks <- c:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks
}

func grpcUploadHandler(srv any, stream grpc.ServerStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)

	done := make(chan Result[UploadResponse], 1)
	srv.(Service).UploadData(ctx, recvChunks(ctx, cancel, stream, stop), func(r Result[UploadResponse]) {
		done <- r
	})
	res := <-done
	if !res.OK() {
		return statusError(res.Code, res.Message)
	}
	return stream.SendMsg(&res.Value)
}

func grpcBidiHandler(srv any, stream grpc.ServerStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)

	var sendErr error
	done := make(chan completion, 1)
	srv.(Service).BidirectionalStream(ctx, recvChunks(ctx, cancel, stream, stop),
		func(c DataChunk) {
			if sendErr == nil {
				sendErr = stream.SendMsg(&c)
			}
		},
		func(code ErrorCode, msg string) { done <- completion{code, msg} },
	)
	res := <-done
	if sendErr != nil && !errors.Is(sendErr, io.EOF) {
		return sendErr
	}
	return statusError(res.code, res.msg)
}
