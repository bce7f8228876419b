package rpcbench

import "context"

// ResponseCallback receives the single outcome of an asynchronous call.
type ResponseCallback[T any] func(Result[T])

// ChunkCallback receives stream elements in the order the backend delivers
// them.
type ChunkCallback func(DataChunk)

// CompletionCallback ends a stream. It is called exactly once, after the
// last ChunkCallback of that stream.
type CompletionCallback func(code ErrorCode, message string)

// Service is the RPC surface under test.
//
// Callbacks may run inline before the method returns or later on another
// goroutine. Callers must not assume either: wait on a channel the callback
// writes to, never on the method's return.
//
// Upload and bidirectional producers are channels the caller fills and
// closes to end its side of the stream. Implementations drain them until
// closed or until ctx is done.
type Service interface {
	Echo(ctx context.Context, req EchoRequest) Result[EchoResponse]
	EchoAsync(ctx context.Context, req EchoRequest, cb ResponseCallback[EchoResponse])

	// StreamData pushes chunks to onChunk and then calls onComplete once.
	StreamData(ctx context.Context, req StreamRequest, onChunk ChunkCallback, onComplete CompletionCallback)

	// UploadData consumes chunks and reports one aggregate response.
	UploadData(ctx context.Context, chunks <-chan DataChunk, cb ResponseCallback[UploadResponse])

	// BidirectionalStream consumes chunks while pushing chunks to onChunk.
	// Completion is signalled only through onComplete; neither stream
	// ending implies it.
	BidirectionalStream(ctx context.Context, chunks <-chan DataChunk, onChunk ChunkCallback, onComplete CompletionCallback)

	BatchProcess(ctx context.Context, req BatchRequest) Result[BatchResponse]
	BatchProcessAsync(ctx context.Context, req BatchRequest, cb ResponseCallback[BatchResponse])
}

// Client owns a connection to one server address and exposes exactly one
// Service bound to it.
type Client interface {
	// Connect reports failure as false; it never panics on an unreachable
	// address.
	Connect(address string) bool
	Disconnect()
	IsConnected() bool
	Service() Service
}

// Server exposes a Service at an address.
type Server interface {
	// Start returns false if the address is already bound or invalid.
	Start(address string) bool
	Stop()
	IsRunning() bool
	// Wait blocks until Stop is called.
	Wait()
}

// Factory builds independent clients and servers for one RPC framework.
type Factory interface {
	Name() string
	CreateClient() (Client, error)
	CreateServer(svc Service) (Server, error)
}

// Wire method names shared by the network backends. The async variants
// travel as their synchronous method.
const (
	MethodEcho                = "Echo"
	MethodStreamData          = "StreamData"
	MethodUploadData          = "UploadData"
	MethodBidirectionalStream = "BidirectionalStream"
	MethodBatchProcess        = "BatchProcess"
)
