package rpcbench

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Batch operations understood by the reference service.
const (
	OpEcho    = "echo"
	OpReverse = "reverse"
	OpFail    = "fail"
)

// ReferenceService is the canonical Service implementation. Every backend
// serves it, so backends differ only in how calls reach it.
type ReferenceService struct{}

// NewReferenceService returns a ready reference service.
func NewReferenceService() *ReferenceService {
	return &ReferenceService{}
}

var _ Service = (*ReferenceService)(nil)

func (s *ReferenceService) Echo(_ context.Context, req EchoRequest) Result[EchoResponse] {
	return Success(EchoResponse{
		Message:         req.Message,
		ClientTimestamp: req.Timestamp,
		ServerTimestamp: NowNanos(),
		SequenceNumber:  req.SequenceNumber,
	})
}

func (s *ReferenceService) EchoAsync(ctx context.Context, req EchoRequest, cb ResponseCallback[EchoResponse]) {
	cb(s.Echo(ctx, req))
}

// StreamData generates ChunkCount chunks of random data, seeding each chunk
// with its sequence number.
func (s *ReferenceService) StreamData(ctx context.Context, req StreamRequest, onChunk ChunkCallback, onComplete CompletionCallback) {
	delay := time.Duration(req.DelayMs) * time.Millisecond

	for i := uint32(0); i < req.ChunkCount; i++ {
		if err := ctx.Err(); err != nil {
			onComplete(CodeFromContext(err), err.Error())
			return
		}
		onChunk(NewDataChunk(i, GenerateRandomData(int(req.ChunkSize), uint64(i))))

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				onComplete(CodeFromContext(ctx.Err()), ctx.Err().Error())
				return
			}
		}
	}
	onComplete(CodeOK, "")
}

// UploadData drains chunks until the producer closes the channel, checking
// every checksum.
func (s *ReferenceService) UploadData(ctx context.Context, chunks <-chan DataChunk, cb ResponseCallback[UploadResponse]) {
	start := time.Now()
	resp := UploadResponse{ChecksumValid: true}

	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				resp.DurationNs = time.Since(start).Nanoseconds()
				cb(Success(resp))
				return
			}
			resp.TotalBytes += uint64(len(c.Data))
			resp.ChunkCount++
			if !VerifyChunk(c) {
				resp.ChecksumValid = false
			}
		case <-ctx.Done():
			cb(Failure[UploadResponse](CodeFromContext(ctx.Err()), ctx.Err().Error()))
			return
		}
	}
}

// BidirectionalStream echoes every received chunk back, restamped. The
// stream completes with CodeInvalidArgument if any chunk failed its
// checksum.
func (s *ReferenceService) BidirectionalStream(ctx context.Context, chunks <-chan DataChunk, onChunk ChunkCallback, onComplete CompletionCallback) {
	var bad []uint32
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				if len(bad) > 0 {
					onComplete(CodeInvalidArgument, fmt.Sprintf("checksum mismatch on chunks %v", bad))
					return
				}
				onComplete(CodeOK, "")
				return
			}
			if !VerifyChunk(c) {
				bad = append(bad, c.SequenceNumber)
			}
			c.Timestamp = NowNanos()
			onChunk(c)
		case <-ctx.Done():
			onComplete(CodeFromContext(ctx.Err()), ctx.Err().Error())
			return
		}
	}
}

func (s *ReferenceService) BatchProcess(_ context.Context, req BatchRequest) Result[BatchResponse] {
	resp := BatchResponse{Results: make([]BatchResult, 0, len(req.Items))}

	for _, item := range req.Items {
		res := BatchResult{ID: item.ID, Success: true}
		switch item.Operation {
		case OpEcho:
			res.ResultData = slices.Clone(item.Data)
		case OpReverse:
			res.ResultData = slices.Clone(item.Data)
			slices.Reverse(res.ResultData)
		case OpFail:
			res.Success = false
			res.ErrorMessage = "Requested failure"
		default:
			res.Success = false
			res.ErrorMessage = "Unknown operation: " + item.Operation
		}

		resp.Results = append(resp.Results, res)
		resp.TotalProcessed++
		if !res.Success {
			resp.TotalFailed++
			if req.FailOnError {
				break
			}
		}
	}
	return Success(resp)
}

func (s *ReferenceService) BatchProcessAsync(ctx context.Context, req BatchRequest, cb ResponseCallback[BatchResponse]) {
	cb(s.BatchProcess(ctx, req))
}

// CodeFromContext maps a context error onto an ErrorCode.
func CodeFromContext(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
