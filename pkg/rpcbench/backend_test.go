package rpcbench

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func testTransport() TransportConfig {
	cfg := DefaultConfig().Transport
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

// freeTCPAddress returns a loopback address nothing is listening on.
func freeTCPAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// startBackend starts a server for f at address and returns a connected
// service. Both are torn down with the test.
func startBackend(t *testing.T, f Factory, address string) Service {
	t.Helper()

	srv, err := f.CreateServer(NewReferenceService())
	if err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	if !srv.Start(address) {
		t.Fatalf("Start(%s) failed", address)
	}
	t.Cleanup(srv.Stop)

	client, err := f.CreateClient()
	if err != nil {
		t.Fatalf("CreateClient failed: %v", err)
	}
	if !client.Connect(address) {
		t.Fatalf("Connect(%s) failed", address)
	}
	t.Cleanup(client.Disconnect)

	if !client.IsConnected() {
		t.Fatal("client reports not connected")
	}
	return client.Service()
}

func networkFactories(t *testing.T) []Factory {
	t.Helper()
	deps := FactoryDeps{Transport: testTransport(), Logger: NewDiscardLogger()}
	var out []Factory
	for _, name := range FrameworkNames() {
		if name == FrameworkInProcess {
			continue
		}
		f, err := NewFactory(name, deps)
		if err != nil {
			t.Fatalf("NewFactory(%s) failed: %v", name, err)
		}
		out = append(out, f)
	}
	return out
}

func TestBackendsOverTCP(t *testing.T) {
	for _, f := range networkFactories(t) {
		t.Run(f.Name(), func(t *testing.T) {
			svc := startBackend(t, f, freeTCPAddress(t))
			exerciseService(t, svc)
		})
	}
}

func TestBackendsOverUnixSocket(t *testing.T) {
	for i, f := range networkFactories(t) {
		t.Run(f.Name(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), fmt.Sprintf("b%d.sock", i))
			svc := startBackend(t, f, "unix://"+path)
			exerciseService(t, svc)
		})
	}
}

func TestInProcessBackend(t *testing.T) {
	f := NewInProcessFactory(NewRegistry())
	exerciseService(t, startBackend(t, f, "inproc-test"))
}

// exerciseService runs every method once and checks the reference
// service's semantics survive the transport.
func exerciseService(t *testing.T, svc Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("Echo", func(t *testing.T) {
		res := svc.Echo(ctx, EchoRequest{Message: "hello", Timestamp: 11, SequenceNumber: 4})
		if !res.OK() {
			t.Fatalf("Echo failed: %v", res.Err())
		}
		if res.Value.Message != "hello" || res.Value.SequenceNumber != 4 || res.Value.ClientTimestamp != 11 {
			t.Errorf("Echo = %+v", res.Value)
		}
	})

	t.Run("EchoAsync", func(t *testing.T) {
		done := make(chan Result[EchoResponse], 1)
		svc.EchoAsync(ctx, EchoRequest{Message: "async", SequenceNumber: 9}, func(r Result[EchoResponse]) {
			done <- r
		})
		select {
		case r := <-done:
			if !r.OK() || r.Value.Message != "async" || r.Value.SequenceNumber != 9 {
				t.Errorf("EchoAsync = %+v", r)
			}
		case <-ctx.Done():
			t.Fatal("EchoAsync callback never fired")
		}
	})

	t.Run("StreamData", func(t *testing.T) {
		var chunks []DataChunk
		done := make(chan ErrorCode, 1)
		svc.StreamData(ctx, StreamRequest{ChunkSize: 512, ChunkCount: 8},
			func(c DataChunk) { chunks = append(chunks, c) },
			func(code ErrorCode, _ string) { done <- code },
		)
		if code := <-done; code != CodeOK {
			t.Fatalf("StreamData completed with %v", code)
		}
		if len(chunks) != 8 {
			t.Fatalf("got %d chunks, want 8", len(chunks))
		}
		for i, c := range chunks {
			if c.SequenceNumber != uint32(i) || len(c.Data) != 512 || !VerifyChunk(c) {
				t.Errorf("chunk %d invalid (seq=%d len=%d)", i, c.SequenceNumber, len(c.Data))
			}
		}
	})

	t.Run("UploadData", func(t *testing.T) {
		in := make(chan DataChunk)
		done := make(chan Result[UploadResponse], 1)
		go svc.UploadData(ctx, in, func(r Result[UploadResponse]) { done <- r })

		var total uint64
		for i := range 5 {
			data := GenerateRandomData(100*(i+1), uint64(i+1))
			total += uint64(len(data))
			in <- NewDataChunk(uint32(i), data)
		}
		close(in)

		r := <-done
		if !r.OK() {
			t.Fatalf("UploadData failed: %v", r.Err())
		}
		if r.Value.TotalBytes != total || r.Value.ChunkCount != 5 || !r.Value.ChecksumValid {
			t.Errorf("UploadData = %+v, want %d bytes in 5 valid chunks", r.Value, total)
		}
	})

	t.Run("UploadDataCorrupted", func(t *testing.T) {
		bad := NewDataChunk(0, []byte("payload"))
		bad.Checksum ^= 1
		done := make(chan Result[UploadResponse], 1)
		svc.UploadData(ctx, chunkChannel(bad), func(r Result[UploadResponse]) { done <- r })

		r := <-done
		if !r.OK() || r.Value.ChecksumValid {
			t.Errorf("UploadData = %+v, want ChecksumValid=false", r)
		}
	})

	t.Run("BidirectionalStream", func(t *testing.T) {
		sent := []DataChunk{
			NewDataChunk(0, []byte("alpha")),
			NewDataChunk(1, []byte("beta")),
			NewDataChunk(2, []byte("gamma")),
		}
		var got []DataChunk
		done := make(chan ErrorCode, 1)
		svc.BidirectionalStream(ctx, chunkChannel(sent...),
			func(c DataChunk) { got = append(got, c) },
			func(code ErrorCode, _ string) { done <- code },
		)
		if code := <-done; code != CodeOK {
			t.Fatalf("BidirectionalStream completed with %v", code)
		}
		if len(got) != len(sent) {
			t.Fatalf("got %d chunks back, want %d", len(got), len(sent))
		}
		for i := range sent {
			if !bytes.Equal(got[i].Data, sent[i].Data) || !VerifyChunk(got[i]) {
				t.Errorf("chunk %d not echoed intact", i)
			}
		}
	})

	t.Run("BidirectionalStreamCorrupted", func(t *testing.T) {
		bad := NewDataChunk(0, []byte("x"))
		bad.Checksum ^= 1
		done := make(chan ErrorCode, 1)
		svc.BidirectionalStream(ctx, chunkChannel(bad),
			func(DataChunk) {},
			func(code ErrorCode, _ string) { done <- code },
		)
		if code := <-done; code != CodeInvalidArgument {
			t.Errorf("completion code = %v, want INVALID_ARGUMENT", code)
		}
	})

	t.Run("BatchProcess", func(t *testing.T) {
		req := BatchRequest{
			Items: []BatchItem{
				{ID: "1", Operation: OpEcho, Data: []byte("abc")},
				{ID: "2", Operation: OpFail},
				{ID: "3", Operation: OpReverse, Data: []byte("abc")},
			},
			FailOnError: true,
		}
		r := svc.BatchProcess(ctx, req)
		if !r.OK() {
			t.Fatalf("BatchProcess failed: %v", r.Err())
		}
		if r.Value.TotalProcessed != 2 || r.Value.TotalFailed != 1 || len(r.Value.Results) != 2 {
			t.Errorf("BatchProcess = %+v", r.Value)
		}
	})

	t.Run("BatchProcessAsync", func(t *testing.T) {
		done := make(chan Result[BatchResponse], 1)
		svc.BatchProcessAsync(ctx, BatchRequest{Items: []BatchItem{{ID: "r", Operation: OpReverse, Data: []byte("ab")}}},
			func(r Result[BatchResponse]) { done <- r })
		r := <-done
		if !r.OK() || len(r.Value.Results) != 1 || string(r.Value.Results[0].ResultData) != "ba" {
			t.Errorf("BatchProcessAsync = %+v", r)
		}
	})
}

func TestServerStartOnBoundAddress(t *testing.T) {
	for _, f := range networkFactories(t) {
		t.Run(f.Name(), func(t *testing.T) {
			addr := freeTCPAddress(t)
			first, _ := f.CreateServer(NewReferenceService())
			if !first.Start(addr) {
				t.Fatalf("first Start(%s) failed", addr)
			}
			defer first.Stop()

			second, _ := f.CreateServer(NewReferenceService())
			if second.Start(addr) {
				second.Stop()
				t.Fatal("second Start on a bound address succeeded")
			}
			if !first.IsRunning() {
				t.Error("first server stopped running")
			}
		})
	}
}

func TestConnectUnreachable(t *testing.T) {
	cfg := testTransport()
	cfg.ConnectTimeout = 200 * time.Millisecond
	deps := FactoryDeps{Transport: cfg, Logger: NewDiscardLogger()}

	for _, name := range []string{FrameworkFramedJSON, FrameworkGRPC} {
		t.Run(name, func(t *testing.T) {
			f, err := NewFactory(name, deps)
			if err != nil {
				t.Fatal(err)
			}
			client, _ := f.CreateClient()
			if client.Connect(freeTCPAddress(t)) {
				client.Disconnect()
				t.Fatal("Connect to an unused port succeeded")
			}
			if client.IsConnected() {
				t.Error("IsConnected after failed Connect")
			}
		})
	}
}

func TestServerWaitReturnsAfterStop(t *testing.T) {
	for _, f := range networkFactories(t) {
		t.Run(f.Name(), func(t *testing.T) {
			srv, _ := f.CreateServer(NewReferenceService())
			if !srv.Start(freeTCPAddress(t)) {
				t.Fatal("Start failed")
			}

			waited := make(chan struct{})
			go func() {
				srv.Wait()
				close(waited)
			}()

			srv.Stop()
			select {
			case <-waited:
			case <-time.After(5 * time.Second):
				t.Fatal("Wait did not return after Stop")
			}
			if srv.IsRunning() {
				t.Error("IsRunning after Stop")
			}
		})
	}
}

func TestServerWaitBeforeStart(t *testing.T) {
	for _, f := range networkFactories(t) {
		t.Run(f.Name(), func(t *testing.T) {
			srv, _ := f.CreateServer(NewReferenceService())

			waiting := make(chan struct{})
			waited := make(chan struct{})
			go func() {
				close(waiting)
				srv.Wait()
				close(waited)
			}()
			<-waiting
			time.Sleep(10 * time.Millisecond)

			if !srv.Start(freeTCPAddress(t)) {
				t.Fatal("Start failed")
			}
			srv.Stop()

			select {
			case <-waited:
			case <-time.After(5 * time.Second):
				t.Fatal("Wait called before Start did not return after Stop")
			}
		})
	}
}

func TestServerRestartWait(t *testing.T) {
	for _, f := range networkFactories(t) {
		t.Run(f.Name(), func(t *testing.T) {
			srv, _ := f.CreateServer(NewReferenceService())
			if !srv.Start(freeTCPAddress(t)) {
				t.Fatal("first Start failed")
			}
			srv.Stop()
			srv.Wait()

			if !srv.Start(freeTCPAddress(t)) {
				t.Fatal("second Start failed")
			}

			waited := make(chan struct{})
			go func() {
				srv.Wait()
				close(waited)
			}()

			select {
			case <-waited:
				t.Fatal("Wait returned while the restarted server runs")
			case <-time.After(50 * time.Millisecond):
			}

			srv.Stop()
			select {
			case <-waited:
			case <-time.After(5 * time.Second):
				t.Fatal("Wait did not return after the second Stop")
			}
		})
	}
}

func TestFramedUnknownMethod(t *testing.T) {
	codec, _ := NewCodec(CodecJSON)
	f := NewFramedFactory(codec, testTransport(), NewDiscardLogger())
	svc := startBackend(t, f, freeTCPAddress(t))

	client := svc.(*framedService).client
	res := invokeFramed[EchoResponse](context.Background(), client, "NoSuchMethod", &EchoRequest{})
	if res.Code != CodeNotFound {
		t.Errorf("code = %v, want NOT_FOUND", res.Code)
	}
}

func TestDisconnectedServiceFails(t *testing.T) {
	codec, _ := NewCodec(CodecMessagePack)
	f := NewFramedFactory(codec, testTransport(), NewDiscardLogger())
	addr := freeTCPAddress(t)

	srv, _ := f.CreateServer(NewReferenceService())
	if !srv.Start(addr) {
		t.Fatal("Start failed")
	}
	client, _ := f.CreateClient()
	if !client.Connect(addr) {
		t.Fatal("Connect failed")
	}
	srv.Stop()
	client.Disconnect()

	res := client.Service().Echo(context.Background(), EchoRequest{Message: "late"})
	if res.OK() {
		t.Fatal("Echo on a disconnected client succeeded")
	}
	if res.Code != CodeUnavailable {
		t.Errorf("code = %v, want UNAVAILABLE", res.Code)
	}
}
