package rpcbench

import (
	"context"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	svc := NewReferenceService()

	if !r.Register("a", svc) {
		t.Fatal("Register(a) failed on empty registry")
	}
	if r.Register("a", svc) {
		t.Error("Register(a) succeeded twice")
	}
	if got, ok := r.Lookup("a"); !ok || got != Service(svc) {
		t.Errorf("Lookup(a) = %v, %v", got, ok)
	}
	if _, ok := r.Lookup("b"); ok {
		t.Error("Lookup(b) found an unregistered address")
	}

	r.Deregister("a")
	if r.Len() != 0 {
		t.Errorf("Len() = %d after deregistering the last address", r.Len())
	}
	if r.services != nil {
		t.Error("registry map not released when empty")
	}
	if !r.Register("a", svc) {
		t.Error("Register(a) failed after Deregister")
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Register("shared", NewReferenceService()) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d registrations won the same address, want 1", wins)
	}
}

func TestInProcessServerLifecycle(t *testing.T) {
	registry := NewRegistry()
	f := NewInProcessFactory(registry)

	srv, _ := f.CreateServer(NewReferenceService())
	if !srv.Start("bench") {
		t.Fatal("Start failed")
	}
	if !srv.IsRunning() || registry.Len() != 1 {
		t.Fatalf("running=%v registered=%d", srv.IsRunning(), registry.Len())
	}

	other, _ := f.CreateServer(NewReferenceService())
	if other.Start("bench") {
		t.Error("second server bound an address already in use")
	}

	srv.Stop()
	srv.Stop() // idempotent
	srv.Wait()
	if srv.IsRunning() || registry.Len() != 0 {
		t.Errorf("after Stop: running=%v registered=%d", srv.IsRunning(), registry.Len())
	}
}

type countingService struct {
	*ReferenceService
	echoes int
}

func (s *countingService) Echo(ctx context.Context, req EchoRequest) Result[EchoResponse] {
	s.echoes++
	return s.ReferenceService.Echo(ctx, req)
}

func TestInProcessClientRouting(t *testing.T) {
	registry := NewRegistry()
	f := NewInProcessFactory(registry)

	counting := &countingService{ReferenceService: NewReferenceService()}
	srv, _ := f.CreateServer(counting)
	srv.Start("routed")
	defer srv.Stop()

	t.Run("registered address", func(t *testing.T) {
		client, _ := f.CreateClient()
		if !client.Connect("routed") {
			t.Fatal("Connect failed")
		}
		client.Service().Echo(context.Background(), EchoRequest{Message: "x"})
		if counting.echoes != 1 {
			t.Errorf("registered service saw %d calls, want 1", counting.echoes)
		}
	})

	t.Run("unregistered address falls back to reference", func(t *testing.T) {
		client, _ := f.CreateClient()
		if !client.Connect("nowhere") {
			t.Fatal("Connect failed")
		}
		res := client.Service().Echo(context.Background(), EchoRequest{Message: "y"})
		if !res.OK() || res.Value.Message != "y" {
			t.Errorf("Echo = %+v", res)
		}
		if counting.echoes != 1 {
			t.Error("fallback call reached the registered service")
		}
	})

	t.Run("disconnect", func(t *testing.T) {
		client, _ := f.CreateClient()
		client.Connect("routed")
		client.Disconnect()
		if client.IsConnected() || client.Service() != nil {
			t.Error("client still connected after Disconnect")
		}
	})
}
