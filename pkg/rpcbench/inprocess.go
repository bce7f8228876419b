package rpcbench

import (
	"sync"
)

// InProcessName is the display name of the in-process reference backend.
const InProcessName = "InProcess (Reference)"

// Registry maps addresses to services for the in-process backend, so a
// client can "dial" an address without a listener. One Registry is shared
// by all in-process clients and servers of a process; pass it explicitly.
//
// All access goes through one mutex. It is never held during a call.
type Registry struct {
	mu       sync.Mutex
	services map[string]Service
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register binds svc to address. It returns false if the address is taken.
func (r *Registry) Register(address string, svc Service) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.services == nil {
		r.services = make(map[string]Service)
	}
	if _, taken := r.services[address]; taken {
		return false
	}
	r.services[address] = svc
	return true
}

// Lookup returns the service bound to address.
func (r *Registry) Lookup(address string) (Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[address]
	return svc, ok
}

// Deregister removes the binding for address. The map is released once the
// last binding is gone.
func (r *Registry) Deregister(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.services, address)
	if len(r.services) == 0 {
		r.services = nil
	}
}

// Len returns the number of bound addresses.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.services)
}

// InProcessFactory creates clients and servers that call a Service directly.
// It is the zero-overhead baseline the network backends are compared with.
type InProcessFactory struct {
	registry *Registry
}

// NewInProcessFactory returns a factory bound to registry.
func NewInProcessFactory(registry *Registry) *InProcessFactory {
	if registry == nil {
		registry = NewRegistry()
	}
	return &InProcessFactory{registry: registry}
}

func (f *InProcessFactory) Name() string { return InProcessName }

func (f *InProcessFactory) CreateClient() (Client, error) {
	return &inProcessClient{registry: f.registry}, nil
}

func (f *InProcessFactory) CreateServer(svc Service) (Server, error) {
	return &inProcessServer{
		registry: f.registry,
		service:  svc,
		stopped:  make(chan struct{}),
	}, nil
}

type inProcessClient struct {
	registry *Registry

	mu      sync.Mutex
	service Service
}

// Connect binds to the service registered at address, or to a fresh
// reference service when nothing is registered there.
func (c *inProcessClient) Connect(address string) bool {
	svc, ok := c.registry.Lookup(address)
	if !ok {
		svc = NewReferenceService()
	}

	c.mu.Lock()
	c.service = svc
	c.mu.Unlock()
	return true
}

func (c *inProcessClient) Disconnect() {
	c.mu.Lock()
	c.service = nil
	c.mu.Unlock()
}

func (c *inProcessClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.service != nil
}

func (c *inProcessClient) Service() Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.service
}

type inProcessServer struct {
	registry *Registry
	service  Service

	mu       sync.Mutex
	address  string
	running  bool
	stopped  chan struct{}
	stopOnce sync.Once
}

func (s *inProcessServer) Start(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || !s.registry.Register(address, s.service) {
		return false
	}
	s.address = address
	s.running = true
	return true
}

func (s *inProcessServer) Stop() {
	s.mu.Lock()
	if s.running {
		s.registry.Deregister(s.address)
		s.running = false
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *inProcessServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *inProcessServer) Wait() {
	<-s.stopped
}
