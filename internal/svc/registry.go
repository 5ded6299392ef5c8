// Package svc provides the lifecycle registry every DNA role (Ingestor,
// Compactor, Server) uses to start its sub-services together and expose a
// combined health status, in the style of the teacher's
// shared.ServiceRegistry used by beacon-chain/node, validator/node, and
// slasher/node.
package svc

import (
	"context"
	"fmt"
	"sync"
)

// Service is anything with start/stop lifecycle and a health check. Start
// must not block; long-running work belongs in a goroutine the service
// manages internally and tears down on Stop.
type Service interface {
	Start()
	Stop() error
	Status() error
}

// Registry starts, stops, and health-checks a fixed set of named services.
type Registry struct {
	mu       sync.Mutex
	services []namedService
}

type namedService struct {
	name    string
	service Service
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a service under name. Services start in registration order
// and stop in reverse order.
func (r *Registry) Register(name string, s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, namedService{name: name, service: s})
}

// StartAll starts every registered service in registration order.
func (r *Registry) StartAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ns := range r.services {
		ns.service.Start()
	}
}

// StopAll stops every registered service in reverse registration order,
// collecting the first error encountered while still attempting to stop
// the rest.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for i := len(r.services) - 1; i >= 0; i-- {
		if err := r.services[i].service.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("svc: stop %s: %w", r.services[i].name, err)
		}
	}
	return firstErr
}

// Statuses returns every registered service's current health, keyed by
// name, for the /healthz handler to render.
func (r *Registry) Statuses() map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]error, len(r.services))
	for _, ns := range r.services {
		out[ns.name] = ns.service.Status()
	}
	return out
}

// RunService adapts a blocking, context-cancelled run loop (the shape
// Ingestor.Run and compactor.Service.Run both have) into the Service
// interface: Start launches the loop in a goroutine, Stop cancels its
// context and waits for it to return, Status reports the loop's last
// returned error once it has exited.
type RunService struct {
	run    func(ctx context.Context) error
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	lastErr error
	exited  bool
}

// NewRunService wraps run.
func NewRunService(run func(ctx context.Context) error) *RunService {
	return &RunService{run: run, done: make(chan struct{})}
}

func (r *RunService) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		defer close(r.done)
		err := r.run(ctx)
		r.mu.Lock()
		r.lastErr = err
		r.exited = true
		r.mu.Unlock()
	}()
}

func (r *RunService) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
	return r.Status()
}

func (r *RunService) Status() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exited {
		return nil
	}
	return r.lastErr
}
