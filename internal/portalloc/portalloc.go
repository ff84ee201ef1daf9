// Package portalloc hands out local TCP ports to acquisition sessions so
// that no two concurrently running sessions bind the same port.
package portalloc

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
	"github.com/ahmethakanbesel/histdata/internal/metrics"
)

// ProbeFunc reports whether port is free on the local host.
type ProbeFunc func(port int) bool

// Allocator is a registry of ports currently leased to workers.
type Allocator struct {
	probe ProbeFunc

	mu    sync.Mutex
	inUse map[int]struct{}
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithProbe replaces the default bind-and-close availability check.
func WithProbe(p ProbeFunc) Option {
	return func(a *Allocator) { a.probe = p }
}

// New creates an empty allocator.
func New(opts ...Option) *Allocator {
	a := &Allocator{
		probe: ListenProbe,
		inUse: make(map[int]struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ListenProbe binds 127.0.0.1:port and closes the listener immediately.
func ListenProbe(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Acquire returns the first port in [low, high) that passes the probe and is
// not leased, and records it as leased. It fails with ResourceExhausted when
// the whole range is taken.
func (a *Allocator) Acquire(low, high int) (int, error) {
	if low <= 0 || high <= low || high > 65536 {
		return 0, apperror.New(apperror.ConfigError, fmt.Sprintf("invalid port range [%d, %d)", low, high))
	}
	for port := low; port < high; port++ {
		if a.leased(port) {
			continue
		}
		if !a.probe(port) {
			continue
		}
		if a.record(port) {
			return port, nil
		}
		// Lost the race to another worker between probe and record.
	}
	return 0, apperror.New(apperror.ResourceExhausted, fmt.Sprintf("no available port in range %d-%d", low, high))
}

// Release returns port to the pool. Releasing a port that is not leased is a
// no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inUse[port]; ok {
		delete(a.inUse, port)
		metrics.PortsInUse.Dec()
	}
}

// InUse returns the number of leased ports.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

func (a *Allocator) leased(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inUse[port]
	return ok
}

func (a *Allocator) record(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inUse[port]; ok {
		return false
	}
	a.inUse[port] = struct{}{}
	metrics.PortsInUse.Inc()
	return true
}
