// Package fleet implements the Worker Fleet & Lease Manager: a pool of
// per-tenant Chromium worker processes, their debug ports, and the
// exclusive lease that binds a tenant to a worker.
package fleet

import (
	"fmt"
	"net"
	"sync"

	"github.com/use-agent/browserbridge/apperrors"
)

// PortAllocator hands out ports from a dense, contiguous range.
// allocate returns the lowest free port; release returns a port to the
// pool immediately.
type PortAllocator struct {
	mu   sync.Mutex
	min  int
	max  int
	used map[int]bool
}

// NewPortAllocator validates min <= max and the range is within
// [1, 65535] before constructing the allocator.
func NewPortAllocator(min, max int) (*PortAllocator, error) {
	if min > max {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "port range min must be <= max").
			WithDetail("min", min).WithDetail("max", max)
	}
	if min < 1 || max > 65535 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "port range must be within [1, 65535]").
			WithDetail("min", min).WithDetail("max", max)
	}
	return &PortAllocator{min: min, max: max, used: make(map[int]bool)}, nil
}

// Capacity is the total number of ports in the range.
func (a *PortAllocator) Capacity() int { return a.max - a.min + 1 }

// AllocatedCount is the number of currently allocated ports.
func (a *PortAllocator) AllocatedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

// Allocate returns the lowest free port in the range, or PORT_EXHAUSTED
// if the pool is full.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := a.min; p <= a.max; p++ {
		if !a.used[p] {
			a.used[p] = true
			return p, nil
		}
	}
	return 0, apperrors.New(apperrors.CodePortExhausted, "no free port in range").
		WithDetail("min", a.min).WithDetail("max", a.max)
}

// Release returns port to the free pool, reporting false (and leaving
// state unchanged) if the port was not allocated.
func (a *PortAllocator) Release(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.used[port] {
		return false
	}
	delete(a.used, port)
	return true
}

// AllocateVerified allocates a port and confirms OS-level availability
// by binding to it and immediately releasing the bind; on a bind
// failure it tries the next free port instead of failing outright,
// since the allocator's bookkeeping and the OS's view of port
// occupancy can briefly disagree (e.g. a port lingering in TIME_WAIT
// from an unrelated process).
func (a *PortAllocator) AllocateVerified() (int, error) {
	// Unbindable ports stay reserved until the search ends, so each
	// Allocate moves on to the next free port instead of returning the
	// same lowest one again.
	var rejected []int
	defer func() {
		for _, p := range rejected {
			a.Release(p)
		}
	}()
	for {
		port, err := a.Allocate()
		if err != nil {
			if len(rejected) == 0 {
				return 0, err
			}
			return 0, apperrors.New(apperrors.CodePortExhausted, "no bindable port in range").
				WithDetail("min", a.min).WithDetail("max", a.max)
		}
		if verifyBindable(port) {
			return port, nil
		}
		rejected = append(rejected, port)
	}
}

func verifyBindable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
