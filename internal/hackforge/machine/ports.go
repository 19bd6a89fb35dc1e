package machine

import (
	"sync"

	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
)

// PortAllocator hands out host ports from a fixed range. It is the only
// shared mutable state involved in machine creation, guarded by a single
// mutex so concurrent campaign creation never double-allocates a port.
type PortAllocator struct {
	mu    sync.Mutex
	min   int
	max   int
	next  int
	inUse map[int]bool
}

// NewPortAllocator creates an allocator for the inclusive range [min, max]
func NewPortAllocator(min, max int) *PortAllocator {
	return &PortAllocator{
		min:   min,
		max:   max,
		next:  min,
		inUse: make(map[int]bool),
	}
}

// MarkUsed reserves a specific port, used to seed the allocator from
// persisted machine records at startup. Out-of-range ports are ignored.
func (a *PortAllocator) MarkUsed(port int) {
	if port < a.min || port > a.max {
		return
	}
	a.mu.Lock()
	a.inUse[port] = true
	a.mu.Unlock()
}

// Reserve allocates the next free port. Returns ErrNoFreePorts when the
// range is exhausted.
func (a *PortAllocator) Reserve() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.max - a.min + 1
	for i := 0; i < size; i++ {
		candidate := a.next
		a.next++
		if a.next > a.max {
			a.next = a.min
		}
		if !a.inUse[candidate] {
			a.inUse[candidate] = true
			return candidate, nil
		}
	}

	return 0, hferrors.Wrapf(hferrors.ErrNoFreePorts, "range %d-%d exhausted", a.min, a.max)
}

// Release returns a port to the free pool. Releasing an unknown port is a
// no-op so delete retries stay idempotent.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	delete(a.inUse, port)
	a.mu.Unlock()
}

// InUse reports how many ports are currently reserved
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
