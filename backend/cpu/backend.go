// Package cpu provides the software-emulated compute backend.
//
// Kernels run as Go functions, data-parallel over work items on a
// work-stealing goroutine pool, with compare-and-swap loops standing in
// for device atomics. The backend exists so every deployment can serve
// requests, and so the full algorithm is testable without a GPU.
package cpu

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/gridpath/gridpath/backend"
)

func init() {
	backend.Register(backend.BackendCPU, func() backend.ComputeBackend {
		return New()
	})
}

// Backend executes kernels on the host CPU.
type Backend struct {
	mu          sync.Mutex
	initialized bool
	desc        backend.Descriptor
	pool        *workerPool
	acct        backend.Accounting
}

// New creates an uninitialized CPU backend.
func New() *Backend { return &Backend{} }

// Name returns "cpu".
func (b *Backend) Name() string { return backend.BackendCPU }

// Init prepares the worker pool and the device descriptor. The CPU is
// always present, so Init never reports platform errors.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}

	cores := runtime.GOMAXPROCS(0)
	b.desc = backend.Descriptor{
		Backend:          backend.BackendCPU,
		Name:             fmt.Sprintf("software emulation (%d threads)", cores),
		Class:            backend.ClassCPU,
		ComputeUnits:     cores,
		MaxWorkgroupSize: 1,
	}
	b.pool = newWorkerPool(cores)
	b.initialized = true

	backend.Logger().Info("cpu backend initialized", "threads", cores)
	return nil
}

// Close stops the worker pool. The backend can be re-initialized.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return
	}
	b.pool.close()
	b.pool = nil
	b.initialized = false
}

// Devices lists the single host device.
func (b *Backend) Devices() []backend.Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	return []backend.Descriptor{b.desc}
}

// Device returns the host device descriptor.
func (b *Backend) Device() backend.Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.desc
}

// Stats exposes buffer accounting for metrics and tests.
func (b *Backend) Stats() backend.Stats { return b.acct.Snapshot() }

// OpenSession starts a compute session on the host device.
func (b *Backend) OpenSession(ctx context.Context) (backend.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil, backend.ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{dev: b.desc, pool: b.pool, acct: &b.acct}, nil
}
