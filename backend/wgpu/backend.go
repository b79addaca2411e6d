// Package wgpu provides the hardware compute backend on top of the
// wgpu HAL. Device discovery goes through the Vulkan backend; kernels
// are WGSL compiled to SPIR-V at first use and cached per device.
package wgpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Register the Vulkan backend via its init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gridpath/gridpath/backend"
)

func init() {
	backend.Register(backend.BackendWGPU, func() backend.ComputeBackend {
		return New()
	})
}

// Backend drives one opened GPU device. The adapter list is captured
// at Init so selection stays deterministic for the process lifetime.
type Backend struct {
	mu          sync.Mutex
	initialized bool

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	desc     backend.Descriptor
	adapters []backend.Descriptor

	programs *programCache
	acct     backend.Accounting
}

// New creates an uninitialized wgpu backend.
func New() *Backend { return &Backend{} }

// Name returns "wgpu".
func (b *Backend) Name() string { return backend.BackendWGPU }

// Init enumerates adapters, applies the selection policy and opens the
// winning device. A missing Vulkan runtime is ErrPlatformUnavailable,
// an empty adapter list is ErrNoDeviceAvailable; both are fatal at
// startup by design of the caller.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}

	halBackend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("%w: vulkan backend not registered", backend.ErrPlatformUnavailable)
	}
	instance, err := halBackend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("%w: create instance: %s", backend.ErrPlatformUnavailable, err)
	}

	exposed := instance.EnumerateAdapters(nil)
	if len(exposed) == 0 {
		instance.Destroy()
		return fmt.Errorf("%w: no adapters exposed", backend.ErrNoDeviceAvailable)
	}

	b.adapters = make([]backend.Descriptor, len(exposed))
	for i := range exposed {
		b.adapters[i] = describeAdapter(&exposed[i], i)
	}

	selected, err := backend.SelectDevice(b.adapters)
	if err != nil {
		instance.Destroy()
		return err
	}

	// SelectDevice preserves enumeration order, so the descriptor's
	// position maps back to the exposed adapter.
	var chosen *hal.ExposedAdapter
	for i := range b.adapters {
		if b.adapters[i].Key() == selected.Key() {
			chosen = &exposed[i]
			break
		}
	}

	openDev, err := chosen.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("%w: open %s: %s", backend.ErrDeviceFailure, selected.Name, err)
	}

	b.instance = instance
	b.device = openDev.Device
	b.queue = openDev.Queue
	b.desc = selected
	b.programs = newProgramCache(b.device)
	b.initialized = true

	backend.Logger().Info("gpu device opened",
		"device", selected.Name,
		"class", selected.Class.String(),
		"adapters", len(b.adapters))
	return nil
}

// describeAdapter maps a HAL adapter to a device descriptor. The slot
// index stands in for a hardware ID so descriptors stay distinct when
// a host exposes twin adapters.
func describeAdapter(a *hal.ExposedAdapter, slot int) backend.Descriptor {
	class := backend.ClassUnknown
	switch a.Info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		class = backend.ClassDiscreteGPU
	case gputypes.DeviceTypeIntegratedGPU:
		class = backend.ClassIntegratedGPU
	}
	return backend.Descriptor{
		Backend:          backend.BackendWGPU,
		Name:             a.Info.Name,
		Class:            class,
		DeviceID:         uint32(slot),
		MaxWorkgroupSize: workgroupSize,
	}
}

// Close tears down the program cache and the device. In-flight
// sessions must be drained first.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return
	}
	if b.programs != nil {
		b.programs.close()
		b.programs = nil
	}
	if b.device != nil {
		b.device.Destroy()
		b.device = nil
	}
	if b.instance != nil {
		b.instance.Destroy()
		b.instance = nil
	}
	b.queue = nil
	b.initialized = false
}

// Devices lists every enumerated adapter, selected or not.
func (b *Backend) Devices() []backend.Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adapters
}

// Device returns the opened device's descriptor.
func (b *Backend) Device() backend.Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.desc
}

// Stats exposes buffer accounting for metrics and tests.
func (b *Backend) Stats() backend.Stats { return b.acct.Snapshot() }

// ProgramStats exposes program cache counters for metrics.
func (b *Backend) ProgramStats() (hits, misses uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.programs == nil {
		return 0, 0
	}
	st := b.programs.stats()
	return st.Hits, st.Misses
}

// Warmup compiles the kernel for the selected device so the first
// request does not pay the build, and so a broken kernel fails the
// process at startup instead of serving 502s.
func (b *Backend) Warmup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return backend.ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.programs.get(b.desc)
	return err
}

// Invalidate drops the compiled program for a device key. Called on
// the device-lost recovery path before re-initialization.
func (b *Backend) Invalidate(deviceKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.programs != nil {
		b.programs.invalidate(deviceKey)
	}
}

// OpenSession starts a compute session on the opened device. The
// program is resolved here so a compilation failure surfaces before
// any buffer exists.
func (b *Backend) OpenSession(ctx context.Context) (backend.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil, backend.ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prog, err := b.programs.get(b.desc)
	if err != nil {
		return nil, err
	}
	return &session{
		dev:    b.desc,
		device: b.device,
		queue:  b.queue,
		prog:   prog,
		acct:   &b.acct,
	}, nil
}
