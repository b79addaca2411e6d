// Package backend provides the compute-device abstraction for gridpath.
// It defines the interfaces the path finder drives (backends, sessions,
// buffers), the device descriptors and selection policy, and a factory
// registry that lets the library choose between a hardware device (wgpu)
// and the software fallback (cpu) at startup.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// Common backend errors. Device-layer failures are translated to these
// sentinels at the session boundary; callers never see driver-specific
// error types.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrPlatformUnavailable is returned when the platform layer cannot be
	// loaded at all (no driver, no adapters). Fatal at startup.
	ErrPlatformUnavailable = errors.New("backend: compute platform unavailable")

	// ErrNoDeviceAvailable is returned when enumeration succeeds but no
	// device satisfies the selection policy. Fatal at startup.
	ErrNoDeviceAvailable = errors.New("backend: no compute device available")

	// ErrDeviceBusy is returned when a session cannot be opened because the
	// device rejected the request.
	ErrDeviceBusy = errors.New("backend: device busy")

	// ErrAllocationFailed is returned when a device buffer cannot be allocated.
	ErrAllocationFailed = errors.New("backend: buffer allocation failed")

	// ErrKernelLaunch is returned when a kernel dispatch cannot be issued.
	ErrKernelLaunch = errors.New("backend: kernel launch failed")

	// ErrDeviceFailure is returned when the device fails while executing
	// already-submitted work (lost device, fence error, transfer error).
	ErrDeviceFailure = errors.New("backend: device failure")

	// ErrUnknownKernel is returned when a session is asked to launch an
	// entry point the backend's program does not define.
	ErrUnknownKernel = errors.New("backend: unknown kernel entry point")

	// ErrSessionClosed is returned when operating on a closed session.
	ErrSessionClosed = errors.New("backend: session closed")
)

// BuildError reports a kernel compilation failure. Diagnostics holds the
// compiler output verbatim so operators can see the real failure.
type BuildError struct {
	// Device identifies the device the program was built for.
	Device string

	// Diagnostics is the compiler diagnostic text, unmodified.
	Diagnostics string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("backend: kernel build failed for %s: %s", e.Device, e.Diagnostics)
}

// DeviceClass ranks how a device executes work. Hardware classes are
// preferred over software emulation by the selection policy.
type DeviceClass int

const (
	// ClassUnknown is a device the platform could not classify.
	ClassUnknown DeviceClass = iota
	// ClassCPU is a software-emulated device.
	ClassCPU
	// ClassVirtual is a virtualized GPU.
	ClassVirtual
	// ClassIntegratedGPU is an integrated hardware GPU.
	ClassIntegratedGPU
	// ClassDiscreteGPU is a discrete hardware GPU.
	ClassDiscreteGPU
)

// String returns the human-readable device class name.
func (c DeviceClass) String() string {
	switch c {
	case ClassCPU:
		return "cpu"
	case ClassVirtual:
		return "virtual"
	case ClassIntegratedGPU:
		return "integrated-gpu"
	case ClassDiscreteGPU:
		return "discrete-gpu"
	default:
		return "unknown"
	}
}

// Hardware reports whether the class is a hardware accelerator.
func (c DeviceClass) Hardware() bool {
	return c == ClassDiscreteGPU || c == ClassIntegratedGPU || c == ClassVirtual
}

// Descriptor describes one enumerated compute device. Descriptors are
// immutable once enumerated.
type Descriptor struct {
	// Backend is the owning backend's registry name ("wgpu", "cpu").
	Backend string

	// Name is the device name reported by the platform.
	Name string

	// Class is the device class used by the selection policy.
	Class DeviceClass

	// VendorID and DeviceID identify the device for program-cache keying.
	VendorID uint32
	DeviceID uint32

	// ComputeUnits is the reported parallel compute unit count, or 0 when
	// the platform does not expose it.
	ComputeUnits int

	// MaxWorkgroupSize is the largest workgroup the device accepts.
	MaxWorkgroupSize int
}

// Key returns the device identity string used to key compiled programs.
func (d Descriptor) Key() string {
	return fmt.Sprintf("%s|%04x:%04x|%s", d.Backend, d.VendorID, d.DeviceID, d.Name)
}

// String returns a short human-readable device description.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.Name, d.Class, d.Backend)
}

// BufferRole identifies the purpose of a session buffer. Roles exist so
// backends can pick transfer-friendly allocation flags per buffer.
type BufferRole int

const (
	// RoleCost is the read-only per-cell traversal cost buffer.
	RoleCost BufferRole = iota
	// RoleDistance is the mutable per-cell shortest-distance buffer.
	RoleDistance
	// RolePredecessor is the mutable per-cell predecessor-index buffer.
	RolePredecessor
	// RoleFlag is the single-element frontier-changed convergence flag.
	RoleFlag
)

// String returns the buffer role name used in labels and logs.
func (r BufferRole) String() string {
	switch r {
	case RoleCost:
		return "cost"
	case RoleDistance:
		return "distance"
	case RolePredecessor:
		return "predecessor"
	case RoleFlag:
		return "flag"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Buffer is an opaque handle to a device buffer owned by one session.
// A buffer must never outlive the session that allocated it.
type Buffer interface {
	// Role returns the role the buffer was allocated for.
	Role() BufferRole

	// Len returns the buffer length in 32-bit elements.
	Len() int
}

// KernelArgs carries the arguments for one kernel dispatch.
//
// The kernel ABI is positional: Buffers bind in order after the uniform
// block, and Uniforms are packed as consecutive 32-bit words into the
// uniform block. Both backends implement the same ABI for each entry
// point, so the path finder stays device-agnostic.
type KernelArgs struct {
	Buffers  []Buffer
	Uniforms []uint32
}

// KernelRelax is the wavefront relaxation entry point.
//
// ABI: Buffers = [cost, distance, predecessor, flag],
// Uniforms = [width, height, inf]. One work-item per grid cell; each
// item relaxes its four neighbors with an atomic minimum on distance and
// raises flag[0] when any distance improved.
const KernelRelax = "relax"

// Session owns the device-side resources for one request: a command
// queue scope and every buffer allocated through it. Operations are
// observed in enqueue order. Sessions are not safe for concurrent use
// and are never shared between requests.
//
// Close releases all buffers and queue resources. It is idempotent and
// must run on every exit path, success or failure, so a failed request
// never leaks device memory.
type Session interface {
	// Device returns the descriptor of the device executing this session.
	Device() Descriptor

	// Allocate creates a buffer of elems 32-bit elements for the given role.
	Allocate(elems int, role BufferRole) (Buffer, error)

	// EnqueueWrite copies host data into a device buffer.
	// len(data) must not exceed the buffer length.
	EnqueueWrite(buf Buffer, data []uint32) error

	// EnqueueKernel launches entry over globalSize work-items.
	EnqueueKernel(entry string, globalSize int, args KernelArgs) error

	// EnqueueRead copies a device buffer back into dst, blocking until the
	// data is visible. len(dst) must not exceed the buffer length.
	EnqueueRead(ctx context.Context, buf Buffer, dst []uint32) error

	// Await blocks until all previously enqueued work has completed.
	Await(ctx context.Context) error

	// Close releases every resource owned by the session.
	Close()
}

// ComputeBackend is one device implementation (hardware or software).
// Backends register themselves via Register and are selected through
// Default or Get.
type ComputeBackend interface {
	// Name returns the backend registry identifier.
	Name() string

	// Init enumerates devices and prepares the backend for sessions.
	// Enumeration failure surfaces ErrPlatformUnavailable or
	// ErrNoDeviceAvailable and is fatal to startup, not per-request.
	Init() error

	// Close releases all backend resources.
	Close()

	// Devices returns the enumerated device descriptors, in a stable order.
	Devices() []Descriptor

	// Device returns the descriptor selected by SelectDevice at Init time.
	Device() Descriptor

	// OpenSession opens a per-request session on the selected device.
	OpenSession(ctx context.Context) (Session, error)
}

// Warmer is implemented by backends that can compile their kernel
// program ahead of the first request, so build failures become startup
// failures instead of first-request failures.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// SelectDevice applies the selection policy to enumerated descriptors:
// hardware classes beat software emulation, higher compute-unit counts
// break class ties, and enumeration order breaks the rest. The order is
// total, so the result is deterministic for identical enumerations.
func SelectDevice(devs []Descriptor) (Descriptor, error) {
	if len(devs) == 0 {
		return Descriptor{}, ErrNoDeviceAvailable
	}
	best := 0
	for i := 1; i < len(devs); i++ {
		if betterDevice(devs[i], devs[best]) {
			best = i
		}
	}
	return devs[best], nil
}

// betterDevice reports whether a should be preferred over b.
func betterDevice(a, b Descriptor) bool {
	if a.Class != b.Class {
		return a.Class > b.Class
	}
	return a.ComputeUnits > b.ComputeUnits
}
