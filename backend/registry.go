package backend

import (
	"sync"
)

// Factory creates a new backend instance.
type Factory func() ComputeBackend

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)

	// Priority order for backend selection (first available wins).
	// Hardware acceleration beats the software fallback.
	backendPriority = []string{BackendWGPU, BackendCPU}
)

// Backend name constants.
const (
	// BackendWGPU is the name of the hardware backend (gogpu/wgpu HAL).
	BackendWGPU = "wgpu"
	// BackendCPU is the name of the software-emulated backend.
	BackendCPU = "cpu"
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns a list of registered backend names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get returns a backend instance by name.
// Returns nil if the backend is not registered.
func Get(name string) ComputeBackend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := backends[name]
	if !ok {
		return nil
	}
	return factory()
}

// Default returns the best available backend based on priority.
// Returns nil if no backends are registered.
func Default() ComputeBackend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			if b := factory(); b != nil {
				return b
			}
		}
	}

	// Fallback: return first available.
	for _, factory := range backends {
		if b := factory(); b != nil {
			return b
		}
	}

	return nil
}

// selected caches the process-wide initialized backend. It is populated
// at most once per process lifetime and reused by every request; Reset
// is the only serialized reinitialization path (device-lost recovery).
var (
	selectedMu sync.Mutex
	selected   ComputeBackend
)

// InitDefault initializes and caches the process-wide backend. The first
// successful call wins; later calls return the cached backend without
// touching the platform layer again.
//
// If name is empty the priority order decides; otherwise the named
// backend is used or ErrBackendNotAvailable is returned. Initialization
// failure (ErrPlatformUnavailable, ErrNoDeviceAvailable, build errors
// from a warm-up) leaves the cache empty so startup can fail loudly.
func InitDefault(name string) (ComputeBackend, error) {
	selectedMu.Lock()
	defer selectedMu.Unlock()

	if selected != nil {
		return selected, nil
	}

	var b ComputeBackend
	if name == "" {
		b = Default()
	} else {
		b = Get(name)
	}
	if b == nil {
		return nil, ErrBackendNotAvailable
	}

	if err := b.Init(); err != nil {
		return nil, err
	}

	selected = b
	return selected, nil
}

// Selected returns the cached process-wide backend, or nil before
// InitDefault has succeeded.
func Selected() ComputeBackend {
	selectedMu.Lock()
	defer selectedMu.Unlock()
	return selected
}

// Reset closes and forgets the cached backend so InitDefault can run
// again. This is the serialized device-lost recovery path; it must not
// race with in-flight sessions, which the caller is responsible for
// draining first.
func Reset() {
	selectedMu.Lock()
	defer selectedMu.Unlock()
	if selected != nil {
		selected.Close()
		selected = nil
	}
}
