package wgpu

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gridpath/gridpath/backend"
	"github.com/gridpath/gridpath/internal/cache"
)

//go:embed shaders/relax.wgsl
var relaxSource string

// buildTimeout bounds a single kernel compilation. A compiler that
// hangs must not take the serving process down with it.
const buildTimeout = 10 * time.Second

// program is a compiled relax kernel plus its pipeline state, built
// once per device identity.
type program struct {
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

// programCache compiles and retains one program per device key.
// Eviction and invalidation destroy the underlying device resources.
type programCache struct {
	device  hal.Device
	entries *cache.Cache[string, *program]
}

func newProgramCache(device hal.Device) *programCache {
	pc := &programCache{device: device}
	pc.entries = cache.New(0, cache.StringHasher, func(_ string, p *program) {
		pc.destroy(p)
	})
	return pc
}

// get returns the compiled program for a device, building it on first
// use. Concurrent callers for the same device compile exactly once.
// Compilation failures are not cached and carry the compiler output
// verbatim in a BuildError.
func (pc *programCache) get(desc backend.Descriptor) (*program, error) {
	return pc.entries.GetOrCreate(desc.Key(), func() (*program, error) {
		return pc.build(desc)
	})
}

// invalidate drops the program for a device key, destroying its
// resources. Used when a device is lost and re-enumerated.
func (pc *programCache) invalidate(deviceKey string) {
	pc.entries.Delete(deviceKey)
}

func (pc *programCache) stats() cache.Stats { return pc.entries.Stats() }

func (pc *programCache) close() { pc.entries.Clear() }

func (pc *programCache) build(desc backend.Descriptor) (*program, error) {
	start := time.Now()
	words, err := compileWGSL(relaxSource)
	if err != nil {
		return nil, &backend.BuildError{Device: desc.Key(), Diagnostics: err.Error()}
	}

	module, err := pc.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "relax",
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return nil, &backend.BuildError{Device: desc.Key(), Diagnostics: err.Error()}
	}

	p := &program{module: module}
	if err := pc.buildPipeline(p); err != nil {
		pc.destroy(p)
		return nil, fmt.Errorf("%w: %s", backend.ErrDeviceFailure, err)
	}

	backend.Logger().Info("kernel compiled",
		"device", desc.Name,
		"entry", backend.KernelRelax,
		"elapsed", time.Since(start))
	return p, nil
}

func (pc *programCache) buildPipeline(p *program) error {
	bindLayout, err := pc.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "relax_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: 4, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := pc.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "relax_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	pipeline, err := pc.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "relax_pipeline", Layout: pipeLayout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	p.pipeline = pipeline
	return nil
}

func (pc *programCache) destroy(p *program) {
	if p == nil || pc.device == nil {
		return
	}
	if p.pipeline != nil {
		pc.device.DestroyComputePipeline(p.pipeline)
	}
	if p.pipeLayout != nil {
		pc.device.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		pc.device.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.module != nil {
		pc.device.DestroyShaderModule(p.module)
	}
}

// compileWGSL compiles WGSL source to SPIR-V words, bounded by
// buildTimeout. SPIR-V is little-endian 32-bit words.
func compileWGSL(source string) ([]uint32, error) {
	type result struct {
		spirv []byte
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		spirv, err := naga.Compile(source)
		ch <- result{spirv, err}
	}()

	var spirv []byte
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		spirv = r.spirv
	case <-time.After(buildTimeout):
		return nil, fmt.Errorf("kernel compilation exceeded %v", buildTimeout)
	}

	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = uint32(spirv[i*4]) |
			uint32(spirv[i*4+1])<<8 |
			uint32(spirv[i*4+2])<<16 |
			uint32(spirv[i*4+3])<<24
	}
	return words, nil
}
