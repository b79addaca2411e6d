package wgpu

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gridpath/gridpath/backend"
)

// workgroupSize must match @workgroup_size in shaders/relax.wgsl.
const workgroupSize = 256

// defaultWait bounds a fence wait when the request carries no deadline.
const defaultWait = 5 * time.Second

// deviceBuffer wraps a hal.Buffer with its role and element count.
type deviceBuffer struct {
	role  backend.BufferRole
	elems int
	buf   hal.Buffer
}

func (b *deviceBuffer) Role() backend.BufferRole { return b.role }
func (b *deviceBuffer) Len() int                 { return b.elems }

// pending tracks the resources of one submitted dispatch until Await
// retires them.
type pending struct {
	cmd     hal.CommandBuffer
	fence   hal.Fence
	bind    hal.BindGroup
	uniform hal.Buffer
}

// session owns the device buffers of one request. It is not safe for
// concurrent use; the path finder drives it sequentially.
type session struct {
	dev    backend.Descriptor
	device hal.Device
	queue  hal.Queue
	prog   *program
	acct   *backend.Accounting

	buffers []*deviceBuffer
	pending *pending
	closed  bool
}

func (s *session) Device() backend.Descriptor { return s.dev }

func (s *session) Allocate(elems int, role backend.BufferRole) (backend.Buffer, error) {
	if s.closed {
		return nil, backend.ErrSessionClosed
	}
	if elems <= 0 {
		return nil, fmt.Errorf("%w: %d elements for %s buffer",
			backend.ErrAllocationFailed, elems, role)
	}

	usage := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	if role != backend.RoleCost {
		usage |= gputypes.BufferUsageCopySrc
	}
	size := uint64(elems) * 4
	buf, err := s.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "grid_" + role.String(),
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s buffer of %d bytes: %s",
			backend.ErrAllocationFailed, role, size, err)
	}

	db := &deviceBuffer{role: role, elems: elems, buf: buf}
	s.buffers = append(s.buffers, db)
	s.acct.OnAllocate(int64(size))
	return db, nil
}

func (s *session) EnqueueWrite(buf backend.Buffer, data []uint32) error {
	if s.closed {
		return backend.ErrSessionClosed
	}
	db, err := s.own(buf)
	if err != nil {
		return err
	}
	if len(data) > db.elems {
		return fmt.Errorf("%w: write of %d elements into %s buffer of %d",
			backend.ErrKernelLaunch, len(data), db.role, db.elems)
	}
	s.queue.WriteBuffer(db.buf, 0, u32Bytes(data))
	return nil
}

func (s *session) EnqueueKernel(entry string, globalSize int, args backend.KernelArgs) error {
	if s.closed {
		return backend.ErrSessionClosed
	}
	if entry != backend.KernelRelax {
		return fmt.Errorf("%w: %q", backend.ErrUnknownKernel, entry)
	}
	if s.pending != nil {
		return fmt.Errorf("%w: previous dispatch not awaited", backend.ErrKernelLaunch)
	}
	if len(args.Buffers) != 4 {
		return fmt.Errorf("%w: relax expects 4 buffers, got %d",
			backend.ErrKernelLaunch, len(args.Buffers))
	}
	bufs := make([]*deviceBuffer, 4)
	for i, b := range args.Buffers {
		db, err := s.own(b)
		if err != nil {
			return err
		}
		bufs[i] = db
	}

	// Uniform block padded to 16 bytes.
	words := make([]uint32, 4)
	copy(words, args.Uniforms)
	uniform, err := s.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "relax_params", Size: 16,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("%w: uniform buffer: %s", backend.ErrAllocationFailed, err)
	}
	s.queue.WriteBuffer(uniform, 0, u32Bytes(words))

	bind, err := s.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "relax_bind", Layout: s.prog.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: uniform.NativeHandle(), Offset: 0, Size: 16}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: bufs[0].buf.NativeHandle(), Offset: 0, Size: uint64(bufs[0].elems) * 4}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: bufs[1].buf.NativeHandle(), Offset: 0, Size: uint64(bufs[1].elems) * 4}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: bufs[2].buf.NativeHandle(), Offset: 0, Size: uint64(bufs[2].elems) * 4}},
			{Binding: 4, Resource: gputypes.BufferBinding{Buffer: bufs[3].buf.NativeHandle(), Offset: 0, Size: uint64(bufs[3].elems) * 4}},
		},
	})
	if err != nil {
		s.device.DestroyBuffer(uniform)
		return fmt.Errorf("%w: create bind group: %s", backend.ErrKernelLaunch, err)
	}

	cmd, err := s.encodeDispatch(bind, globalSize)
	if err != nil {
		s.device.DestroyBindGroup(bind)
		s.device.DestroyBuffer(uniform)
		return err
	}

	fence, err := s.device.CreateFence()
	if err != nil {
		s.device.FreeCommandBuffer(cmd)
		s.device.DestroyBindGroup(bind)
		s.device.DestroyBuffer(uniform)
		return fmt.Errorf("%w: create fence: %s", backend.ErrKernelLaunch, err)
	}
	if err := s.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1); err != nil {
		s.device.DestroyFence(fence)
		s.device.FreeCommandBuffer(cmd)
		s.device.DestroyBindGroup(bind)
		s.device.DestroyBuffer(uniform)
		return fmt.Errorf("%w: submit: %s", backend.ErrKernelLaunch, err)
	}

	s.pending = &pending{cmd: cmd, fence: fence, bind: bind, uniform: uniform}
	return nil
}

func (s *session) encodeDispatch(bind hal.BindGroup, globalSize int) (hal.CommandBuffer, error) {
	encoder, err := s.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "relax_encoder"})
	if err != nil {
		return nil, fmt.Errorf("%w: create command encoder: %s", backend.ErrKernelLaunch, err)
	}
	if err := encoder.BeginEncoding("relax"); err != nil {
		return nil, fmt.Errorf("%w: begin encoding: %s", backend.ErrKernelLaunch, err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "relax_pass"})
	pass.SetPipeline(s.prog.pipeline)
	pass.SetBindGroup(0, bind, nil)
	groups := (uint32(globalSize) + workgroupSize - 1) / workgroupSize
	pass.Dispatch(groups, 1, 1)
	pass.End()

	cmd, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return nil, fmt.Errorf("%w: end encoding: %s", backend.ErrKernelLaunch, err)
	}
	return cmd, nil
}

// Await blocks until the in-flight dispatch retires, bounded by the
// context deadline. On timeout the dispatch is abandoned; the device
// may still finish it in the background.
func (s *session) Await(ctx context.Context) error {
	if s.closed {
		return backend.ErrSessionClosed
	}
	if s.pending == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wait := defaultWait
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
		if wait <= 0 {
			return context.DeadlineExceeded
		}
	}

	ok, err := s.device.Wait(s.pending.fence, 1, wait)
	s.retirePending()
	if err != nil {
		return fmt.Errorf("%w: fence wait: %s", backend.ErrDeviceFailure, err)
	}
	if !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: fence wait timed out after %v", backend.ErrDeviceFailure, wait)
	}
	return nil
}

// EnqueueRead copies a device buffer through a transient staging
// buffer into dst. The copy is submitted and waited on inline.
func (s *session) EnqueueRead(ctx context.Context, buf backend.Buffer, dst []uint32) error {
	if s.closed {
		return backend.ErrSessionClosed
	}
	if err := s.Await(ctx); err != nil {
		return err
	}
	db, err := s.own(buf)
	if err != nil {
		return err
	}
	if len(dst) > db.elems {
		return fmt.Errorf("%w: read of %d elements from %s buffer of %d",
			backend.ErrKernelLaunch, len(dst), db.role, db.elems)
	}

	size := uint64(len(dst)) * 4
	staging, err := s.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "grid_staging", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("%w: staging buffer: %s", backend.ErrAllocationFailed, err)
	}
	defer s.device.DestroyBuffer(staging)

	encoder, err := s.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "readback_encoder"})
	if err != nil {
		return fmt.Errorf("%w: create command encoder: %s", backend.ErrDeviceFailure, err)
	}
	if err := encoder.BeginEncoding("readback"); err != nil {
		return fmt.Errorf("%w: begin encoding: %s", backend.ErrDeviceFailure, err)
	}
	encoder.CopyBufferToBuffer(db.buf, staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: size},
	})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("%w: end encoding: %s", backend.ErrDeviceFailure, err)
	}
	defer s.device.FreeCommandBuffer(cmd)

	fence, err := s.device.CreateFence()
	if err != nil {
		return fmt.Errorf("%w: create fence: %s", backend.ErrDeviceFailure, err)
	}
	defer s.device.DestroyFence(fence)

	if err := s.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1); err != nil {
		return fmt.Errorf("%w: submit readback: %s", backend.ErrDeviceFailure, err)
	}
	wait := defaultWait
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
		if wait <= 0 {
			return context.DeadlineExceeded
		}
	}
	ok, err := s.device.Wait(fence, 1, wait)
	if err != nil || !ok {
		return fmt.Errorf("%w: readback wait ok=%v: %v", backend.ErrDeviceFailure, ok, err)
	}

	raw := make([]byte, size)
	if err := s.queue.ReadBuffer(staging, 0, raw); err != nil {
		return fmt.Errorf("%w: read staging buffer: %s", backend.ErrDeviceFailure, err)
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return nil
}

// Close releases every buffer and any un-awaited dispatch resources.
// Idempotent; runs on every request exit path.
func (s *session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.retirePending()
	for _, db := range s.buffers {
		s.device.DestroyBuffer(db.buf)
		s.acct.OnRelease(int64(db.elems) * 4)
	}
	s.buffers = nil
}

func (s *session) retirePending() {
	p := s.pending
	if p == nil {
		return
	}
	s.pending = nil
	s.device.DestroyFence(p.fence)
	s.device.FreeCommandBuffer(p.cmd)
	s.device.DestroyBindGroup(p.bind)
	s.device.DestroyBuffer(p.uniform)
}

func (s *session) own(buf backend.Buffer) (*deviceBuffer, error) {
	db, ok := buf.(*deviceBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer type %T", backend.ErrKernelLaunch, buf)
	}
	for _, b := range s.buffers {
		if b == db {
			return db, nil
		}
	}
	return nil, fmt.Errorf("%w: buffer does not belong to this session", backend.ErrKernelLaunch)
}

// u32Bytes serializes words as little-endian bytes for buffer upload.
func u32Bytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
