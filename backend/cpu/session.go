package cpu

import (
	"context"
	"fmt"

	"github.com/gridpath/gridpath/backend"
)

// hostBuffer is plain host memory standing in for a device buffer.
type hostBuffer struct {
	role backend.BufferRole
	data []uint32
}

func (b *hostBuffer) Role() backend.BufferRole { return b.role }
func (b *hostBuffer) Len() int                 { return len(b.data) }

// session owns the host buffers of one request. Kernels run
// synchronously on the shared worker pool, so Await has nothing left
// to wait for and only honors cancellation.
type session struct {
	dev     backend.Descriptor
	pool    *workerPool
	acct    *backend.Accounting
	buffers []*hostBuffer
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
	buf := &hostBuffer{role: role, data: make([]uint32, elems)}
	s.buffers = append(s.buffers, buf)
	s.acct.OnAllocate(int64(elems) * 4)
	return buf, nil
}

func (s *session) EnqueueWrite(buf backend.Buffer, data []uint32) error {
	if s.closed {
		return backend.ErrSessionClosed
	}
	hb, err := s.own(buf)
	if err != nil {
		return err
	}
	if len(data) > len(hb.data) {
		return fmt.Errorf("%w: write of %d elements into %s buffer of %d",
			backend.ErrKernelLaunch, len(data), hb.role, len(hb.data))
	}
	copy(hb.data, data)
	return nil
}

func (s *session) EnqueueKernel(entry string, globalSize int, args backend.KernelArgs) error {
	if s.closed {
		return backend.ErrSessionClosed
	}
	switch entry {
	case backend.KernelRelax:
		return s.runRelax(globalSize, args)
	default:
		return fmt.Errorf("%w: %q", backend.ErrUnknownKernel, entry)
	}
}

func (s *session) EnqueueRead(ctx context.Context, buf backend.Buffer, dst []uint32) error {
	if s.closed {
		return backend.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	hb, err := s.own(buf)
	if err != nil {
		return err
	}
	if len(dst) > len(hb.data) {
		return fmt.Errorf("%w: read of %d elements from %s buffer of %d",
			backend.ErrKernelLaunch, len(dst), hb.role, len(hb.data))
	}
	copy(dst, hb.data)
	return nil
}

func (s *session) Await(ctx context.Context) error {
	if s.closed {
		return backend.ErrSessionClosed
	}
	return ctx.Err()
}

// Close releases all buffers. Idempotent.
func (s *session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for _, b := range s.buffers {
		s.acct.OnRelease(int64(len(b.data)) * 4)
	}
	s.buffers = nil
}

// own checks that a buffer belongs to this session.
func (s *session) own(buf backend.Buffer) (*hostBuffer, error) {
	hb, ok := buf.(*hostBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer type %T", backend.ErrKernelLaunch, buf)
	}
	for _, b := range s.buffers {
		if b == hb {
			return hb, nil
		}
	}
	return nil, fmt.Errorf("%w: buffer does not belong to this session", backend.ErrKernelLaunch)
}

func (s *session) runRelax(globalSize int, args backend.KernelArgs) error {
	if len(args.Buffers) != 4 || len(args.Uniforms) != 3 {
		return fmt.Errorf("%w: relax expects 4 buffers and 3 uniforms, got %d and %d",
			backend.ErrKernelLaunch, len(args.Buffers), len(args.Uniforms))
	}
	bufs := make([]*hostBuffer, 4)
	for i, b := range args.Buffers {
		hb, err := s.own(b)
		if err != nil {
			return err
		}
		bufs[i] = hb
	}
	cost, dist, pred, flag := bufs[0], bufs[1], bufs[2], bufs[3]

	width := int(args.Uniforms[0])
	height := int(args.Uniforms[1])
	inf := args.Uniforms[2]
	if width*height != globalSize || len(cost.data) < globalSize ||
		len(dist.data) < globalSize || len(pred.data) < globalSize || len(flag.data) < 1 {
		return fmt.Errorf("%w: relax geometry mismatch (%dx%d over %d items)",
			backend.ErrKernelLaunch, width, height, globalSize)
	}

	s.pool.dispatch(globalSize, func(i int) {
		relaxNode(i, width, height, inf, cost.data, dist.data, pred.data, &flag.data[0])
	})
	return nil
}
