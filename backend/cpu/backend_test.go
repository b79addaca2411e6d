package cpu

import (
	"context"
	"errors"
	"testing"

	"github.com/gridpath/gridpath/backend"
)

func newInitialized(t *testing.T) *Backend {
	t.Helper()
	b := New()
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestInitRegistersHostDevice(t *testing.T) {
	b := newInitialized(t)

	devs := b.Devices()
	if len(devs) != 1 {
		t.Fatalf("Devices() returned %d devices, want 1", len(devs))
	}
	d := devs[0]
	if d.Class != backend.ClassCPU {
		t.Errorf("Class = %v, want ClassCPU", d.Class)
	}
	if d.ComputeUnits < 1 {
		t.Errorf("ComputeUnits = %d, want >= 1", d.ComputeUnits)
	}
	if d.Backend != backend.BackendCPU {
		t.Errorf("Backend = %q, want %q", d.Backend, backend.BackendCPU)
	}
}

func TestOpenSessionBeforeInit(t *testing.T) {
	b := New()
	_, err := b.OpenSession(context.Background())
	if !errors.Is(err, backend.ErrNotInitialized) {
		t.Errorf("OpenSession before Init: error = %v, want ErrNotInitialized", err)
	}
}

func TestRegisteredInRegistry(t *testing.T) {
	if !backend.IsRegistered(backend.BackendCPU) {
		t.Fatal("cpu backend should self-register")
	}
	if b := backend.Get(backend.BackendCPU); b == nil {
		t.Fatal("Get(cpu) returned nil")
	}
}

func TestSessionLifecycle(t *testing.T) {
	b := newInitialized(t)
	ctx := context.Background()

	sess, err := b.OpenSession(ctx)
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}

	buf, err := sess.Allocate(16, backend.RoleDistance)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if buf.Len() != 16 {
		t.Errorf("Len() = %d, want 16", buf.Len())
	}
	if buf.Role() != backend.RoleDistance {
		t.Errorf("Role() = %v, want RoleDistance", buf.Role())
	}

	if got := b.Stats().LiveBuffers; got != 1 {
		t.Errorf("LiveBuffers = %d, want 1", got)
	}

	in := []uint32{1, 2, 3, 4}
	if err := sess.EnqueueWrite(buf, in); err != nil {
		t.Fatalf("EnqueueWrite() error = %v", err)
	}
	out := make([]uint32, 4)
	if err := sess.EnqueueRead(ctx, buf, out); err != nil {
		t.Fatalf("EnqueueRead() error = %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], in[i])
		}
	}

	sess.Close()
	if got := b.Stats().LiveBuffers; got != 0 {
		t.Errorf("LiveBuffers after Close = %d, want 0", got)
	}

	// Everything fails after Close.
	if _, err := sess.Allocate(1, backend.RoleFlag); !errors.Is(err, backend.ErrSessionClosed) {
		t.Errorf("Allocate after Close: error = %v, want ErrSessionClosed", err)
	}
	sess.Close() // idempotent
	if got := b.Stats().LiveBuffers; got != 0 {
		t.Errorf("LiveBuffers after double Close = %d, want 0", got)
	}
}

func TestUnknownKernel(t *testing.T) {
	b := newInitialized(t)
	sess, err := b.OpenSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	err = sess.EnqueueKernel("blur", 16, backend.KernelArgs{})
	if !errors.Is(err, backend.ErrUnknownKernel) {
		t.Errorf("EnqueueKernel(blur) error = %v, want ErrUnknownKernel", err)
	}
}

func TestForeignBufferRejected(t *testing.T) {
	b := newInitialized(t)
	ctx := context.Background()

	s1, err := b.OpenSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Close()
	s2, err := b.OpenSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	buf, err := s1.Allocate(4, backend.RoleCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := s2.EnqueueWrite(buf, []uint32{1}); err == nil {
		t.Error("writing another session's buffer should fail")
	}
}

// runRelaxToFixpoint drives the relax kernel the way the path finder
// does, returning dist and pred after convergence.
func runRelaxToFixpoint(t *testing.T, width, height int, cost []uint32, inf uint32) ([]uint32, []uint32) {
	t.Helper()
	b := newInitialized(t)
	ctx := context.Background()

	sess, err := b.OpenSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	n := width * height
	cb, _ := sess.Allocate(n, backend.RoleCost)
	db, _ := sess.Allocate(n, backend.RoleDistance)
	pb, _ := sess.Allocate(n, backend.RolePredecessor)
	fb, _ := sess.Allocate(1, backend.RoleFlag)

	dist := make([]uint32, n)
	pred := make([]uint32, n)
	for i := range dist {
		dist[i] = inf
		pred[i] = 0xFFFFFFFF
	}
	dist[0] = 0

	if err := sess.EnqueueWrite(cb, cost); err != nil {
		t.Fatal(err)
	}
	if err := sess.EnqueueWrite(db, dist); err != nil {
		t.Fatal(err)
	}
	if err := sess.EnqueueWrite(pb, pred); err != nil {
		t.Fatal(err)
	}

	args := backend.KernelArgs{
		Buffers:  []backend.Buffer{cb, db, pb, fb},
		Uniforms: []uint32{uint32(width), uint32(height), inf},
	}
	var changed [1]uint32
	for range n {
		if err := sess.EnqueueWrite(fb, []uint32{0}); err != nil {
			t.Fatal(err)
		}
		if err := sess.EnqueueKernel(backend.KernelRelax, n, args); err != nil {
			t.Fatalf("EnqueueKernel() error = %v", err)
		}
		if err := sess.Await(ctx); err != nil {
			t.Fatal(err)
		}
		if err := sess.EnqueueRead(ctx, fb, changed[:]); err != nil {
			t.Fatal(err)
		}
		if changed[0] == 0 {
			break
		}
	}

	if err := sess.EnqueueRead(ctx, db, dist); err != nil {
		t.Fatal(err)
	}
	if err := sess.EnqueueRead(ctx, pb, pred); err != nil {
		t.Fatal(err)
	}
	return dist, pred
}

func TestRelaxUniformGrid(t *testing.T) {
	// 3x3 of ones: dist[i] = Manhattan distance from (0,0).
	cost := []uint32{1, 1, 1, 1, 1, 1, 1, 1, 1}
	inf := uint32(9*1 + 1)
	dist, _ := runRelaxToFixpoint(t, 3, 3, cost, inf)

	want := []uint32{0, 1, 2, 1, 2, 3, 2, 3, 4}
	for i := range want {
		if dist[i] != want[i] {
			t.Errorf("dist[%d] = %d, want %d", i, dist[i], want[i])
		}
	}
}

func TestRelaxAvoidsExpensiveCell(t *testing.T) {
	// 2x2 where the top-right cell is expensive; the cheapest route
	// to the bottom-right corner goes down then right.
	//
	//   start 9
	//   1     1
	cost := []uint32{0, 9, 1, 1}
	inf := uint32(4*9 + 1)
	dist, pred := runRelaxToFixpoint(t, 2, 2, cost, inf)

	if dist[3] != 2 {
		t.Errorf("dist[3] = %d, want 2 (down then right)", dist[3])
	}
	if pred[3] != 2 {
		t.Errorf("pred[3] = %d, want 2", pred[3])
	}
	if dist[1] != 9 {
		t.Errorf("dist[1] = %d, want 9", dist[1])
	}
}

func TestRelaxSentinelCellNeverEntered(t *testing.T) {
	// Middle column carries the sentinel: right column unreachable.
	//
	//   0 inf 1
	//   1 inf 1
	inf := uint32(6*1 + 1)
	cost := []uint32{0, inf, 1, 1, inf, 1}
	dist, pred := runRelaxToFixpoint(t, 3, 2, cost, inf)

	for _, i := range []int{1, 2, 4, 5} {
		if dist[i] != inf {
			t.Errorf("dist[%d] = %d, want sentinel %d", i, dist[i], inf)
		}
		if pred[i] != 0xFFFFFFFF {
			t.Errorf("pred[%d] = %#x, want NONE", i, pred[i])
		}
	}
	if dist[3] != 1 {
		t.Errorf("dist[3] = %d, want 1", dist[3])
	}
}

func TestPoolDispatchCoversAllItems(t *testing.T) {
	p := newWorkerPool(4)
	defer p.close()

	const n = 10000
	hits := make([]uint32, n)
	p.dispatch(n, func(i int) {
		hits[i]++
	})
	for i, h := range hits {
		if h != 1 {
			t.Fatalf("item %d executed %d times, want 1", i, h)
		}
	}
}

func TestPoolDispatchEmpty(t *testing.T) {
	p := newWorkerPool(2)
	defer p.close()
	p.dispatch(0, func(int) { t.Error("kernel must not run for empty dispatch") })
}
