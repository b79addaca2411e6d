package gridpath

import (
	"context"
	"fmt"

	"github.com/gridpath/gridpath/backend"
)

// Status values reported in [Result].
const (
	// StatusOK means a cheapest path was found.
	StatusOK = "ok"
	// StatusNoPath means the goal is unreachable. This is a normal
	// outcome, not an error.
	StatusNoPath = "no_path"
)

// Result is the outcome of a successful FindPath call. TotalCost is
// the summed entry cost of the returned path, so path and cost always
// agree with each other.
type Result struct {
	Status     string
	Path       Path
	TotalCost  uint64
	Iterations int
}

// PathFinder offloads the wavefront relaxation to a compute backend.
// It holds no per-request state and is safe for concurrent use; each
// FindPath call opens its own session.
type PathFinder struct {
	backend backend.ComputeBackend
}

// NewPathFinder returns a PathFinder running on the given backend.
// The backend must already be initialized.
func NewPathFinder(b backend.ComputeBackend) *PathFinder {
	return &PathFinder{backend: b}
}

// FindPath computes the cheapest 4-connected route from the start cell
// (index 0) to the goal cell (the minimum-valued cell, first occurrence
// in row-major order).
//
// The relaxation runs as repeated parallel dispatches over all nodes,
// one per wavefront, until a dispatch changes nothing. The iteration
// cap is the node count; exceeding it returns ErrConvergence. All
// device buffers are released before FindPath returns, on every path.
func (p *PathFinder) FindPath(ctx context.Context, g *Grid) (*Result, error) {
	inf, err := g.Sentinel()
	if err != nil {
		return nil, err
	}
	n := g.Len()
	start, goal := g.Start(), g.Goal()

	sess, err := p.backend.OpenSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	cost, err := sess.Allocate(n, backend.RoleCost)
	if err != nil {
		return nil, fmt.Errorf("cost buffer: %w", err)
	}
	dist, err := sess.Allocate(n, backend.RoleDistance)
	if err != nil {
		return nil, fmt.Errorf("distance buffer: %w", err)
	}
	pred, err := sess.Allocate(n, backend.RolePredecessor)
	if err != nil {
		return nil, fmt.Errorf("predecessor buffer: %w", err)
	}
	flag, err := sess.Allocate(1, backend.RoleFlag)
	if err != nil {
		return nil, fmt.Errorf("flag buffer: %w", err)
	}

	// Walls are written to the device as the sentinel so the kernel
	// can refuse to enter them with a single compare.
	costInit := make([]uint32, n)
	for i, c := range g.Cells {
		if c >= ObstacleThreshold {
			costInit[i] = inf
		} else {
			costInit[i] = c
		}
	}
	distInit := make([]uint32, n)
	for i := range distInit {
		distInit[i] = inf
	}
	distInit[start] = 0
	predInit := make([]uint32, n)
	for i := range predInit {
		predInit[i] = PredNone
	}

	if err := sess.EnqueueWrite(cost, costInit); err != nil {
		return nil, fmt.Errorf("upload cost: %w", err)
	}
	if err := sess.EnqueueWrite(dist, distInit); err != nil {
		return nil, fmt.Errorf("upload distance: %w", err)
	}
	if err := sess.EnqueueWrite(pred, predInit); err != nil {
		return nil, fmt.Errorf("upload predecessor: %w", err)
	}

	args := backend.KernelArgs{
		Buffers:  []backend.Buffer{cost, dist, pred, flag},
		Uniforms: []uint32{uint32(g.Width), uint32(g.Height), inf},
	}

	var zero, changed [1]uint32
	dispatches := 0
	converged := false
	for dispatches < n {
		if err := sess.EnqueueWrite(flag, zero[:]); err != nil {
			return nil, fmt.Errorf("reset flag: %w", err)
		}
		if err := sess.EnqueueKernel(backend.KernelRelax, n, args); err != nil {
			return nil, fmt.Errorf("relax dispatch %d: %w", dispatches, err)
		}
		if err := sess.Await(ctx); err != nil {
			return nil, fmt.Errorf("relax dispatch %d: %w", dispatches, err)
		}
		if err := sess.EnqueueRead(ctx, flag, changed[:]); err != nil {
			return nil, fmt.Errorf("read flag: %w", err)
		}
		dispatches++
		if changed[0] == 0 {
			converged = true
			break
		}
	}
	if !converged {
		return nil, fmt.Errorf("%w: still relaxing after %d dispatches over %d nodes",
			ErrConvergence, dispatches, n)
	}

	distOut := make([]uint32, n)
	if err := sess.EnqueueRead(ctx, dist, distOut); err != nil {
		return nil, fmt.Errorf("read distance: %w", err)
	}
	predOut := make([]uint32, n)
	if err := sess.EnqueueRead(ctx, pred, predOut); err != nil {
		return nil, fmt.Errorf("read predecessor: %w", err)
	}

	Logger().Debug("relaxation converged",
		"device", sess.Device().Name,
		"nodes", n,
		"iterations", dispatches)

	if distOut[goal] >= inf {
		return &Result{Status: StatusNoPath, Path: Path{}, Iterations: dispatches}, nil
	}

	path, total, err := reconstruct(g, start, goal, predOut)
	if err != nil {
		return nil, err
	}
	return &Result{
		Status:     StatusOK,
		Path:       path,
		TotalCost:  total,
		Iterations: dispatches,
	}, nil
}

// reconstruct walks the predecessor chain from goal back to start and
// reverses it, summing the entry cost of every node after the start.
// The cost is taken from the walked path rather than dist[goal]: the
// kernels store dist and pred in two separate atomics, so a pred entry
// can lag one relaxation behind its distance. The walk is bounded by
// the node count so a cyclic or corrupt chain cannot loop forever.
func reconstruct(g *Grid, start, goal int, pred []uint32) (Path, uint64, error) {
	n := g.Len()
	idxs := make([]int, 0, 16)
	var total uint64
	cur := goal
	for steps := 0; ; steps++ {
		if steps > n {
			return nil, 0, fmt.Errorf("%w: walk exceeded %d nodes", ErrPathReconstruction, n)
		}
		idxs = append(idxs, cur)
		if cur == start {
			break
		}
		total += uint64(g.Cells[cur])
		p := pred[cur]
		if p == PredNone || int(p) >= n {
			return nil, 0, fmt.Errorf("%w: node %d has predecessor %#x",
				ErrPathReconstruction, cur, p)
		}
		cur = int(p)
	}

	path := make(Path, len(idxs))
	for i, idx := range idxs {
		path[len(idxs)-1-i] = g.Coord(idx)
	}
	return path, total, nil
}
