// Package gridpath computes shortest paths through weighted 2D grids
// on compute devices.
//
// A [Grid] is a dense row-major field of non-negative cell costs. The
// [PathFinder] offloads a parallel Bellman-Ford wavefront relaxation to
// a compute backend (GPU via backend/wgpu, or the software fallback in
// backend/cpu) and reconstructs the cheapest 4-connected route from the
// start cell to the goal cell.
//
// Basic usage:
//
//	b, err := backend.InitDefault("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
//	g, err := gridpath.NewGrid(4, 4, cells)
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, err := gridpath.NewPathFinder(b).FindPath(ctx, g)
//
// An unreachable goal is not an error: FindPath reports it with
// [StatusNoPath] and an empty path. Device and convergence failures are
// returned as wrapped sentinel errors, see Err* in this package and in
// package backend.
//
// The package produces no log output by default. Call [SetLogger] to
// enable structured logging across gridpath and its backends.
package gridpath
