package gridpath

import "errors"

// Errors returned by grid construction and path finding. Device-layer
// failures (platform, allocation, kernel launch) surface as the
// sentinels defined in package backend, wrapped with request context.
var (
	// ErrInvalidGrid reports a grid that cannot be solved: zero
	// dimensions, a cell count that does not match width*height, or
	// cell values so large the unreached sentinel would overflow.
	ErrInvalidGrid = errors.New("gridpath: invalid grid")

	// ErrConvergence reports that the relaxation still produced
	// updates after the iteration cap, which indicates corrupt device
	// results rather than a legitimate workload.
	ErrConvergence = errors.New("gridpath: relaxation failed to converge")

	// ErrPathReconstruction reports a corrupt predecessor chain: a
	// walk from the goal that exceeds the node count or steps through
	// an out-of-range index.
	ErrPathReconstruction = errors.New("gridpath: predecessor chain corrupt")
)
