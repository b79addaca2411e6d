package cpu

import "sync/atomic"

// relaxNode is one work item of the relax kernel: propagate the
// distance of node u into its 4-connected neighbors. It is the host
// twin of the WGSL kernel in backend/wgpu/shaders and must keep the
// same semantics: skip unreached sources, never enter a cell whose
// cost carries the unreached sentinel, raise the change flag on every
// improvement.
func relaxNode(u, width, height int, inf uint32, cost, dist, pred []uint32, flag *uint32) {
	du := atomic.LoadUint32(&dist[u])
	if du >= inf {
		return
	}

	x := u % width
	y := u / width

	// Neighbor order: up, down, left, right.
	if y > 0 {
		relaxEdge(u, u-width, du, inf, cost, dist, pred, flag)
	}
	if y < height-1 {
		relaxEdge(u, u+width, du, inf, cost, dist, pred, flag)
	}
	if x > 0 {
		relaxEdge(u, u-1, du, inf, cost, dist, pred, flag)
	}
	if x < width-1 {
		relaxEdge(u, u+1, du, inf, cost, dist, pred, flag)
	}
}

// relaxEdge performs an atomic-minimum update of dist[v] with
// dist[u]+cost[v]. The CAS loop is the host equivalent of the device
// atomicMin; the predecessor store after a won CAS mirrors the device
// kernel's relaxed ordering. dist and pred are two separate atomics,
// so two winners can interleave and leave pred[v] naming a
// non-minimal predecessor while dist[v] already holds the minimum.
// The host sums the reconstructed path for the reported cost, which
// keeps the response self-consistent under that window.
func relaxEdge(u, v int, du, inf uint32, cost, dist, pred []uint32, flag *uint32) {
	cv := cost[v]
	if cv >= inf {
		return
	}
	cand := du + cv
	for {
		old := atomic.LoadUint32(&dist[v])
		if cand >= old {
			return
		}
		if atomic.CompareAndSwapUint32(&dist[v], old, cand) {
			atomic.StoreUint32(&pred[v], uint32(u))
			atomic.StoreUint32(flag, 1)
			return
		}
	}
}
