package backend

import "sync/atomic"

// Accounting tracks live device buffers and bytes for a backend.
// Sessions increment on allocation and decrement on release, so a
// zero reading after a request proves every buffer was returned.
type Accounting struct {
	liveBuffers atomic.Int64
	liveBytes   atomic.Int64

	totalAllocs atomic.Int64
	peakBytes   atomic.Int64
}

// Stats is a point-in-time snapshot of buffer accounting.
type Stats struct {
	LiveBuffers int64
	LiveBytes   int64
	TotalAllocs int64
	PeakBytes   int64
}

// OnAllocate records a successful buffer allocation of size bytes.
func (a *Accounting) OnAllocate(size int64) {
	a.liveBuffers.Add(1)
	a.totalAllocs.Add(1)
	live := a.liveBytes.Add(size)

	for {
		peak := a.peakBytes.Load()
		if live <= peak || a.peakBytes.CompareAndSwap(peak, live) {
			return
		}
	}
}

// OnRelease records a buffer release of size bytes.
func (a *Accounting) OnRelease(size int64) {
	a.liveBuffers.Add(-1)
	a.liveBytes.Add(-size)
}

// Snapshot returns current accounting values.
func (a *Accounting) Snapshot() Stats {
	return Stats{
		LiveBuffers: a.liveBuffers.Load(),
		LiveBytes:   a.liveBytes.Load(),
		TotalAllocs: a.totalAllocs.Load(),
		PeakBytes:   a.peakBytes.Load(),
	}
}

// LiveBuffers returns the number of currently allocated buffers.
func (a *Accounting) LiveBuffers() int64 {
	return a.liveBuffers.Load()
}
