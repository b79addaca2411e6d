package cpu

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// workerPool runs kernel invocations across a fixed set of goroutines.
//
// Each worker has its own queue and steals from the others when its own
// runs dry, which balances load when some grid regions relax faster
// than others. The pool lives for the lifetime of the backend and is
// shared by all sessions.
//
// Thread safety: workerPool is safe for concurrent use.
type workerPool struct {
	workers int

	// queues holds per-worker work queues. A worker primarily pulls
	// from its own queue but can steal from the rest.
	queues []chan func()

	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// newWorkerPool starts a pool with the given number of workers.
// Zero or negative means GOMAXPROCS.
func newWorkerPool(workers int) *workerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &workerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *workerPool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(myQueue)
			return

		case work := <-myQueue:
			if work != nil {
				work()
			}

		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
			} else {
				// Nothing to steal, block on own queue.
				select {
				case <-p.done:
					p.drain(myQueue)
					return
				case work := <-myQueue:
					if work != nil {
						work()
					}
				}
			}
		}
	}
}

func (p *workerPool) drain(queue chan func()) {
	for {
		select {
		case work := <-queue:
			if work != nil {
				work()
			}
		default:
			return
		}
	}
}

// steal takes one work item from another worker's queue, or nil.
func (p *workerPool) steal(myID int) func() {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case work := <-p.queues[i]:
			return work
		default:
		}
	}
	return nil
}

// dispatch runs kernel(i) for every work item i in [0, globalSize) and
// waits for all of them. Items are grouped into contiguous chunks so
// neighboring grid cells tend to stay on one worker.
func (p *workerPool) dispatch(globalSize int, kernel func(i int)) {
	if globalSize <= 0 || !p.running.Load() {
		return
	}

	chunk := (globalSize + p.workers - 1) / p.workers
	if chunk < 64 {
		chunk = 64
	}

	var wg sync.WaitGroup
	next := 0
	for w := 0; next < globalSize; w++ {
		lo, hi := next, next+chunk
		if hi > globalSize {
			hi = globalSize
		}
		next = hi

		wg.Add(1)
		job := func() {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				kernel(i)
			}
		}

		select {
		case p.queues[w%p.workers] <- job:
		case <-p.done:
			// Pool is closing, run inline so the dispatch still
			// completes.
			job()
		}
	}
	wg.Wait()
}

// close stops the workers after draining queued work. Safe to call
// multiple times.
func (p *workerPool) close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}
