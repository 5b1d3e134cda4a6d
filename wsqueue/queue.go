// Package wsqueue implements the work-stealing queue described in the
// runtime's scheduling design: a global unbounded injector plus N bounded
// per-worker local FIFOs, with spill-on-overflow pushes and steal-on-miss
// pops.
//
// The global injector here is a mutex-guarded slice rather than a
// Chase-Lev-style lock-free deque: the teacher's own event loop
// (eventloop/ingress.go) documents switching its equivalent ingress queue
// from lock-free CAS to a mutex specifically because "benchmarks showed
// mutex outperforms lock-free under high contention" for this access
// pattern (many producers, one drain-to-local consumer). The same
// reasoning applies here, so this package follows it rather than
// hand-rolling a lock-free deque.
package wsqueue

import (
	"sync"
)

// fairShareInterval is the "every 61st call" anti-starvation fair-share
// check: a worker that only ever pops local work will still observe
// global injector items on a bounded schedule.
const fairShareInterval = 61

// injector is the global, unbounded, multi-producer/multi-consumer queue.
type injector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (g *injector[T]) push(items ...T) {
	g.mu.Lock()
	g.items = append(g.items, items...)
	g.mu.Unlock()
}

func (g *injector[T]) pop() (item T, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.items) == 0 {
		return item, false
	}
	item = g.items[0]
	g.items = g.items[1:]
	return item, true
}

func (g *injector[T]) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.items)
}

// local is a bounded, owner-only FIFO. Only the owning worker calls pop;
// pushers and stealers go through the parent Queue, which serializes
// stealers with a CAS flag (see Queue.stealing).
type local[T any] struct {
	mu    sync.Mutex
	items []T
	cap   int
}

func (l *local[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Queue is the plain (non-priority) work-stealing queue: one global
// injector, N bounded locals.
type Queue[T any] struct {
	capacity int
	global   injector[T]
	locals   []*local[T]
	stealing []atomicFlag
	popCalls []uint64 // owner-only counters, one per worker; no atomics needed
}

// New constructs a Queue with nWorkers local FIFOs, each of the given
// capacity.
func New[T any](nWorkers, capacity int) *Queue[T] {
	q := &Queue[T]{
		capacity: capacity,
		locals:   make([]*local[T], nWorkers),
		stealing: make([]atomicFlag, nWorkers),
		popCalls: make([]uint64, nWorkers),
	}
	for i := range q.locals {
		q.locals[i] = &local[T]{cap: capacity}
	}
	return q
}

// Workers returns the number of local FIFOs.
func (q *Queue[T]) Workers() int { return len(q.locals) }

// PushGlobal submits an item directly to the global injector. Used by
// submitters outside any worker (e.g. Scheduler.SubmitGlobal called from
// an arbitrary goroutine).
func (q *Queue[T]) PushGlobal(item T) {
	q.global.push(item)
}

// Push pushes item onto worker's local FIFO, spilling half of it into the
// global injector first if it is already at capacity.
func (q *Queue[T]) Push(worker int, item T) {
	l := q.locals[worker]
	l.mu.Lock()
	if len(l.items) >= l.cap {
		half := (len(l.items) + 1) / 2
		spill := append([]T(nil), l.items[:half]...)
		l.items = l.items[half:]
		l.mu.Unlock()
		q.global.push(spill...)
		l.mu.Lock()
	}
	l.items = append(l.items, item)
	l.mu.Unlock()
}

// Pop pops the next item for worker, in priority order: every
// fairShareInterval-th call prefers the global injector (anti-starvation);
// otherwise the local FIFO is tried first, then a steal from a sibling,
// then the global injector as a last resort.
func (q *Queue[T]) Pop(worker int) (item T, ok bool) {
	q.popCalls[worker]++
	if q.popCalls[worker]%fairShareInterval == 0 {
		if item, ok = q.global.pop(); ok {
			return item, true
		}
	}

	l := q.locals[worker]
	l.mu.Lock()
	if len(l.items) > 0 {
		item = l.items[0]
		l.items = l.items[1:]
		l.mu.Unlock()
		return item, true
	}
	l.mu.Unlock()

	if item, ok = q.steal(worker); ok {
		return item, true
	}

	return q.global.pop()
}

// steal attempts to take work from a sibling local FIFO, serialized by a
// per-destination CAS "stealing" flag so at most one steal attempt runs
// against a given destination local at a time.
func (q *Queue[T]) steal(worker int) (item T, ok bool) {
	if !q.stealing[worker].tryAcquire() {
		return item, false
	}
	defer q.stealing[worker].release()

	n := len(q.locals)
	if n <= 1 {
		return item, false
	}
	start := pseudoRandomStart(worker, n)
	dst := q.locals[worker]

	for i := 0; i < n; i++ {
		src := (start + i) % n
		if src == worker {
			continue
		}
		srcLocal := q.locals[src]

		srcLocal.mu.Lock()
		srcLen := len(srcLocal.items)
		if srcLen == 0 {
			srcLocal.mu.Unlock()
			continue
		}

		dst.mu.Lock()
		dstLen := len(dst.items)
		destHalfRemaining := (q.capacity - dstLen) / 2
		if destHalfRemaining <= 0 {
			dst.mu.Unlock()
			srcLocal.mu.Unlock()
			continue
		}

		take := (srcLen + 1) / 2
		if take > destHalfRemaining {
			take = destHalfRemaining
		}
		if take <= 0 {
			dst.mu.Unlock()
			srcLocal.mu.Unlock()
			continue
		}

		stolen := append([]T(nil), srcLocal.items[:take]...)
		srcLocal.items = srcLocal.items[take:]
		srcLocal.mu.Unlock()

		// Hand the first stolen item back to the caller directly and keep
		// the rest on the destination local.
		item = stolen[0]
		dst.items = append(dst.items, stolen[1:]...)
		dst.mu.Unlock()
		return item, true
	}
	return item, false
}

// Len returns the number of items in worker's local FIFO; it does not
// count the global injector (see GlobalLen). Diagnostic use only.
func (q *Queue[T]) Len(worker int) int {
	return q.locals[worker].len()
}

// GlobalLen returns the number of items currently in the global injector.
func (q *Queue[T]) GlobalLen() int { return q.global.len() }

// pseudoRandomStart avoids a real PRNG dependency for what is just a
// scan-order scramble; it is good enough to avoid always hammering the
// same sibling first.
func pseudoRandomStart(worker, n int) int {
	return (worker*2654435761 + 1) % n
}
