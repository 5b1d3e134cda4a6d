// Package stackpool implements the reusable, guarded-stack pool described
// in §4.2: a min-heap ordered by (reference count, size, creation time),
// so that the first unused entry whose size satisfies a request is reused
// before a fresh allocation is made.
//
// Because coroutines in this module are goroutines rather than raw OS
// stacks (see SPEC_FULL.md §4.1), a Slot wraps a reusable []byte scratch
// buffer rather than a guarded mmap region; everything else — the
// (refcount, size, age) ordering, the keep-alive eviction, and the
// strong-reference reuse invariant — is implemented exactly as specified.
package stackpool

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Slot is a pooled, reusable scratch buffer. A Slot is reusable only when
// no strong holder beyond the pool remains (Invariant 5, §8): Release
// must be called exactly once per Acquire/allocate before the slot becomes
// eligible for reuse.
type Slot struct {
	Data []byte

	size      int
	createdAt int64 // unix nanos
	refs      atomic.Int32
}

// Size reports the capacity of the slot's backing buffer.
func (s *Slot) Size() int { return s.size }

// Acquire increments the slot's strong-reference count. The pool itself
// holds one implicit reference while a slot sits idle in the heap; a
// caller taking a slot out via Allocate already owns the sole reference.
func (s *Slot) Acquire() { s.refs.Add(1) }

// Release decrements the slot's strong-reference count. Once it reaches
// zero the slot becomes eligible for reuse or eviction.
func (s *Slot) Release() { s.refs.Add(-1) }

func (s *Slot) refCount() int32 { return s.refs.Load() }

// Pool is a process-wide (or per-fleet) pool of reusable Slots.
//
// Pool is safe for concurrent use, but in practice (per §5) it is driven
// single-threaded from event-loop worker goroutines plus the background
// clean pass, matching the spec's "concurrent access is single-threaded in
// practice" note.
type Pool struct {
	mu sync.Mutex
	h  slotHeap

	minCount       int
	keepAliveTime  time.Duration
	now            func() time.Time
	nextCreateTime int64
}

// New constructs a Pool. minCount is the minimum number of retained
// entries below which the clean pass never evicts (min_memory_count);
// keepAliveTime is the idle duration after which a retained entry beyond
// minCount may be dropped (memory_keep_alive_time).
func New(minCount int, keepAliveTime time.Duration) *Pool {
	return &Pool{
		minCount:      minCount,
		keepAliveTime: keepAliveTime,
		now:           time.Now,
	}
}

// Allocate returns a Slot whose buffer capacity is at least size: the
// smallest unused entry satisfying the request is reused (Invariant 5:
// strong_count == 1 at the moment of reuse); smaller unused entries
// examined along the way are re-enqueued; entries idle past keepAliveTime
// are dropped once the pool exceeds minCount. On a miss, a fresh Slot is
// allocated and inserted. A reused slot, like a fresh one, stays retained
// by the pool while in use.
func (p *Pool) Allocate(size int) *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Refcounts change outside the lock (Acquire/Release), so restore the
	// heap order before reading it.
	heap.Init(&p.h)

	now := p.now()
	var skipped []*Slot

	for p.h.Len() > 0 {
		candidate := p.h[0]

		if candidate.refCount() != 0 {
			// In use: cannot be the reuse target; nothing further down the
			// heap can beat it on the (refcount, size, age) order either,
			// since refcount sorts first, so stop scanning for reuse.
			break
		}

		heap.Pop(&p.h)

		expired := p.keepAliveTime > 0 &&
			now.UnixNano()-candidate.createdAt > p.keepAliveTime.Nanoseconds()
		if expired && p.h.Len()+len(skipped)+1 > p.minCount {
			// Drop: idle past keep-alive and pool is above the retained
			// minimum.
			continue
		}

		if candidate.size >= size {
			candidate.Acquire()
			heap.Push(&p.h, candidate)
			for _, s := range skipped {
				heap.Push(&p.h, s)
			}
			return candidate
		}

		skipped = append(skipped, candidate)
	}

	for _, s := range skipped {
		heap.Push(&p.h, s)
	}

	slot := &Slot{
		Data:      make([]byte, size),
		size:      size,
		createdAt: p.nextCreateTimeOrNow(now),
	}
	slot.Acquire()
	heap.Push(&p.h, slot)
	return slot
}

// nextCreateTimeOrNow returns a strictly-increasing creation timestamp so
// distinct slots allocated within the same time.Now() tick still sort
// deterministically by age.
func (p *Pool) nextCreateTimeOrNow(now time.Time) int64 {
	ts := now.UnixNano()
	if ts <= p.nextCreateTime {
		ts = p.nextCreateTime + 1
	}
	p.nextCreateTime = ts
	return ts
}

// Put returns slot to the pool after Release has dropped its refcount to
// zero. A slot the pool still retains (every slot Allocate returns stays
// retained) is not added a second time. Callers that still hold other
// references must not call Put.
func (p *Pool) Put(slot *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.h {
		if s == slot {
			heap.Init(&p.h)
			return
		}
	}
	heap.Push(&p.h, slot)
}

// Len returns the number of entries currently retained by the pool
// (used and unused).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h.Len()
}

// Clean runs the background eviction pass: every unused entry idle past
// keepAliveTime is dropped once doing so would not take the pool below
// minCount.
func (p *Pool) Clean() (evicted int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var kept []*Slot

	for p.h.Len() > 0 {
		s := heap.Pop(&p.h).(*Slot)
		expired := s.refCount() == 0 &&
			p.keepAliveTime > 0 &&
			now.UnixNano()-s.createdAt > p.keepAliveTime.Nanoseconds()
		if expired && p.h.Len()+len(kept) >= p.minCount {
			evicted++
			continue
		}
		kept = append(kept, s)
	}
	for _, s := range kept {
		heap.Push(&p.h, s)
	}
	return evicted
}

// slotHeap orders Slots by (refcount, size, creation time) ascending, so
// unused (refcount 0), smaller, older entries surface first.
type slotHeap []*Slot

func (h slotHeap) Len() int { return len(h) }

func (h slotHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	ra, rb := a.refCount(), b.refCount()
	if ra != rb {
		return ra < rb
	}
	if a.size != b.size {
		return a.size < b.size
	}
	return a.createdAt < b.createdAt
}

func (h slotHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *slotHeap) Push(x any) { *h = append(*h, x.(*Slot)) }

func (h *slotHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
