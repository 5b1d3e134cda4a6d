// Package timer implements an ordered mapping from a nanosecond wall-clock
// timestamp to a FIFO bucket of entries at that timestamp, used by package
// scheduler for its suspend-wake and syscall-deadline lists.
package timer

import (
	"container/heap"
)

// List is a timer-ordered mapping timestamp (int64, nanoseconds) -> FIFO
// bucket of entries at that timestamp. It is the Go realization of the
// spec's "conceptually BTreeMap<u64, VecDeque<T>>": a min-heap of distinct
// timestamps gives O(log N) insert/peek/pop over buckets, and a side map
// gives O(1) access to the bucket for a known timestamp.
//
// A List is not safe for concurrent use; its caller (scheduler) guards
// it with its own mutex, matching how the teacher's eventloop.timerHeap
// is only ever touched from the owning loop goroutine.
type List[T any] struct {
	order tsHeap
	buckets map[int64][]T
}

// New constructs an empty List.
func New[T any]() *List[T] {
	return &List[T]{buckets: make(map[int64][]T)}
}

// Len returns the total number of entries across all buckets.
func (l *List[T]) Len() int {
	n := 0
	for _, b := range l.buckets {
		n += len(b)
	}
	return n
}

// Insert appends entry to the bucket at ts, creating the bucket (and
// recording ts in the ordering heap) if this is the first entry at ts.
// Entries inserted at the same ts preserve insertion (FIFO) order.
func (l *List[T]) Insert(ts int64, entry T) {
	b, ok := l.buckets[ts]
	if !ok {
		heap.Push(&l.order, ts)
	}
	l.buckets[ts] = append(b, entry)
}

// Front returns the lowest timestamp present and its bucket, without
// removing it. ok is false if the list is empty.
func (l *List[T]) Front() (ts int64, bucket []T, ok bool) {
	if len(l.order) == 0 {
		return 0, nil, false
	}
	ts = l.order[0]
	return ts, l.buckets[ts], true
}

// PopFront removes and returns the bucket at the lowest timestamp. ok is
// false if the list is empty.
func (l *List[T]) PopFront() (ts int64, bucket []T, ok bool) {
	if len(l.order) == 0 {
		return 0, nil, false
	}
	ts = heap.Pop(&l.order).(int64)
	bucket = l.buckets[ts]
	delete(l.buckets, ts)
	return ts, bucket, true
}

// Remove deletes the entire bucket at ts, if present, returning it.
func (l *List[T]) Remove(ts int64) (bucket []T, ok bool) {
	bucket, ok = l.buckets[ts]
	if !ok {
		return nil, false
	}
	delete(l.buckets, ts)
	l.order.removeValue(ts)
	return bucket, true
}

// RemoveMatch scans the bucket at ts and removes the first entry for which
// match returns true, leaving any remaining entries (and the bucket's
// ordering) intact. This is an addition beyond the spec's base four
// operations: the scheduler's try_resume (early completion of a syscall
// that also has a pending timeout) needs to drop exactly one coroutine's
// timeout entry without disturbing siblings sharing the same deadline.
func (l *List[T]) RemoveMatch(ts int64, match func(T) bool) (removed T, ok bool) {
	b, present := l.buckets[ts]
	if !present {
		return removed, false
	}
	for i, e := range b {
		if match(e) {
			removed = e
			b = append(b[:i], b[i+1:]...)
			if len(b) == 0 {
				delete(l.buckets, ts)
				l.order.removeValue(ts)
			} else {
				l.buckets[ts] = b
			}
			return removed, true
		}
	}
	return removed, false
}

// tsHeap is a min-heap of distinct int64 timestamps.
type tsHeap []int64

func (h tsHeap) Len() int            { return len(h) }
func (h tsHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h tsHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *tsHeap) Push(x any)         { *h = append(*h, x.(int64)) }
func (h *tsHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// removeValue removes the first occurrence of v from the heap, re-heapifying.
// Used by Remove/RemoveMatch when a bucket empties out early (not via
// PopFront). O(N) scan; timer lists in this codebase hold a small number of
// distinct deadlines relative to the entry count per bucket.
func (h *tsHeap) removeValue(v int64) {
	for i, x := range *h {
		if x == v {
			heap.Remove(h, i)
			return
		}
	}
}
