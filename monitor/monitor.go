// Package monitor implements §4.11's preemption monitor: a background
// ticker that tracks {deadline, coroutine} pairs and, once a slice
// expires, flags the coroutine for cooperative preemption.
//
// The spec's monitor is a process-wide singleton that signals SIGURG to
// the OS thread a coroutine happens to be running on, interrupting it
// mid-instruction. Go gives a library no equivalent: goroutines have no
// stable OS-thread identity a caller can target, and Go reserves
// asynchronous preemption (via signal injection into the runtime itself)
// for its own scheduler — a user package cannot hook into where it lands.
// This module's Monitor instead arms a per-coroutine flag
// (coroutine.Handle.RequestPreempt, observed via Suspender.Preempted) the
// same 10ms slice after a Ready->Running transition that the spec's
// SIGURG would fire; a coroutine whose body runs through a voluntary
// check-in point (package nio's syscall retry loop, or any user loop
// calling Suspender.Preempted) yields there instead of at an arbitrary
// instruction. This mirrors how Go's own runtime only guarantees
// fairness at function-call/loop safe-points, not true instruction-level
// preemption, so the narrowing is consistent with the host language
// rather than a workaround. Recorded as a resolved Open Question in
// DESIGN.md.
package monitor

import (
	"sync"
	"time"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/rtlog"
)

// Slice is the fixed per-Running-transition deadline, per §4.11/§5 ("The
// deadline is a fixed 10 ms slice per Ready→Running transition").
const Slice = 10 * time.Millisecond

// TickInterval is how often the monitor scans for expired deadlines,
// per §4.11 ("every 1 ms, walk the set").
const TickInterval = time.Millisecond

type node struct {
	deadline int64 // unix nanos
	handle   coroutine.Handle
}

// Monitor is the process-wide (or per-Fleet, in this module — nothing
// requires a single process to run only one) preemption deadline set.
type Monitor struct {
	logger *rtlog.Logger

	mu    sync.Mutex
	nodes map[string]*node

	stopCh   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New constructs a Monitor; call Start to begin its scan loop.
func New(logger *rtlog.Logger) *Monitor {
	return &Monitor{
		logger:  rtlog.OrDefault(logger),
		nodes:   make(map[string]*node),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the monitor's scan goroutine.
func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) run() {
	defer close(m.stopped)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.scan(now.UnixNano())
		}
	}
}

// scan walks the node set, flagging (and removing) every node whose
// deadline has passed, per §4.11's "for each node whose deadline is
// past, send SIGURG to its thread".
func (m *Monitor) scan(nowNanos int64) {
	m.mu.Lock()
	var expired []*node
	for name, n := range m.nodes {
		if n.deadline <= nowNanos {
			expired = append(expired, n)
			delete(m.nodes, name)
		}
	}
	m.mu.Unlock()

	for _, n := range expired {
		n.handle.RequestPreempt()
		m.logger.Debug().Str("coroutine", n.handle.Name()).Log("monitor: preemption requested")
	}
}

// arm inserts {now + Slice, handle}, per §4.11's listener hook on every
// Ready->Running transition.
func (m *Monitor) arm(handle coroutine.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[handle.Name()] = &node{deadline: time.Now().Add(Slice).UnixNano(), handle: handle}
}

// disarm removes any node for name, per §4.11's "removes it on any exit
// from Running".
func (m *Monitor) disarm(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, name)
}

// Len reports the number of coroutines currently being tracked, for
// diagnostics and tests.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

// Stop halts the scan goroutine and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.stopped
}
