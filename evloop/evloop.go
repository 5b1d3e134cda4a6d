// Package evloop implements the per-CPU event loop of §4.9: one
// scheduler, one readiness selector, an optional completion-queue
// operator, and a small state machine driving wait_event/wait_just in a
// dedicated goroutine pinned (via runtime.LockOSThread) to one CPU's
// worth of work.
//
// §4.9's Loop struct is `{cpu, selector, operator?, pool, state}`; "pool"
// there names the scheduler of general-purpose coroutines registered on
// this loop (§4.3), not package copool's higher-level task pool (§4.8) —
// copool.Pool wraps its own worker goroutines and is a convenience a
// caller may run independently of, or via tasks submitted to, any given
// Loop's scheduler. This resolves an otherwise-circular reading of the
// spec (a "pool" that "wraps a scheduler" living inside the very struct
// the scheduler belongs to) in favor of the one grounded in §4.3's literal
// scheduler API.
package evloop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-opencoroutine/operator"
	"github.com/joeycumines/go-opencoroutine/rtlog"
	"github.com/joeycumines/go-opencoroutine/scheduler"
	"github.com/joeycumines/go-opencoroutine/selector"
)

// Slice is the default event-loop tick budget (10ms, per §4.9/§5's fixed
// preemption/scheduling slice).
const Slice = 10 * time.Millisecond

// State mirrors the teacher's LoopState: a small, explicit lifecycle
// rather than a bare bool, so Stop can observe "already draining" versus
// "never started".
type State int32

const (
	StateAwake State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ErrAlreadyRunning is returned by Start on a Loop that is already
// running or draining.
var ErrAlreadyRunning = errors.New("evloop: loop is already running")

// Loop is one CPU's worth of scheduling and I/O, per §4.9.
type Loop struct {
	cpu    int
	sched  *scheduler.Scheduler
	sel    *selector.Selector
	op     *operator.Operator // nil if no completion queue is available
	logger *rtlog.Logger

	state    atomic.Int32
	stopCh   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	eventBuf []selector.Event
}

// New constructs a Loop for logical cpu index cpu, driving sched and
// polling sel. op may be nil (no completion-queue support on this
// platform/kernel), matching §4.7's "optional, where supported".
func New(cpu int, sched *scheduler.Scheduler, sel *selector.Selector, op *operator.Operator, logger *rtlog.Logger) *Loop {
	return &Loop{
		cpu:      cpu,
		sched:    sched,
		sel:      sel,
		op:       op,
		logger:   rtlog.OrDefault(logger),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
		eventBuf: make([]selector.Event, 256),
	}
}

// CPU reports the logical CPU this loop is associated with.
func (l *Loop) CPU() int { return l.cpu }

// Scheduler exposes the loop's coroutine scheduler, e.g. for fleet/nio to
// submit and resume coroutines on this loop.
func (l *Loop) Scheduler() *scheduler.Scheduler { return l.sched }

// Selector exposes the loop's readiness selector, for fleet/nio to
// register fd interest on this loop.
func (l *Loop) Selector() *selector.Selector { return l.sel }

// State reports the loop's current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// waitJust is §4.9's wait_just: clamp timeout to ≤ Slice, reap any
// completion-queue results (non-blocking — the selector poll below
// performs the actual wait), then poll the selector and try_resume every
// ready token.
//
// The "if inside a coroutine with Syscall/Executing..." branch of §4.9's
// wait_just describes a coroutine's own blocking syscall wrapper parking
// itself; that path is realized directly by package nio against the
// coroutine.Suspender API (EnterSyscall/suspendUntil) rather than by
// looping back through this driver-thread method; nio never calls
// waitJust, which only waitEvent uses. See SPEC_FULL.md / DESIGN.md.
func (l *Loop) waitJust(timeout time.Duration) (int, error) {
	if timeout > Slice {
		timeout = Slice
	}

	if l.op != nil {
		if _, err := l.op.Select(0, 0); err != nil {
			l.logger.Warning().Err(err).Log("evloop: operator reap failed")
		}
	}

	n, err := l.sel.Select(l.eventBuf, timeout)
	if err != nil {
		return 0, fmt.Errorf("evloop: selector poll: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := l.eventBuf[i]
		if ev.Err != nil {
			l.logger.Debug().Str("token", ev.Token).Err(ev.Err).Log("evloop: fd reported error")
		}
		if err := l.sched.TryResume(ev.Token, ev); err != nil {
			l.logger.Warning().Str("token", ev.Token).Err(err).Log("evloop: try_resume failed")
		}
	}
	return n, nil
}

// waitEvent is §4.9's wait_event: run the scheduler for up to timeout,
// then spend whatever remains polling for I/O readiness.
func (l *Loop) waitEvent(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	remaining, err := l.sched.TryTimeoutSchedule(deadline)
	if err != nil && !errors.Is(err, scheduler.ErrSchedulingBusy) {
		return err
	}
	if remaining < 0 {
		remaining = 0
	}
	_, err = l.waitJust(remaining)
	return err
}

// Start creates a dedicated goroutine, pinned to an OS thread (the
// closest Go analogue to §4.9's "dedicated OS thread pinned to cpu"),
// that loops wait_event(Slice) until Stop flips the state to Stopped and
// no work remains.
func (l *Loop) Start() error {
	if !l.state.CompareAndSwap(int32(StateAwake), int32(StateRunning)) {
		return ErrAlreadyRunning
	}
	go l.run()
	return nil
}

func (l *Loop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.stopped)

	for {
		select {
		case <-l.stopCh:
			if l.sched.PendingSyscalls() == 0 {
				l.state.Store(int32(StateStopped))
				return
			}
		default:
		}

		if err := l.waitEvent(Slice); err != nil {
			l.logger.Warning().Err(err).Log("evloop: wait_event failed")
		}

		if State(l.state.Load()) == StateStopping && l.sched.PendingSyscalls() == 0 {
			l.state.Store(int32(StateStopped))
			return
		}
	}
}

// Stop flips the loop to draining. If wait, Stop blocks (or until ctx is
// done) for the loop's goroutine to observe drained queues and exit.
func (l *Loop) Stop(ctx context.Context, wait bool) error {
	l.stopOnce.Do(func() {
		l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		close(l.stopCh)
	})
	if !wait {
		return nil
	}
	select {
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
