// Package scheduler implements the single-threaded cooperative dispatcher
// from §4.3: one owned slot of a shared work-stealing queue, a suspend
// timer list, a syscall-suspend timer list, a syscall map, and a results
// map.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/rtlog"
	"github.com/joeycumines/go-opencoroutine/timer"
	"github.com/joeycumines/go-opencoroutine/wsqueue"
)

// ErrSchedulingBusy is returned by TryTimeoutSchedule when another
// goroutine is already running this Scheduler's loop. The spec's "CURRENT
// thread-local install" reentrancy guard is realized here as a non-blocking
// mutex acquisition, since Go has no equivalent of installing a guard on
// the calling OS thread.
var ErrSchedulingBusy = errors.New("scheduler: scheduling loop already running on this scheduler")

// ErrProtocolViolation is returned when a resumed coroutine returns a state
// outside {Suspend, Syscall, Complete, Error, Cancelled}, per §4.3's
// "any other returned state is a protocol violation."
var ErrProtocolViolation = errors.New("scheduler: coroutine returned an unrecognized state")

// Result is a terminal coroutine outcome, recorded under its name.
type Result struct {
	State coroutine.State
}

// Entry pairs a coroutine.Handle with the argument it should be resumed
// with. The queue is generic over T, so this is the scheduler's concrete
// element type: unlike a plain Handle, it carries whatever payload the
// coroutine's next Resume call needs (a syscall result, a pool task
// parameter, or nothing for a timer-driven wakeup).
type Entry struct {
	Handle coroutine.Handle
	Arg    any
}

// Scheduler is one worker's view of a queue shared with its siblings (see
// wsqueue.Queue), plus the timer lists, syscall map, and results map
// §3 assigns it exclusively.
type Scheduler struct {
	id     int
	queue  *wsqueue.Queue[Entry]
	logger *rtlog.Logger

	mu            sync.Mutex
	suspendTimers *timer.List[Entry]
	syscallTimers *timer.List[string]
	syscalled     map[string]coroutine.Handle

	resultsMu sync.Mutex
	results   map[string]Result

	loopMu sync.Mutex
}

// New constructs a Scheduler bound to local slot workerID of queue.
func New(workerID int, queue *wsqueue.Queue[Entry], logger *rtlog.Logger) *Scheduler {
	return &Scheduler{
		id:            workerID,
		queue:         queue,
		logger:        rtlog.OrDefault(logger),
		suspendTimers: timer.New[Entry](),
		syscallTimers: timer.New[string](),
		syscalled:     make(map[string]coroutine.Handle),
		results:       make(map[string]Result),
	}
}

// SubmitCo pushes a Ready coroutine onto this scheduler's local queue
// slot (§4.3's submit_co), to be resumed with arg the first time it is
// popped.
func (s *Scheduler) SubmitCo(h coroutine.Handle, arg any) {
	s.queue.Push(s.id, Entry{Handle: h, Arg: arg})
}

// SubmitGlobal pushes h directly onto the shared queue's global injector,
// for submitters that are not themselves a queue worker (e.g. an external
// caller handing work to a pool).
func (s *Scheduler) SubmitGlobal(h coroutine.Handle, arg any) {
	s.queue.PushGlobal(Entry{Handle: h, Arg: arg})
}

// TryResume moves a coroutine from the syscall map back to ready, used by
// I/O completion paths (selector §4.6, operator §4.7). result is delivered
// as the coroutine's next Resume argument, e.g. a byte count or a decoded
// errno.
func (s *Scheduler) TryResume(name string, result any) error {
	s.mu.Lock()
	h, ok := s.syscalled[name]
	if !ok {
		s.mu.Unlock()
		// Already resumed, timed out, or never parked on this scheduler:
		// not an error, since completion and timeout can race.
		return nil
	}
	delete(s.syscalled, name)
	st := h.State()
	if st.Kind == coroutine.Syscall && st.Substate == coroutine.SuspendWait {
		s.syscallTimers.RemoveMatch(st.Deadline, func(n string) bool { return n == name })
	}
	s.mu.Unlock()

	if err := h.MarkCallback(); err != nil {
		return err
	}
	s.queue.PushGlobal(Entry{Handle: h, Arg: result})
	return nil
}

// TryTimeoutSchedule runs the scheduling loop until either this
// scheduler's queue is empty or the wall clock reaches deadline,
// returning the time remaining until deadline. It is safe to call
// concurrently with Submit*/TryResume from other goroutines, but at most
// one goroutine may run the loop itself at a time; a concurrent call
// returns ErrSchedulingBusy rather than blocking.
func (s *Scheduler) TryTimeoutSchedule(deadline time.Time) (time.Duration, error) {
	if !s.loopMu.TryLock() {
		return 0, ErrSchedulingBusy
	}
	defer s.loopMu.Unlock()

	for {
		now := time.Now()
		if !now.Before(deadline) {
			return 0, nil
		}

		s.drainSuspendTimers(now)
		s.drainSyscallTimers(now)

		e, ok := s.queue.Pop(s.id)
		if !ok {
			return deadline.Sub(now), nil
		}

		if err := s.resumeAndDispatch(e); err != nil {
			return 0, err
		}
	}
}

// drainSuspendTimers transitions every Suspend entry whose wake timestamp
// has elapsed to Ready and pushes it to the queue (§4.3 step 1).
func (s *Scheduler) drainSuspendTimers(now time.Time) {
	nowNanos := now.UnixNano()
	for {
		s.mu.Lock()
		ts, _, ok := s.suspendTimers.Front()
		if !ok || ts > nowNanos {
			s.mu.Unlock()
			return
		}
		_, bucket, _ := s.suspendTimers.PopFront()
		s.mu.Unlock()

		for _, e := range bucket {
			if err := e.Handle.MarkReady(); err != nil {
				s.logger.Warning().Str("coroutine", e.Handle.Name()).Err(err).Log("suspend-timer ready transition rejected")
				continue
			}
			s.queue.PushGlobal(e)
		}
	}
}

// drainSyscallTimers transitions every still-parked syscall entry whose
// deadline has elapsed to Syscall/Timeout and pushes it to the queue
// (§4.3 step 2).
func (s *Scheduler) drainSyscallTimers(now time.Time) {
	nowNanos := now.UnixNano()
	for {
		s.mu.Lock()
		ts, _, ok := s.syscallTimers.Front()
		if !ok || ts > nowNanos {
			s.mu.Unlock()
			return
		}
		_, names, _ := s.syscallTimers.PopFront()
		var woken []coroutine.Handle
		for _, name := range names {
			if h, present := s.syscalled[name]; present {
				delete(s.syscalled, name)
				woken = append(woken, h)
			}
		}
		s.mu.Unlock()

		for _, h := range woken {
			if err := h.MarkTimeout(); err != nil {
				s.logger.Warning().Str("coroutine", h.Name()).Err(err).Log("syscall-timer timeout transition rejected")
				continue
			}
			s.queue.PushGlobal(Entry{Handle: h})
		}
	}
}

// resumeAndDispatch resumes e.Handle with e.Arg and dispatches on the
// returned state, per §4.3 step 4.
func (s *Scheduler) resumeAndDispatch(e Entry) error {
	st, err := e.Handle.Resume(e.Arg)
	if err != nil {
		return fmt.Errorf("scheduler: resuming %s: %w", e.Handle.Name(), err)
	}

	switch st.Kind {
	case coroutine.Suspend:
		now := time.Now().UnixNano()
		next := Entry{Handle: e.Handle}
		if st.WakeAt > now {
			s.mu.Lock()
			s.suspendTimers.Insert(st.WakeAt, next)
			s.mu.Unlock()
		} else {
			s.queue.PushGlobal(next)
		}

	case coroutine.Syscall:
		name := e.Handle.Name()
		s.mu.Lock()
		s.syscalled[name] = e.Handle
		if st.Substate == coroutine.SuspendWait && st.Deadline > 0 {
			s.syscallTimers.Insert(st.Deadline, name)
		}
		s.mu.Unlock()

	case coroutine.Complete, coroutine.Error, coroutine.Cancelled:
		s.resultsMu.Lock()
		s.results[e.Handle.Name()] = Result{State: st}
		s.resultsMu.Unlock()

	default:
		return fmt.Errorf("%w: %s returned %s", ErrProtocolViolation, e.Handle.Name(), st.Kind)
	}
	return nil
}

// Result returns the recorded terminal outcome for name, if any.
func (s *Scheduler) Result(name string) (Result, bool) {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	r, ok := s.results[name]
	return r, ok
}

// DeleteResult discards the recorded outcome for name, e.g. once a joiner
// has consumed it.
func (s *Scheduler) DeleteResult(name string) {
	s.resultsMu.Lock()
	delete(s.results, name)
	s.resultsMu.Unlock()
}

// PendingSyscalls reports how many coroutines are currently parked in the
// syscall map, for diagnostics and pool shutdown draining.
func (s *Scheduler) PendingSyscalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.syscalled)
}
