package coroutine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handle is the type-erased view of a Coroutine[P, Y, R] the scheduler,
// pool, and timer/queue subsystems operate on: they never know P, Y, or R,
// only a named, prioritized, resumable state machine. Resume's arg is
// asserted to the coroutine's Param type; an arg of any other type
// (including nil) is replaced by Param's zero value. The scheduler only
// ever resumes a coroutine with the zero value or a value it itself
// produced.
type Handle interface {
	Name() string
	Priority() int
	Locals() *Locals

	// Resume transfers control into the coroutine (§4.1). It is not
	// re-entrant: calling Resume while the coroutine is already Running
	// returns ErrNotReentrant. Calling Resume on an already-terminal
	// coroutine returns ErrTerminal.
	Resume(arg any) (State, error)

	// State returns the coroutine's last reported state without
	// transferring control.
	State() State

	// Cancel requests cancellation (§5's "Cancellation") by setting a
	// flag the body reads through Suspender.Cancelled(). Suspension points
	// and Resume do not check the flag; the coroutine ends in the
	// Cancelled state when Func returns while the flag is set.
	Cancel()

	// MarkReady performs the externally-clock-driven Suspend -> Ready
	// transition (§4.3's ready scan, "Suspend(_, ts) -> Ready | ready scan
	// at now >= ts"), called by the scheduler when popping an expired
	// entry from its suspend timer list.
	MarkReady() error

	// MarkCallback performs Syscall/Suspend -> Syscall/Callback, called by
	// the selector/operator completion path (§4.3 table).
	MarkCallback() error

	// MarkTimeout performs Syscall/Suspend -> Syscall/Timeout, called by
	// the scheduler when popping an expired entry from its
	// syscall-suspend timer list (§4.3 table).
	MarkTimeout() error

	// RequestPreempt flags that this coroutine's scheduling slice has
	// expired (§4.11): observed the next time the coroutine's body
	// checks Suspender.Preempted(), analogous to Cancel/Cancelled. Unlike
	// the spec's SIGURG-based design, this cannot force a running
	// goroutine to yield at an arbitrary instruction — see
	// SPEC_FULL.md's §4.11 expansion for why, and package monitor for
	// the deadline bookkeeping that arms/disarms this flag.
	RequestPreempt()
}

// coroBase holds the fields common to every Coroutine[P, Y, R], so
// type-erased bookkeeping (Listener notification, locals, name/priority)
// lives in one non-generic place.
type coroBase struct {
	name      string
	priority  int
	listeners []Listener
	locals    *Locals

	mu      sync.Mutex
	current State
	running bool // true while a Resume call is in flight (non-reentrancy guard)
	started bool

	cancelRequested  atomic.Bool
	preemptRequested atomic.Bool
}

func (c *coroBase) Name() string    { return c.name }
func (c *coroBase) Priority() int   { return c.priority }
func (c *coroBase) Locals() *Locals { return c.locals }
func (c *coroBase) Cancel()         { c.cancelRequested.Store(true) }
func (c *coroBase) cancelled() bool { return c.cancelRequested.Load() }
func (c *coroBase) RequestPreempt() { c.preemptRequested.Store(true) }
func (c *coroBase) preempted() bool { return c.preemptRequested.Swap(false) }

func (c *coroBase) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *coroBase) MarkReady() error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur.Kind != Suspend {
		return &TransitionError{Coroutine: c.name, From: cur, To: readyState()}
	}
	return c.setState(readyState())
}

func (c *coroBase) MarkCallback() error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur.Kind != Syscall || cur.Substate != SuspendWait {
		return &TransitionError{Coroutine: c.name, From: cur, To: syscallState(cur.Yield, cur.SyscallName, Callback, cur.Deadline)}
	}
	return c.setState(syscallState(cur.Yield, cur.SyscallName, Callback, cur.Deadline))
}

func (c *coroBase) MarkTimeout() error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur.Kind != Syscall || cur.Substate != SuspendWait {
		return &TransitionError{Coroutine: c.name, From: cur, To: syscallState(cur.Yield, cur.SyscallName, Timeout, cur.Deadline)}
	}
	return c.setState(syscallState(cur.Yield, cur.SyscallName, Timeout, cur.Deadline))
}

// setState validates the transition, records it, and notifies listeners.
// Illegal transitions are not logged here: they are reported through the
// returned *TransitionError and leave c.current unchanged, per Invariant 1
// and §7.
func (c *coroBase) setState(to State) error {
	c.mu.Lock()
	from := c.current
	if !legalTransition(from, to) {
		c.mu.Unlock()
		return &TransitionError{Coroutine: c.name, From: from, To: to}
	}
	c.current = to
	c.mu.Unlock()
	c.notify(to)
	return nil
}

// TransitionError labels an illegal transition with the coroutine's name,
// per §4.3: "every illegal transition returns an error labeled with the
// coroutine name."
type TransitionError struct {
	Coroutine string
	From, To  State
}

func (e *TransitionError) Error() string {
	return "coroutine " + e.Coroutine + ": illegal transition from " + e.From.String() + " to " + e.To.String()
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// resumeMsg is sent into a running coroutine's goroutine on each Resume.
type resumeMsg[P any] struct {
	arg        P
	fromSub    SyscallSubstate // meaningful only when waking from Syscall/Suspend
	wasSyscall bool
}

// Option configures a Coroutine at construction.
type Option func(*options)

type options struct {
	priority  int
	listeners []Listener
}

// WithPriority sets the coroutine's scheduling priority (lower runs
// first); the default is coroutine.DefaultPriority (0), per §3.
func WithPriority(p int) Option {
	return func(o *options) { o.priority = p }
}

// WithListener attaches l to the coroutine; listeners are invoked in
// attachment order on every transition.
func WithListener(l Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// DefaultPriority is the priority used when none is given, per §3.
const DefaultPriority = 0

// Func is the user body: given a Suspender and the initial Param, it runs
// to completion and returns a Return value. A panic inside Func is
// recovered and surfaces as an Error state (§7's "User panic"/"Trap"
// kinds); see classifyTrap.
type Func[P, Y, R any] func(s *Suspender[P, Y], arg P) R

// Coroutine is a stackful task: construction allocates the execution
// substrate (here: the channels a dedicated goroutine will rendezvous on)
// and binds Func, but — per §4.1 — does not begin execution; the backing
// goroutine is only started by the first Resume.
type Coroutine[P, Y, R any] struct {
	*coroBase

	fn Func[P, Y, R]

	resumeCh chan resumeMsg[P]
	yieldCh  chan State

	startOnce sync.Once
}

// New constructs a Coroutine in the Ready state.
func New[P, Y, R any](name string, fn Func[P, Y, R], opts ...Option) *Coroutine[P, Y, R] {
	installTrap()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Coroutine[P, Y, R]{
		coroBase: &coroBase{
			name:      name,
			priority:  o.priority,
			listeners: o.listeners,
			locals:    newLocals(),
			current:   readyState(),
		},
		fn:       fn,
		resumeCh: make(chan resumeMsg[P]),
		yieldCh:  make(chan State),
	}
}

// Resume implements Handle.Resume; arg must be a P.
func (c *Coroutine[P, Y, R]) Resume(arg any) (State, error) {
	p, _ := arg.(P)
	return c.resumeTyped(p)
}

// ResumeTyped is the typed equivalent of Resume, for direct callers that
// hold a concrete *Coroutine[P, Y, R] rather than a Handle.
func (c *Coroutine[P, Y, R]) ResumeTyped(arg P) (State, error) {
	return c.resumeTyped(arg)
}

func (c *Coroutine[P, Y, R]) resumeTyped(arg P) (State, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return c.current, ErrNotReentrant
	}
	cur := c.current
	if cur.Kind == Complete || cur.Kind == Error || cur.Kind == Cancelled {
		c.mu.Unlock()
		return cur, ErrTerminal
	}
	fromSub := cur.Substate
	wasSyscall := cur.Kind == Syscall
	c.running = true
	c.mu.Unlock()

	c.startOnce.Do(func() {
		c.started = true
		go c.run()
	})

	if cur.Kind == Suspend {
		// A direct resume of a Suspended coroutine passes through Ready,
		// the only legal successor of Suspend.
		_ = c.setState(readyState())
	}
	if err := c.setState(runningState()); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return c.State(), err
	}

	c.resumeCh <- resumeMsg[P]{arg: arg, fromSub: fromSub, wasSyscall: wasSyscall}
	next := <-c.yieldCh

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	return next, nil
}

// run is the coroutine's dedicated goroutine body. It blocks on resumeCh
// for the first (and every subsequent) resume, then executes fn, trapping
// any panic into an Error state.
func (c *Coroutine[P, Y, R]) run() {
	first := <-c.resumeCh

	ret, trapped := c.invoke(first.arg)

	var st State
	if trapped != nil {
		st = errorState(trapped)
	} else if c.cancelled() {
		st = cancelledState()
	} else {
		st = completeState(ret)
	}
	// Error/Cancelled/Complete are always legal from Running.
	_ = c.setState(st)
	c.yieldCh <- st
}

func (c *Coroutine[P, Y, R]) invoke(arg P) (ret R, trapped error) {
	defer func() {
		if r := recover(); r != nil {
			trapped = classifyTrap(r)
		}
	}()
	s := &Suspender[P, Y]{base: c.coroBase, resumeCh: c.resumeCh, yieldCh: c.yieldCh}
	ret = c.fn(s, arg)
	return ret, nil
}

// Suspender is passed into a coroutine's Func; it is the only way the
// body can yield control back to its resumer (§4.1).
type Suspender[P, Y any] struct {
	base     *coroBase
	resumeCh chan resumeMsg[P]
	yieldCh  chan State
}

// Locals exposes the coroutine's typed-keyed local bag (§4.1).
func (s *Suspender[P, Y]) Locals() *Locals { return s.base.locals }

// Name returns the owning coroutine's name, the selector/scheduler token
// used to route readiness events and syscall wakeups back to it (e.g. by
// package nio).
func (s *Suspender[P, Y]) Name() string { return s.base.name }

// Cancelled reports whether cancellation has been requested (§5). User
// bodies that run long loops should check this periodically and return
// promptly; the coroutine transitions to Cancelled the next time it
// returns from Func with this flag set.
func (s *Suspender[P, Y]) Cancelled() bool { return s.base.cancelled() }

// Preempted reports (and clears) whether the monitor (§4.11) has flagged
// this coroutine's scheduling slice as expired. Only the body's own calls
// check it (nio's syscall retry loops do not); a body should treat a true
// result the same as reaching its next natural suspension point.
func (s *Suspender[P, Y]) Preempted() bool { return s.base.preempted() }

// Suspend yields y with no wake deadline: delay(0)/suspend_with-with-no-
// deadline semantics, §4.1 — the coroutine becomes Ready on the next
// scheduler ready-scan.
func (s *Suspender[P, Y]) Suspend(y Y) P {
	return s.suspendUntil(y, 0)
}

// Until yields y with an explicit wake wall-clock timestamp (nanoseconds).
func (s *Suspender[P, Y]) Until(y Y, wakeAtNanos int64) P {
	return s.suspendUntil(y, wakeAtNanos)
}

// Delay yields y, waking after d elapses from now; d <= 0 is delay(0).
func (s *Suspender[P, Y]) Delay(y Y, d time.Duration) P {
	if d <= 0 {
		return s.suspendUntil(y, 0)
	}
	return s.suspendUntil(y, time.Now().Add(d).UnixNano())
}

// suspendUntil records Suspend, hands control back to the resumer via
// yieldCh, and blocks until the next Resume. resumeTyped already performs
// the Suspend -> Ready -> Running transitions before it sends into
// resumeCh, so there is nothing left to record here.
func (s *Suspender[P, Y]) suspendUntil(y Y, wakeAt int64) P {
	_ = s.base.setState(suspendState(y, wakeAt))
	s.yieldCh <- s.base.State()
	msg := <-s.resumeCh
	return msg.arg
}

// EnterSyscall transitions Running -> Syscall/Executing -> Syscall/Suspend
// (deadline) and parks the coroutine until woken via Callback or Timeout
// (§4.7). It is used by the nio and operator packages, not typically by
// ordinary user bodies. deadlineAtNanos <= 0 means no deadline (parks
// indefinitely, per §4.7 "Syscall/Suspend(∞)").
func (s *Suspender[P, Y]) EnterSyscall(name string, deadlineAtNanos int64) (arg P, sub SyscallSubstate) {
	executing := syscallState(nil, name, Executing, 0)
	_ = s.base.setState(executing) // logged, not externally observed via yieldCh

	waiting := syscallState(nil, name, SuspendWait, deadlineAtNanos)
	_ = s.base.setState(waiting)
	s.yieldCh <- s.base.State()

	// resumeTyped records the Callback/Timeout -> Running transition before
	// sending msg, using msg.fromSub to know which substate woke it, so
	// nothing further needs recording here.
	msg := <-s.resumeCh
	return msg.arg, msg.fromSub
}
