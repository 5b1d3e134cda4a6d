package nio

import (
	"sync"
	"time"

	"github.com/joeycumines/go-opencoroutine/coroutine"
)

// Mutex and Cond back pthread_mutex_lock/pthread_cond_timedwait's shims
// (§4.12's syscall list). Neither has an fd to register readiness
// interest on, so unlike the I/O shims above there is no selector wait;
// instead a blocked coroutine polls at Slice cadence via EnterSyscall,
// the same voluntary check-in rhythm as an I/O retry loop, trading a
// real futex wake for simplicity. This is a documented simplification,
// not an attempt at a literal pthread mapping — see DESIGN.md.
type Mutex struct {
	mu     sync.Mutex
	locked bool
}

// NewMutex constructs an unlocked Mutex.
func NewMutex() *Mutex { return &Mutex{} }

// TryLock attempts to acquire m without blocking.
func (m *Mutex) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return false
	}
	m.locked = true
	return true
}

// Unlock releases m.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	m.locked = false
	m.mu.Unlock()
}

// Lock is pthread_mutex_lock's shim: poll TryLock, parking the calling
// coroutine via EnterSyscall between attempts instead of blocking the
// event loop outright.
func Lock[P, Y any](s *coroutine.Suspender[P, Y], m *Mutex, deadline time.Time) error {
	name := s.Name()
	for {
		if m.TryLock() {
			return nil
		}
		if err := pollWait(s, name, deadline); err != nil {
			return err
		}
	}
}

// Cond is a condition variable a coroutine can wait on via Wait, signaled
// by Signal/Broadcast; see Mutex's doc for why waiting is poll-based.
type Cond struct {
	mu      sync.Mutex
	version uint64
}

// NewCond constructs a Cond.
func NewCond() *Cond { return &Cond{} }

// Signal and Broadcast are equivalent here: every waiter simply polls
// for a version change, so there is no single-versus-all-waiters
// distinction to preserve.
func (c *Cond) Signal() {
	c.mu.Lock()
	c.version++
	c.mu.Unlock()
}

// Broadcast wakes every waiter; see Signal.
func (c *Cond) Broadcast() { c.Signal() }

func (c *Cond) snapshot() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Wait is pthread_cond_timedwait's shim: releases m, polls for a signal
// with EnterSyscall backoff instead of blocking the event loop, then
// reacquires m before returning (mirroring pthread_cond_wait's contract
// that the mutex is always held again on return, timeout or not).
func Wait[P, Y any](s *coroutine.Suspender[P, Y], c *Cond, m *Mutex, deadline time.Time) error {
	name := s.Name()
	start := c.snapshot()
	m.Unlock()
	defer func() { _ = Lock(s, m, time.Time{}) }()

	for c.snapshot() == start {
		if err := pollWait(s, name, deadline); err != nil {
			return err
		}
	}
	return nil
}

// pollWait parks the calling coroutine for up to one Slice (or the
// remaining time to deadline, if sooner), for Mutex/Cond's polling loop.
func pollWait[P, Y any](s *coroutine.Suspender[P, Y], name string, deadline time.Time) error {
	wait := Slice
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		if remaining < wait {
			wait = remaining
		}
	}
	_, sub := s.EnterSyscall(name, time.Now().Add(wait).UnixNano())
	if sub == coroutine.Timeout && !deadline.IsZero() && !time.Now().Before(deadline) {
		return ErrTimeout
	}
	return nil
}
