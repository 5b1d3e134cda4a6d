// Package nio implements the blocking-syscall shim of §4.12: every
// read/write/send/recv/accept/connect/readv/writev/sleep call a coroutine
// body makes goes through here instead of a literal blocking syscall, so
// it parks via coroutine.Suspender.EnterSyscall and lets the owning
// event loop (§4.9) resume it once the fd is ready or its deadline
// passes, rather than blocking the loop's one goroutine outright.
//
// A coroutine body that called unix.Read directly would block the
// goroutine executing resumeAndDispatch's call into it — since Resume is
// synchronous (it blocks until the coroutine yields back through
// yieldCh), that would stall the whole event loop exactly the way a
// blocking syscall stalls the spec's single-threaded fiber scheduler.
// Routing every blocking call through EnterSyscall is what keeps the
// Go-native mapping faithful to that constraint despite coroutines being
// plain goroutines.
package nio

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
)

// Slice bounds how long a single retry-loop park waits before re-checking
// EWOULDBLOCK and the caller's deadline — the same 10ms as the monitor's
// scheduling slice (§4.11). The retry loops do not check cancellation or
// preemption.
const Slice = 10 * time.Millisecond

// ErrTimeout is returned once a call's deadline passes without
// completing, per §4.12's "for up to SLICE ... or until the ... deadline".
var ErrTimeout = errors.New("nio: deadline exceeded")

// wouldBlock reports whether err is the raw syscall's EAGAIN/EWOULDBLOCK
// (identical underlying value on every platform this module targets, so
// a single check covers both spellings).
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// withNonblocking records fd's current blocking flag, forces O_NONBLOCK
// for body's duration, and restores the original flag afterward, per
// §4.12 step 1 and step 3.
func withNonblocking(fd int, body func() error) error {
	orig, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	if orig&unix.O_NONBLOCK != 0 {
		return body()
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, orig|unix.O_NONBLOCK); err != nil {
		return err
	}
	defer unix.FcntlInt(uintptr(fd), unix.F_SETFL, orig)
	return body()
}

// waitReady parks the calling coroutine until fd is worth retrying for
// the requested direction: ready, deadline-expired, or simply past one
// Slice (so the retry loop re-checks even with no explicit deadline),
// per §4.12 step 2's "register read or write interest ... and
// wait_read_event/wait_write_event for up to SLICE ... or until the
// ... deadline".
func waitReady[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], name string, fd int, read bool, deadline time.Time) error {
	var err error
	if read {
		err = loop.Selector().AddRead(fd, name)
	} else {
		err = loop.Selector().AddWrite(fd, name)
	}
	if err != nil {
		return err
	}
	defer func() {
		if read {
			_ = loop.Selector().DelRead(fd)
		} else {
			_ = loop.Selector().DelWrite(fd)
		}
	}()

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
