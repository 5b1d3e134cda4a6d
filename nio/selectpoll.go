package nio

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
)

// Select performs select(2)/poll(2)-equivalent fd-set waiting: it
// registers read/write interest for every (fd, read[i], write[i]) triple
// under the calling coroutine's own token, parks until the event loop's
// selector reports any one of them ready (or deadline/Slice elapses),
// then issues a single non-blocking poll(2) to report exactly which fds
// are ready. The second step exists because this runtime's selector
// delivers one wake per coroutine name (§4.6), not a discrete event per
// fd, so a multi-fd wait cannot learn which member of the set triggered
// it without a follow-up readiness check — a documented simplification
// from POSIX select/poll's single-syscall readiness vector, recorded in
// DESIGN.md.
func Select[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fds []int, read, write []bool, deadline time.Time) ([]unix.PollFd, error) {
	name := s.Name()
	sel := loop.Selector()

	registered := make([]int, 0, len(fds))
	for i, fd := range fds {
		if read[i] {
			if err := sel.AddRead(fd, name); err == nil {
				registered = append(registered, fd)
			}
		}
		if write[i] {
			_ = sel.AddWrite(fd, name)
		}
	}
	defer func() {
		for _, fd := range registered {
			_ = sel.Del(fd)
		}
	}()

	wait := Slice
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return pollNow(fds, read, write)
		}
		if remaining < wait {
			wait = remaining
		}
	}
	s.EnterSyscall(name, time.Now().Add(wait).UnixNano())

	return pollNow(fds, read, write)
}

// Poll is Select's POSIX-poll-flavored name; see Select's doc for why
// both syscalls share one implementation here.
func Poll[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fds []int, read, write []bool, deadline time.Time) ([]unix.PollFd, error) {
	return Select(loop, s, fds, read, write, deadline)
}

func pollNow(fds []int, read, write []bool) ([]unix.PollFd, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		var events int16
		if read[i] {
			events |= unix.POLLIN
		}
		if write[i] {
			events |= unix.POLLOUT
		}
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: events}
	}
	_, err := unix.Poll(pfds, 0)
	return pfds, err
}
