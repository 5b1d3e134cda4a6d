package nio

import (
	"time"

	"github.com/joeycumines/go-opencoroutine/coroutine"
)

// Sleep is §4.12's nanosleep shim: "nanosleep does not enter a syscall at
// all: it computes a deadline and calls wait_event(deadline - now) on the
// event-loop fleet." The scheduler's own suspend-timer list (§4.3) is
// exactly that wait_event mechanism from a coroutine's point of view, so
// Sleep is a direct Suspender.Delay call rather than a raw nanosleep(2)
// — there is no blocking syscall to intercept here, only a wake
// deadline to record.
func Sleep[P, Y any](s *coroutine.Suspender[P, Y], d time.Duration) {
	var zero Y
	s.Delay(zero, d)
}

// Nanosleep is Sleep's nanosecond-precision name, per §4.12's syscall
// list; Go's time.Duration is already nanosecond-resolution, so it is a
// direct alias.
func Nanosleep[P, Y any](s *coroutine.Suspender[P, Y], d time.Duration) { Sleep(s, d) }

// Usleep is Sleep's microsecond-precision name, per §4.12's syscall list.
func Usleep[P, Y any](s *coroutine.Suspender[P, Y], microseconds int64) {
	Sleep(s, time.Duration(microseconds)*time.Microsecond)
}
