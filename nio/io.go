package nio

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
)

// Read performs one interrupted-aware, non-blocking read(2) on fd, parking
// the calling coroutine on read readiness rather than blocking the event
// loop, per §4.12. fd is switched to O_NONBLOCK for the call and its
// original flag is restored afterward. It returns as soon as the
// underlying read succeeds (including a short read — that is ordinary
// read(2) completion, not a partial transfer to retry), once deadline
// passes, or on any error other than EAGAIN/EINTR.
func Read[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, buf []byte, deadline time.Time) (int, error) {
	name := s.Name()
	var n int
	err := withNonblocking(fd, func() error {
		for {
			var err error
			n, err = unix.Read(fd, buf)
			if err == nil {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			if !wouldBlock(err) {
				return err
			}
			if werr := waitReady(loop, s, name, fd, true, deadline); werr != nil {
				n = 0
				return werr
			}
		}
	})
	return n, err
}

// Write performs write(2) on fd in a loop, tracking cumulative bytes moved
// and parking on write readiness between attempts, until every byte in
// buf has been written, the deadline passes, or an error other than
// EAGAIN/EINTR occurs — §4.12's "for buffered variants, track cumulative
// bytes moved ... until all bytes are transferred or the deadline
// elapses."
func Write[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, buf []byte, deadline time.Time) (int, error) {
	name := s.Name()
	var total int
	for total < len(buf) {
		n, err := unix.Write(fd, buf[total:])
		if n > 0 {
			total += n
		}
		if err == nil {
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if !wouldBlock(err) {
			return total, err
		}
		if werr := waitReady(loop, s, name, fd, false, deadline); werr != nil {
			return total, werr
		}
	}
	return total, nil
}

// Recv is Read's socket-facing name, per §4.12's syscall list; this
// module has no need of recv(2)'s flags argument beyond the plain
// read(2) semantics Read already implements, so it is a direct alias.
func Recv[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, buf []byte, deadline time.Time) (int, error) {
	return Read(loop, s, fd, buf, deadline)
}

// Send is Write's socket-facing name; see Recv.
func Send[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, buf []byte, deadline time.Time) (int, error) {
	return Write(loop, s, fd, buf, deadline)
}
