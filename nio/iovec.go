package nio

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
)

// toIovecs converts bufs into unix.Iovec entries, one per buffer, for
// readv(2)/writev(2).
func toIovecs(bufs [][]byte) []unix.Iovec {
	iovs := make([]unix.Iovec, len(bufs))
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovs[i].Base = &b[0]
		iovs[i].SetLen(len(b))
	}
	return iovs
}

// advanceCursor drops fully-consumed iovecs from the front of bufs and
// rewrites the new head iovec's slice to reflect n bytes already consumed
// from it, per §4.12's "advance to the next iovec when the current is
// fully consumed, partially rewriting the head iovec to reflect the
// current offset."
func advanceCursor(bufs [][]byte, n int) [][]byte {
	for n > 0 && len(bufs) > 0 {
		if n < len(bufs[0]) {
			bufs[0] = bufs[0][n:]
			return bufs
		}
		n -= len(bufs[0])
		bufs = bufs[1:]
	}
	return bufs
}

func totalLen(bufs [][]byte) int {
	var n int
	for _, b := range bufs {
		n += len(b)
	}
	return n
}

// Readv performs readv(2) across bufs, advancing the iovec cursor across
// partial transfers until every buffer is filled, the deadline passes, or
// a non-retryable error occurs.
func Readv[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, bufs [][]byte, deadline time.Time) (int, error) {
	name := s.Name()
	want := totalLen(bufs)
	var total int
	cur := bufs
	for total < want && len(cur) > 0 {
		n, err := unix.Readv(fd, toIovecs(cur))
		if n > 0 {
			total += n
			cur = advanceCursor(cur, n)
		}
		if err == nil {
			if n == 0 {
				return total, nil // EOF
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if !wouldBlock(err) {
			return total, err
		}
		if werr := waitReady(loop, s, name, fd, true, deadline); werr != nil {
			return total, werr
		}
	}
	return total, nil
}

// Writev performs writev(2) across bufs, advancing the iovec cursor until
// every buffer is fully written, the deadline passes, or a non-retryable
// error occurs.
func Writev[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, bufs [][]byte, deadline time.Time) (int, error) {
	name := s.Name()
	want := totalLen(bufs)
	var total int
	cur := bufs
	for total < want && len(cur) > 0 {
		n, err := unix.Writev(fd, toIovecs(cur))
		if n > 0 {
			total += n
			cur = advanceCursor(cur, n)
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
