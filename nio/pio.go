package nio

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
)

// Pread performs pread(2) at off, looping until buf is fully read, the
// deadline passes, or a non-retryable error occurs, per §4.12's buffered
// cumulative-transfer rule.
func Pread[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, buf []byte, off int64, deadline time.Time) (int, error) {
	name := s.Name()
	var total int
	for total < len(buf) {
		n, err := unix.Pread(fd, buf[total:], off+int64(total))
		if n > 0 {
			total += n
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

// Pwrite performs pwrite(2) at off, looping until buf is fully written,
// the deadline passes, or a non-retryable error occurs.
func Pwrite[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, buf []byte, off int64, deadline time.Time) (int, error) {
	name := s.Name()
	var total int
	for total < len(buf) {
		n, err := unix.Pwrite(fd, buf[total:], off+int64(total))
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

// Preadv performs preadv(2) at off, advancing the iovec cursor across
// partial transfers until bufs is fully read, the deadline passes, or a
// non-retryable error occurs.
func Preadv[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, bufs [][]byte, off int64, deadline time.Time) (int, error) {
	name := s.Name()
	want := totalLen(bufs)
	var total int
	cur := bufs
	for total < want && len(cur) > 0 {
		n, err := unix.Preadv(fd, toIovecs(cur), off+int64(total))
		if n > 0 {
			total += n
			cur = advanceCursor(cur, n)
		}
		if err == nil {
			if n == 0 {
				return total, nil
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

// Pwritev performs pwritev(2) at off, advancing the iovec cursor until
// bufs is fully written, the deadline passes, or a non-retryable error
// occurs.
func Pwritev[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, bufs [][]byte, off int64, deadline time.Time) (int, error) {
	name := s.Name()
	want := totalLen(bufs)
	var total int
	cur := bufs
	for total < want && len(cur) > 0 {
		n, err := unix.Pwritev(fd, toIovecs(cur), off+int64(total))
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
