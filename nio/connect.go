package nio

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
)

// Connect forces fd non-blocking, issues connect(2), and on EINPROGRESS
// registers write interest and parks until the fd is writable, then reads
// SO_ERROR to learn whether the connection actually succeeded, per
// §4.12's "connect forces non-blocking, invokes the raw syscall, and on
// EINPROGRESS registers write interest and parks until writable or
// connect-error-via-SO_ERROR."
func Connect[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, addr unix.Sockaddr, deadline time.Time) error {
	name := s.Name()
	return withNonblocking(fd, func() error {
		err := unix.Connect(fd, addr)
		if err == nil {
			return nil
		}
		if err != unix.EINPROGRESS {
			return err
		}

		if werr := waitReady(loop, s, name, fd, false, deadline); werr != nil {
			return werr
		}

		errno, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			return gerr
		}
		if errno != 0 {
			return fmt.Errorf("nio: connect: %w", unix.Errno(errno))
		}
		return nil
	})
}
