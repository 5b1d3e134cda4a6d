package nio

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
)

// RecvmsgResult is what Recvmsg delivers once it completes.
type RecvmsgResult struct {
	N, OOBN, Flags int
	From           unix.Sockaddr
}

// Recvmsg performs recvmsg(2), parking on read readiness between
// EAGAIN/EINTR retries, per §4.12.
func Recvmsg[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, p, oob []byte, flags int, deadline time.Time) (RecvmsgResult, error) {
	name := s.Name()
	for {
		n, oobn, recvflags, from, err := unix.Recvmsg(fd, p, oob, flags)
		if err == nil {
			return RecvmsgResult{N: n, OOBN: oobn, Flags: recvflags, From: from}, nil
		}
		if err == unix.EINTR {
			continue
		}
		if !wouldBlock(err) {
			return RecvmsgResult{}, err
		}
		if werr := waitReady(loop, s, name, fd, true, deadline); werr != nil {
			return RecvmsgResult{}, werr
		}
	}
}

// Sendmsg performs sendmsg(2), parking on write readiness between
// EAGAIN/EINTR retries, per §4.12.
func Sendmsg[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], fd int, p, oob []byte, to unix.Sockaddr, flags int, deadline time.Time) error {
	name := s.Name()
	for {
		err := unix.Sendmsg(fd, p, oob, to, flags)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		if !wouldBlock(err) {
			return err
		}
		if werr := waitReady(loop, s, name, fd, false, deadline); werr != nil {
			return werr
		}
	}
}
