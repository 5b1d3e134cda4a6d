package nio

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
)

// Accept performs accept(2) on listenFD, parking on read readiness
// (a listening socket reports readable once a connection is pending)
// between EAGAIN/EINTR retries, per §4.12.
func Accept[P, Y any](loop *evloop.Loop, s *coroutine.Suspender[P, Y], listenFD int, deadline time.Time) (int, unix.Sockaddr, error) {
	name := s.Name()
	for {
		fd, sa, err := unix.Accept(listenFD)
		if err == nil {
			return fd, sa, nil
		}
		if err == unix.EINTR {
			continue
		}
		if !wouldBlock(err) {
			return -1, nil, err
		}
		if werr := waitReady(loop, s, name, listenFD, true, deadline); werr != nil {
			return -1, nil, werr
		}
	}
}
