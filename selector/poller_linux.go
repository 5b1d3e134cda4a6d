//go:build linux

package selector

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux platformPoller, grounded on the teacher's own
// epoll wrapper (eventloop's FastPoller, poller_linux.go): EpollCreate1,
// EpollCtl for add/mod/del, EpollWait for readiness. Unlike the teacher's
// fixed-size direct-indexed fds array (tuned for its own hot path), this
// backend keeps no per-fd state of its own — Selector already does, so
// epollPoller only ever translates calls into epoll_ctl/epoll_wait.
type epollPoller struct {
	epfd int
}

func newPlatformPoller() (platformPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: fd}, nil
}

func epollEvents(read, write bool) uint32 {
	var e uint32
	if read {
		e |= unix.EPOLLIN
	}
	if write {
		e |= unix.EPOLLOUT
	}
	return e
}

func (p *epollPoller) add(fd int, read, write bool) error {
	ev := unix.EpollEvent{Events: epollEvents(read, write), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) modify(fd int, read, write bool) error {
	ev := unix.EpollEvent{Events: epollEvents(read, write), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(timeout time.Duration, buf []rawEvent) (int, error) {
	raw := make([]unix.EpollEvent, len(buf))
	msec := -1
	if timeout >= 0 {
		msec = int(timeout.Milliseconds())
	}

	n, err := unix.EpollWait(p.epfd, raw, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		buf[i] = rawEvent{
			fd:       int(raw[i].Fd),
			readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0,
			writable: raw[i].Events&unix.EPOLLOUT != 0,
			errored:  raw[i].Events&unix.EPOLLERR != 0,
		}
	}
	return n, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
