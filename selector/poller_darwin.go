//go:build darwin

package selector

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the Darwin/BSD platformPoller, grounded on the teacher's
// kqueue wrapper (eventloop's FastPoller, poller_darwin.go). kqueue has no
// single "modify interest mask" call the way epoll does: read and write
// interest are independent filters (EVFILT_READ / EVFILT_WRITE), each
// added or deleted on its own, so modify issues one change per filter,
// adding or deleting each to match the requested interest.
type kqueuePoller struct {
	kq int
}

func newPlatformPoller() (platformPoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{kq: kq}, nil
}

func (p *kqueuePoller) changeOne(fd int, filter int16, enable bool) error {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if !enable {
		flags = unix.EV_DELETE
	}
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	if err != nil && !enable && err == unix.ENOENT {
		// Deleting a filter that was never added: already absent.
		return nil
	}
	return err
}

func (p *kqueuePoller) add(fd int, read, write bool) error {
	return p.modify(fd, read, write)
}

func (p *kqueuePoller) modify(fd int, read, write bool) error {
	if err := p.changeOne(fd, unix.EVFILT_READ, read); err != nil {
		return err
	}
	return p.changeOne(fd, unix.EVFILT_WRITE, write)
}

func (p *kqueuePoller) remove(fd int) error {
	_ = p.changeOne(fd, unix.EVFILT_READ, false)
	_ = p.changeOne(fd, unix.EVFILT_WRITE, false)
	return nil
}

func (p *kqueuePoller) wait(timeout time.Duration, buf []rawEvent) (int, error) {
	raw := make([]unix.Kevent_t, len(buf))

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		errored := raw[i].Flags&unix.EV_ERROR != 0
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			buf[i] = rawEvent{fd: fd, readable: true, errored: errored}
		case unix.EVFILT_WRITE:
			buf[i] = rawEvent{fd: fd, writable: true, errored: errored}
		default:
			buf[i] = rawEvent{fd: fd, errored: errored}
		}
	}
	return n, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
