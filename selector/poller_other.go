//go:build !linux && !darwin

package selector

import (
	"errors"
	"time"
)

// ErrUnsupportedPlatform is returned by New on an OS with neither an
// epoll nor kqueue backend in this package, Windows included. Package
// operator has no completion backend for these platforms either: its
// NewDefault returns NoopBackend there.
var ErrUnsupportedPlatform = errors.New("selector: no readiness backend for this platform")

type unsupportedPoller struct{}

func newPlatformPoller() (platformPoller, error) {
	return nil, ErrUnsupportedPlatform
}

func (unsupportedPoller) add(int, bool, bool) error                { return ErrUnsupportedPlatform }
func (unsupportedPoller) modify(int, bool, bool) error             { return ErrUnsupportedPlatform }
func (unsupportedPoller) remove(int) error                         { return ErrUnsupportedPlatform }
func (unsupportedPoller) wait(time.Duration, []rawEvent) (int, error) {
	return 0, ErrUnsupportedPlatform
}
func (unsupportedPoller) close() error { return nil }
