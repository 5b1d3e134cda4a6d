//go:build linux

package operator

// NewDefault returns the best Backend available on this platform: a
// best-effort io_uring binding on Linux (falling back to NoopBackend
// itself if io_uring_setup fails), per §4.7.
func NewDefault(entries uint32) Backend {
	return NewLinux(entries)
}
