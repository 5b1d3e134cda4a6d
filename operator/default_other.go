//go:build !linux

package operator

// NewDefault returns NoopBackend on platforms without an io_uring-style
// binding in this package (Windows included).
func NewDefault(entries uint32) Backend {
	return NewNoop()
}
