package operator

// NoopBackend always reports ErrUnsupported from Submit, so a caller can
// fall back to the selector-driven path. Used on platforms (or kernels)
// with no completion-queue support; this is what makes the operator
// "optional" per §4.7.
type NoopBackend struct{}

func NewNoop() *NoopBackend { return &NoopBackend{} }

func (NoopBackend) Submit(Submission) (uint64, error) {
	return 0, ErrUnsupported
}

func (NoopBackend) Reap(int, int64, func(uint64, Result)) (int, error) {
	return 0, nil
}

func (NoopBackend) Close() error { return nil }
