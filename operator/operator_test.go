package operator_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-opencoroutine/operator"
)

// fakeBackend is an in-memory Backend used to test Operator's token/waiter
// bookkeeping and Select(want) contract without any real kernel queue.
type fakeBackend struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]operator.Result
	closed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{pending: make(map[uint64]operator.Result)}
}

func (f *fakeBackend) Submit(op operator.Submission) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next, nil
}

// complete simulates the backend learning of a real completion, to be
// reaped by the next Reap call.
func (f *fakeBackend) complete(token uint64, res operator.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[token] = res
}

func (f *fakeBackend) Reap(want int, timeoutNanos int64, deliver func(uint64, operator.Result)) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for token, res := range f.pending {
		deliver(token, res)
		delete(f.pending, token)
		n++
	}
	return n, nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func TestOperator_SubmitAndSelectDeliversResult(t *testing.T) {
	backend := newFakeBackend()
	op := operator.New(backend)
	defer op.Close()

	token, err := op.Submit(operator.Submission{Op: operator.OpRead, FD: 3})
	require.NoError(t, err)

	backend.complete(token, operator.Result{N: 42})

	n, err := op.Select(0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res, err := op.Wait(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, 42, res.N)
}

func TestOperator_WaitUnknownTokenErrors(t *testing.T) {
	op := operator.New(newFakeBackend())
	defer op.Close()

	_, err := op.Wait(context.Background(), 999)
	require.Error(t, err)
}

func TestOperator_WaitContextCancelled(t *testing.T) {
	backend := newFakeBackend()
	op := operator.New(backend)
	defer op.Close()

	token, err := op.Submit(operator.Submission{Op: operator.OpRead, FD: 7})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = op.Wait(ctx, token)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOperator_ClosedOperatorRejectsSubmit(t *testing.T) {
	op := operator.New(newFakeBackend())
	require.NoError(t, op.Close())

	_, err := op.Submit(operator.Submission{Op: operator.OpRead, FD: 1})
	require.ErrorIs(t, err, operator.ErrClosed)
}

func TestNoopBackend_SubmitReportsUnsupported(t *testing.T) {
	op := operator.New(operator.NewNoop())
	defer op.Close()

	_, err := op.Submit(operator.Submission{Op: operator.OpRead, FD: 1})
	require.ErrorIs(t, err, operator.ErrUnsupported)
}
