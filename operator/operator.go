// Package operator implements the optional completion-queue path of §4.7:
// where supported, read/write/accept/connect/etc. submissions go through a
// kernel completion queue (io_uring on Linux) instead of the readiness
// selector (package selector). Each submission carries a token; the
// operator keeps a map from token to a condition variable and a result
// slot, and Select(timeout, want) has the Backend reap at least want
// completions before returning; the io_uring Backend does not apply the
// timeout.
//
// "Where supported" is realized as a pluggable Backend: Linux gets a real
// io_uring-backed Backend (iouring_linux.go); every other platform, and a
// Linux kernel too old or too locked down for io_uring, gets NoopBackend,
// whose Submit always reports ErrUnsupported so a caller can fall back to
// the selector-driven path instead of failing outright. Package nio does
// not submit through an Operator; its shims always wait on the selector.
package operator

import (
	"context"
	"errors"
	"sync"
)

// ErrUnsupported is returned by a Backend's Submit when this operator has
// no completion-queue support to offer; callers should fall back to the
// selector.
var ErrUnsupported = errors.New("operator: completion queue not supported")

// ErrClosed is returned by any operation on a closed Operator.
var ErrClosed = errors.New("operator: closed")

// Op identifies the syscall family a Submission requests, mirroring §4.7's
// "macro-generated family for each supported syscall".
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpAccept
	OpConnect
	OpRecv
	OpSend
	OpPollAdd
)

// Submission is one request to the completion queue.
type Submission struct {
	Op   Op
	FD   int
	Buf  []byte // for Read/Write/Recv/Send
	Addr []byte // raw sockaddr, for Connect/Accept
}

// Result is the value written into a token's slot when its completion
// arrives: N is the non-negative io_uring result; a negative result is
// delivered as Err holding the errno, with N 0 (per §4.7's "if negative on
// Linux, translates the absolute value into errno").
type Result struct {
	N   int
	Err error
}

// Backend is the platform-specific completion-queue driver. Submit
// enqueues op and returns a token the caller later reads a Result for via
// Operator.Wait; Reap waits for at least want completions, delivering
// each via deliver. timeoutNanos is an upper bound a Backend may ignore:
// the io_uring Backend does.
type Backend interface {
	Submit(op Submission) (token uint64, err error)
	Reap(want int, timeoutNanos int64, deliver func(token uint64, res Result)) (int, error)
	Close() error
}

type waiter struct {
	done chan struct{}
	res  Result
}

// Operator is the token -> waiter map and the Select(timeout, want) loop
// layered over a Backend, per §4.7.
type Operator struct {
	backend Backend

	mu      sync.Mutex
	waiters map[uint64]*waiter
	closed  bool
}

// New wraps backend in an Operator. Use NewLinux (Linux) or NewNoop
// (everywhere else / unsupported kernels) to obtain a Backend.
func New(backend Backend) *Operator {
	return &Operator{backend: backend, waiters: make(map[uint64]*waiter)}
}

// Submit enters the short protocol described in §4.7: the caller's
// coroutine is expected to have already transitioned Running ->
// Syscall/Executing -> Syscall/Suspend(deadline) (via
// coroutine.Suspender.EnterSyscall) before calling Submit, and to park
// until the scheduler resumes it on completion; Submit itself only talks
// to the backend and registers the waiter.
func (o *Operator) Submit(op Submission) (uint64, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, ErrClosed
	}
	o.mu.Unlock()

	token, err := o.backend.Submit(op)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	o.waiters[token] = &waiter{done: make(chan struct{})}
	o.mu.Unlock()
	return token, nil
}

// Wait blocks until token's completion has been delivered (by a
// concurrent Select call reaping it) or ctx is done, returning the result.
func (o *Operator) Wait(ctx context.Context, token uint64) (Result, error) {
	o.mu.Lock()
	w, ok := o.waiters[token]
	o.mu.Unlock()
	if !ok {
		return Result{}, errors.New("operator: unknown token")
	}

	select {
	case <-w.done:
		o.mu.Lock()
		delete(o.waiters, token)
		o.mu.Unlock()
		return w.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Select passes timeoutNanos and want to the Backend's Reap, delivering
// each completion into its token's waiter, per §4.7. It returns the number
// of completions reaped. Whether the timeout applies is up to the Backend
// (see Backend).
func (o *Operator) Select(timeoutNanos int64, want int) (int, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, ErrClosed
	}
	o.mu.Unlock()

	return o.backend.Reap(want, timeoutNanos, func(token uint64, res Result) {
		o.mu.Lock()
		w, ok := o.waiters[token]
		o.mu.Unlock()
		if !ok {
			return
		}
		w.res = res
		close(w.done)
	})
}

// Close releases the underlying Backend. Any waiters still pending never
// receive a completion; callers must have already stopped submitting.
func (o *Operator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()
	return o.backend.Close()
}
