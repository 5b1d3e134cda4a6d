// Package fleet implements the event-loop fleet of §4.10: a process-wide
// array of N event loops, round-robin submission, and fd registration
// broadcast for deregistration (since an fd may have been registered on
// any loop).
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
	"github.com/joeycumines/go-opencoroutine/operator"
	"github.com/joeycumines/go-opencoroutine/rtconfig"
	"github.com/joeycumines/go-opencoroutine/rtlog"
	"github.com/joeycumines/go-opencoroutine/scheduler"
	"github.com/joeycumines/go-opencoroutine/selector"
	"github.com/joeycumines/go-opencoroutine/wsqueue"
)

// ErrNoLoops is returned by New when cfg resolves to zero event loops.
var ErrNoLoops = errors.New("fleet: event_loop_size must be >= 1")

// Fleet is the process-wide array of event loops described in §4.10.
type Fleet struct {
	loops  []*evloop.Loop
	next   atomic.Uint64
	logger *rtlog.Logger

	mu      sync.Mutex
	stopped bool
}

// New constructs a Fleet of cfg.EventLoopSize loops, each with its own
// scheduler and selector, sharing one work-stealing queue so a
// SubmitGlobal on any one loop's scheduler is visible fleet-wide. A
// completion-queue operator.Backend is attached per loop via newBackend
// (pass a closure returning operator.NewDefault(entries) for the
// platform-best choice, or nil to
// disable completion-queue support and rely on the selector alone).
func New(cfg *rtconfig.Config, newBackend func() operator.Backend) (*Fleet, error) {
	if cfg == nil {
		var err error
		cfg, err = rtconfig.Resolve()
		if err != nil {
			return nil, err
		}
	}
	if cfg.EventLoopSize < 1 {
		return nil, ErrNoLoops
	}

	q := wsqueue.New[scheduler.Entry](cfg.EventLoopSize, 1024)
	f := &Fleet{logger: rtlog.OrDefault(cfg.Logger)}

	for i := 0; i < cfg.EventLoopSize; i++ {
		sel, err := selector.New()
		if err != nil {
			f.closeLoopsSoFar()
			return nil, fmt.Errorf("fleet: loop %d: %w", i, err)
		}
		sched := scheduler.New(i, q, cfg.Logger)

		var op *operator.Operator
		if newBackend != nil {
			op = operator.New(newBackend())
		}

		f.loops = append(f.loops, evloop.New(i, sched, sel, op, cfg.Logger))
	}
	return f, nil
}

func (f *Fleet) closeLoopsSoFar() {
	for _, l := range f.loops {
		_ = l.Selector().Close()
	}
}

// Size reports the number of event loops in the fleet.
func (f *Fleet) Size() int { return len(f.loops) }

// Start launches every loop's goroutine.
func (f *Fleet) Start() error {
	for _, l := range f.loops {
		if err := l.Start(); err != nil {
			return err
		}
	}
	return nil
}

// nextIndex picks the next loop index, round-robin, per §4.10. When
// reserveZero is true (a monitor is running) index 0 is skipped.
func (f *Fleet) nextIndex(reserveZero bool) int {
	n := uint64(len(f.loops))
	if reserveZero && n > 1 {
		return 1 + int(f.next.Add(1)%(n-1))
	}
	return int(f.next.Add(1) % n)
}

// Loop returns the event loop at index i, for direct access (e.g. the
// monitor reserving index 0, or a caller pinning work to its home loop).
func (f *Fleet) Loop(i int) *evloop.Loop { return f.loops[i%len(f.loops)] }

// Submit picks the next loop round-robin and pushes h onto its
// scheduler's global injector, per §4.10's fleet-wide submission.
func (f *Fleet) Submit(h coroutine.Handle, arg any, reserveZero bool) *evloop.Loop {
	l := f.loops[f.nextIndex(reserveZero)]
	l.Scheduler().SubmitGlobal(h, arg)
	return l
}

// WaitReadEvent registers fd for read readiness on the next loop,
// round-robin — the Go-native stand-in for §4.10's "preferred for the
// current coroutine" loop selection: this module has no thread-local
// "current loop" registry (see SPEC_FULL.md / DESIGN.md), so a caller
// already pinned to a specific Loop (e.g. package nio, which knows which
// Loop its calling coroutine lives on) should register directly via
// that Loop's own Selector instead of going through the fleet.
func (f *Fleet) WaitReadEvent(fd int, token selector.Token) (*evloop.Loop, error) {
	l := f.loops[f.nextIndex(false)]
	if err := l.Selector().AddRead(fd, token); err != nil {
		return nil, err
	}
	return l, nil
}

// WaitWriteEvent is WaitReadEvent's write-interest counterpart.
func (f *Fleet) WaitWriteEvent(fd int, token selector.Token) (*evloop.Loop, error) {
	l := f.loops[f.nextIndex(false)]
	if err := l.Selector().AddWrite(fd, token); err != nil {
		return nil, err
	}
	return l, nil
}

// DelEvent broadcasts fd deregistration to every loop, since an fd may
// have been registered on any of them (§4.10).
func (f *Fleet) DelEvent(fd int) error {
	var firstErr error
	for _, l := range f.loops {
		if err := l.Selector().Del(fd); err != nil && !errors.Is(err, selector.ErrNotRegistered) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop stops every loop and, if wait, blocks until all have acknowledged
// or ctx is done.
func (f *Fleet) Stop(ctx context.Context, wait bool) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(f.loops))
	for i, l := range f.loops {
		wg.Add(1)
		go func(i int, l *evloop.Loop) {
			defer wg.Done()
			errs[i] = l.Stop(ctx, wait)
		}(i, l)
	}
	wg.Wait()

	for _, l := range f.loops {
		_ = l.Selector().Close()
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
