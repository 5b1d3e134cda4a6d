// Package copool implements the coroutine pool described in §4.8: a
// scheduler-adjacent worker pool with dynamic sizing between min_size and
// max_size, a priority-aware task queue, and name-keyed result joining.
//
// Workers here are translated as plain goroutines rather than instances of
// package coroutine's Coroutine type: §4.8's worker loop only ever yields
// at two points (suspend-to-siblings, block-1ms-on-empty-queue), neither
// of which needs the full suspend/resume state machine — runtime.Gosched
// and a timed channel wait realize them directly, the way the teacher's
// own worker pools use goroutines plus channels rather than a bespoke
// green-thread abstraction for pool workers.
package copool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-opencoroutine/rtlog"
	"github.com/joeycumines/go-opencoroutine/stackpool"
	"github.com/joeycumines/go-opencoroutine/wsqueue"
)

// ErrTimeout is returned by WaitTaskResult (and WaitTaskResults) when the
// deadline elapses before the named task's result is recorded.
var ErrTimeout = errors.New("copool: wait timed out")

// ErrStopped is returned by Submit once the pool has been stopped.
var ErrStopped = errors.New("copool: pool is stopped")

type waiter chan struct{}

// Pool is the §4.8 coroutine pool.
type Pool struct {
	name      string
	queue     *wsqueue.PriorityQueue[*task]
	stackPool *stackpool.Pool
	logger    *rtlog.Logger

	minSize       int
	maxSize       int
	keepAliveTime time.Duration

	wake chan struct{}

	mu         sync.Mutex
	active     map[int]*workerState
	nextID     atomic.Uint64
	noMoreWork bool
	stopped    chan struct{}
	stopOnce   sync.Once

	resultsMu sync.Mutex
	results   map[string]Result
	waiters   map[string]waiter
}

type workerState struct {
	idleSince time.Time
	idle      bool
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithStackPool attaches a stackpool.Pool used to back large task
// payloads (§4.2 expansion); optional.
func WithStackPool(sp *stackpool.Pool) Option {
	return func(p *Pool) { p.stackPool = sp }
}

// WithLogger overrides the pool's structured logger.
func WithLogger(l *rtlog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New constructs a Pool named name, with worker counts bounded by
// [minSize, maxSize] and the given idle-worker keep-alive time, per §4.8
// and the §6 configuration table. minSize workers are started eagerly.
func New(name string, minSize, maxSize int, keepAliveTime time.Duration, opts ...Option) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	if minSize > maxSize {
		minSize = maxSize
	}
	p := &Pool{
		name:          name,
		queue:         wsqueue.NewPriorityQueue[*task](maxSize, 1024),
		minSize:       minSize,
		maxSize:       maxSize,
		keepAliveTime: keepAliveTime,
		wake:          make(chan struct{}, maxSize),
		active:        make(map[int]*workerState),
		stopped:       make(chan struct{}),
		results:       make(map[string]Result),
		waiters:       make(map[string]waiter),
		logger:        rtlog.Global(),
	}
	for _, o := range opts {
		o(p)
	}
	for i := 0; i < minSize; i++ {
		p.spawnWorker()
	}
	return p
}

// Submit allocates a name (if empty, "{pool}@{n}" for a monotonic n, the
// Go-native stand-in for §4.8's "{pool}@{uuid}") and queues fn(param) to
// run on a worker. priority 0 is DefaultPriority. Returns the task's name.
func (p *Pool) Submit(name string, fn Func, param any, priority int) (string, error) {
	p.mu.Lock()
	if p.noMoreWork {
		p.mu.Unlock()
		return "", ErrStopped
	}
	p.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("%s@%d", p.name, p.nextID.Add(1))
	}
	p.queue.PushGlobal(&task{name: name, fn: fn, param: param, priority: priority})

	select {
	case p.wake <- struct{}{}:
	default:
	}

	p.tryGrow()
	return name, nil
}

// SubmitScratch is Submit's scratch-buffer variant: fn receives a pooled
// *stackpool.Slot of at least scratchSize bytes (nil if the pool was
// constructed without WithStackPool), for work whose param/return payload
// is large enough to be worth pooling rather than allocating fresh per
// call (§4.2 expansion).
func (p *Pool) SubmitScratch(name string, fn FuncScratch, scratchSize int, param any, priority int) (string, error) {
	p.mu.Lock()
	if p.noMoreWork {
		p.mu.Unlock()
		return "", ErrStopped
	}
	p.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("%s@%d", p.name, p.nextID.Add(1))
	}
	p.queue.PushGlobal(&task{name: name, fnScratch: fn, scratchSize: scratchSize, param: param, priority: priority})

	select {
	case p.wake <- struct{}{}:
	default:
	}

	p.tryGrow()
	return name, nil
}

// tryGrow spawns one additional worker if the queue holds work and the
// pool is below max_size, per §4.8 "called at every schedule tick".
func (p *Pool) tryGrow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.active) >= p.maxSize {
		return
	}
	if p.queue.GlobalLen() == 0 {
		return
	}
	p.spawnWorkerLocked()
}

// Tick lets an external driver (e.g. an event loop) invoke try_grow on
// its own schedule, per §4.8's "called at every schedule tick" — Submit
// already calls this internally, so use of Tick is optional.
func (p *Pool) Tick() { p.tryGrow() }

func (p *Pool) spawnWorker() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spawnWorkerLocked()
}

func (p *Pool) spawnWorkerLocked() int {
	id := p.nextFreeIDLocked()
	p.active[id] = &workerState{}
	go p.workerLoop(id)
	return id
}

func (p *Pool) nextFreeIDLocked() int {
	for i := 0; i < p.maxSize; i++ {
		if _, ok := p.active[i]; !ok {
			return i
		}
	}
	return len(p.active)
}

func (p *Pool) runningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// workerLoop is §4.8's worker-loop pseudocode, translated to a goroutine.
func (p *Pool) workerLoop(id int) {
	popFail := 0
	defer p.retire(id)
	for {
		t, ok := p.queue.Pop(id)
		if ok {
			p.runTask(t)
			popFail = 0
			p.mu.Lock()
			p.active[id].idle = false
			p.mu.Unlock()
			continue
		}

		p.mu.Lock()
		st := p.active[id]
		if !st.idle {
			st.idle = true
			st.idleSince = time.Now()
		}
		idleFor := time.Since(st.idleSince)
		running := len(p.active)
		noMoreWork := p.noMoreWork
		p.mu.Unlock()

		popFail++

		if noMoreWork && p.queue.GlobalLen() == 0 {
			// Full shutdown (Stop) drains past min_size entirely, unlike
			// ordinary keep-alive recycling below.
			return
		}
		if running > p.minSize && idleFor >= p.keepAliveTime {
			return
		}
		if running > 0 && popFail < running {
			runtime.Gosched()
			continue
		}

		select {
		case <-p.wake:
		case <-time.After(time.Millisecond):
		}
		popFail = 0
	}
}

func (p *Pool) retire(id int) {
	p.mu.Lock()
	delete(p.active, id)
	n := len(p.active)
	p.mu.Unlock()
	if n == 0 {
		p.stopOnce.Do(func() { close(p.stopped) })
	}
}

func (p *Pool) runTask(t *task) {
	var (
		value any
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("copool: task %q panicked: %v", t.name, r)
			}
		}()
		if t.fnScratch != nil {
			var slot *stackpool.Slot
			if p.stackPool != nil {
				slot = p.stackPool.Allocate(t.scratchSize)
				defer func() {
					slot.Release()
					p.stackPool.Put(slot)
				}()
			}
			value, err = t.fnScratch(t.param, slot)
			return
		}
		value, err = t.fn(t.param)
	}()

	res := Result{Value: value, Err: err}
	p.resultsMu.Lock()
	p.results[t.name] = res
	w, ok := p.waiters[t.name]
	delete(p.waiters, t.name)
	p.resultsMu.Unlock()
	if ok {
		close(w)
	}
	p.logger.Debug().Str("task", t.name).Log("copool: task finished")
}

func (p *Pool) waiterFor(name string) waiter {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	if w, ok := p.waiters[name]; ok {
		return w
	}
	w := make(waiter)
	p.waiters[name] = w
	return w
}

// WaitTaskResult blocks for up to waitTime for name's result, per §4.8
// "Join". A non-positive waitTime waits forever.
func (p *Pool) WaitTaskResult(name string, waitTime time.Duration) (Result, error) {
	p.resultsMu.Lock()
	if r, ok := p.results[name]; ok {
		p.resultsMu.Unlock()
		return r, nil
	}
	p.resultsMu.Unlock()

	w := p.waiterFor(name)

	if waitTime <= 0 {
		<-w
		p.resultsMu.Lock()
		r := p.results[name]
		p.resultsMu.Unlock()
		return r, nil
	}

	select {
	case <-w:
		p.resultsMu.Lock()
		r := p.results[name]
		p.resultsMu.Unlock()
		return r, nil
	case <-time.After(waitTime):
		return Result{}, ErrTimeout
	}
}

// DeleteResult discards a recorded result, e.g. once a joiner has
// consumed it and the pool should not retain it indefinitely.
func (p *Pool) DeleteResult(name string) {
	p.resultsMu.Lock()
	delete(p.results, name)
	p.resultsMu.Unlock()
}

// Stop flips the pool to draining: no more growth, Submit returns
// ErrStopped, and every worker, min_size ones included, exits as soon as
// it finds the queue empty, without waiting for keep_alive_time.
// If wait, Stop blocks until every worker has exited and the queue is
// empty.
func (p *Pool) Stop(wait bool) {
	p.mu.Lock()
	p.noMoreWork = true
	p.mu.Unlock()

	if !wait {
		return
	}
	for {
		p.mu.Lock()
		n := len(p.active)
		qlen := p.queue.GlobalLen()
		p.mu.Unlock()
		if n == 0 && qlen == 0 {
			return
		}
		if n == 0 && qlen > 0 {
			// Work remains queued but every worker recycled (can happen
			// if min_size is 0); spawn one to drain it.
			p.spawnWorker()
		}
		time.Sleep(time.Millisecond)
	}
}

// Running reports the current worker count, for diagnostics and tests.
func (p *Pool) Running() int { return p.runningCount() }
