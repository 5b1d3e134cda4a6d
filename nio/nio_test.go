package nio_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
	"github.com/joeycumines/go-opencoroutine/nio"
	"github.com/joeycumines/go-opencoroutine/rtlog"
	"github.com/joeycumines/go-opencoroutine/scheduler"
	"github.com/joeycumines/go-opencoroutine/selector"
	"github.com/joeycumines/go-opencoroutine/wsqueue"
)

func newLoop(t *testing.T) *evloop.Loop {
	t.Helper()
	sel, err := selector.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sel.Close() })

	q := wsqueue.New[scheduler.Entry](1, 64)
	sched := scheduler.New(0, q, rtlog.NewNoop())

	l := evloop.New(0, sched, sel, nil, rtlog.NewNoop())
	require.NoError(t, l.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Stop(ctx, true)
	})
	return l
}

func awaitResult(t *testing.T, l *evloop.Loop, name string) scheduler.Result {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := l.Scheduler().Result(name)
		return ok
	}, 2*time.Second, time.Millisecond)
	res, _ := l.Scheduler().Result(name)
	return res
}

func TestRead_ReturnsDataOnceWritable(t *testing.T) {
	l := newLoop(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var n int
	var rerr error
	co := coroutine.New[any, any, any]("read-waiter", func(s *coroutine.Suspender[any, any], arg any) any {
		buf := make([]byte, 5)
		n, rerr = nio.Read(l, s, int(r.Fd()), buf, time.Time{})
		return nil
	})
	l.Scheduler().SubmitGlobal(co, nil)

	go func() { _, _ = w.Write([]byte("hello")) }()

	res := awaitResult(t, l, "read-waiter")
	require.Equal(t, coroutine.Complete, res.State.Kind)
	require.NoError(t, rerr)
	require.Equal(t, 5, n)
}

func TestRead_TimesOutWithoutData(t *testing.T) {
	l := newLoop(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var rerr error
	co := coroutine.New[any, any, any]("read-timeout", func(s *coroutine.Suspender[any, any], arg any) any {
		buf := make([]byte, 5)
		_, rerr = nio.Read(l, s, int(r.Fd()), buf, time.Now().Add(30*time.Millisecond))
		return nil
	})
	l.Scheduler().SubmitGlobal(co, nil)

	res := awaitResult(t, l, "read-timeout")
	require.Equal(t, coroutine.Complete, res.State.Kind)
	require.ErrorIs(t, rerr, nio.ErrTimeout)
}

func TestWrite_WritesAllBytesAcrossPartialWrites(t *testing.T) {
	l := newLoop(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	payload := make([]byte, 256*1024) // large enough to exceed the pipe buffer
	for i := range payload {
		payload[i] = byte(i)
	}

	var drained int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			atomic.AddInt64(&drained, int64(n))
			if err != nil {
				return
			}
			if atomic.LoadInt64(&drained) >= int64(len(payload)) {
				return
			}
		}
	}()

	var n int
	var werr error
	co := coroutine.New[any, any, any]("write-all", func(s *coroutine.Suspender[any, any], arg any) any {
		n, werr = nio.Write(l, s, int(w.Fd()), payload, time.Time{})
		return nil
	})
	l.Scheduler().SubmitGlobal(co, nil)

	res := awaitResult(t, l, "write-all")
	require.Equal(t, coroutine.Complete, res.State.Kind)
	require.NoError(t, werr)
	require.Equal(t, len(payload), n)

	w.Close()
	<-done
	require.Equal(t, int64(len(payload)), atomic.LoadInt64(&drained))
}

func TestSleep_CompletesAfterDuration(t *testing.T) {
	l := newLoop(t)

	start := time.Now()
	var elapsed time.Duration
	co := coroutine.New[any, any, any]("sleeper", func(s *coroutine.Suspender[any, any], arg any) any {
		nio.Sleep(s, 30*time.Millisecond)
		elapsed = time.Since(start)
		return nil
	})
	l.Scheduler().SubmitGlobal(co, nil)

	res := awaitResult(t, l, "sleeper")
	require.Equal(t, coroutine.Complete, res.State.Kind)
	require.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

func TestMutex_SerializesTwoCoroutines(t *testing.T) {
	l := newLoop(t)

	m := nio.NewMutex()
	var mu sync.Mutex
	var counter int
	var maxObservedInCriticalSection int32
	var inCriticalSection int32

	body := func(name string) coroutine.Func[any, any, any] {
		return func(s *coroutine.Suspender[any, any], arg any) any {
			require.NoError(t, nio.Lock(s, m, time.Time{}))
			cur := atomic.AddInt32(&inCriticalSection, 1)
			for {
				old := atomic.LoadInt32(&maxObservedInCriticalSection)
				if cur <= old || atomic.CompareAndSwapInt32(&maxObservedInCriticalSection, old, cur) {
					break
				}
			}
			mu.Lock()
			counter++
			mu.Unlock()
			atomic.AddInt32(&inCriticalSection, -1)
			m.Unlock()
			return nil
		}
	}

	co1 := coroutine.New[any, any, any]("locker-1", body("locker-1"))
	co2 := coroutine.New[any, any, any]("locker-2", body("locker-2"))
	l.Scheduler().SubmitGlobal(co1, nil)
	l.Scheduler().SubmitGlobal(co2, nil)

	awaitResult(t, l, "locker-1")
	awaitResult(t, l, "locker-2")

	require.Equal(t, 2, counter)
	require.LessOrEqual(t, atomic.LoadInt32(&maxObservedInCriticalSection), int32(1))
}

func TestCond_WaitReturnsAfterSignal(t *testing.T) {
	l := newLoop(t)

	m := nio.NewMutex()
	c := nio.NewCond()

	var werr error
	waiter := coroutine.New[any, any, any]("cond-waiter", func(s *coroutine.Suspender[any, any], arg any) any {
		require.NoError(t, nio.Lock(s, m, time.Time{}))
		werr = nio.Wait(s, c, m, time.Now().Add(2*time.Second))
		m.Unlock()
		return nil
	})
	l.Scheduler().SubmitGlobal(waiter, nil)

	signaler := coroutine.New[any, any, any]("cond-signaler", func(s *coroutine.Suspender[any, any], arg any) any {
		nio.Sleep(s, 30*time.Millisecond)
		c.Signal()
		return nil
	})
	l.Scheduler().SubmitGlobal(signaler, nil)

	awaitResult(t, l, "cond-waiter")
	require.NoError(t, werr)
}

func TestCond_WaitTimesOutWithoutSignal(t *testing.T) {
	l := newLoop(t)

	m := nio.NewMutex()
	c := nio.NewCond()

	var werr error
	waiter := coroutine.New[any, any, any]("cond-waiter-timeout", func(s *coroutine.Suspender[any, any], arg any) any {
		require.NoError(t, nio.Lock(s, m, time.Time{}))
		werr = nio.Wait(s, c, m, time.Now().Add(30*time.Millisecond))
		m.Unlock()
		return nil
	})
	l.Scheduler().SubmitGlobal(waiter, nil)

	awaitResult(t, l, "cond-waiter-timeout")
	require.ErrorIs(t, werr, nio.ErrTimeout)
}
