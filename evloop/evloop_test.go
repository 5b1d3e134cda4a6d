package evloop_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/evloop"
	"github.com/joeycumines/go-opencoroutine/operator"
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

	return evloop.New(0, sched, sel, nil, rtlog.NewNoop())
}

func TestLoop_StartStopWithNoWork(t *testing.T) {
	l := newLoop(t)
	require.Equal(t, evloop.StateAwake, l.State())
	require.NoError(t, l.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx, true))
	require.Equal(t, evloop.StateStopped, l.State())
}

func TestLoop_DoubleStartReturnsError(t *testing.T) {
	l := newLoop(t)
	require.NoError(t, l.Start())
	defer l.Stop(context.Background(), true)

	require.ErrorIs(t, l.Start(), evloop.ErrAlreadyRunning)
}

func TestLoop_ResumesCoroutineParkedOnReadableFD(t *testing.T) {
	l := newLoop(t)
	require.NoError(t, l.Start())
	defer l.Stop(context.Background(), true)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	co := coroutine.New[any, any, any]("fd-waiter", func(s *coroutine.Suspender[any, any], arg any) any {
		s.EnterSyscall("read", time.Now().Add(time.Second).UnixNano())
		return nil
	})

	require.NoError(t, l.Selector().AddRead(int(r.Fd()), co.Name()))
	l.Scheduler().SubmitGlobal(co, nil)

	go func() {
		_, _ = w.Write([]byte("x"))
	}()

	require.Eventually(t, func() bool {
		res, ok := l.Scheduler().Result(co.Name())
		return ok && res.State.Kind == coroutine.Complete
	}, 2*time.Second, time.Millisecond)
}

func TestNew_AcceptsNilOperator(t *testing.T) {
	sel, err := selector.New()
	require.NoError(t, err)
	defer sel.Close()

	q := wsqueue.New[scheduler.Entry](1, 64)
	sched := scheduler.New(0, q, rtlog.NewNoop())

	l := evloop.New(0, sched, sel, (*operator.Operator)(nil), rtlog.NewNoop())
	require.Equal(t, 0, l.CPU())
}
