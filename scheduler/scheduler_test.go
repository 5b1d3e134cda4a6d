package scheduler_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/rtlog"
	"github.com/joeycumines/go-opencoroutine/scheduler"
	"github.com/joeycumines/go-opencoroutine/wsqueue"
)

func newScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	q := wsqueue.New[scheduler.Entry](1, 64)
	return scheduler.New(0, q, rtlog.NewNoop())
}

func TestScheduler_SimpleCoroutineRunsToCompletion(t *testing.T) {
	s := newScheduler(t)

	co := coroutine.New[int, int, int]("simple", func(sp *coroutine.Suspender[int, int], arg int) int {
		return arg * 2
	})

	s.SubmitCo(co, 21)

	remaining, err := s.TryTimeoutSchedule(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Greater(t, remaining, time.Duration(0))

	res, ok := s.Result("simple")
	require.True(t, ok)
	require.Equal(t, coroutine.Complete, res.State.Kind)
	require.Equal(t, 42, res.State.Return)
}

func TestScheduler_SuspendImmediateReadyRunsAgainSameLoop(t *testing.T) {
	s := newScheduler(t)

	co := coroutine.New[int, int, int]("suspend-immediate", func(sp *coroutine.Suspender[int, int], arg int) int {
		v := sp.Suspend(0) // delay(0): ready immediately, no timer needed
		return v + 1
	})

	s.SubmitCo(co, 0)

	_, err := s.TryTimeoutSchedule(time.Now().Add(time.Second))
	require.NoError(t, err)

	res, ok := s.Result("suspend-immediate")
	require.True(t, ok)
	require.Equal(t, coroutine.Complete, res.State.Kind)
	// Resumed with a zero-valued arg since the scheduler doesn't
	// synthesize meaningful payloads for timer-driven wakeups.
	require.Equal(t, 1, res.State.Return)
}

func TestScheduler_SuspendWithDeadlineWaitsForTimer(t *testing.T) {
	s := newScheduler(t)

	co := coroutine.New[int, int, int]("suspend-deadline", func(sp *coroutine.Suspender[int, int], arg int) int {
		sp.Delay(0, 30*time.Millisecond)
		return 99
	})

	s.SubmitCo(co, 0)

	// First pass: the coroutine suspends with a future deadline, so the
	// queue empties before it elapses.
	remaining, err := s.TryTimeoutSchedule(time.Now().Add(5 * time.Millisecond))
	require.NoError(t, err)
	require.Greater(t, remaining, time.Duration(0))

	_, ok := s.Result("suspend-deadline")
	require.False(t, ok)

	time.Sleep(40 * time.Millisecond)

	_, err = s.TryTimeoutSchedule(time.Now().Add(time.Second))
	require.NoError(t, err)

	res, ok := s.Result("suspend-deadline")
	require.True(t, ok)
	require.Equal(t, 99, res.State.Return)
}

func TestScheduler_SyscallCallbackDeliversResult(t *testing.T) {
	s := newScheduler(t)

	co := coroutine.New[int, any, int]("syscall-cb", func(sp *coroutine.Suspender[int, any], arg int) int {
		n, sub := sp.EnterSyscall("read", time.Now().Add(time.Hour).UnixNano())
		if sub != coroutine.Callback {
			return -1
		}
		return n
	})

	s.SubmitCo(co, 0)

	_, err := s.TryTimeoutSchedule(time.Now().Add(50 * time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 1, s.PendingSyscalls())

	require.NoError(t, s.TryResume("syscall-cb", 7))

	_, err = s.TryTimeoutSchedule(time.Now().Add(time.Second))
	require.NoError(t, err)

	res, ok := s.Result("syscall-cb")
	require.True(t, ok)
	require.Equal(t, 7, res.State.Return)
	require.Equal(t, 0, s.PendingSyscalls())
}

func TestScheduler_SyscallDeadlineTimesOut(t *testing.T) {
	s := newScheduler(t)

	co := coroutine.New[int, any, int]("syscall-to", func(sp *coroutine.Suspender[int, any], arg int) int {
		_, sub := sp.EnterSyscall("read", time.Now().Add(20*time.Millisecond).UnixNano())
		if sub == coroutine.Timeout {
			return -1
		}
		return 1
	})

	s.SubmitCo(co, 0)
	_, err := s.TryTimeoutSchedule(time.Now().Add(5 * time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 1, s.PendingSyscalls())

	time.Sleep(30 * time.Millisecond)

	_, err = s.TryTimeoutSchedule(time.Now().Add(time.Second))
	require.NoError(t, err)

	res, ok := s.Result("syscall-to")
	require.True(t, ok)
	require.Equal(t, -1, res.State.Return)
}

func TestScheduler_TryResumeOnUnknownNameIsNoop(t *testing.T) {
	s := newScheduler(t)
	require.NoError(t, s.TryResume("never-existed", nil))
}

func TestScheduler_ConcurrentLoopReturnsBusy(t *testing.T) {
	s := newScheduler(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	co := coroutine.New[int, int, int]("blocker", func(sp *coroutine.Suspender[int, int], arg int) int {
		close(entered)
		<-release
		return 0
	})
	s.SubmitCo(co, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.TryTimeoutSchedule(time.Now().Add(time.Second))
	}()

	<-entered
	_, err := s.TryTimeoutSchedule(time.Now().Add(time.Millisecond))
	require.ErrorIs(t, err, scheduler.ErrSchedulingBusy)

	close(release)
	wg.Wait()
}

func TestScheduler_DeleteResult(t *testing.T) {
	s := newScheduler(t)
	co := coroutine.New[int, int, int]("del", func(sp *coroutine.Suspender[int, int], arg int) int {
		return arg
	})
	s.SubmitCo(co, 5)
	_, err := s.TryTimeoutSchedule(time.Now().Add(time.Second))
	require.NoError(t, err)

	_, ok := s.Result("del")
	require.True(t, ok)

	s.DeleteResult("del")
	_, ok = s.Result("del")
	require.False(t, ok)
}
