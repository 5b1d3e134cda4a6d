package copool_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-opencoroutine/copool"
	"github.com/joeycumines/go-opencoroutine/stackpool"
)

func TestPool_SubmitAndWaitTaskResult(t *testing.T) {
	p := copool.New("test", 1, 4, 10*time.Millisecond)
	defer p.Stop(true)

	name, err := p.Submit("", func(param any) (any, error) {
		return param.(int) * 2, nil
	}, 21, 0)
	require.NoError(t, err)
	require.NotEmpty(t, name)

	res, err := p.WaitTaskResult(name, time.Second)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, 42, res.Value)
}

func TestPool_TaskErrorIsRecorded(t *testing.T) {
	p := copool.New("test", 1, 2, 10*time.Millisecond)
	defer p.Stop(true)

	wantErr := errors.New("boom")
	name, err := p.Submit("", func(param any) (any, error) {
		return nil, wantErr
	}, nil, 0)
	require.NoError(t, err)

	res, err := p.WaitTaskResult(name, time.Second)
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, wantErr)
}

func TestPool_TaskPanicBecomesError(t *testing.T) {
	p := copool.New("test", 1, 2, 10*time.Millisecond)
	defer p.Stop(true)

	name, err := p.Submit("", func(param any) (any, error) {
		panic("kaboom")
	}, nil, 0)
	require.NoError(t, err)

	res, err := p.WaitTaskResult(name, time.Second)
	require.NoError(t, err)
	require.Error(t, res.Err)
}

func TestPool_WaitTaskResultTimesOutWhenNoSuchTask(t *testing.T) {
	p := copool.New("test", 1, 2, 10*time.Millisecond)
	defer p.Stop(true)

	_, err := p.WaitTaskResult("does-not-exist", 20*time.Millisecond)
	require.ErrorIs(t, err, copool.ErrTimeout)
}

func TestPool_GrowsBeyondMinSizeUnderLoad(t *testing.T) {
	p := copool.New("test", 1, 4, 10*time.Millisecond)
	defer p.Stop(true)

	block := make(chan struct{})
	var started atomic.Int32
	for i := 0; i < 4; i++ {
		_, err := p.Submit("", func(param any) (any, error) {
			started.Add(1)
			<-block
			return nil, nil
		}, nil, 0)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return p.Running() >= 2
	}, time.Second, time.Millisecond)

	close(block)
}

func TestPool_ShrinksIdleWorkersPastKeepAlive(t *testing.T) {
	p := copool.New("test", 1, 4, 5*time.Millisecond)
	defer p.Stop(true)

	for i := 0; i < 4; i++ {
		_, err := p.Submit("", func(param any) (any, error) { return nil, nil }, nil, 0)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return p.Running() <= 1
	}, time.Second, time.Millisecond)
}

func TestPool_SubmitAfterStopReturnsError(t *testing.T) {
	p := copool.New("test", 0, 2, 10*time.Millisecond)
	p.Stop(true)

	_, err := p.Submit("", func(param any) (any, error) { return nil, nil }, nil, 0)
	require.ErrorIs(t, err, copool.ErrStopped)
}

func TestPool_PriorityOrdersQueuedTasks(t *testing.T) {
	p := copool.New("test", 0, 1, 10*time.Millisecond)
	defer p.Stop(true)

	var order []int
	done := make(chan struct{})

	block := make(chan struct{})
	_, err := p.Submit("blocker", func(param any) (any, error) {
		<-block
		return nil, nil
	}, nil, 0)
	require.NoError(t, err)

	for _, pri := range []int{5, 1, 3} {
		pri := pri
		_, err := p.Submit("", func(param any) (any, error) {
			order = append(order, pri)
			if len(order) == 3 {
				close(done)
			}
			return nil, nil
		}, nil, pri)
		require.NoError(t, err)
	}

	close(block)
	<-done
	require.Equal(t, []int{1, 3, 5}, order)
}

func TestWaitTaskResults_CollectsAllBeforeMinSize(t *testing.T) {
	p := copool.New("test", 1, 4, 10*time.Millisecond)
	defer p.Stop(true)

	var names []string
	for i := 0; i < 3; i++ {
		v := i
		name, err := p.Submit("", func(param any) (any, error) { return v, nil }, nil, 0)
		require.NoError(t, err)
		names = append(names, name)
	}

	results, err := copool.WaitTaskResults(p, names, &copool.BatchJoinConfig{
		MinSize:        3,
		PartialTimeout: time.Second,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
}

func TestWaitTaskResults_PartialTimeoutReturnsTimeoutForStragglers(t *testing.T) {
	p := copool.New("test", 1, 4, 10*time.Millisecond)
	defer p.Stop(true)

	fast, err := p.Submit("", func(param any) (any, error) { return "fast", nil }, nil, 0)
	require.NoError(t, err)

	block := make(chan struct{})
	slow, err := p.Submit("", func(param any) (any, error) {
		<-block
		return "slow", nil
	}, nil, 0)
	require.NoError(t, err)
	defer close(block)

	results, err := copool.WaitTaskResults(p, []string{fast, slow}, &copool.BatchJoinConfig{
		MinSize:        2,
		PartialTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, copool.ErrTimeout)
}

func TestPool_SubmitScratchReusesPooledSlot(t *testing.T) {
	sp := stackpool.New(1, time.Minute)
	p := copool.New("test", 1, 1, time.Minute, copool.WithStackPool(sp))
	defer p.Stop(true)

	observedSizes := make(chan int, 2)
	for i := 0; i < 2; i++ {
		name, err := p.SubmitScratch("", func(param any, scratch *stackpool.Slot) (any, error) {
			observedSizes <- scratch.Size()
			copy(scratch.Data, []byte("x"))
			return nil, nil
		}, 64, nil, 0)
		require.NoError(t, err)
		_, err = p.WaitTaskResult(name, time.Second)
		require.NoError(t, err)
	}

	close(observedSizes)
	var sizes []int
	for s := range observedSizes {
		sizes = append(sizes, s)
	}
	require.Len(t, sizes, 2)
	require.GreaterOrEqual(t, sizes[0], 64)
	require.GreaterOrEqual(t, sizes[1], 64)
	// The single min_size=1 worker serializes both tasks, so the second
	// call should reuse the slot released by the first rather than grow
	// the pool.
	require.Equal(t, 1, sp.Len())
}
