package fleet_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-opencoroutine/coroutine"
	"github.com/joeycumines/go-opencoroutine/fleet"
	"github.com/joeycumines/go-opencoroutine/rtconfig"
)

func newFleet(t *testing.T, size int) *fleet.Fleet {
	t.Helper()
	cfg, err := rtconfig.Resolve(rtconfig.WithEventLoopSize(size))
	require.NoError(t, err)
	f, err := fleet.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.Stop(ctx, true)
	})
	return f
}

func TestFleet_NewRejectsZeroLoops(t *testing.T) {
	cfg, err := rtconfig.Resolve(rtconfig.WithEventLoopSize(0))
	require.NoError(t, err)
	_, err = fleet.New(cfg, nil)
	require.ErrorIs(t, err, fleet.ErrNoLoops)
}

func TestFleet_SizeMatchesConfig(t *testing.T) {
	f := newFleet(t, 3)
	require.Equal(t, 3, f.Size())
}

func TestFleet_SubmitRoundRobinsAcrossLoops(t *testing.T) {
	f := newFleet(t, 3)
	require.NoError(t, f.Start())

	seen := make(map[int]bool)
	for i := 0; i < 9; i++ {
		i := i
		co := coroutine.New[any, any, any]("rr", func(s *coroutine.Suspender[any, any], arg any) any {
			return i
		})
		l := f.Submit(co, nil, false)
		seen[l.CPU()] = true
	}
	require.Len(t, seen, 3)
}

func TestFleet_WaitReadEventRegistersOnSomeLoop(t *testing.T) {
	f := newFleet(t, 2)
	require.NoError(t, f.Start())

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	l, err := f.WaitReadEvent(int(r.Fd()), "waiter")
	require.NoError(t, err)
	require.NotNil(t, l)

	require.NoError(t, f.DelEvent(int(r.Fd())))
}

func TestFleet_DelEventIsSafeWhenNeverRegistered(t *testing.T) {
	f := newFleet(t, 2)
	require.NoError(t, f.Start())

	require.NoError(t, f.DelEvent(999999))
}

func TestFleet_StopIsIdempotent(t *testing.T) {
	f := newFleet(t, 1)
	require.NoError(t, f.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Stop(ctx, true))
	require.NoError(t, f.Stop(ctx, true))
}
