//go:build linux || darwin

package selector_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-opencoroutine/selector"
)

func TestSelector_ReadReadyOnPipeWrite(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	s, err := selector.New()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AddRead(int(r.Fd()), "reader-co"))

	_, err = w.Write([]byte("hi"))
	require.NoError(t, err)

	events := make([]selector.Event, 4)
	n, err := s.Select(events, time.Second)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)
	require.Equal(t, "reader-co", events[0].Token)
	require.True(t, events[0].Readable)
}

func TestSelector_DuplicateAddReadIsNoop(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	s, err := selector.New()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AddRead(int(r.Fd()), "first"))
	require.NoError(t, s.AddRead(int(r.Fd()), "second")) // no-op: token stays "first"

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	events := make([]selector.Event, 4)
	n, err := s.Select(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "first", events[0].Token)
}

func TestSelector_DelReadKeepsWriteRegistration(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	s, err := selector.New()
	require.NoError(t, err)
	defer s.Close()

	wfd := int(w.Fd())
	require.NoError(t, s.AddWrite(wfd, "writer-co"))
	require.NoError(t, s.AddRead(wfd, "writer-co-reader"))
	require.NoError(t, s.DelRead(wfd))

	events := make([]selector.Event, 4)
	n, err := s.Select(events, time.Second)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)
	for i := 0; i < n; i++ {
		require.False(t, events[i].Readable)
	}
}

func TestSelector_DelUnregisteredIsError(t *testing.T) {
	s, err := selector.New()
	require.NoError(t, err)
	defer s.Close()

	err = s.Del(999999)
	require.ErrorIs(t, err, selector.ErrNotRegistered)
}

func TestSelector_TimeoutWithNoReadyFD(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	s, err := selector.New()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AddRead(int(r.Fd()), "idle"))

	events := make([]selector.Event, 4)
	n, err := s.Select(events, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestSelector_OperationsAfterCloseFail(t *testing.T) {
	s, err := selector.New()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.ErrorIs(t, s.AddRead(int(r.Fd()), "x"), selector.ErrClosed)
}
