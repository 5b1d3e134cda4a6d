package monitor

import "github.com/joeycumines/go-opencoroutine/coroutine"

// Listener arms m on every Ready->Running transition and disarms on any
// exit from Running, per §4.11. Bind must be called with the coroutine's
// own Handle before its first Resume (construction never starts the
// backing goroutine, so this is always safe immediately after
// coroutine.New), since the listener has no other way to learn which
// Handle a bare "name" belongs to.
type Listener struct {
	coroutine.BaseListener
	m      *Monitor
	handle coroutine.Handle
}

// NewListener constructs a Listener for m. Call Bind with the coroutine's
// Handle before resuming it.
func NewListener(m *Monitor) *Listener {
	return &Listener{m: m}
}

// Bind associates this listener with h, the coroutine it was passed to
// via coroutine.WithListener at construction.
func (l *Listener) Bind(h coroutine.Handle) { l.handle = h }

func (l *Listener) OnRunning(string) {
	if l.handle != nil {
		l.m.arm(l.handle)
	}
}

func (l *Listener) OnSuspend(name string, _ coroutine.State)  { l.m.disarm(name) }
func (l *Listener) OnSyscall(name string, _ coroutine.State)  { l.m.disarm(name) }
func (l *Listener) OnComplete(name string, _ coroutine.State) { l.m.disarm(name) }
func (l *Listener) OnError(name string, _ coroutine.State)    { l.m.disarm(name) }
