// Package coroutine implements the stackful-task primitive from §4.1: a
// named task with a state machine, listeners, locals, and resume/suspend
// control transfer.
//
// Go offers no supported, non-cgo primitive for raw stack-switch context
// control, so each Coroutine here owns a dedicated goroutine and transfers
// control via a pair of unbuffered rendezvous channels — the same pattern
// used by goroutine-based coroutine libraries in the wild (see
// other_examples/5758fcf4_tcard-coro__coro.go.go). The state machine,
// transition legality, listeners, locals, and trap-handling contract are
// all implemented exactly as specified; see SPEC_FULL.md §4.1 for the
// documented HOW substitution.
package coroutine

import "fmt"

// Kind is the coroutine's top-level state, per §3.
type Kind int

const (
	Ready Kind = iota
	Running
	Suspend
	Syscall
	Complete
	Error
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Suspend:
		return "Suspend"
	case Syscall:
		return "Syscall"
	case Complete:
		return "Complete"
	case Error:
		return "Error"
	case Cancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// SyscallSubstate is syscall_substate from §3.
type SyscallSubstate int

const (
	Executing SyscallSubstate = iota
	SuspendWait
	Callback
	Timeout
)

func (s SyscallSubstate) String() string {
	switch s {
	case Executing:
		return "Executing"
	case SuspendWait:
		return "Suspend"
	case Callback:
		return "Callback"
	case Timeout:
		return "Timeout"
	default:
		return fmt.Sprintf("SyscallSubstate(%d)", int(s))
	}
}

// State is the coroutine's full reported state, covering every variant in
// §3's enumeration. Only the fields relevant to Kind (and, for Syscall,
// Substate) are meaningful; the zero value of irrelevant fields is
// ignored.
type State struct {
	Kind Kind

	// Suspend
	Yield  any
	WakeAt int64 // nanosecond wall-clock timestamp; 0 means "ready immediately"

	// Syscall
	SyscallName string
	Substate    SyscallSubstate
	Deadline    int64 // nanosecond wall-clock timestamp, for Substate == SuspendWait

	// Complete
	Return any

	// Error
	Err error
}

func (s State) String() string {
	switch s.Kind {
	case Suspend:
		return fmt.Sprintf("Suspend(yield=%v, wake=%d)", s.Yield, s.WakeAt)
	case Syscall:
		return fmt.Sprintf("Syscall(yield=%v, name=%s, sub=%s)", s.Yield, s.SyscallName, s.Substate)
	case Complete:
		return fmt.Sprintf("Complete(%v)", s.Return)
	case Error:
		return fmt.Sprintf("Error(%v)", s.Err)
	default:
		return s.Kind.String()
	}
}

func readyState() State     { return State{Kind: Ready} }
func runningState() State   { return State{Kind: Running} }
func cancelledState() State { return State{Kind: Cancelled} }

func suspendState(yield any, wakeAt int64) State {
	return State{Kind: Suspend, Yield: yield, WakeAt: wakeAt}
}

func syscallState(yield any, name string, sub SyscallSubstate, deadline int64) State {
	return State{Kind: Syscall, Yield: yield, SyscallName: name, Substate: sub, Deadline: deadline}
}

func completeState(ret any) State { return State{Kind: Complete, Return: ret} }

func errorState(err error) State { return State{Kind: Error, Err: err} }

// legalTransition implements the table in §4.3.
func legalTransition(from, to State) bool {
	switch from.Kind {
	case Ready:
		return to.Kind == Running
	case Running:
		switch to.Kind {
		case Suspend, Complete, Error, Cancelled:
			return true
		case Syscall:
			return to.Substate == Executing
		}
		return false
	case Suspend:
		return to.Kind == Ready
	case Syscall:
		switch from.Substate {
		case Executing:
			return to.Kind == Syscall && to.Substate == SuspendWait
		case SuspendWait:
			return to.Kind == Syscall && (to.Substate == Callback || to.Substate == Timeout)
		case Callback, Timeout:
			return to.Kind == Running
		}
		return false
	default:
		return false
	}
}
