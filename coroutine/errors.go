package coroutine

import "errors"

// Error kinds produced by this package, per §7.
var (
	// ErrInvalidTransition is returned when an attempted state transition
	// is not in the legal transition graph of §4.3. The coroutine is left
	// in its prior state.
	ErrInvalidTransition = errors.New("coroutine: invalid state transition")

	// ErrNotReentrant is returned by Resume if the coroutine is already
	// running (resume is not re-entrant on the same coroutine, §4.1).
	ErrNotReentrant = errors.New("coroutine: resume is not re-entrant")

	// ErrTerminal is returned by Resume on a coroutine already Complete,
	// Error, or Cancelled.
	ErrTerminal = errors.New("coroutine: coroutine already terminal")
)

// InvalidMemoryReferenceMsg and StackOverflowMsg are the two trap
// classifications from §4.1 and §7.
const (
	InvalidMemoryReferenceMsg = "invalid memory reference"
	StackOverflowMsg          = "stack overflow"
)
