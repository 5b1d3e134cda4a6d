package coroutine

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
)

// installTrapOnce enables runtime/debug.SetPanicOnFault the first time a
// coroutine is constructed, mirroring §4.1's "installed once, process-wide,
// on first coroutine creation" for the SIGBUS/SIGSEGV handler. See
// SPEC_FULL.md §4.1 for why this, rather than a real signal handler, is
// the Go-native realization of trap handling: Go does not let a library
// rewrite a faulting goroutine's context and resume inside it the way a
// cgo/assembly signal handler can, so the closest observable equivalent is
// enabling panic-on-fault and classifying what gets recovered.
var installTrapOnce sync.Once

func installTrap() {
	installTrapOnce.Do(func() {
		debug.SetPanicOnFault(true)
	})
}

// classifyTrap turns a recovered panic value into the Error state §4.1 and
// §7 require: "invalid memory reference" if the interrupted access looks
// like a nil/invalid pointer dereference (the class SetPanicOnFault makes
// recoverable), "stack overflow" if the runtime's own message says so, and
// otherwise the user panic's message verbatim (§7's "User panic" kind).
//
// Limitation (documented, not silent): an actual goroutine stack-overflow
// in Go is a fatal, non-recoverable runtime error by design — Go grows
// goroutine stacks automatically and only gives up (fatally) once the
// configured maximum is hit, at which point no recover() in any goroutine
// can intercept it. The "stack overflow" classification below therefore
// only ever fires for panics that self-report as such (e.g. a
// user-maintained recursion-depth guard panicking with that message), not
// for a genuine runtime stack-overflow abort. This narrowing from the
// spec's OS-trap contract is recorded as a resolved Open Question in
// DESIGN.md.
func classifyTrap(recovered any) error {
	msg := fmt.Sprint(recovered)
	switch {
	case strings.Contains(msg, "invalid memory address") || strings.Contains(msg, "nil pointer dereference"):
		return fmt.Errorf("%s: %s", InvalidMemoryReferenceMsg, msg)
	case strings.Contains(msg, "stack overflow"):
		return fmt.Errorf("%s: %s", StackOverflowMsg, msg)
	default:
		if err, ok := recovered.(error); ok {
			return err
		}
		return fmt.Errorf("%v", recovered)
	}
}
