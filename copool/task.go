package copool

import "github.com/joeycumines/go-opencoroutine/stackpool"

// Func is the user work a task wraps: takes the submitted param and
// returns a value or an error, per §4.8 "submit_task(name?, f, param,
// priority?)".
type Func func(param any) (any, error)

// FuncScratch is Func's scratch-buffer variant: the pool hands it a
// pooled *stackpool.Slot (nil if the pool has no stackpool.Pool attached
// via WithStackPool) sized to at least the task's requested scratchSize,
// instead of the caller allocating its own working buffer per call — the
// §4.2 expansion's "wired into copool's worker lifecycle as the buffer
// backing large Param/Return payloads."
type FuncScratch func(param any, scratch *stackpool.Slot) (any, error)

// task is one queued unit of work. It implements wsqueue.Prioritized so
// the pool's task queue can be a wsqueue.PriorityQueue.
type task struct {
	name        string
	fn          Func
	fnScratch   FuncScratch
	scratchSize int
	param       any
	priority    int
}

func (t *task) Priority() int { return t.priority }

// Result is what a joiner observes for a finished task, per §7's
// Cancelled/Timeout/value error-kind taxonomy.
type Result struct {
	Value     any
	Err       error
	Cancelled bool
}
