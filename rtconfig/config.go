// Package rtconfig implements the runtime configuration table from §6 of
// the specification, using the teacher event loop's functional-options
// pattern (see eventloop.LoopOption / WithStrictMicrotaskOrdering).
package rtconfig

import (
	"runtime"
	"time"

	"github.com/joeycumines/go-opencoroutine/rtlog"
)

// defaultStackSize approximates "platform page size × 16" from §6: 4KiB
// pages × 16 = 64KiB, a conservative default scratch-buffer/stack size.
const defaultStackSize = 64 * 1024

// Config holds the fully-resolved runtime configuration.
type Config struct {
	// EventLoopSize is the number of event-loop threads (default: CPU
	// count).
	EventLoopSize int

	// StackSize is the default coroutine stack (scratch buffer) size.
	StackSize int

	// MinSize is the per-pool minimum worker coroutine count.
	MinSize int

	// MaxSize is the per-pool maximum worker coroutine count.
	MaxSize int

	// KeepAliveTime is how long an idle non-core worker coroutine is
	// allowed to live before being recycled.
	KeepAliveTime time.Duration

	// MinMemoryCount is the minimum number of retained pooled stack
	// (scratch buffer) slots.
	MinMemoryCount int

	// MemoryKeepAliveTime is the idle duration after which a non-core
	// pooled stack slot may be freed.
	MemoryKeepAliveTime time.Duration

	// Logger is the structured logger used by every subsystem
	// constructed from this Config. Defaults to rtlog.Global().
	Logger *rtlog.Logger
}

// Option configures a Config, in the teacher's LoopOption style
// (eventloop.LoopOption): an interface wrapping an apply function, so
// options remain easy to validate and compose.
type Option interface {
	apply(*Config) error
}

type optionFunc func(*Config) error

func (f optionFunc) apply(c *Config) error { return f(c) }

// WithEventLoopSize overrides the number of event-loop threads.
func WithEventLoopSize(n int) Option {
	return optionFunc(func(c *Config) error {
		c.EventLoopSize = n
		return nil
	})
}

// WithStackSize overrides the default coroutine stack/scratch size.
func WithStackSize(n int) Option {
	return optionFunc(func(c *Config) error {
		c.StackSize = n
		return nil
	})
}

// WithPoolSize sets the per-pool min/max worker coroutine counts.
func WithPoolSize(min, max int) Option {
	return optionFunc(func(c *Config) error {
		c.MinSize = min
		c.MaxSize = max
		return nil
	})
}

// WithKeepAliveTime sets how long idle non-core worker coroutines live.
func WithKeepAliveTime(d time.Duration) Option {
	return optionFunc(func(c *Config) error {
		c.KeepAliveTime = d
		return nil
	})
}

// WithMemoryPool sets the retained stack-pool minimum count and the
// keep-alive time for non-core pooled entries.
func WithMemoryPool(minCount int, keepAlive time.Duration) Option {
	return optionFunc(func(c *Config) error {
		c.MinMemoryCount = minCount
		c.MemoryKeepAliveTime = keepAlive
		return nil
	})
}

// WithLogger overrides the structured logger used by subsystems built
// from this Config.
func WithLogger(l *rtlog.Logger) Option {
	return optionFunc(func(c *Config) error {
		c.Logger = l
		return nil
	})
}

// Resolve applies opts over the documented defaults.
func Resolve(opts ...Option) (*Config, error) {
	c := &Config{
		EventLoopSize:       runtime.NumCPU(),
		StackSize:           defaultStackSize,
		MinSize:             0,
		MaxSize:             65536,
		KeepAliveTime:       10 * time.Second,
		MinMemoryCount:      runtime.NumCPU(),
		MemoryKeepAliveTime: 10 * time.Second,
		Logger:              rtlog.Global(),
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o.apply(c); err != nil {
			return nil, err
		}
	}
	if c.Logger == nil {
		c.Logger = rtlog.Global()
	}
	return c, nil
}
