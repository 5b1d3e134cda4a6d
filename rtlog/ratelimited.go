package rtlog

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// RateLimited wraps a Logger so that repeated Warn calls for the same
// category (e.g. "selector: EWOULDBLOCK spin", "selector: late del_read")
// are suppressed once a configured rate is exceeded, matching SPEC_FULL
// §4.13: noisy conditions must log at a bounded rate instead of flooding
// output. It is backed directly by the teacher's own rate limiter,
// go-catrate.
type RateLimited struct {
	logger  *Logger
	limiter *catrate.Limiter
}

// NewRateLimited builds a RateLimited logger allowing up to maxPerWindow
// Warn calls, per category, within window.
func NewRateLimited(l *Logger, window time.Duration, maxPerWindow int) *RateLimited {
	return &RateLimited{
		logger:  OrDefault(l),
		limiter: catrate.NewLimiter(map[time.Duration]int{window: maxPerWindow}),
	}
}

// Warnf logs msg at Warning level for category, unless the category's
// rate has been exceeded within the configured window, in which case the
// call is silently dropped.
func (r *RateLimited) Warnf(category string, msg string, fields map[string]string) {
	if _, ok := r.limiter.Allow(category); !ok {
		return
	}
	b := r.logger.Warning().Str("category", category)
	for k, v := range fields {
		b = b.Str(k, v)
	}
	b.Log(msg)
}
