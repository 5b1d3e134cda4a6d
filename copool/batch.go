package copool

import (
	"time"
)

// BatchJoinConfig configures WaitTaskResults, mirroring go-longpoll's
// ChannelConfig shape (SPEC_FULL.md §4.15): a target MinSize, a
// PartialTimeout after which the effective minimum drops to whatever has
// completed so far, and an OverallTimeout. There is no MaxSize.
type BatchJoinConfig struct {
	// MinSize is the target number of results to collect before
	// PartialTimeout elapses. Defaults to len(names) if 0.
	MinSize int

	// PartialTimeout is how long to wait for MinSize results before
	// falling back to returning whatever is ready. Defaults to 50ms if 0.
	PartialTimeout time.Duration

	// OverallTimeout bounds the whole call; after it elapses,
	// WaitTaskResults returns whatever has completed plus ErrTimeout for
	// the rest. Zero means no overall bound; the call still returns once
	// PartialTimeout elapses.
	OverallTimeout time.Duration
}

// WaitTaskResults joins many tasks at once: the §4.15 convenience layered
// over WaitTaskResult's single-name contract. It returns one Result per
// name in names, in the same order; any name whose result did not arrive
// before OverallTimeout gets Result{Err: ErrTimeout}.
func WaitTaskResults(p *Pool, names []string, cfg *BatchJoinConfig) ([]Result, error) {
	if cfg == nil {
		cfg = &BatchJoinConfig{}
	}
	minSize := cfg.MinSize
	if minSize == 0 {
		minSize = len(names)
	}
	partialTimeout := cfg.PartialTimeout
	if partialTimeout == 0 {
		partialTimeout = 50 * time.Millisecond
	}

	results := make([]Result, len(names))
	done := make([]bool, len(names))

	var overallDeadline <-chan time.Time
	if cfg.OverallTimeout > 0 {
		overallDeadline = time.After(cfg.OverallTimeout)
	}
	partialDeadline := time.After(partialTimeout)

	completed := 0
	for completed < len(names) {
		progressed := false
		for i, name := range names {
			if done[i] {
				continue
			}
			p.resultsMu.Lock()
			r, ok := p.results[name]
			p.resultsMu.Unlock()
			if ok {
				results[i] = r
				done[i] = true
				completed++
				progressed = true
			}
		}
		if completed >= len(names) {
			break
		}
		if completed >= minSize {
			break
		}

		select {
		case <-partialDeadline:
			goto drain
		case <-overallDeadlineOrNever(overallDeadline):
			goto drain
		default:
		}

		if !progressed {
			time.Sleep(time.Millisecond)
		}
	}

drain:
	for i, name := range names {
		if done[i] {
			continue
		}
		p.resultsMu.Lock()
		r, ok := p.results[name]
		p.resultsMu.Unlock()
		if ok {
			results[i] = r
		} else {
			results[i] = Result{Err: ErrTimeout}
		}
	}
	return results, nil
}

// overallDeadlineOrNever returns ch if non-nil, or a channel that never
// fires, so a nil OverallTimeout select-case never wins.
func overallDeadlineOrNever(ch <-chan time.Time) <-chan time.Time {
	if ch != nil {
		return ch
	}
	return nil
}
