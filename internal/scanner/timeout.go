package scanner

import (
	"sync"
	"time"
)

// Defaults for the timeout tuner. The multiplier-plus-buffer shrink
// formula is an empirical heuristic carried over for compatibility;
// the values are configuration, not protocol.
const (
	defaultHistorySize = 10
	defaultMinSamples  = 3
	defaultMultiplier  = 3
	defaultFloor       = 50 * time.Millisecond
)

// timeoutTuner adapts the per-probe timeout from observed round-trip
// latencies. One tuner is owned by one scan invocation and shared by
// all of its probes; it is safe for concurrent use. The timeout only
// ever decreases: once lowered from evidence, raising it back up would
// slow the scan without a correctness benefit.
type timeoutTuner struct {
	mu      sync.Mutex
	current time.Duration
	history []time.Duration

	historySize int
	minSamples  int
	multiplier  int
	floor       time.Duration
}

func newTimeoutTuner(initial time.Duration) *timeoutTuner {
	return &timeoutTuner{
		current:     initial,
		history:     make([]time.Duration, 0, defaultHistorySize),
		historySize: defaultHistorySize,
		minSamples:  defaultMinSamples,
		multiplier:  defaultMultiplier,
		floor:       defaultFloor,
	}
}

// Observe records one measured connect latency. Both a successful
// connect and a clean refusal are valid timing signals. Once enough
// samples exist the timeout shrinks to a generous multiple of the
// slowest recent sample, floored, and only if that is an improvement.
func (t *timeoutTuner) Observe(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.history) == t.historySize {
		t.history = append(t.history[1:], latency)
	} else {
		t.history = append(t.history, latency)
	}

	if len(t.history) < t.minSamples {
		return
	}

	maxRecent := t.history[0]
	for _, d := range t.history[1:] {
		if d > maxRecent {
			maxRecent = d
		}
	}

	// multiplier plus a 20% buffer, so one slow-but-real server does
	// not get cut off by its own jitter
	candidate := maxRecent * time.Duration(t.multiplier)
	candidate += candidate / 5

	if candidate < t.floor {
		candidate = t.floor
	}

	if candidate < t.current {
		t.current = candidate
	}
}

// Current returns the effective timeout for the next probe attempt.
// Callers must read it fresh immediately before each use rather than
// caching it, so in-flight probes benefit as soon as it shrinks.
func (t *timeoutTuner) Current() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current
}
