// Package progress implements ProgressTracker: completed/overhead counters
// and a sliding-window throughput estimate used to report percent-done and
// ETA for a long-running pass, grounded on progress.py.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// window is one sample in the sliding rate window: the combined
// completed+overhead item count at the moment the sample was taken.
type window struct {
	at        time.Time
	completed int
}

// Tracker reports progress against a known total, estimating throughput
// over a trailing time window rather than since the start of the run, so
// the ETA reacts to a pass slowing down or speeding up.
type Tracker struct {
	total      int
	windowSpan time.Duration
	now        func() time.Time

	mu        sync.Mutex
	startedAt time.Time
	completed int
	overhead  int
	samples   []window
}

// New creates a Tracker against total expected items, sampling a trailing
// windowSpan of history for its rate estimate (progress.py defaults to a
// 30-second window).
func New(total int, windowSpan time.Duration) *Tracker {
	return &Tracker{
		total:      total,
		windowSpan: windowSpan,
		now:        time.Now,
		startedAt:  time.Now(),
	}
}

// LogCompleted records n more items finished.
func (t *Tracker) LogCompleted(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed += n
	t.recordSample()
}

// LogOverhead records n more items of work done outside the tracked total
// (retries, bootstrap probes) -- counted for throughput but not percent.
func (t *Tracker) LogOverhead(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overhead += n
	t.recordSample()
}

func (t *Tracker) recordSample() {
	now := t.now()
	t.samples = append(t.samples, window{at: now, completed: t.completed + t.overhead})

	cutoff := now.Add(-t.windowSpan)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = t.samples[i:]
	}
}

// rate returns the estimated items/second over the trailing window, or 0
// if too little history has accumulated yet.
func (t *Tracker) rate() float64 {
	if len(t.samples) < 2 {
		return 0
	}
	first, last := t.samples[0], t.samples[len(t.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.completed-first.completed) / elapsed
}

// Percent returns completed/total as a percentage, 0-100.
func (t *Tracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total == 0 {
		return 100
	}
	pct := 100 * float64(t.completed) / float64(t.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ETA estimates remaining time at the current trailing-window rate. A
// zero duration with ok=false means the rate is not yet known.
func (t *Tracker) ETA() (eta time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rate := t.rate()
	if rate <= 0 {
		return 0, false
	}
	remaining := t.total - t.completed
	if remaining <= 0 {
		return 0, true
	}
	return time.Duration(float64(remaining)/rate) * time.Second, true
}

// String renders a one-line status summary, mirroring progress.py's
// __str__: percent done, rate, and ETA.
func (t *Tracker) String() string {
	t.mu.Lock()
	completed, total, overhead := t.completed, t.total, t.overhead
	t.mu.Unlock()

	rate := t.rate()
	eta, ok := t.ETA()
	etaStr := "unknown"
	if ok {
		etaStr = eta.Round(time.Second).String()
	}

	return fmt.Sprintf("%d/%d (%.1f%%) +%d overhead, %.1f/s, ETA %s",
		completed, total, t.Percent(), overhead, rate, etaStr)
}
