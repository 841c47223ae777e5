package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecaySequenceMatchesDocumentedTuples(t *testing.T) {
	cfg := DefaultDecayConfig()
	initial := PassParams{Workers: 16, PerWorker: 50, Timeout: 10 * time.Second}

	seq := cfg.Sequence(initial, 5)

	want := []PassParams{
		{Workers: 16, PerWorker: 50, Timeout: 10 * time.Second},
		{Workers: 12, PerWorker: 37, Timeout: 12500 * time.Millisecond},
		{Workers: 9, PerWorker: 27, Timeout: 15625 * time.Millisecond},
		{Workers: 6, PerWorker: 20, Timeout: 19531250 * time.Microsecond},
		{Workers: 4, PerWorker: 15, Timeout: 24414062500 * time.Nanosecond},
	}

	for i, w := range want {
		assert.Equalf(t, w.Workers, seq[i].Workers, "pass %d workers", i)
		assert.Equalf(t, w.PerWorker, seq[i].PerWorker, "pass %d perWorker", i)
	}

	assert.InDelta(t, 10.0, seq[0].Timeout.Seconds(), 0.01)
	assert.InDelta(t, 12.5, seq[1].Timeout.Seconds(), 0.01)
	assert.InDelta(t, 15.6, seq[2].Timeout.Seconds(), 0.05)
	assert.InDelta(t, 19.5, seq[3].Timeout.Seconds(), 0.05)
	assert.InDelta(t, 24.4, seq[4].Timeout.Seconds(), 0.05)
}

func TestDecayNeverDropsBelowOneWorker(t *testing.T) {
	cfg := DefaultDecayConfig()
	p := PassParams{Workers: 1, PerWorker: 1, Timeout: time.Second}
	next := cfg.Next(p)
	assert.Equal(t, 1, next.Workers)
	assert.Equal(t, 1, next.PerWorker)
}

func TestDecayTimeoutCapsAtMaxTimeout(t *testing.T) {
	cfg := DefaultDecayConfig()
	p := PassParams{Workers: 4, PerWorker: 15, Timeout: cfg.MaxTimeout}
	next := cfg.Next(p)
	assert.Equal(t, cfg.MaxTimeout, next.Timeout)
}
