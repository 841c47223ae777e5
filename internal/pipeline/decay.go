// Package pipeline implements ProbePipeline: the multi-pass regression
// algorithm that converges a host set down to genuine TLS behavior
// differences between a test and a baseline browser build, grounded on
// modes/regression.py's run_regression_passes.
package pipeline

import (
	"time"

	"github.com/tlscanary/tlscanary/internal/config"
)

// PassParams are the per-pass tuning knobs: how many workers run, how many
// concurrently outstanding commands each is allowed, and how long a probe
// may take before it counts as a failure.
type PassParams struct {
	Workers   int
	PerWorker int
	Timeout   time.Duration
}

// DecayConfig bounds how PassParams shrink/grow across passes. Each pass
// after the first scales workers and per-worker concurrency down by
// DecayFactor (rounded down, floored at 1) and grows the timeout by
// TimeoutGrowth (capped at MaxTimeout) -- exactly regression.py's
// `num_workers = max(1, int(num_workers*0.75))` etc.
type DecayConfig struct {
	DecayFactor   float64
	TimeoutGrowth float64
	MaxTimeout    time.Duration
}

func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		DecayFactor:   config.PassDecayFactor,
		TimeoutGrowth: config.PassTimeoutGrowthFactor,
		MaxTimeout:    config.DefaultMaxTimeout,
	}
}

// Next computes the following pass's parameters from the current ones.
func (d DecayConfig) Next(p PassParams) PassParams {
	workers := int(float64(p.Workers) * d.DecayFactor)
	if workers < 1 {
		workers = 1
	}
	perWorker := int(float64(p.PerWorker) * d.DecayFactor)
	if perWorker < 1 {
		perWorker = 1
	}
	timeout := time.Duration(float64(p.Timeout) * d.TimeoutGrowth)
	if timeout > d.MaxTimeout {
		timeout = d.MaxTimeout
	}
	return PassParams{Workers: workers, PerWorker: perWorker, Timeout: timeout}
}

// Sequence generates n pass parameter sets starting from initial,
// decaying each step -- used both by the regression loop and by tests
// asserting the exact documented decay tuple sequence.
func (d DecayConfig) Sequence(initial PassParams, n int) []PassParams {
	out := make([]PassParams, 0, n)
	cur := initial
	for i := 0; i < n; i++ {
		out = append(out, cur)
		cur = d.Next(cur)
	}
	return out
}
