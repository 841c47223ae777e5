package pipeline

import (
	"context"
	"time"

	"github.com/tlscanary/tlscanary/internal/telemetry"
	"github.com/tlscanary/tlscanary/internal/types"
)

// PoolFactory spawns a pool sized to exactly workers workers, each allowed
// perWorker concurrent commands, against one candidate build. release must
// be called once the pass that requested it is done with the pool.
// Implemented by internal/orchestrator, which owns worker subprocess
// lifecycle; pipeline itself never spawns a process.
type PoolFactory func(ctx context.Context, workers, perWorker int) (p Prober, release func(), err error)

// RegressionResult is the outcome of running all regression passes to
// convergence or exhaustion.
type RegressionResult struct {
	// Remaining holds the final, pass-through results for every host that
	// survived every decay pass: genuine test-vs-baseline differences.
	Remaining []types.ScanResult
	// Passes records each pass's parameters and how many hosts it left
	// after subtracting baseline failures, for the run log / progress UI.
	Passes []PassOutcome
}

// PassOutcome describes one completed regression pass.
type PassOutcome struct {
	Params   PassParams
	Input    int
	Failed   int // failed against the test build
	Survived int // failed on test but not on baseline
}

// RunRegressionPasses implements run_regression_passes: repeatedly probe
// the current host set against the test build, re-probe only the
// failures against the baseline build, and carry forward only hosts that
// failed on test but not on baseline. Each pass shrinks
// worker/perWorker concurrency and grows the timeout per decay. The loop
// stops early once a pass converges (no hosts survive) or after maxPasses
// passes; if any hosts remain, it then runs one final sequential
// (one worker, one command at a time), pass-through pass against the test
// build with info/certs enabled and returns those results as Remaining.
func RunRegressionPasses(
	ctx context.Context,
	hosts []types.Host,
	initial PassParams,
	decay DecayConfig,
	maxPasses int,
	testPool, basePool PoolFactory,
) (RegressionResult, error) {
	var result RegressionResult
	current := hosts
	params := initial

	metrics := telemetry.GetGlobalMetrics()
	events := telemetry.GetGlobalEventLog()

	for pass := 0; pass < maxPasses && len(current) > 0; pass++ {
		metrics.SetCurrentPass(pass)
		events.LogPassStarted(pass, params.Workers, params.PerWorker, params.Timeout.Milliseconds(), len(current))

		testP, releaseTest, err := testPool(ctx, params.Workers, params.PerWorker)
		if err != nil {
			return result, err
		}
		testResults := runOverPool(ctx, testP, current, params.Timeout, false, false)
		releaseTest()

		failed := Failures(testResults)
		survived := failed

		if len(failed) > 0 {
			baseP, releaseBase, err := basePool(ctx, params.Workers, params.PerWorker)
			if err != nil {
				return result, err
			}
			baseResults := runOverPool(ctx, baseP, HostsOf(failed), params.Timeout, false, false)
			releaseBase()

			baseFailed := Failures(baseResults)
			survived = Subtract(failed, baseFailed)
		}

		result.Passes = append(result.Passes, PassOutcome{
			Params:   params,
			Input:    len(current),
			Failed:   len(failed),
			Survived: len(survived),
		})
		events.LogPassConverged(pass, len(survived), false)
		metrics.RecordRegressions(ctx, len(survived))

		current = HostsOf(survived)
		params = decay.Next(params)

		if len(survived) == 0 {
			break
		}
	}

	if len(current) == 0 {
		result.Remaining = nil
		return result, nil
	}

	final, releaseFinal, err := testPool(ctx, 1, 1)
	if err != nil {
		return result, err
	}
	defer releaseFinal()
	result.Remaining = runOverPool(ctx, final, current, finalPassTimeout(params), true, true)
	events.LogPassConverged(len(result.Passes), len(result.Remaining), true)

	return result, nil
}

func finalPassTimeout(p PassParams) time.Duration {
	if p.Timeout <= 0 {
		return time.Duration(0)
	}
	return p.Timeout
}

func runOverPool(ctx context.Context, p Prober, hosts []types.Host, timeout time.Duration, getInfo, getCerts bool) []types.ScanResult {
	return RunPass(ctx, p, hosts, timeout, getInfo, getCerts)
}
