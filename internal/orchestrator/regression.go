package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tlscanary/tlscanary/internal/config"
	"github.com/tlscanary/tlscanary/internal/pipeline"
	"github.com/tlscanary/tlscanary/internal/progress"
	"github.com/tlscanary/tlscanary/internal/telemetry"
	"github.com/tlscanary/tlscanary/internal/types"
)

// RegressionMode runs the multi-pass convergence algorithm: find hosts
// the test build fails on that the baseline build does not, shrinking
// concurrency and growing the timeout each pass, then one final
// sequential pass-through pass with full info/certs.
type RegressionMode struct {
	Handle    string
	Test      types.Candidate
	Base      types.Candidate
	Initial   pipeline.PassParams
	MaxPasses int
}

func (m *RegressionMode) Name() string { return "regression" }

func (m *RegressionMode) Run(ctx context.Context, deps Deps) error {
	src, err := deps.Sources.Read(m.Handle)
	if err != nil {
		return fmt.Errorf("regression: %w", err)
	}

	revoked, err := pipeline.EnsureRevokedHosts(deps.Sources)
	if err != nil {
		return fmt.Errorf("regression: %w", err)
	}

	testFactory := PoolFactoryFor(m.Test)
	alteredFactory := PoolFactoryFor(alteredCandidate(m.Test))

	normalPool, releaseNormal, err := testFactory(ctx, 1, 1)
	if err != nil {
		return fmt.Errorf("regression: onecrl sanity check: %w", err)
	}
	alteredPool, releaseAltered, err := alteredFactory(ctx, 1, 1)
	if err != nil {
		releaseNormal()
		return fmt.Errorf("regression: onecrl sanity check: %w", err)
	}
	check, err := pipeline.OneCRLSanityCheck(ctx, normalPool, alteredPool, revoked.Rows, m.Initial.Timeout)
	releaseNormal()
	releaseAltered()
	if err != nil {
		return fmt.Errorf("regression: onecrl sanity check: %w", err)
	}
	if !check.Passed {
		return fmt.Errorf("regression: onecrl sanity check failed: %s", check.Detail)
	}

	rl, err := deps.RunLogs.New(m.Handle, m.Name(), time.Now())
	if err != nil {
		return fmt.Errorf("regression: %w", err)
	}
	if err := rl.Start(time.Now()); err != nil {
		return fmt.Errorf("regression: %w", err)
	}

	baseFactory := PoolFactoryFor(m.Base)
	decay := pipeline.DefaultDecayConfig()
	tracker := progress.New(len(src.Rows), 30*time.Second)

	result, err := pipeline.RunRegressionPasses(ctx, src.Rows, m.Initial, decay, m.MaxPasses, testFactory, baseFactory)
	if err != nil {
		return fmt.Errorf("regression: %w", err)
	}

	for _, r := range result.Remaining {
		if err := rl.Log(r); err != nil {
			return fmt.Errorf("regression: %w", err)
		}
	}
	tracker.LogCompleted(len(src.Rows))

	telemetry.GetGlobalEventLog().LogChunkCommitted(0, 1, len(result.Remaining))

	return rl.Stop(time.Now())
}

// alteredCandidate derives the OneCRL-sanity-check counterpart of c: the
// same build, pointed at a profile with its OneCRL entries stripped.
// Building that profile is an external-collaborator concern (see
// SPEC_FULL.md Non-goals); this only needs to know where it would live.
func alteredCandidate(c types.Candidate) types.Candidate {
	c.Profile = c.Profile + "-onecrl-altered"
	return c
}

// DefaultRegressionParams mirrors the documented starting decay tuple
// (16, 50, 10s).
func DefaultRegressionParams() pipeline.PassParams {
	return pipeline.PassParams{
		Workers:   config.DefaultNumWorkers,
		PerWorker: config.DefaultRequestsPerWorker,
		Timeout:   config.DefaultTimeout,
	}
}
