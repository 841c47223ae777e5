package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tlscanary/tlscanary/internal/pipeline"
	"github.com/tlscanary/tlscanary/internal/types"
)

// PerformanceMode repeats a scan pipeline against a test and a baseline
// build without any regression filtering, to characterize relative
// handshake throughput rather than correctness, grounded on
// performance.py, a RegressionMode subclass in the original whose run()
// never narrows the host set). Capped the way the original hard-codes:
// at most 1000 hosts, at most 20 scans, since a full-size performance run
// would be 1000x the probe volume of a single scan.
type PerformanceMode struct {
	Handle    string
	Test      types.Candidate
	Base      types.Candidate
	Scans     int
	Workers   int
	PerWorker int
	Timeout   time.Duration
}

const (
	MaxPerformanceHosts = 1000
	MaxPerformanceScans = 20
)

func (m *PerformanceMode) Name() string { return "performance" }

func (m *PerformanceMode) Run(ctx context.Context, deps Deps) (pipeline.PerformanceResult, error) {
	if m.Scans > MaxPerformanceScans {
		return pipeline.PerformanceResult{}, fmt.Errorf("performance: scans %d exceeds max %d", m.Scans, MaxPerformanceScans)
	}
	if m.Scans <= 0 {
		m.Scans = 1
	}

	src, err := deps.Sources.Read(m.Handle)
	if err != nil {
		return pipeline.PerformanceResult{}, fmt.Errorf("performance: %w", err)
	}
	hosts := src.AsSet(0, MaxPerformanceHosts)

	testFactory := PoolFactoryFor(m.Test)
	testP, releaseTest, err := testFactory(ctx, m.Workers, m.PerWorker)
	if err != nil {
		return pipeline.PerformanceResult{}, fmt.Errorf("performance: %w", err)
	}
	defer releaseTest()

	baseFactory := PoolFactoryFor(m.Base)
	baseP, releaseBase, err := baseFactory(ctx, m.Workers, m.PerWorker)
	if err != nil {
		return pipeline.PerformanceResult{}, fmt.Errorf("performance: %w", err)
	}
	defer releaseBase()

	return pipeline.RunPerformance(ctx, testP, baseP, hosts, m.Scans, m.Timeout), nil
}
