package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tlscanary/tlscanary/internal/pipeline"
	"github.com/tlscanary/tlscanary/internal/sources"
	"github.com/tlscanary/tlscanary/internal/types"
)

// SrcUpdateMode re-derives a source handle's working host set from a
// larger unfiltered candidate list, keeping only hosts that succeed
// consistently across Scans repeated passes, grounded on sourceupdate.py.
type SrcUpdateMode struct {
	Handle    string
	Unfiltered []types.Host
	Candidate types.Candidate
	Limit     int
	Scans     int
	Workers   int
	PerWorker int
	Timeout   time.Duration
}

func (m *SrcUpdateMode) Name() string { return "srcupdate" }

func (m *SrcUpdateMode) Run(ctx context.Context, deps Deps) error {
	if m.Limit <= 0 {
		m.Limit = 500000
	}
	if m.Scans <= 0 {
		m.Scans = 3
	}

	factory := PoolFactoryFor(m.Candidate)
	p, release, err := factory(ctx, m.Workers, m.PerWorker)
	if err != nil {
		return fmt.Errorf("srcupdate: %w", err)
	}
	defer release()

	result := pipeline.RunSrcUpdate(ctx, p, m.Unfiltered, m.Limit, m.Scans, m.Timeout)

	final := sources.FromSet(m.Handle, result.WorkingSet)
	final.Trim(m.Limit)

	if err := deps.Sources.Write(m.Handle, final.Rows); err != nil {
		return fmt.Errorf("srcupdate: write updated %q: %w", m.Handle, err)
	}
	return nil
}
