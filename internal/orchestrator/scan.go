package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tlscanary/tlscanary/internal/pipeline"
	"github.com/tlscanary/tlscanary/internal/progress"
	"github.com/tlscanary/tlscanary/internal/telemetry"
	"github.com/tlscanary/tlscanary/internal/types"
)

// ScanMode runs a single plain scan of a host set against one candidate
// build, committing chunk by chunk to a fresh run log.
type ScanMode struct {
	Handle    string
	Candidate types.Candidate
	Workers   int
	PerWorker int
	Timeout   time.Duration
	GetInfo   bool
	GetCerts  bool
}

func (m *ScanMode) Name() string { return "scan" }

func (m *ScanMode) Run(ctx context.Context, deps Deps) error {
	src, err := deps.Sources.Read(m.Handle)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	rl, err := deps.RunLogs.New(m.Handle, m.Name(), time.Now())
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if err := rl.Start(time.Now()); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	factory := PoolFactoryFor(m.Candidate)
	p, release, err := factory(ctx, m.Workers, m.PerWorker)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	defer release()

	tracker := progress.New(len(src.Rows), 30*time.Second)
	events := telemetry.GetGlobalEventLog()
	chunks := pipeline.PlanChunks(len(src.Rows))

	for i, chunk := range chunks {
		hosts := src.AsSet(chunk.Start, chunk.End)
		results := pipeline.RunPass(ctx, p, hosts, m.Timeout, m.GetInfo, m.GetCerts)
		for _, r := range results {
			if err := rl.Log(r); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
		}
		tracker.LogCompleted(len(hosts))
		events.LogChunkCommitted(i, len(chunks), len(hosts))
	}

	return rl.Stop(time.Now())
}

// InfoMode issues a single "info" command (build/OS/NSS version etc.) to
// one worker of the candidate build instead of a TLS scan -- the simplest
// mode, no regression or
// chunk-incremental commit needed since info responses carry no cert
// chain payload.
type InfoMode struct {
	Candidate types.Candidate
}

func (m *InfoMode) Name() string { return "info" }

func (m *InfoMode) Run(ctx context.Context, deps Deps) error {
	factory := PoolFactoryFor(m.Candidate)
	p, release, err := factory(ctx, 1, 1)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	defer release()

	cmd := types.Command{ID: "info", Mode: types.ModeInfo}
	resp, err := p.Probe(ctx, cmd)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	if resp.Result != nil {
		fmt.Printf("release=%s info=%v\n", m.Candidate.ReleaseID, resp.Result.Info)
	}
	return nil
}
