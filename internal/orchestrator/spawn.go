// Package orchestrator wires the domain packages (worker, pool, pipeline,
// runlog, sources) into the run modes a tlscanary invocation can
// select: scan, info, regression, srcupdate and performance, grounded on
// basemode.py's ModeOrchestrator pattern -- Go has no multiple
// inheritance, so the "mode as mixin" shape becomes a Mode interface
// implemented by small per-mode structs sharing one Deps.
package orchestrator

import (
	"context"
	"fmt"
	"net"

	"github.com/tlscanary/tlscanary/internal/config"
	"github.com/tlscanary/tlscanary/internal/pipeline"
	"github.com/tlscanary/tlscanary/internal/pool"
	"github.com/tlscanary/tlscanary/internal/telemetry"
	"github.com/tlscanary/tlscanary/internal/types"
	"github.com/tlscanary/tlscanary/internal/worker"
)

// WorkerFleet owns a set of spawned worker subprocesses for one candidate
// build and the pool.Pool multiplexing commands across them.
type WorkerFleet struct {
	supervisors []*worker.Supervisor
	pool        *pool.Pool
}

// SpawnFleet starts n worker subprocesses for candidate, each listening on
// its own loopback port, connects to all of them, and wraps them in a
// pool.Pool capped at perWorker concurrent commands per worker.
func SpawnFleet(ctx context.Context, candidate types.Candidate, n, perWorker int) (*WorkerFleet, error) {
	fleet := &WorkerFleet{}

	for i := 0; i < n; i++ {
		addr, err := freeLoopbackAddr()
		if err != nil {
			fleet.Close(ctx)
			return nil, fmt.Errorf("%w: allocate worker port: %v", config.ErrStartup, err)
		}

		s := worker.New(candidate, addr)
		if err := s.Spawn(ctx); err != nil {
			fleet.Close(ctx)
			return nil, err
		}
		if candidate.Profile != "" {
			if err := s.UseProfile(ctx, candidate.Profile); err != nil {
				fleet.Close(ctx)
				return nil, err
			}
		}
		if err := s.SetID(ctx, s.WorkerID()); err != nil {
			fleet.Close(ctx)
			return nil, err
		}

		fleet.supervisors = append(fleet.supervisors, s)
	}

	workers := make([]pool.Worker, len(fleet.supervisors))
	for i, s := range fleet.supervisors {
		workers[i] = s
	}
	fleet.pool = pool.New(workers, perWorker)

	return fleet, nil
}

// Pool exposes the fleet's dispatch pool as a pipeline.Prober.
func (f *WorkerFleet) Pool() *pool.Pool { return f.pool }

// Close quits every worker in the fleet.
func (f *WorkerFleet) Close(ctx context.Context) {
	if f.pool != nil {
		f.pool.Close(ctx)
		return
	}
	for _, s := range f.supervisors {
		_ = s.Quit(ctx)
	}
}

func freeLoopbackAddr() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr, nil
}

// PoolFactoryFor builds a pipeline.PoolFactory that spawns a fresh fleet of
// exactly the requested size for every call, appropriate for regression's
// decaying worker counts across passes. The returned release function
// tears the fleet down; callers must always invoke it.
func PoolFactoryFor(candidate types.Candidate) pipeline.PoolFactory {
	return func(ctx context.Context, workers, perWorker int) (pipeline.Prober, func(), error) {
		fleet, err := SpawnFleet(ctx, candidate, workers, perWorker)
		if err != nil {
			return nil, nil, err
		}
		telemetry.GetGlobalEventLog().LogWorkerSpawned("fleet", 0, candidate.ReleaseID)
		return fleet.Pool(), func() { fleet.Close(ctx) }, nil
	}
}
