// Package pool implements WorkerPool: a fixed set of supervised workers,
// each allowed up to a bounded number of concurrently in-flight probe
// commands. Where the Python original multiplexed sockets itself via
// select()/poll(), this is expressed as a token-bucket of
// (worker, slot) pairs drained by goroutines -- the idiomatic Go analogue
// of the same cooperative scheduling, grounded on session.SessionPool's
// bounded-acquire/release shape.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/tlscanary/tlscanary/internal/config"
	"github.com/tlscanary/tlscanary/internal/telemetry"
	"github.com/tlscanary/tlscanary/internal/types"
)

// ErrPoolClosed is returned by Acquire once Close has been called.
var ErrPoolClosed = fmt.Errorf("worker pool closed")

// Worker is the subset of worker.Supervisor the pool needs, kept as an
// interface so the dispatch logic can be exercised against a fake worker
// in tests without spawning a real subprocess.
type Worker interface {
	WorkerID() string
	Ask(ctx context.Context, cmd types.Command) (types.Response, error)
	Quit(ctx context.Context) error
}

// Pool dispatches probe commands across a fixed set of workers, each
// capped at perWorker concurrently outstanding commands.
type Pool struct {
	workers   []Worker
	perWorker int

	mu     sync.Mutex
	closed bool
	slots  chan int // worker index tokens; len == len(workers)*perWorker at rest
}

// New wraps already-spawned workers into a Pool. perWorker is the number
// of concurrently outstanding commands each worker may be asked to serve.
func New(workers []Worker, perWorker int) *Pool {
	if perWorker < 1 {
		perWorker = 1
	}
	slots := make(chan int, len(workers)*perWorker)
	for i := range workers {
		for j := 0; j < perWorker; j++ {
			slots <- i
		}
	}
	return &Pool{workers: workers, perWorker: perWorker, slots: slots}
}

// Len reports how many workers this pool holds.
func (p *Pool) Len() int { return len(p.workers) }

// acquire blocks until a worker slot is free or ctx is done, returning the
// worker index to use and a release function that must always be called.
func (p *Pool) acquire(ctx context.Context) (int, func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, nil, ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case idx := <-p.slots:
		return idx, func() { p.slots <- idx }, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Probe runs one command against whichever worker has a free slot next,
// blocking until one is available or ctx ends. This is the pool's only
// entry point: callers never address a specific worker directly -- hosts
// are handed to whichever worker is free.
func (p *Pool) Probe(ctx context.Context, cmd types.Command) (types.Response, error) {
	idx, release, err := p.acquire(ctx)
	if err != nil {
		return types.Response{}, err
	}
	defer release()

	w := p.workers[idx]
	tracer := telemetry.GetGlobalTracer()
	spanCtx, span := tracer.StartProbeSpan(ctx, telemetry.ProbeSpanOptions{
		WorkerID: w.WorkerID(),
		Host:     cmd.Host,
		Command:  string(cmd.Mode),
	})
	defer span.End()

	resp, err := w.Ask(spanCtx, cmd)
	if err != nil {
		telemetry.RecordError(span, err, "probe")
		if isTimeout(err) {
			telemetry.GetGlobalMetrics().RecordTimeout(ctx)
			telemetry.GetGlobalEventLog().LogTimeout(w.WorkerID(), cmd.Host, cmd.Timeout)
		} else {
			telemetry.GetGlobalMetrics().RecordError(ctx, "transport")
		}
		return types.Response{}, err
	}
	return resp, nil
}

func isTimeout(err error) bool {
	for err != nil {
		if err == config.ErrTimeout {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Close quits every worker in the pool, best-effort, and stops accepting
// new Probe calls.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			_ = w.Quit(ctx)
		}(w)
	}
	wg.Wait()
}
