package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlscanary/tlscanary/internal/types"
)

type fakeWorker struct {
	id      string
	inUse   atomic.Int32
	maxUsed atomic.Int32
	delay   time.Duration
}

func (f *fakeWorker) WorkerID() string { return f.id }

func (f *fakeWorker) Ask(ctx context.Context, cmd types.Command) (types.Response, error) {
	cur := f.inUse.Add(1)
	for {
		max := f.maxUsed.Load()
		if cur <= max || f.maxUsed.CompareAndSwap(max, cur) {
			break
		}
	}
	defer f.inUse.Add(-1)

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return types.Response{}, ctx.Err()
	}

	return types.Response{
		ID:      cmd.ID,
		Kind:    types.KindFinal,
		Success: true,
		Result:  &types.ScanResult{Host: cmd.Host, Success: true},
	}, nil
}

func (f *fakeWorker) Quit(ctx context.Context) error { return nil }

func TestPoolCapsPerWorkerConcurrency(t *testing.T) {
	w := &fakeWorker{id: "worker-0", delay: 20 * time.Millisecond}
	p := New([]Worker{w}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Probe(context.Background(), types.Command{ID: "c", Host: "h"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, w.maxUsed.Load(), int32(2))
}

func TestPoolDistributesAcrossWorkers(t *testing.T) {
	w1 := &fakeWorker{id: "worker-0", delay: 5 * time.Millisecond}
	w2 := &fakeWorker{id: "worker-1", delay: 5 * time.Millisecond}
	p := New([]Worker{w1, w2}, 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Probe(context.Background(), types.Command{ID: "c", Host: "h"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Greater(t, w1.maxUsed.Load(), int32(0), "worker-0 never served a probe")
	assert.Greater(t, w2.maxUsed.Load(), int32(0), "worker-1 never served a probe")
}

func TestProbeReturnsErrAfterClose(t *testing.T) {
	w := &fakeWorker{id: "worker-0"}
	p := New([]Worker{w}, 1)
	p.Close(context.Background())

	_, err := p.Probe(context.Background(), types.Command{ID: "c", Host: "h"})
	require.ErrorIs(t, err, ErrPoolClosed)
}
