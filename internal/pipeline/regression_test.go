package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlscanary/tlscanary/internal/types"
)

// fakeProber fails every host in failHosts, succeeds on everything else,
// regardless of how many times it's probed -- enough to exercise
// subtraction logic without a real worker.
type fakeProber struct {
	failHosts map[string]bool
}

func (f *fakeProber) Probe(ctx context.Context, cmd types.Command) (types.Response, error) {
	success := !f.failHosts[cmd.Host]
	return types.Response{
		ID:      cmd.ID,
		Kind:    types.KindFinal,
		Success: success,
		Result: &types.ScanResult{
			Rank:    cmd.Rank,
			Host:    cmd.Host,
			Success: success,
		},
	}, nil
}

func hostSet(names ...string) []types.Host {
	out := make([]types.Host, len(names))
	for i, n := range names {
		out[i] = types.Host{Rank: i, Name: n}
	}
	return out
}

func TestRunRegressionPassesDropsHostsThatAlsoFailOnBaseline(t *testing.T) {
	hosts := hostSet("regressed.example", "also-broken-upstream.example", "fine.example")

	test := &fakeProber{failHosts: map[string]bool{
		"regressed.example":            true,
		"also-broken-upstream.example": true,
	}}
	base := &fakeProber{failHosts: map[string]bool{
		"also-broken-upstream.example": true,
	}}

	factory := func(p Prober) PoolFactory {
		return func(ctx context.Context, workers, perWorker int) (Prober, func(), error) {
			return p, func() {}, nil
		}
	}

	result, err := RunRegressionPasses(
		context.Background(),
		hosts,
		PassParams{Workers: 2, PerWorker: 2, Timeout: time.Second},
		DefaultDecayConfig(),
		3,
		factory(test),
		factory(base),
	)
	require.NoError(t, err)

	require.Len(t, result.Remaining, 1)
	assert.Equal(t, "regressed.example", result.Remaining[0].Host)
}

func TestRunRegressionPassesConvergesToEmptyWhenNoRealRegression(t *testing.T) {
	hosts := hostSet("broken-everywhere.example")

	test := &fakeProber{failHosts: map[string]bool{"broken-everywhere.example": true}}
	base := &fakeProber{failHosts: map[string]bool{"broken-everywhere.example": true}}

	factory := func(p Prober) PoolFactory {
		return func(ctx context.Context, workers, perWorker int) (Prober, func(), error) {
			return p, func() {}, nil
		}
	}

	result, err := RunRegressionPasses(
		context.Background(),
		hosts,
		PassParams{Workers: 2, PerWorker: 2, Timeout: time.Second},
		DefaultDecayConfig(),
		3,
		factory(test),
		factory(base),
	)
	require.NoError(t, err)
	assert.Empty(t, result.Remaining)
}
