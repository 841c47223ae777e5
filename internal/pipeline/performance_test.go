package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlscanary/tlscanary/internal/types"
)

type timedProber struct {
	durationMs int64
}

func (p *timedProber) Probe(ctx context.Context, cmd types.Command) (types.Response, error) {
	return types.Response{
		ID:      cmd.ID,
		Kind:    types.KindFinal,
		Success: true,
		Result: &types.ScanResult{
			Rank:       cmd.Rank,
			Host:       cmd.Host,
			Success:    true,
			DurationMs: p.durationMs,
		},
	}, nil
}

func TestRunPerformanceComputesPercentChange(t *testing.T) {
	hosts := hostSet("a.example", "b.example")
	test := &timedProber{durationMs: 120}
	base := &timedProber{durationMs: 100}

	result := RunPerformance(context.Background(), test, base, hosts, 3, time.Second)

	require.Len(t, result.Test, 2)
	require.Len(t, result.Base, 2)
	assert.InDelta(t, 120.0, result.Test[0].AverageMs, 0.001)
	assert.InDelta(t, 20.0, result.PercentChangeByHost["a.example"], 0.001)
	assert.InDelta(t, 20.0, result.TotalPercentChange, 0.001)
}
