package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlscanary/tlscanary/internal/types"
)

func TestSrcUpdateChunkSizeFloorsAtOneThousand(t *testing.T) {
	assert.Equal(t, 1000, SrcUpdateChunkSize(5000))
	assert.Equal(t, 25000, SrcUpdateChunkSize(500000))
}

func TestPlanSrcUpdateChunkShrinksNearCompletion(t *testing.T) {
	start, end, done := PlanSrcUpdateChunk(0, 1_000_000, 25000, 100)
	require.False(t, done)
	assert.Equal(t, 0, start)
	assert.Equal(t, 200, end, "chunk shrinks to 2x remaining need")
}

func TestPlanSrcUpdateChunkStopsWhenSatisfied(t *testing.T) {
	_, _, done := PlanSrcUpdateChunk(100, 1_000_000, 25000, 0)
	assert.True(t, done)
}

func TestPlanSrcUpdateChunkClampsToListEnd(t *testing.T) {
	start, end, done := PlanSrcUpdateChunk(999_000, 1_000_000, 25000, 50000)
	require.False(t, done)
	assert.Equal(t, 999_000, start)
	assert.Equal(t, 1_000_000, end)
}

func TestRunSrcUpdateCollectsOnlyPersistentSuccesses(t *testing.T) {
	all := make([]types.Host, 0, 1200)
	for i := 0; i < 1200; i++ {
		all = append(all, types.Host{Rank: i, Name: hostName(i)})
	}

	p := &fakeProber{failHosts: map[string]bool{
		hostName(5):   true,
		hostName(500): true,
	}}

	result := RunSrcUpdate(context.Background(), p, all, 1000, 2, time.Second)
	assert.LessOrEqual(t, len(result.WorkingSet), 1000)
	for _, h := range result.WorkingSet {
		assert.NotEqual(t, hostName(5), h.Name)
		assert.NotEqual(t, hostName(500), h.Name)
	}
}

func hostName(i int) string {
	return fmt.Sprintf("host-%d.example", i)
}
