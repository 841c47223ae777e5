package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tlscanary/tlscanary/internal/config"
)

func TestPlanChunksEmptyInput(t *testing.T) {
	assert.Nil(t, PlanChunks(0))
	assert.Nil(t, PlanChunks(-5))
}

func TestPlanChunksUnionCoversInput(t *testing.T) {
	for _, total := range []int{1, 999, 1000, 1500, 50000, 1200000} {
		chunks := PlanChunks(total)
		if total == 0 {
			continue
		}
		assert.NotEmpty(t, chunks)
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, total, chunks[len(chunks)-1].End)
		for i := 1; i < len(chunks); i++ {
			assert.Equal(t, chunks[i-1].End, chunks[i].Start, "chunks must be contiguous")
		}
	}
}

func TestPlanChunksNeverExceedsMaxChunkCount(t *testing.T) {
	chunks := PlanChunks(5_000_000)
	assert.LessOrEqual(t, len(chunks), config.MaxChunkCount)
}

func TestPlanChunksRespectsMinSizeBelowCap(t *testing.T) {
	chunks := PlanChunks(2500)
	for _, c := range chunks[:len(chunks)-1] {
		assert.GreaterOrEqual(t, c.End-c.Start, config.MinChunkSize)
	}
}
