package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRegressionParamsMatchesDocumentedStartingTuple(t *testing.T) {
	p := DefaultRegressionParams()
	assert.Equal(t, 16, p.Workers)
	assert.Equal(t, 50, p.PerWorker)
	assert.Equal(t, 10_000_000_000, int(p.Timeout))
}

func TestPerformanceModeRejectsExcessiveScans(t *testing.T) {
	m := &PerformanceMode{Scans: MaxPerformanceScans + 1}
	_, err := m.Run(context.Background(), Deps{})
	assert.Error(t, err)
}
