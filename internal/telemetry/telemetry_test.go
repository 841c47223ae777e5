package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLogWithWriter("run-123", &buf)

	el.LogWorkerSpawned("worker-0", 4242, "test")
	el.LogPassConverged(2, 7, false)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "worker_spawned", first["msg"])
	assert.Equal(t, "run-123", first["run_id"])
	assert.Equal(t, "worker-0", first["worker_id"])
	assert.Equal(t, float64(4242), first["pid"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "pass_converged", second["msg"])
	assert.Equal(t, float64(2), second["pass"])
	assert.Equal(t, float64(7), second["remaining"])
}

func TestNoopEventLogDiscardsEverything(t *testing.T) {
	el := NoopEventLog()
	assert.NotPanics(t, func() {
		el.LogReconnect("worker-0", 1, "EPIPE", 250)
	})
}

func TestGlobalEventLogDefaultsToNoop(t *testing.T) {
	got := GetGlobalEventLog()
	require.NotNil(t, got)
}

func TestNoopTracerStartsSpansWithoutError(t *testing.T) {
	tr := NoopTracer()
	ctx, span := tr.StartProbeSpan(context.Background(), ProbeSpanOptions{
		RunID: "run-1", WorkerID: "worker-0", Host: "example.com", Command: "scan", Pass: 1,
	})
	require.NotNil(t, ctx)
	defer span.End()
	assert.False(t, tr.Enabled())
}

func TestNoopMetricsRecordWithoutPanicking(t *testing.T) {
	m := NoopMetrics()
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordProbeLatency(ctx, "example.com", 12.5, true)
		m.RecordReconnect(ctx)
		m.RecordTimeout(ctx)
		m.RecordRegressions(ctx, 3)
		m.IncrementWorkers(ctx)
		m.DecrementWorkers(ctx)
		m.SetCurrentPass(2)
	})
	assert.False(t, m.Enabled())
}

func TestRegistryExposesScanCounters(t *testing.T) {
	reg := NewRegistry()
	reg.ScanTotal.WithLabelValues("regression").Add(5)
	reg.ScanErrorTotal.WithLabelValues("timeout").Inc()
	reg.PoolInflight.Set(3)
	reg.ChunkCommitted.Inc()

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
}
