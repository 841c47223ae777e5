package pipeline

import (
	"context"
	"time"

	"github.com/tlscanary/tlscanary/internal/types"
)

// HostSpeed is one host's average handshake duration across repeated
// scans against one build, used to compare test vs baseline throughput
// rather than correctness, grounded on performance.py's
// extract_connection_speed/consolidate_connection_speed_info).
type HostSpeed struct {
	Host        types.Host
	AverageMs   float64
	SampleMs    []float64
	LastResult  types.ScanResult
}

// PerformanceResult compares per-host and aggregate average handshake
// duration between a test and baseline build over the same host set.
type PerformanceResult struct {
	Test         []HostSpeed
	Base         []HostSpeed
	PercentChangeByHost map[string]float64
	TotalPercentChange  float64
}

// RunPerformance probes hosts scans times against both pools, sequentially
// per build (not decayed -- performance mode measures one fixed-size,
// fixed-concurrency run repeated for statistical stability), and reports
// the average handshake duration per host plus the aggregate percent
// change of test versus base.
func RunPerformance(ctx context.Context, testPool, basePool Prober, hosts []types.Host, scans int, timeout time.Duration) PerformanceResult {
	testSpeeds := averageSpeeds(ctx, testPool, hosts, scans, timeout)
	baseSpeeds := averageSpeeds(ctx, basePool, hosts, scans, timeout)

	baseByHost := make(map[string]HostSpeed, len(baseSpeeds))
	for _, b := range baseSpeeds {
		baseByHost[b.Host.Name] = b
	}

	changes := make(map[string]float64, len(testSpeeds))
	var testAgg, baseAgg float64
	for _, t := range testSpeeds {
		b, ok := baseByHost[t.Host.Name]
		if !ok || b.AverageMs == 0 {
			continue
		}
		changes[t.Host.Name] = (t.AverageMs - b.AverageMs) / b.AverageMs * 100
		testAgg += t.AverageMs
		baseAgg += b.AverageMs
	}

	var total float64
	if baseAgg != 0 {
		total = (testAgg - baseAgg) / baseAgg * 100
	}

	return PerformanceResult{
		Test:                testSpeeds,
		Base:                baseSpeeds,
		PercentChangeByHost: changes,
		TotalPercentChange:  total,
	}
}

func averageSpeeds(ctx context.Context, p Prober, hosts []types.Host, scans int, timeout time.Duration) []HostSpeed {
	samples := make(map[string][]float64, len(hosts))
	var last map[string]types.ScanResult = make(map[string]types.ScanResult, len(hosts))

	for i := 0; i < scans; i++ {
		results := RunPass(ctx, p, hosts, timeout, true, true)
		for _, r := range results {
			samples[r.Host] = append(samples[r.Host], float64(r.DurationMs))
			last[r.Host] = r
		}
	}

	out := make([]HostSpeed, 0, len(hosts))
	for _, h := range hosts {
		s := samples[h.Name]
		var sum float64
		for _, v := range s {
			sum += v
		}
		avg := 0.0
		if len(s) > 0 {
			avg = sum / float64(len(s))
		}
		out = append(out, HostSpeed{Host: h, AverageMs: avg, SampleMs: s, LastResult: last[h.Name]})
	}
	return out
}
