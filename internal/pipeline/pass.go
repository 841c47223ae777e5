package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tlscanary/tlscanary/internal/types"
)

// Prober is satisfied by *pool.Pool; kept narrow so RunPass can be driven
// by an in-memory fake in tests without a real worker pool.
type Prober interface {
	Probe(ctx context.Context, cmd types.Command) (types.Response, error)
}

// RunPass probes every host in hosts against p concurrently (bounded by
// the pool's own worker/per-worker limits) and returns one ScanResult per
// host, in host order. A probe that errors (transport drop, timeout) is
// recorded as a failed ScanResult rather than aborting the pass, since one
// bad host must never stop the rest of a multi-hundred-thousand-host run.
func RunPass(ctx context.Context, p Prober, hosts []types.Host, timeout time.Duration, getInfo, getCerts bool) []types.ScanResult {
	results := make([]types.ScanResult, len(hosts))

	var wg sync.WaitGroup
	for i, h := range hosts {
		wg.Add(1)
		go func(i int, h types.Host) {
			defer wg.Done()

			cmdCtx := ctx
			var cancel context.CancelFunc
			if timeout > 0 {
				cmdCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			cmd := types.Command{
				ID:       uuid.NewString(),
				Mode:     types.ModeScan,
				Host:     h.Name,
				Rank:     h.Rank,
				Timeout:  timeout.Milliseconds(),
				GetInfo:  getInfo,
				GetCerts: getCerts,
			}

			resp, err := p.Probe(cmdCtx, cmd)
			if err != nil || resp.Result == nil {
				results[i] = types.WithErrorType(types.ScanResult{Rank: h.Rank, Host: h.Name, Success: false, Error: errString(err)})
				return
			}
			results[i] = types.WithErrorType(*resp.Result)
		}(i, h)
	}
	wg.Wait()

	return results
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Failures returns the subset of results that do not count as a pass
// under the benign-redirect exception (types.EvaluateSuccess).
func Failures(results []types.ScanResult) []types.ScanResult {
	var out []types.ScanResult
	for _, r := range results {
		if !types.EvaluateSuccess(r) {
			out = append(out, r)
		}
	}
	return out
}

// HostsOf projects a ScanResult slice down to its Host identity, used to
// build the next pass's input set.
func HostsOf(results []types.ScanResult) []types.Host {
	out := make([]types.Host, len(results))
	for i, r := range results {
		out[i] = types.Host{Rank: r.Rank, Name: r.Host}
	}
	return out
}

// Subtract returns the elements of a whose host name is not present in b,
// i.e. a \ b -- used to compute "failed on test but not on baseline".
func Subtract(a, b []types.ScanResult) []types.ScanResult {
	exclude := make(map[string]bool, len(b))
	for _, r := range b {
		exclude[r.Host] = true
	}
	var out []types.ScanResult
	for _, r := range a {
		if !exclude[r.Host] {
			out = append(out, r)
		}
	}
	return out
}
