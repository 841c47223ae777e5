package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/tlscanary/tlscanary/internal/types"
)

// PlanSrcUpdateChunk computes the next chunk to probe while filling a
// working set of limit known-good hosts, downsizing the chunk once fewer
// hosts are needed than a full chunk would supply (grounded on
// sourceupdate.py's run(): chunk_size = max(limit/20, 1000), shrunk to
// 2x the remaining need once within range, so the last chunk doesn't
// waste probes on hosts that will never make the cut).
func PlanSrcUpdateChunk(chunkStart, total, chunkSize, needed int) (start, end int, done bool) {
	if needed <= 0 {
		return 0, 0, true
	}
	if chunkStart >= total {
		return 0, 0, true
	}

	end = chunkStart + chunkSize
	if chunkSize > needed*2 {
		end = chunkStart + needed*2
	}
	if end > total {
		end = total
	}
	return chunkStart, end, false
}

// SrcUpdateChunkSize is sourceupdate.py's `max(int(limit/20), 1000)`.
func SrcUpdateChunkSize(limit int) int {
	size := limit / 20
	if size < 1000 {
		size = 1000
	}
	return size
}

// SrcUpdateResult is the outcome of filtering one source list down to a
// working set of hosts that persistently succeed.
type SrcUpdateResult struct {
	WorkingSet    []types.Host
	RanOutOfHosts bool
}

// RunSrcUpdate iterates candidate's unfiltered host list in chunks, each
// chunk run through scans passes, each pass dropping the hosts that failed
// it, and accumulates the hosts that succeeded in every pass into a working
// set until limit hosts have been collected or the unfiltered list is
// exhausted. The returned working set is sorted by rank and truncated to
// limit.
func RunSrcUpdate(ctx context.Context, p Prober, all []types.Host, limit, scans int, timeout time.Duration) SrcUpdateResult {
	chunkSize := SrcUpdateChunkSize(limit)
	working := make(map[string]types.Host)

	for chunkStart := 0; chunkStart < len(all); {
		needed := limit - len(working)
		start, end, done := PlanSrcUpdateChunk(chunkStart, len(all), chunkSize, needed)
		if done {
			break
		}

		survivors := all[start:end]
		for i := 0; i < scans && len(survivors) > 0; i++ {
			results := RunPass(ctx, p, survivors, timeout, false, false)
			survivors = HostsOf(Subtract(results, Failures(results)))
		}
		for _, h := range survivors {
			working[h.Name] = h
		}

		chunkStart = end
	}

	out := make([]types.Host, 0, len(working))
	for _, h := range working {
		out = append(out, h)
	}
	ranOut := len(out) < limit
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	if len(out) > limit {
		out = out[:limit]
	}

	return SrcUpdateResult{WorkingSet: out, RanOutOfHosts: ranOut}
}
