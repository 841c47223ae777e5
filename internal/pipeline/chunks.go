package pipeline

import "github.com/tlscanary/tlscanary/internal/config"

// Chunk is one [Start, End) range into a host list.
type Chunk struct {
	Start, End int
}

// PlanChunks splits total hosts into chunks of at least config.MinChunkSize
// each, using no more than config.MaxChunkCount chunks: a full 1M-host
// run gets ~20k-host chunks rather than either one giant in-memory pass
// or a million single-host commits.
func PlanChunks(total int) []Chunk {
	if total <= 0 {
		return nil
	}

	size := config.MinChunkSize
	count := (total + size - 1) / size
	if count > config.MaxChunkCount {
		count = config.MaxChunkCount
		size = (total + count - 1) / count
	}

	var chunks []Chunk
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{Start: start, End: end})
	}
	return chunks
}
