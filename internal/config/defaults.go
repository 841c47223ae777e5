// Package config holds default tuning constants and the working-directory
// layout a tlscanary run reads and writes.
package config

import "time"

// Default pass parameters for a regression run's first pass.
const (
	DefaultNumWorkers        = 16
	DefaultRequestsPerWorker = 50
	DefaultTimeout           = 10 * time.Second
	DefaultMaxTimeout        = 30 * time.Second
	PassDecayFactor          = 0.75
	PassTimeoutGrowthFactor  = 1.25

	MinChunkSize  = 1000
	MaxChunkCount = 50

	DefaultEventBufferSize   = 10000
	DefaultChannelBufferSize = 10000

	// WorkerShutdownGrace is how long a supervisor waits for a "quit"
	// command to end a worker cleanly before escalating to SIGTERM/SIGKILL.
	WorkerShutdownGrace = 5 * time.Second
)
