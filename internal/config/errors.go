package config

import "errors"

// Sentinel error kinds for the worker/transport/runlog error taxonomy.
// Call sites wrap these with fmt.Errorf("...: %w", ErrX) so errors.Is
// still matches after adding correlation context (worker id, host,
// command id).
var (
	ErrStartup           = errors.New("worker startup failed")
	ErrTransport          = errors.New("worker transport failed")
	ErrTimeout            = errors.New("probe command timed out")
	ErrProtocolMismatch   = errors.New("worker protocol mismatch")
	ErrLogCorruption      = errors.New("run log corrupted")
	ErrIncompatibleLog    = errors.New("run log format incompatible")
)
