package orchestrator

import (
	"context"

	"github.com/tlscanary/tlscanary/internal/config"
	"github.com/tlscanary/tlscanary/internal/runlog"
	"github.com/tlscanary/tlscanary/internal/sources"
)

// Deps bundles everything a Mode needs to run, shared across all modes
// so each implementation only carries the fields specific to it.
type Deps struct {
	WorkDir *config.WorkDir
	Sources *sources.DB
	RunLogs *runlog.DB
	Tags    *runlog.TagsDB
}

// Mode is one top-level tlscanary invocation: scan, info, regression, or
// srcupdate. Each owns its own setup/run/teardown sequence; Go has no
// mixin inheritance, so the shared plumbing lives in Deps and the helper
// functions in this package rather than in a common base type.
type Mode interface {
	Name() string
	Run(ctx context.Context, deps Deps) error
}
