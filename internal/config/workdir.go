package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// WorkDir is the on-disk layout of a tlscanary working directory: a root directory holding
// the external revocation-list toolchain's workspace (go/), the sources
// database (sources/), run logs (log/), the content-addressed certificate
// store (certs/), scratch space (cache/) and the tag index (tags.json).
type WorkDir struct {
	Root string
}

// NewWorkDir creates (if missing) and returns the standard subdirectories
// under root.
func NewWorkDir(root string) (*WorkDir, error) {
	w := &WorkDir{Root: root}
	for _, dir := range []string{w.CacheDir(), w.LogDir(), w.SourcesDir(), w.CertsDir(), w.GoDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workdir %s: %w", dir, err)
		}
	}
	return w, nil
}

func (w *WorkDir) CacheDir() string   { return filepath.Join(w.Root, "cache") }
func (w *WorkDir) LogDir() string     { return filepath.Join(w.Root, "log") }
func (w *WorkDir) SourcesDir() string { return filepath.Join(w.Root, "sources") }
func (w *WorkDir) CertsDir() string   { return filepath.Join(w.Root, "certs") }
func (w *WorkDir) GoDir() string      { return filepath.Join(w.Root, "go") }
func (w *WorkDir) TagsFile() string   { return filepath.Join(w.Root, "tags.json") }
