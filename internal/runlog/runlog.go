// Package runlog implements RunLogDB/RunLog: the append-only, gzip-
// compressed per-run result log with a JSON metadata sidecar, laid out
// as <workdir>/log/YYYY/MM/<handle>/{log.gz,meta.json}.
//
// The Python original compresses with bz2; no bzip2 *encoder* exists
// anywhere in this module's dependency pack (only bzip2 readers), so the
// compressed part here is gzip via klauspost/compress, a drop-in,
// faster encoder already pulled in transitively. See DESIGN.md.
package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tlscanary/tlscanary/internal/config"
	"github.com/tlscanary/tlscanary/internal/types"
)

// FormatRevision is bumped whenever the on-disk log or meta layout changes
// incompatibly; Open refuses to read a log of any other revision.
const FormatRevision = 2

// State is RunLog's lifecycle: fresh -> running -> stopped. Each
// transition is one-way.
type State string

const (
	StateFresh   State = "fresh"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Meta is the JSON sidecar describing one run: its mode, app candidates,
// timing, and lifecycle state.
type Meta struct {
	Handle    string    `json:"handle"`
	Mode      string    `json:"mode"`
	Revision  int       `json:"format_revision"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// DB locates and lists run logs under a log directory.
type DB struct {
	root string
}

func NewDB(root string) *DB {
	return &DB{root: root}
}

func (db *DB) dirFor(handle string, at time.Time) string {
	return filepath.Join(db.root, at.Format("2006"), at.Format("01"), handle)
}

// New creates a fresh RunLog for handle, dated now, in state "fresh".
func (db *DB) New(handle, mode string, now time.Time) (*RunLog, error) {
	dir := db.dirFor(handle, now)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run log dir %s: %w", dir, err)
	}

	meta := Meta{
		Handle:    handle,
		Mode:      mode,
		Revision:  FormatRevision,
		State:     StateFresh,
		StartedAt: now,
	}

	rl := &RunLog{dir: dir, meta: meta}
	if err := rl.writeMeta(); err != nil {
		return nil, err
	}
	return rl, nil
}

// List returns every handle with a run log directory under root,
// discovered by walking year/month directories.
func (db *DB) List() ([]string, error) {
	var handles []string
	years, err := os.ReadDir(db.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, y := range years {
		if !y.IsDir() {
			continue
		}
		months, err := os.ReadDir(filepath.Join(db.root, y.Name()))
		if err != nil {
			continue
		}
		for _, m := range months {
			if !m.IsDir() {
				continue
			}
			entries, err := os.ReadDir(filepath.Join(db.root, y.Name(), m.Name()))
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir() {
					handles = append(handles, e.Name())
				}
			}
		}
	}
	return handles, nil
}

// Open reopens an existing run log by its directory path (as returned by
// a prior List/locate), reading its meta sidecar.
func Open(dir string) (*RunLog, error) {
	rl := &RunLog{dir: dir}
	if err := rl.readMeta(); err != nil {
		return nil, err
	}
	if !rl.IsCompatible() {
		return nil, fmt.Errorf("%w: log revision %d does not match supported revision %d", config.ErrIncompatibleLog, rl.meta.Revision, FormatRevision)
	}
	return rl, nil
}

func (db *DB) metaPath(dir string) string { return filepath.Join(dir, "meta.json") }
func (db *DB) logPath(dir string) string  { return filepath.Join(dir, "log.gz") }

// RunLog is one append-only compressed result log plus its meta sidecar.
// Its lifecycle is one-way: fresh -> running -> stopped.
type RunLog struct {
	dir  string
	meta Meta

	mu      sync.Mutex
	writer  *gzip.Writer
	backing *os.File
	encoder *json.Encoder
}

func (rl *RunLog) metaPath() string { return filepath.Join(rl.dir, "meta.json") }
func (rl *RunLog) logPath() string  { return filepath.Join(rl.dir, "log.gz") }

func (rl *RunLog) writeMeta() error {
	f, err := os.Create(rl.metaPath())
	if err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(rl.meta)
}

func (rl *RunLog) readMeta() error {
	f, err := os.Open(rl.metaPath())
	if err != nil {
		return fmt.Errorf("%w: open meta: %v", config.ErrLogCorruption, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&rl.meta); err != nil {
		return fmt.Errorf("%w: decode meta: %v", config.ErrLogCorruption, err)
	}
	return nil
}

// Start transitions fresh -> running and opens the log part for appending.
func (rl *RunLog) Start(now time.Time) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.meta.State != StateFresh {
		return fmt.Errorf("runlog: cannot start from state %q", rl.meta.State)
	}

	f, err := os.Create(rl.logPath())
	if err != nil {
		return fmt.Errorf("create log part: %w", err)
	}
	rl.backing = f
	rl.writer = gzip.NewWriter(f)
	rl.encoder = json.NewEncoder(rl.writer)

	rl.meta.State = StateRunning
	return rl.writeMeta()
}

// Log appends one result as a JSON line in the compressed log part. Only
// valid while running.
func (rl *RunLog) Log(result types.ScanResult) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.meta.State != StateRunning {
		return fmt.Errorf("runlog: cannot log to a %q log", rl.meta.State)
	}
	return rl.encoder.Encode(result)
}

// Stop transitions running -> stopped, flushing and closing the log part.
// Irreversible: once stopped, the log can only be read, never appended to.
func (rl *RunLog) Stop(now time.Time) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.meta.State != StateRunning {
		return fmt.Errorf("runlog: cannot stop from state %q", rl.meta.State)
	}

	if err := rl.writer.Close(); err != nil {
		return fmt.Errorf("close log part: %w", err)
	}
	if err := rl.backing.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}

	rl.meta.State = StateStopped
	rl.meta.StoppedAt = now
	return rl.writeMeta()
}

// HasFinished reports whether this run log reached the stopped state.
func (rl *RunLog) HasFinished() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.meta.State == StateStopped
}

// Meta returns a copy of the current metadata.
func (rl *RunLog) Meta() Meta {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.meta
}

// IsCompatible reports whether this log's format revision can be read by
// the running binary: exactly the current FormatRevision, not merely no
// newer than it, since revisions aren't guaranteed backward-compatible.
func (rl *RunLog) IsCompatible() bool {
	return rl.meta.Revision == FormatRevision
}

// Read streams every ScanResult in this log's compressed part, in append
// order, tolerating a final truncated record (a run log stopped mid-write
// by a crash still yields every result written before that point).
func (rl *RunLog) Read() ([]types.ScanResult, error) {
	f, err := os.Open(rl.logPath())
	if err != nil {
		return nil, fmt.Errorf("open log part: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: open gzip stream: %v", config.ErrLogCorruption, err)
	}
	defer gz.Close()

	dec := json.NewDecoder(bufio.NewReader(gz))
	var results []types.ScanResult
	for {
		var r types.ScanResult
		if err := dec.Decode(&r); err != nil {
			if err == io.EOF {
				break
			}
			// A run log truncated mid-record (crash, disk full) still
			// yields every complete result written before the cutoff.
			break
		}
		results = append(results, r)
	}
	return results, nil
}

// Delete removes this run log's directory entirely.
func (rl *RunLog) Delete() error {
	return os.RemoveAll(rl.dir)
}

// Dir returns the run log's on-disk directory, the path Open accepts.
func (rl *RunLog) Dir() string { return rl.dir }
