// Package worker implements Supervisor: the subprocess lifecycle for one
// embedded scriptable browser instance.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tlscanary/tlscanary/internal/config"
	"github.com/tlscanary/tlscanary/internal/telemetry"
	"github.com/tlscanary/tlscanary/internal/transport"
	"github.com/tlscanary/tlscanary/internal/types"
)

// logLevel classifies one line of worker stdout, mirroring
// WorkerReader's DEBUG/INFO/WARNING/ERROR/CRITICAL/JS-error classification
// in xpcshell_worker.py.
type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarning
	levelError
	levelCritical
)

func classifyLine(line string) logLevel {
	switch {
	case strings.Contains(line, "CRITICAL"):
		return levelCritical
	case strings.Contains(line, "ERROR") || strings.Contains(line, "JavaScript error"):
		return levelError
	case strings.Contains(line, "WARNING") || strings.Contains(line, "JavaScript warning"):
		return levelWarning
	case strings.Contains(line, "DEBUG"):
		return levelDebug
	default:
		return levelInfo
	}
}

// Supervisor owns one worker subprocess: its lifetime, its stdout/stderr
// drain, and the TCP Connection used to issue commands to it.
type Supervisor struct {
	ID      string
	Addr    string
	App     types.Candidate
	cmd     *exec.Cmd
	conn    *transport.Connection
	running atomic.Bool

	processExited chan struct{}
	mu         sync.Mutex
}

// New allocates a Supervisor identity; Spawn actually starts the process.
func New(app types.Candidate, addr string) *Supervisor {
	return &Supervisor{
		ID:   uuid.NewString(),
		Addr: addr,
		App:  app,
	}
}

// Spawn starts the worker subprocess and connects to its command socket,
// retrying the connect with backoff since the subprocess's listener takes
// a moment to come up after exec.
func (s *Supervisor) Spawn(ctx context.Context, extraArgs ...string) error {
	args := append([]string{"--listen", s.Addr}, extraArgs...)
	s.cmd = exec.CommandContext(ctx, s.App.Exe, args...)

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", config.ErrStartup, err)
	}
	stderr, err := s.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", config.ErrStartup, err)
	}

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", config.ErrStartup, s.App.Exe, err)
	}
	s.running.Store(true)

	s.processExited = make(chan struct{})
	go s.drain(stdout, "stdout")
	go s.drain(stderr, "stderr")
	go s.waitExit()

	telemetry.GetGlobalEventLog().LogWorkerSpawned(s.ID, s.cmd.Process.Pid, s.App.ReleaseID)
	telemetry.GetGlobalMetrics().IncrementWorkers(ctx)

	conn, err := s.bootstrapConnect(ctx)
	if err != nil {
		s.Kill()
		return err
	}
	s.conn = conn
	return nil
}

func (s *Supervisor) bootstrapConnect(ctx context.Context) (*transport.Connection, error) {
	var conn *transport.Connection
	op := func() error {
		c, err := transport.NewConnection(ctx, s.ID, s.Addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = 15 * time.Second

	if err := backoff.Retry(op, backoff.WithContext(eb, ctx)); err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %v", config.ErrStartup, s.Addr, err)
	}
	return conn, nil
}

func (s *Supervisor) drain(r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch classifyLine(line) {
		case levelCritical, levelError:
			log.Printf("[worker %s %s] %s", s.ID, stream, line)
		case levelWarning:
			log.Printf("[worker %s %s] %s", s.ID, stream, line)
		default:
			// DEBUG/INFO lines are high-volume and low-value; dropped.
		}
	}
}

func (s *Supervisor) waitExit() {
	err := s.cmd.Wait()
	s.running.Store(false)
	code := 0
	if s.cmd.ProcessState != nil {
		code = s.cmd.ProcessState.ExitCode()
	}
	reason := "exited"
	if err != nil {
		reason = err.Error()
	}
	telemetry.GetGlobalEventLog().LogWorkerExited(s.ID, code, reason)
	telemetry.GetGlobalMetrics().DecrementWorkers(context.Background())
	close(s.processExited)
}

// WorkerID returns this supervisor's id, satisfying pool.Worker.
func (s *Supervisor) WorkerID() string { return s.ID }

// IsRunning reports whether the subprocess is still alive.
func (s *Supervisor) IsRunning() bool {
	return s.running.Load()
}

// Conn returns the underlying command connection.
func (s *Supervisor) Conn() *transport.Connection {
	return s.conn
}

// Ask issues one wire-protocol command to this worker.
func (s *Supervisor) Ask(ctx context.Context, cmd types.Command) (types.Response, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	return s.conn.Ask(ctx, cmd)
}

// UseProfile and SetID are the bootstrap commands issued once
// after Spawn, before any scan commands.
func (s *Supervisor) UseProfile(ctx context.Context, profile string) error {
	_, err := s.Ask(ctx, types.Command{Mode: types.ModeUseProfile, Profile: profile})
	return err
}

func (s *Supervisor) SetID(ctx context.Context, workerID string) error {
	_, err := s.Ask(ctx, types.Command{Mode: types.ModeSetID, WorkerID: workerID})
	return err
}

// Quit asks the worker to exit cleanly, falling back to Terminate/Kill if
// it doesn't within config.WorkerShutdownGrace.
func (s *Supervisor) Quit(ctx context.Context) error {
	if !s.IsRunning() {
		return nil
	}

	quitCtx, cancel := context.WithTimeout(ctx, config.WorkerShutdownGrace)
	defer cancel()

	if _, err := s.Ask(quitCtx, types.Command{Mode: types.ModeQuit}); err != nil {
		return s.Terminate()
	}

	select {
	case <-s.processExited:
	case <-time.After(config.WorkerShutdownGrace):
		return s.Terminate()
	}
	return nil
}

// Terminate sends SIGTERM, escalating to Kill if the process ignores it.
func (s *Supervisor) Terminate() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return s.Kill()
	}
	if s.processExited != nil {
		select {
		case <-s.processExited:
		case <-time.After(config.WorkerShutdownGrace):
			return s.Kill()
		}
	}
	return nil
}

// Kill sends SIGKILL unconditionally.
func (s *Supervisor) Kill() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}
