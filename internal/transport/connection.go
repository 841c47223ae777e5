// Package transport implements WorkerConnection: the line-delimited JSON
// protocol spoken over a TCP socket to one worker subprocess.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tlscanary/tlscanary/internal/config"
	"github.com/tlscanary/tlscanary/internal/telemetry"
	"github.com/tlscanary/tlscanary/internal/types"
)

// ConnError wraps a transport failure with the worker id it happened
// against, the way SessionError carries an Op field.
type ConnError struct {
	WorkerID string
	Op       string
	Err      error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("transport[%s] %s: %v", e.WorkerID, e.Op, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// pendingReply is what the read loop delivers to a waiting Ask call for
// one of its two expected responses (ack, then final): either a decoded
// Response, or the error that ended the read loop before it arrived.
type pendingReply struct {
	resp types.Response
	err  error
}

// Connection is a persistent line-JSON socket to one worker subprocess,
// with reconnect-on-broken-pipe behavior: the worker's TCP listener is
// expected to survive a single dropped connection across a run, so a
// write failure triggers one bounded reconnect attempt rather than
// failing the whole probe.
//
// The pool dispatches up to perWorker commands at a time against the
// same Connection, so multiple goroutines can call Ask concurrently here.
// bufio.Reader is not safe for concurrent reads, and nothing in the wire
// protocol otherwise guarantees replies come back in request order, so a
// single background read loop owns the socket read side and demultiplexes
// each incoming line to the per-request channel registered for its
// Response.ID. Writes are serialized separately with writeMu.
type Connection struct {
	workerID string
	addr     string
	dialer   net.Dialer

	writeMu sync.Mutex // serializes writes across concurrent Ask callers

	mu   sync.Mutex // guards conn swap during reconnect
	conn net.Conn

	pendingMu sync.Mutex
	pending   map[string]chan pendingReply
}

// NewConnection dials addr and wraps it for line-JSON I/O.
func NewConnection(ctx context.Context, workerID, addr string) (*Connection, error) {
	c := &Connection{
		workerID: workerID,
		addr:     addr,
		pending:  make(map[string]chan pendingReply),
	}
	if err := c.dial(ctx); err != nil {
		return nil, &ConnError{WorkerID: workerID, Op: "connect", Err: fmt.Errorf("%w: %v", config.ErrTransport, err)}
	}
	return c, nil
}

func (c *Connection) dial(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(conn)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn, reader)
	return nil
}

// readLoop owns one (conn, reader) pair for its entire life: it reads
// lines and dispatches them by Response.ID until a read fails, at which
// point it fails every request still pending on this connection
// generation and exits. Reconnecting swaps in a new conn/reader and
// starts a fresh readLoop; the old one dies on its own next failed read
// rather than being torn down explicitly.
func (c *Connection) readLoop(conn net.Conn, reader *bufio.Reader) {
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.failPending(&ConnError{WorkerID: c.workerID, Op: "receive", Err: fmt.Errorf("%w: %v", config.ErrTransport, err)})
			return
		}

		var resp types.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.failPending(&ConnError{WorkerID: c.workerID, Op: "decode", Err: fmt.Errorf("%w: %v", config.ErrProtocolMismatch, err)})
			return
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		c.pendingMu.Unlock()
		if !ok {
			// Nobody is waiting for this id anymore -- its Ask already
			// timed out and unregistered. Drop the reply.
			continue
		}
		ch <- pendingReply{resp: resp}
	}
}

// failPending delivers err to every request currently registered on this
// connection: a dead read loop means none of them will ever get a reply.
func (c *Connection) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- pendingReply{err: err}
		delete(c.pending, id)
	}
}

func (c *Connection) register(id string) chan pendingReply {
	ch := make(chan pendingReply, 2) // buffers both the ack and the final
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *Connection) unregister(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Connection) newBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = 30 * time.Second
	return eb
}

// reconnect re-dials the worker's socket with exponential backoff,
// reporting each failed dial attempt through onAttempt.
func (c *Connection) reconnect(ctx context.Context, onAttempt func(attempt int, backoffMs int64, reason string)) error {
	attempt := 0
	reason := "broken pipe"
	op := func() error {
		attempt++
		err := c.dial(ctx)
		if err != nil && onAttempt != nil {
			onAttempt(attempt, 0, reason)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(c.newBackoff(), ctx))
}

// send writes one Command as a single JSON line. Writes are serialized
// with writeMu since concurrent Ask callers share this connection.
func (c *Connection) send(ctx context.Context, cmd types.Command) error {
	line, err := json.Marshal(cmd)
	if err != nil {
		return &ConnError{WorkerID: c.workerID, Op: "marshal", Err: err}
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	if _, err := conn.Write(line); err != nil {
		el := telemetry.GetGlobalEventLog()
		onAttempt := func(attempt int, backoffMs int64, reason string) {
			el.LogReconnect(c.workerID, attempt, reason, backoffMs)
			telemetry.GetGlobalMetrics().RecordReconnect(ctx)
		}
		if reconnErr := c.reconnect(ctx, onAttempt); reconnErr != nil {
			return &ConnError{WorkerID: c.workerID, Op: "send", Err: fmt.Errorf("%w: %v (reconnect failed: %v)", config.ErrTransport, err, reconnErr)}
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetWriteDeadline(deadline)
		}
		if _, err := conn.Write(line); err != nil {
			return &ConnError{WorkerID: c.workerID, Op: "send", Err: fmt.Errorf("%w: %v", config.ErrTransport, err)}
		}
	}
	return nil
}

// await blocks until the read loop delivers a reply for id or ctx ends,
// translating a context deadline into config.ErrTimeout the same way a
// direct per-call socket read deadline used to.
func (c *Connection) await(ctx context.Context, id string, ch chan pendingReply) (types.Response, error) {
	select {
	case reply := <-ch:
		if reply.err != nil {
			return types.Response{}, reply.err
		}
		return reply.resp, nil
	case <-ctx.Done():
		c.unregister(id)
		return types.Response{}, &ConnError{WorkerID: c.workerID, Op: "receive", Err: config.ErrTimeout}
	}
}

// Ask sends cmd and waits for its ack, then its final response, in
// order: each command gets exactly one ack then exactly one final
// response, correlated by id. Ask is safe to call concurrently from
// multiple goroutines against the same Connection; replies are
// demultiplexed by id regardless of which goroutine's request they
// answer.
func (c *Connection) Ask(ctx context.Context, cmd types.Command) (types.Response, error) {
	ch := c.register(cmd.ID)
	defer c.unregister(cmd.ID)

	if err := c.send(ctx, cmd); err != nil {
		return types.Response{}, err
	}

	ack, err := c.await(ctx, cmd.ID, ch)
	if err != nil {
		return types.Response{}, err
	}
	if !ack.IsAck() || ack.ID != cmd.ID {
		return types.Response{}, &ConnError{WorkerID: c.workerID, Op: "ack", Err: fmt.Errorf("%w: expected ack for %s, got %s/%s", config.ErrProtocolMismatch, cmd.ID, ack.Kind, ack.ID)}
	}

	final, err := c.await(ctx, cmd.ID, ch)
	if err != nil {
		return types.Response{}, err
	}
	if final.ID != cmd.ID {
		return types.Response{}, &ConnError{WorkerID: c.workerID, Op: "final", Err: fmt.Errorf("%w: expected final for %s, got %s", config.ErrProtocolMismatch, cmd.ID, final.ID)}
	}
	return final, nil
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
