// Package sessiontest provides in-memory peer connections for tests.
package sessiontest

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/callbridge/internal/session"
)

var ErrClosed = errors.New("sessiontest: use of closed connection")

type item struct {
	messageType int
	data        []byte
	err         error
}

// Conn is an in-memory session.Conn. Tests push inbound frames with Send and
// inspect what the bridge wrote with Written / WaitWritten.
type Conn struct {
	inbound chan item
	closed  chan struct{}

	closeOnce sync.Once
	closes    atomic.Int32

	mu       sync.Mutex
	written     []string
	writeErr    error
	deadlineErr error
	changed     chan struct{}
}

func NewConn() *Conn {
	return &Conn{
		inbound: make(chan item, 256),
		closed:  make(chan struct{}),
		changed: make(chan struct{}, 1),
	}
}

func (c *Conn) SendText(s string) {
	c.inbound <- item{messageType: websocket.TextMessage, data: []byte(s)}
}

func (c *Conn) SendBinary(b []byte) {
	c.inbound <- item{messageType: websocket.BinaryMessage, data: b}
}

// Disconnect makes the next read fail once queued frames are drained, like a
// peer that hung up.
func (c *Conn) Disconnect() {
	c.inbound <- item{err: io.ErrUnexpectedEOF}
}

// FailWrites makes every subsequent write return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, ErrClosed
	default:
	}
	select {
	case <-c.closed:
		return 0, nil, ErrClosed
	case it := <-c.inbound:
		if it.err != nil {
			return 0, nil, it.err
		}
		return it.messageType, it.data, nil
	}
}

func (c *Conn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.written = append(c.written, string(data))
	c.mu.Unlock()
	select {
	case c.changed <- struct{}{}:
	default:
	}
	return nil
}

// FailDeadline makes every subsequent SetWriteDeadline return err.
func (c *Conn) FailDeadline(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlineErr = err
}

func (c *Conn) SetWriteDeadline(time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadlineErr
}

func (c *Conn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// CloseCalls reports how many times Close was invoked.
func (c *Conn) CloseCalls() int { return int(c.closes.Load()) }

func (c *Conn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

// WaitWritten blocks until at least n frames were written or the timeout
// elapses, and returns what was written so far.
func (c *Conn) WaitWritten(n int, timeout time.Duration) []string {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if got := c.Written(); len(got) >= n {
			return got
		}
		select {
		case <-c.changed:
		case <-deadline.C:
			return c.Written()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// WaitClosed blocks until Close is called or the timeout elapses.
func (c *Conn) WaitClosed(timeout time.Duration) bool {
	select {
	case <-c.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Dialer hands out a fixed connection or error. When Hold is set, Dial
// blocks until Hold is closed or the context ends.
type Dialer struct {
	Conn  *Conn
	Err   error
	Hold  chan struct{}
	calls atomic.Int32
}

func (d *Dialer) Dial(ctx context.Context) (session.Conn, error) {
	d.calls.Add(1)
	if d.Hold != nil {
		select {
		case <-d.Hold:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Conn, nil
}

func (d *Dialer) Calls() int { return int(d.calls.Load()) }
