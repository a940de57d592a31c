package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrAIConnect is returned by Create when the AI peer cannot be reached.
	ErrAIConnect = errors.New("ai connect failed")

	// Causes passed to Expire.
	ErrIdleTimeout = errors.New("session idle timeout")
	ErrShutdown    = errors.New("server shutting down")
	ErrEndedByAPI  = errors.New("session ended by api")

	errClosed = errors.New("session closed")
)

// Conn is the duplex message channel to one peer. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens the AI-side connection for a new session.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Options struct {
	// WriteTimeout bounds every write to either peer. Zero disables deadlines.
	WriteTimeout time.Duration
}

// Peer is one side of a session. Reads happen from a single forwarder;
// writes are serialized because the AI side has two writers (audio and pong).
type Peer struct {
	name         string
	conn         Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newPeer(name string, conn Conn, writeTimeout time.Duration) *Peer {
	return &Peer{name: name, conn: conn, writeTimeout: writeTimeout}
}

func (p *Peer) Name() string { return p.name }

// Read blocks for the next message. Closing the peer unblocks it.
func (p *Peer) Read() (int, []byte, error) {
	return p.conn.ReadMessage()
}

func (p *Peer) WriteText(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return fmt.Errorf("%s set write deadline: %w", p.name, err)
		}
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Close is idempotent and safe for concurrent use.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

// Session owns both connections of one call.
type Session struct {
	ID        string
	StartedAt time.Time

	telephony    *Peer
	ai           *Peer
	writeTimeout time.Duration

	// Written only by the telephony->AI forwarder, read by the AI->telephony one.
	streamID atomic.Pointer[string]

	state        atomic.Int32
	stopped      atomic.Bool
	lastActivity atomic.Int64
	counters     Counters

	ctx       context.Context
	cancel    context.CancelCauseFunc
	closeOnce sync.Once
}

// New wraps an already-upgraded telephony connection in a session that is
// still connecting. Connect dials the AI peer.
func New(ctx context.Context, telephony Conn, opts Options) *Session {
	now := time.Now().UTC()
	sctx, cancel := context.WithCancelCause(ctx)
	s := &Session{
		ID:           uuid.NewString(),
		StartedAt:    now,
		telephony:    newPeer("telephony", telephony, opts.WriteTimeout),
		writeTimeout: opts.WriteTimeout,
		ctx:          sctx,
		cancel:       cancel,
	}
	s.state.Store(int32(StateConnecting))
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Connect dials the AI peer under the session context, so Expire aborts a
// dial in progress. On failure the telephony connection is closed. A dial
// aborted by Expire returns the expiry cause instead of ErrAIConnect.
func (s *Session) Connect(dialer Dialer) error {
	ai, err := dialer.Dial(s.ctx)
	if err == nil {
		if cause := context.Cause(s.ctx); cause != nil {
			_ = ai.Close()
			err = cause
		}
	}
	if err != nil {
		cause := context.Cause(s.ctx)
		_ = s.telephony.Close()
		s.state.Store(int32(StateClosed))
		s.cancel(errClosed)
		if cause != nil {
			return cause
		}
		return fmt.Errorf("%w: %w", ErrAIConnect, err)
	}
	s.ai = newPeer("ai", ai, s.writeTimeout)
	s.state.Store(int32(StateActive))
	return nil
}

// Create is New followed by Connect.
func Create(ctx context.Context, telephony Conn, dialer Dialer, opts Options) (*Session, error) {
	s := New(ctx, telephony, opts)
	if err := s.Connect(dialer); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Telephony() *Peer { return s.telephony }
func (s *Session) AI() *Peer { return s.ai }

// RecordStreamStart stores the stream id announced by the telephony peer.
func (s *Session) RecordStreamStart(id string) {
	s.streamID.Store(&id)
}

// StreamID returns the current stream id and whether one has been recorded.
func (s *Session) StreamID() (string, bool) {
	p := s.streamID.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

func (s *Session) State() State { return State(s.state.Load()) }

// MarkStopped records that the telephony peer ended the call with a stop
// frame, so the AI side closing afterwards is not treated as a drop.
func (s *Session) MarkStopped() { s.stopped.Store(true) }

func (s *Session) Stopped() bool { return s.stopped.Load() }

func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load()).UTC()
}

func (s *Session) Counters() *Counters { return &s.counters }

// Done is closed when the session is expired or closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Cause reports why Done was closed.
func (s *Session) Cause() error { return context.Cause(s.ctx) }

func (s *Session) Context() context.Context { return s.ctx }

// Expire asks the supervisor to tear the session down with the given cause.
func (s *Session) Expire(cause error) {
	s.cancel(cause)
}

// Close closes both connections. It is idempotent and may be called from
// either forwarder or the supervisor concurrently.
func (s *Session) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		if err := s.telephony.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close telephony: %w", err))
		}
		if s.ai != nil {
			if err := s.ai.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close ai: %w", err))
			}
		}
		s.state.Store(int32(StateClosed))
		s.cancel(errClosed)
	})
	return errors.Join(errs...)
}

// Snapshot returns a point-in-time copy for the HTTP API.
func (s *Session) Snapshot() Snapshot {
	streamID, _ := s.StreamID()
	return Snapshot{
		ID:             s.ID,
		StreamID:       streamID,
		State:          s.State(),
		StartedAt:      s.StartedAt,
		LastActivityAt: s.LastActivity(),
		Counters:       s.counters.Snapshot(),
	}
}
