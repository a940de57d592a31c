package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/callbridge/internal/session"
)

// Outcome is the terminal state reported once per call.
type Outcome string

const (
	OutcomeCompleted             Outcome = "completed_normally"
	OutcomeTelephonyDisconnected Outcome = "telephony_disconnected"
	OutcomeAIDisconnected        Outcome = "ai_disconnected"
	OutcomeAIConnectFailed       Outcome = "ai_connect_failed"
	OutcomeIdleTimeout           Outcome = "idle_timeout"
	OutcomeCancelled             Outcome = "cancelled"
)

// ConnectionError is a read or write failure on one peer. It ends the
// forwarder that hit it and, through the supervisor, the whole session.
type ConnectionError struct {
	Peer string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Peer, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Report describes how one call ended.
type Report struct {
	CallID    string
	StreamID  string
	Outcome   Outcome
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
	Counters  session.CounterSnapshot
}

func (r Report) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// ReportFunc receives every call report. The context is detached from the
// connection so persistence can finish after the call is gone.
type ReportFunc func(ctx context.Context, r Report)

func outcomeForCause(cause error) Outcome {
	switch {
	case errors.Is(cause, session.ErrIdleTimeout):
		return OutcomeIdleTimeout
	default:
		return OutcomeCancelled
	}
}
