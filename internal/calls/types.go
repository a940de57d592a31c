// Package calls persists one metadata record per bridged call. Records never
// hold audio or transcript text.
package calls

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("call record not found")

const defaultListLimit = 50

// CallRecord is the stored form of a call report.
type CallRecord struct {
	ID                string    `json:"call_id"`
	StreamID          string    `json:"stream_id,omitempty"`
	Outcome           string    `json:"outcome"`
	Error             string    `json:"error,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	DurationMS        int64     `json:"duration_ms"`
	FramesToAI        int64     `json:"frames_to_ai"`
	FramesToTelephony int64     `json:"frames_to_telephony"`
	Clears            int64     `json:"clears"`
	Pongs             int64     `json:"pongs"`
	Dropped           int64     `json:"dropped"`
}

// Store saves and looks up call records.
type Store interface {
	SaveCall(ctx context.Context, record CallRecord) error
	GetCall(ctx context.Context, id string) (CallRecord, error)
	// ListRecent returns the newest records first.
	ListRecent(ctx context.Context, limit int) ([]CallRecord, error)
	Mode() string
	Close() error
}
