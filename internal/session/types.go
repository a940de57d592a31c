package session

import (
	"sync/atomic"
	"time"
)

// Snapshot is the JSON view of a live session.
type Snapshot struct {
	ID             string          `json:"session_id"`
	StreamID       string          `json:"stream_id,omitempty"`
	State          State           `json:"state"`
	StartedAt      time.Time       `json:"started_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	Counters       CounterSnapshot `json:"counters"`
}

// Counters tracks frames per direction for one session.
type Counters struct {
	TelephonyIn atomic.Int64
	AIIn        atomic.Int64
	ToAI        atomic.Int64
	ToTelephony atomic.Int64
	Clears      atomic.Int64
	Pongs       atomic.Int64
	Dropped     atomic.Int64
}

type CounterSnapshot struct {
	TelephonyIn int64 `json:"telephony_in"`
	AIIn        int64 `json:"ai_in"`
	ToAI        int64 `json:"to_ai"`
	ToTelephony int64 `json:"to_telephony"`
	Clears      int64 `json:"clears"`
	Pongs       int64 `json:"pongs"`
	Dropped     int64 `json:"dropped"`
}

func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		TelephonyIn: c.TelephonyIn.Load(),
		AIIn:        c.AIIn.Load(),
		ToAI:        c.ToAI.Load(),
		ToTelephony: c.ToTelephony.Load(),
		Clears:      c.Clears.Load(),
		Pongs:       c.Pongs.Load(),
		Dropped:     c.Dropped.Load(),
	}
}
