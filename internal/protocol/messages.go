package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameKind identifies the decoded variant of a frame on either connection.
type FrameKind string

const (
	// Telephony -> AI direction.
	KindMedia FrameKind = "media"
	KindStart FrameKind = "start"
	KindStop  FrameKind = "stop"

	// AI -> telephony direction.
	KindAudio        FrameKind = "audio"
	KindInterruption FrameKind = "interruption"
	KindPing         FrameKind = "ping"

	// KindOther is a well-formed frame the bridge has no use for.
	KindOther FrameKind = "other"
	// KindIgnore is the sentinel returned for malformed input.
	KindIgnore FrameKind = "ignore"
)

var (
	ErrFrameParse        = errors.New("frame parse error")
	ErrProtocolViolation = errors.New("protocol violation")
)

// FrameError describes a frame that was dropped. It is never fatal to a session.
type FrameError struct {
	Peer   string
	Kind   error
	Detail string
}

func (e *FrameError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Peer, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Peer, e.Kind, e.Detail)
}

func (e *FrameError) Unwrap() error { return e.Kind }

func parseError(peer string, err error) error {
	return &FrameError{Peer: peer, Kind: ErrFrameParse, Detail: err.Error()}
}

func violation(peer, detail string) error {
	return &FrameError{Peer: peer, Kind: ErrProtocolViolation, Detail: detail}
}

// marshal encodes outbound frames. All outbound shapes are plain strings and
// raw JSON values that were already validated, so encoding cannot fail.
func marshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
