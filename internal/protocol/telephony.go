package protocol

import (
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"
)

const peerTelephony = "telephony"

// TelephonyFrame is one decoded frame received from the telephony peer.
type TelephonyFrame struct {
	Kind FrameKind
	// Event is the raw discriminator value, kept for diagnostics on KindOther.
	Event    string
	Payload  string
	StreamID string
}

type telephonyEnvelope struct {
	Event     string `json:"event"`
	Type      string `json:"type"`
	StreamSid string `json:"streamSid"`
	Media     *struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Start *struct {
		StreamSid string `json:"streamSid"`
	} `json:"start"`
}

type telephonyMedia struct {
	Event     string              `json:"event"`
	StreamSid string              `json:"streamSid"`
	Media     telephonyMediaChunk `json:"media"`
}

type telephonyMediaChunk struct {
	Payload string `json:"payload"`
}

type telephonyClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// DecodeTelephony parses one frame from the telephony peer.
//
// Only JSON text frames carry the media stream protocol; binary frames are
// rejected. Deployed providers disagree on the discriminator field: "event" is
// read first and "type" is used when "event" is absent. Malformed frames
// decode to KindIgnore together with a *FrameError; unknown events decode to
// KindOther with no error.
func DecodeTelephony(messageType int, raw []byte) (TelephonyFrame, error) {
	if messageType != websocket.TextMessage {
		return TelephonyFrame{Kind: KindIgnore}, violation(peerTelephony, "non-text frame")
	}
	var env telephonyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return TelephonyFrame{Kind: KindIgnore}, parseError(peerTelephony, err)
	}

	event := strings.TrimSpace(env.Event)
	if event == "" {
		event = strings.TrimSpace(env.Type)
	}

	switch event {
	case "":
		return TelephonyFrame{Kind: KindIgnore}, violation(peerTelephony, "missing event discriminator")
	case "media":
		if env.Media == nil || env.Media.Payload == "" {
			return TelephonyFrame{Kind: KindIgnore, Event: event}, violation(peerTelephony, "media frame without payload")
		}
		return TelephonyFrame{Kind: KindMedia, Event: event, Payload: env.Media.Payload, StreamID: env.StreamSid}, nil
	case "start":
		id := ""
		if env.Start != nil {
			id = strings.TrimSpace(env.Start.StreamSid)
		}
		if id == "" {
			id = strings.TrimSpace(env.StreamSid)
		}
		if id == "" {
			return TelephonyFrame{Kind: KindIgnore, Event: event}, violation(peerTelephony, "start frame without streamSid")
		}
		return TelephonyFrame{Kind: KindStart, Event: event, StreamID: id}, nil
	case "stop":
		return TelephonyFrame{Kind: KindStop, Event: event, StreamID: env.StreamSid}, nil
	default:
		return TelephonyFrame{Kind: KindOther, Event: event}, nil
	}
}

// EncodeForTelephony wraps an AI audio frame as a telephony media frame for
// the given stream.
func EncodeForTelephony(f AIFrame, streamID string) []byte {
	return marshal(telephonyMedia{
		Event:     "media",
		StreamSid: streamID,
		Media:     telephonyMediaChunk{Payload: f.Payload},
	})
}

// EncodeClearEvent builds the frame that tells the telephony peer to discard
// queued playback for the stream.
func EncodeClearEvent(streamID string) []byte {
	return marshal(telephonyClear{Event: "clear", StreamSid: streamID})
}
