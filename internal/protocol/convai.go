package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/gorilla/websocket"
)

const peerAI = "ai"

// AIFrame is one decoded message received from the conversational-AI peer.
type AIFrame struct {
	Kind FrameKind
	// Type is the raw "type" value, kept for diagnostics on KindOther.
	Type    string
	Payload string
	// EventID is echoed verbatim in the pong, so numeric and string ids
	// round-trip unchanged.
	EventID json.RawMessage
}

type aiEnvelope struct {
	Type       string `json:"type"`
	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event"`
	PingEvent *struct {
		EventID json.RawMessage `json:"event_id"`
	} `json:"ping_event"`
}

type userAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pong struct {
	Type    string          `json:"type"`
	EventID json.RawMessage `json:"event_id"`
}

// DecodeAI parses one message from the AI peer. Binary frames are not part of
// the conversational protocol and decode to KindIgnore.
func DecodeAI(messageType int, raw []byte) (AIFrame, error) {
	if messageType != websocket.TextMessage {
		return AIFrame{Kind: KindIgnore}, violation(peerAI, "non-text frame")
	}
	var env aiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return AIFrame{Kind: KindIgnore}, parseError(peerAI, err)
	}

	switch env.Type {
	case "":
		return AIFrame{Kind: KindIgnore}, violation(peerAI, "missing type")
	case "audio":
		if env.AudioEvent == nil || env.AudioEvent.AudioBase64 == "" {
			return AIFrame{Kind: KindIgnore, Type: env.Type}, violation(peerAI, "audio event without audio_base_64")
		}
		return AIFrame{Kind: KindAudio, Type: env.Type, Payload: env.AudioEvent.AudioBase64}, nil
	case "interruption":
		return AIFrame{Kind: KindInterruption, Type: env.Type}, nil
	case "ping":
		if env.PingEvent == nil || !validEventID(env.PingEvent.EventID) {
			return AIFrame{Kind: KindIgnore, Type: env.Type}, violation(peerAI, "ping without event_id")
		}
		return AIFrame{Kind: KindPing, Type: env.Type, EventID: env.PingEvent.EventID}, nil
	default:
		return AIFrame{Kind: KindOther, Type: env.Type}, nil
	}
}

// EncodeForAI repackages a telephony media payload as an AI audio chunk. The
// base64 payload is copied, never re-encoded.
func EncodeForAI(f TelephonyFrame) []byte {
	return marshal(userAudioChunk{UserAudioChunk: f.Payload})
}

// EncodePong builds the keep-alive reply for a ping.
func EncodePong(eventID json.RawMessage) []byte {
	return marshal(pong{Type: "pong", EventID: eventID})
}

func validEventID(id json.RawMessage) bool {
	trimmed := bytes.TrimSpace(id)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false
	}
	// Only scalars are accepted; objects and arrays are not ids.
	return trimmed[0] != '{' && trimmed[0] != '['
}
