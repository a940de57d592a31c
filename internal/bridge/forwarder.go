package bridge

import (
	"log/slog"

	"github.com/ent0n29/callbridge/internal/observability"
	"github.com/ent0n29/callbridge/internal/protocol"
	"github.com/ent0n29/callbridge/internal/reliability"
	"github.com/ent0n29/callbridge/internal/session"
)

const (
	dirToAI        = "telephony_to_ai"
	dirToTelephony = "ai_to_telephony"
)

type result struct {
	outcome Outcome
	err     error
}

type forwarder struct {
	sess    *session.Session
	metrics *observability.Metrics
	logger  *slog.Logger
}

// telephonyToAI relays caller audio. It owns all writes of the stream id.
func (f *forwarder) telephonyToAI() result {
	tel, ai := f.sess.Telephony(), f.sess.AI()
	counters := f.sess.Counters()
	log := f.logger.With("direction", dirToAI)

	for {
		messageType, raw, err := tel.Read()
		if err != nil {
			f.logReadEnd(log, "telephony", err)
			return result{outcome: OutcomeTelephonyDisconnected, err: &ConnectionError{Peer: "telephony", Op: "read", Err: err}}
		}
		f.sess.Touch()
		counters.TelephonyIn.Add(1)

		frame, err := protocol.DecodeTelephony(messageType, raw)
		f.metrics.ObserveFrame(dirToAI, string(frame.Kind))
		if err != nil {
			counters.Dropped.Add(1)
			f.metrics.ObserveDrop(dirToAI, "malformed")
			log.Warn("dropped telephony frame", "event", "frame_dropped", "error", err)
			continue
		}

		switch frame.Kind {
		case protocol.KindMedia:
			if err := ai.WriteText(protocol.EncodeForAI(frame)); err != nil {
				return result{outcome: OutcomeAIDisconnected, err: &ConnectionError{Peer: "ai", Op: "write", Err: err}}
			}
			counters.ToAI.Add(1)
		case protocol.KindStart:
			f.sess.RecordStreamStart(frame.StreamID)
			log.Info("telephony stream started", "event", "stream_start", "stream_id", frame.StreamID)
		case protocol.KindStop:
			log.Info("telephony stream stopped", "event", "stream_stop")
			f.sess.MarkStopped()
			_ = ai.Close()
			return result{outcome: OutcomeCompleted}
		default:
			log.Debug("ignoring telephony event", "event", "frame_ignored", "telephony_event", frame.Event)
		}
	}
}

// aiToTelephony relays assistant audio and answers keep-alives.
func (f *forwarder) aiToTelephony() result {
	tel, ai := f.sess.Telephony(), f.sess.AI()
	counters := f.sess.Counters()
	log := f.logger.With("direction", dirToTelephony)

	for {
		messageType, raw, err := ai.Read()
		if err != nil {
			if f.sess.Stopped() {
				return result{outcome: OutcomeCompleted}
			}
			f.logReadEnd(log, "ai", err)
			return result{outcome: OutcomeAIDisconnected, err: &ConnectionError{Peer: "ai", Op: "read", Err: err}}
		}
		if f.sess.Stopped() {
			// The caller hung up; nothing more goes out to telephony.
			return result{outcome: OutcomeCompleted}
		}
		f.sess.Touch()
		counters.AIIn.Add(1)

		frame, err := protocol.DecodeAI(messageType, raw)
		f.metrics.ObserveFrame(dirToTelephony, string(frame.Kind))
		if err != nil {
			counters.Dropped.Add(1)
			f.metrics.ObserveDrop(dirToTelephony, "malformed")
			log.Warn("dropped ai frame", "event", "frame_dropped", "error", err)
			continue
		}

		switch frame.Kind {
		case protocol.KindAudio:
			streamID, ok := f.sess.StreamID()
			if !ok {
				f.dropNoStream(log, frame.Kind)
				continue
			}
			if err := tel.WriteText(protocol.EncodeForTelephony(frame, streamID)); err != nil {
				return result{outcome: OutcomeTelephonyDisconnected, err: &ConnectionError{Peer: "telephony", Op: "write", Err: err}}
			}
			counters.ToTelephony.Add(1)
		case protocol.KindInterruption:
			streamID, ok := f.sess.StreamID()
			if !ok {
				f.dropNoStream(log, frame.Kind)
				continue
			}
			if err := tel.WriteText(protocol.EncodeClearEvent(streamID)); err != nil {
				return result{outcome: OutcomeTelephonyDisconnected, err: &ConnectionError{Peer: "telephony", Op: "write", Err: err}}
			}
			counters.Clears.Add(1)
			log.Info("assistant interrupted, cleared playback", "event", "interruption", "stream_id", streamID)
		case protocol.KindPing:
			if err := ai.WriteText(protocol.EncodePong(frame.EventID)); err != nil {
				return result{outcome: OutcomeAIDisconnected, err: &ConnectionError{Peer: "ai", Op: "write", Err: err}}
			}
			counters.Pongs.Add(1)
		default:
			log.Debug("ignoring ai message", "event", "frame_ignored", "ai_type", frame.Type)
		}
	}
}

// Frames that need a stream id are dropped until the telephony peer sends
// start; there is no stream to address them to yet.
func (f *forwarder) dropNoStream(log *slog.Logger, kind protocol.FrameKind) {
	f.sess.Counters().Dropped.Add(1)
	f.metrics.ObserveDrop(dirToTelephony, "no_stream_id")
	log.Debug("dropped frame before stream start", "event", "frame_dropped", "kind", string(kind))
}

func (f *forwarder) logReadEnd(log *slog.Logger, peer string, err error) {
	if f.sess.State() >= session.StateClosing {
		// Teardown already started; this read was unblocked by our own close.
		return
	}
	if reliability.IsNormalClose(err) {
		log.Info("peer closed", "event", "peer_closed", "peer", peer)
		return
	}
	log.Warn("peer read failed", "event", "peer_read_error", "peer", peer, "close_code", reliability.CloseCode(err), "error", err)
}
