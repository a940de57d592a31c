package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/callbridge/internal/observability"
	"github.com/ent0n29/callbridge/internal/session"
)

const defaultDrainTimeout = 5 * time.Second

type Config struct {
	Dialer   session.Dialer
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Options  session.Options
	OnReport ReportFunc
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	// DrainTimeout bounds the wait for the second forwarder after teardown.
	DrainTimeout time.Duration
}

// Supervisor runs the two forwarders of each call and reports its outcome.
type Supervisor struct {
	dialer       session.Dialer
	sessions     *session.Manager
	metrics      *observability.Metrics
	logger       *slog.Logger
	opts         session.Options
	onReport     ReportFunc
	tracer       trace.Tracer
	drainTimeout time.Duration
}

func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = observability.DiscardLogger()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewManager(0)
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &Supervisor{
		dialer:       cfg.Dialer,
		sessions:     cfg.Sessions,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		opts:         cfg.Options,
		onReport:     cfg.OnReport,
		tracer:       newTracer(cfg.TracerProvider),
		drainTimeout: cfg.DrainTimeout,
	}
}

// Serve bridges one accepted telephony connection until the call ends. It
// always closes the telephony connection and returns exactly one report.
func (s *Supervisor) Serve(ctx context.Context, telephony session.Conn) Report {
	ctx, span := s.tracer.Start(ctx, "bridge call", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	// Registered while still dialing so shutdown and the sessions API can
	// reach a call before the AI peer answers.
	sess := session.New(ctx, telephony, s.opts)
	s.sessions.Register(sess)
	span.SetAttributes(attribute.String("call.id", sess.ID))

	if err := sess.Connect(s.dialer); err != nil {
		s.sessions.Remove(sess.ID)
		outcome := outcomeForCause(err)
		if errors.Is(err, session.ErrAIConnect) {
			outcome = OutcomeAIConnectFailed
			s.metrics.ProviderErrors.WithLabelValues("elevenlabs", "connect").Inc()
		}
		report := Report{
			CallID:    sess.ID,
			Outcome:   outcome,
			Err:       err,
			StartedAt: sess.StartedAt,
			EndedAt:   time.Now().UTC(),
		}
		s.finish(ctx, span, report)
		return report
	}
	s.metrics.ObserveAIConnectLatency(time.Since(sess.StartedAt))

	s.metrics.SessionEvents.WithLabelValues("started").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.logger.Info("call bridged", "event", "session_start", "session_id", sess.ID)

	res := s.run(sess)

	s.sessions.Remove(sess.ID)
	streamID, _ := sess.StreamID()
	report := Report{
		CallID:    sess.ID,
		StreamID:  streamID,
		Outcome:   res.outcome,
		Err:       res.err,
		StartedAt: sess.StartedAt,
		EndedAt:   time.Now().UTC(),
		Counters:  sess.Counters().Snapshot(),
	}
	s.finish(ctx, span, report)
	return report
}

func (s *Supervisor) run(sess *session.Session) result {
	f := &forwarder{
		sess:    sess,
		metrics: s.metrics,
		logger:  s.logger.With("session_id", sess.ID),
	}

	results := make(chan result, 2)
	go func() { results <- f.telephonyToAI() }()
	go func() { results <- f.aiToTelephony() }()

	var first result
	pending := 2
	select {
	case first = <-results:
		pending--
	case <-sess.Done():
		first = result{outcome: outcomeForCause(sess.Cause()), err: sess.Cause()}
	}

	if err := sess.Close(); err != nil {
		s.logger.Debug("session close reported errors", "event", "session_close", "session_id", sess.ID, "error", err)
	}

	drain := time.NewTimer(s.drainTimeout)
	defer drain.Stop()
	for pending > 0 {
		select {
		case <-results:
			pending--
		case <-drain.C:
			s.logger.Warn("forwarder did not exit after teardown", "event", "drain_timeout", "session_id", sess.ID)
			return first
		}
	}
	return first
}

func (s *Supervisor) finish(ctx context.Context, span trace.Span, r Report) {
	s.metrics.CallOutcomes.WithLabelValues(string(r.Outcome)).Inc()
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	if r.Outcome != OutcomeAIConnectFailed {
		s.metrics.CallDuration.Observe(r.Duration().Seconds())
	}

	span.SetAttributes(
		attribute.String("call.id", r.CallID),
		attribute.String("call.stream_id", r.StreamID),
		attribute.String("call.outcome", string(r.Outcome)),
		attribute.Int64("call.frames_to_ai", r.Counters.ToAI),
		attribute.Int64("call.frames_to_telephony", r.Counters.ToTelephony),
	)

	attrs := []any{
		"event", "session_end",
		"session_id", r.CallID,
		"stream_id", r.StreamID,
		"outcome", string(r.Outcome),
		"duration_ms", r.Duration().Milliseconds(),
		"frames_to_ai", r.Counters.ToAI,
		"frames_to_telephony", r.Counters.ToTelephony,
		"dropped", r.Counters.Dropped,
	}
	switch r.Outcome {
	case OutcomeCompleted:
		span.SetStatus(codes.Ok, "")
		s.logger.Info("call ended", attrs...)
	case OutcomeAIConnectFailed:
		span.RecordError(r.Err)
		span.SetStatus(codes.Error, string(r.Outcome))
		s.logger.Error("call aborted", append(attrs, "error", r.Err)...)
	default:
		if r.Err != nil {
			span.RecordError(r.Err)
		}
		span.SetStatus(codes.Error, string(r.Outcome))
		s.logger.Info("call ended", append(attrs, "error", r.Err)...)
	}

	if s.onReport != nil {
		s.onReport(context.WithoutCancel(ctx), r)
	}
}
