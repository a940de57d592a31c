package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ent0n29/callbridge/internal/bridge"
	"github.com/ent0n29/callbridge/internal/calls"
	"github.com/ent0n29/callbridge/internal/config"
	"github.com/ent0n29/callbridge/internal/convai"
	"github.com/ent0n29/callbridge/internal/httpapi"
	"github.com/ent0n29/callbridge/internal/observability"
	"github.com/ent0n29/callbridge/internal/session"
	"github.com/ent0n29/callbridge/internal/telephony"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Sessions   *session.Manager
	Supervisor *bridge.Supervisor
	Caller     telephony.Dialer
	Calls      calls.Store
	Metrics    *observability.Metrics
	Logger     *slog.Logger

	// Cleanup should be called on shutdown to release external resources (DB).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	callStore, err := calls.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("call store init failed: %w", err)
	}

	caller, err := telephony.New(TelephonyConfig(cfg))
	if err != nil {
		_ = callStore.Close()
		return nil, fmt.Errorf("telephony init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		logger.Info("session expired", "event", "session_expired", "session_id", s.ID)
	})

	supervisor := bridge.NewSupervisor(bridge.Config{
		Dialer: convai.NewDialer(convai.Config{
			APIKey:          cfg.ElevenLabsAPIKey,
			AgentID:         cfg.ElevenLabsAgentID,
			VoiceID:         cfg.ElevenLabsVoiceID,
			WSBaseURL:       cfg.ElevenLabsWSBaseURL,
			MaxMessageBytes: cfg.ElevenLabsMaxMessageBytes,
			ConnectTimeout:  cfg.AIConnectTimeout,
			Attempts:        cfg.AIConnectAttempts,
			Logger:          logger,
		}),
		Sessions: sessions,
		Metrics:  metrics,
		Logger:   logger,
		Options:  session.Options{WriteTimeout: cfg.WSWriteTimeout},
		OnReport: RecordReports(callStore, logger),
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions: sessions,
		Bridge:   supervisor,
		Caller:   caller,
		Calls:    callStore,
		Metrics:  metrics,
		Logger:   logger,
	})

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Sessions:   sessions,
		Supervisor: supervisor,
		Caller:     caller,
		Calls:      callStore,
		Metrics:    metrics,
		Logger:     logger,
		Cleanup:    callStore.Close,
	}, nil
}

// TelephonyConfig maps the service configuration onto the call trigger.
func TelephonyConfig(cfg config.Config) telephony.Config {
	return telephony.Config{
		Provider:         cfg.TelephonyProvider,
		StreamURL:        cfg.PublicWSURL,
		EventURL:         cfg.TelephonyEventURL,
		Greeting:         cfg.TelephonyGreeting,
		GreetingVoice:    cfg.TelephonyGreetingVoice,
		TeleCMIAppID:     cfg.TeleCMIAppID,
		TeleCMISecret:    cfg.TeleCMISecret,
		TeleCMIPhone:     cfg.TeleCMIPhone,
		TeleCMIAPIURL:    cfg.TeleCMIAPIURL,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioPhone:      cfg.TwilioPhone,
	}
}

// RecordReports persists every call report. Store failures are logged; the
// call has already ended by the time a report arrives.
func RecordReports(store calls.Store, logger *slog.Logger) bridge.ReportFunc {
	return func(ctx context.Context, r bridge.Report) {
		if err := store.SaveCall(ctx, CallRecordFromReport(r)); err != nil {
			logger.Error("call record not saved", "event", "call_record_error", "session_id", r.CallID, "error", err)
		}
	}
}

func CallRecordFromReport(r bridge.Report) calls.CallRecord {
	rec := calls.CallRecord{
		ID:                r.CallID,
		StreamID:          r.StreamID,
		Outcome:           string(r.Outcome),
		StartedAt:         r.StartedAt,
		EndedAt:           r.EndedAt,
		DurationMS:        r.Duration().Milliseconds(),
		FramesToAI:        r.Counters.ToAI,
		FramesToTelephony: r.Counters.ToTelephony,
		Clears:            r.Counters.Clears,
		Pongs:             r.Counters.Pongs,
		Dropped:           r.Counters.Dropped,
	}
	// Cancellation causes are bookkeeping, not failures.
	if r.Err != nil && !errors.Is(r.Err, context.Canceled) {
		rec.Error = r.Err.Error()
	}
	return rec
}
