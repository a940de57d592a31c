package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/callbridge/internal/bridge"
	"github.com/ent0n29/callbridge/internal/calls"
	"github.com/ent0n29/callbridge/internal/config"
	"github.com/ent0n29/callbridge/internal/observability"
	"github.com/ent0n29/callbridge/internal/policy"
	"github.com/ent0n29/callbridge/internal/session"
	"github.com/ent0n29/callbridge/internal/telephony"
)

// telephonyReadLimit bounds one inbound telephony frame.
const telephonyReadLimit = 2 << 20

// Bridge runs one call on an accepted telephony connection.
type Bridge interface {
	Serve(ctx context.Context, telephony session.Conn) bridge.Report
}

type Deps struct {
	Sessions *session.Manager
	Bridge   Bridge
	Caller   telephony.Dialer
	Calls    calls.Store
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	bridge    Bridge
	caller    telephony.Dialer
	calls     calls.Store
	metrics   *observability.Metrics
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	voicesURL string
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Server{
		cfg:       cfg,
		sessions:  deps.Sessions,
		bridge:    deps.Bridge,
		caller:    deps.Caller,
		calls:     deps.Calls,
		metrics:   deps.Metrics,
		logger:    logger,
		voicesURL: elevenLabsVoicesURL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Telephony providers do not send Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws", s.handleTelephonyWS)
	r.Get("/v1/telephony/ws", s.handleTelephonyWS)

	r.Get("/trigger-call", s.handleTriggerCall)
	r.Post("/v1/calls", s.handleCreateCall)
	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/{id}", s.handleGetCall)

	r.Get("/v1/sessions", s.handleListSessions)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)

	r.Get("/v1/voices", s.handleListVoices)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"active_sessions":    s.sessions.ActiveCount(),
		"call_store_mode":    s.callStoreMode(),
		"telephony_provider": s.callerProvider(),
		"ai_configured":      strings.TrimSpace(s.cfg.ElevenLabsAgentID) != "",
		"public_ws_url_set":  strings.TrimSpace(s.cfg.PublicWSURL) != "",
	})
}

func (s *Server) handleTelephonyWS(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "bridge not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("telephony upgrade failed", "event", "ws_upgrade_error", "error", err)
		return
	}
	conn.SetReadLimit(telephonyReadLimit)
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	// Serve owns conn from here and closes it before returning.
	s.bridge.Serve(r.Context(), conn)
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

type createCallRequest struct {
	To string `json:"to"`
}

type createCallResponse struct {
	Provider         string          `json:"provider"`
	CallID           string          `json:"call_id,omitempty"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
}

// handleTriggerCall keeps the original deployment's endpoint: the provider's
// response body is returned as-is.
func (s *Server) handleTriggerCall(w http.ResponseWriter, r *http.Request) {
	res, ok := s.placeCall(w, r, telephony.CallRequest{To: r.URL.Query().Get("to")})
	if !ok {
		return
	}
	if len(res.Raw) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Raw)
		return
	}
	respondJSON(w, http.StatusOK, createCallResponse{Provider: res.Provider, CallID: res.CallID})
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, ok := s.placeCall(w, r, telephony.CallRequest{To: req.To})
	if !ok {
		return
	}
	respondJSON(w, http.StatusAccepted, createCallResponse{
		Provider:         res.Provider,
		CallID:           res.CallID,
		ProviderResponse: res.Raw,
	})
}

func (s *Server) placeCall(w http.ResponseWriter, r *http.Request, req telephony.CallRequest) (telephony.CallResult, bool) {
	if s.caller == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "telephony provider not configured")
		return telephony.CallResult{}, false
	}
	provider := s.caller.Provider()
	log := s.logger.With("provider", provider, "to", policy.MaskPhone(req.To))

	res, err := s.caller.PlaceCall(r.Context(), req)
	if err != nil {
		var perr *telephony.ProviderError
		switch {
		case errors.Is(err, telephony.ErrNotConfigured):
			s.metrics.CallTriggers.WithLabelValues(provider, "not_configured").Inc()
			log.Error("call trigger rejected", "event", "call_trigger", "error", err)
			respondError(w, http.StatusInternalServerError, "not_configured", missingEnvMessage(provider))
		case errors.As(err, &perr):
			s.metrics.CallTriggers.WithLabelValues(provider, "provider_error").Inc()
			s.metrics.ProviderErrors.WithLabelValues(provider, strconv.Itoa(perr.Status)).Inc()
			body, _ := policy.RedactPII(perr.Body)
			log.Error("call trigger failed", "event", "call_trigger", "status", perr.Status, "body", body)
			respondError(w, http.StatusBadGateway, "provider_error", "Call trigger failed")
		default:
			s.metrics.CallTriggers.WithLabelValues(provider, "error").Inc()
			log.Error("call trigger failed", "event", "call_trigger", "error", err)
			respondError(w, http.StatusInternalServerError, "trigger_failed", "Call trigger failed")
		}
		return telephony.CallResult{}, false
	}

	s.metrics.CallTriggers.WithLabelValues(provider, "ok").Inc()
	log.Info("call triggered", "event", "call_trigger", "call_id", res.CallID)
	return res, true
}

func missingEnvMessage(provider string) string {
	switch provider {
	case telephony.ProviderTwilio:
		return "Missing Twilio env variables"
	default:
		return "Missing TeleCMI env variables"
	}
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondJSON(w, http.StatusOK, map[string]any{"calls": []calls.CallRecord{}})
		return
	}
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.calls.ListRecent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if records == nil {
		records = []calls.CallRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": records})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if s.calls == nil {
		respondError(w, http.StatusNotFound, "call_not_found", calls.ErrNotFound.Error())
		return
	}
	rec, err := s.calls.GetCall(r.Context(), id)
	if errors.Is(err, calls.ErrNotFound) {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	snap, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.logger.Info("session ended by api", "event", "session_end_requested", "session_id", id)
	respondJSON(w, http.StatusAccepted, snap)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) callStoreMode() string {
	if s.calls == nil {
		return "disabled"
	}
	return s.calls.Mode()
}

func (s *Server) callerProvider() string {
	if s.caller == nil {
		return "disabled"
	}
	return s.caller.Provider()
}
