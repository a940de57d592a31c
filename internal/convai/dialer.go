// Package convai opens the assistant side of a bridged call: an ElevenLabs
// conversational-AI agent WebSocket.
package convai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/callbridge/internal/observability"
	"github.com/ent0n29/callbridge/internal/reliability"
	"github.com/ent0n29/callbridge/internal/session"
)

const (
	defaultWSBaseURL       = "wss://api.elevenlabs.io"
	defaultMaxMessageBytes = 1 << 24
	defaultConnectTimeout  = 10 * time.Second

	retryBase = 250 * time.Millisecond
	retryCap  = 2 * time.Second
)

var ErrMissingAgent = errors.New("convai: agent id is required")

type Config struct {
	APIKey          string
	AgentID         string
	VoiceID         string
	WSBaseURL       string
	MaxMessageBytes int64
	ConnectTimeout  time.Duration
	// Attempts is the number of handshakes tried when the server answers
	// with a retryable HTTP status. Values below 1 mean one attempt.
	Attempts int
	Logger   *slog.Logger
}

// Dialer implements session.Dialer.
type Dialer struct {
	cfg    Config
	ws     *websocket.Dialer
	logger *slog.Logger
}

func NewDialer(cfg Config) *Dialer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = defaultWSBaseURL
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		logger: logger,
	}
}

// ConversationURL is the agent endpoint dialed for every call.
func (d *Dialer) ConversationURL() (string, error) {
	if strings.TrimSpace(d.cfg.AgentID) == "" {
		return "", ErrMissingAgent
	}
	u, err := url.Parse(strings.TrimRight(d.cfg.WSBaseURL, "/") + "/v1/convai/conversation")
	if err != nil {
		return "", fmt.Errorf("parse convai base url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", d.cfg.AgentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *Dialer) Dial(ctx context.Context) (session.Conn, error) {
	target, err := d.ConversationURL()
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	if d.cfg.APIKey != "" {
		headers.Set("xi-api-key", d.cfg.APIKey)
	}

	var lastErr error
	for attempt := 0; attempt < d.cfg.Attempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, retryBase, retryCap)
			d.logger.Warn("retrying convai handshake", "event", "ai_connect_retry", "attempt", attempt+1, "backoff_ms", wait.Milliseconds(), "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
		conn, resp, err := d.ws.DialContext(dialCtx, target, headers)
		cancel()
		if err == nil {
			conn.SetReadLimit(d.cfg.MaxMessageBytes)
			if err := d.initiate(conn); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		lastErr = fmt.Errorf("dial convai websocket: %w", err)
		if status != 0 {
			lastErr = fmt.Errorf("dial convai websocket (status %d): %w", status, err)
		}
		if !reliability.IsRetryableHTTPStatus(status) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

type initiationData struct {
	Type     string          `json:"type"`
	Override *configOverride `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	TTS ttsOverride `json:"tts"`
}

type ttsOverride struct {
	VoiceID string `json:"voice_id"`
}

// initiate sends the client data message when a voice override is configured.
// Without one the agent's own configuration applies and nothing is sent.
func (d *Dialer) initiate(conn *websocket.Conn) error {
	voice := strings.TrimSpace(d.cfg.VoiceID)
	if voice == "" {
		return nil
	}
	payload, err := json.Marshal(initiationData{
		Type:     "conversation_initiation_client_data",
		Override: &configOverride{TTS: ttsOverride{VoiceID: voice}},
	})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(d.cfg.ConnectTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send convai initiation: %w", err)
	}
	return conn.SetWriteDeadline(time.Time{})
}
