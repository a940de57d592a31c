package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTeleCMIAPIURL = "https://api.telecmi.com/v1/call"

	defaultGreeting      = "Hello, this is ElevenLabs AI speaking with you over TeleCMI."
	defaultGreetingVoice = "Rachel"
	maxResponseBytes     = 1 << 20
)

type TeleCMIConfig struct {
	AppID         string
	Secret        string
	Phone         string
	APIURL        string
	StreamURL     string
	EventURL      string
	Greeting      string
	GreetingVoice string
	HTTPClient    *http.Client
}

type TeleCMI struct {
	cfg    TeleCMIConfig
	client *http.Client
}

func NewTeleCMI(cfg TeleCMIConfig) *TeleCMI {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = DefaultTeleCMIAPIURL
	}
	if strings.TrimSpace(cfg.Greeting) == "" {
		cfg.Greeting = defaultGreeting
	}
	if strings.TrimSpace(cfg.GreetingVoice) == "" {
		cfg.GreetingVoice = defaultGreetingVoice
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TeleCMI{cfg: cfg, client: client}
}

func (t *TeleCMI) Provider() string { return ProviderTeleCMI }

type teleCMIPlay struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type teleCMIRequest struct {
	AppID           string        `json:"app_id"`
	Secret          string        `json:"secret"`
	From            string        `json:"from"`
	To              string        `json:"to"`
	WebsocketURL    string        `json:"websocket_url"`
	StreamDirection string        `json:"stream_direction"`
	EventURL        string        `json:"event_url,omitempty"`
	Play            []teleCMIPlay `json:"play,omitempty"`
}

func (t *TeleCMI) PlaceCall(ctx context.Context, req CallRequest) (CallResult, error) {
	if t.cfg.AppID == "" || t.cfg.Secret == "" || t.cfg.Phone == "" {
		return CallResult{}, ErrNotConfigured
	}
	if strings.TrimSpace(t.cfg.StreamURL) == "" {
		return CallResult{}, fmt.Errorf("%w: public websocket url is empty", ErrNotConfigured)
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		to = t.cfg.Phone
	}

	body, err := json.Marshal(teleCMIRequest{
		AppID:           t.cfg.AppID,
		Secret:          t.cfg.Secret,
		From:            t.cfg.Phone,
		To:              to,
		WebsocketURL:    t.cfg.StreamURL,
		StreamDirection: "bidirectional",
		EventURL:        t.cfg.EventURL,
		Play:            []teleCMIPlay{{Text: t.cfg.Greeting, Voice: t.cfg.GreetingVoice}},
	})
	if err != nil {
		return CallResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return CallResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return CallResult{}, fmt.Errorf("telecmi call request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return CallResult{}, fmt.Errorf("read telecmi response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CallResult{}, &ProviderError{Provider: ProviderTeleCMI, Status: resp.StatusCode, Body: string(raw)}
	}

	result := CallResult{Provider: ProviderTeleCMI}
	if json.Valid(raw) {
		result.Raw = raw
		var ids struct {
			RequestID string `json:"request_id"`
			CMIUUID   string `json:"cmiuuid"`
		}
		if json.Unmarshal(raw, &ids) == nil {
			result.CallID = ids.RequestID
			if result.CallID == "" {
				result.CallID = ids.CMIUUID
			}
		}
	}
	return result, nil
}
