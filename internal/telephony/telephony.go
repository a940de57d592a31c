// Package telephony asks a telephony provider to place an outbound call whose
// media stream is attached to the bridge's WebSocket endpoint.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	ProviderTeleCMI = "telecmi"
	ProviderTwilio  = "twilio"
)

// ErrNotConfigured is returned when the provider credentials are missing.
var ErrNotConfigured = errors.New("telephony: provider credentials are not configured")

type CallRequest struct {
	// To is the number to dial. Empty means the provider's own number.
	To string
}

type CallResult struct {
	Provider string
	// CallID is the provider call identifier when the response carries one.
	CallID string
	// Raw is the provider response body, passed through to API callers.
	Raw json.RawMessage
}

// Dialer places outbound calls.
type Dialer interface {
	Provider() string
	PlaceCall(ctx context.Context, req CallRequest) (CallResult, error)
}

// ProviderError is a non-success answer from the provider API.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: call request failed with status %d", e.Provider, e.Status)
}

// Config selects and configures the provider.
type Config struct {
	Provider string
	// StreamURL is the public wss:// URL of the bridge's telephony endpoint.
	StreamURL     string
	EventURL      string
	Greeting      string
	GreetingVoice string

	TeleCMIAppID  string
	TeleCMISecret string
	TeleCMIPhone  string
	TeleCMIAPIURL string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioPhone      string
}

// New builds the dialer for cfg.Provider. Missing credentials are not an
// error here; PlaceCall reports ErrNotConfigured so the server can still run.
func New(cfg Config) (Dialer, error) {
	switch cfg.Provider {
	case "", ProviderTeleCMI:
		return NewTeleCMI(TeleCMIConfig{
			AppID:         cfg.TeleCMIAppID,
			Secret:        cfg.TeleCMISecret,
			Phone:         cfg.TeleCMIPhone,
			APIURL:        cfg.TeleCMIAPIURL,
			StreamURL:     cfg.StreamURL,
			EventURL:      cfg.EventURL,
			Greeting:      cfg.Greeting,
			GreetingVoice: cfg.GreetingVoice,
		}), nil
	case ProviderTwilio:
		return NewTwilio(TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			Phone:      cfg.TwilioPhone,
			StreamURL:  cfg.StreamURL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown telephony provider %q (expected telecmi|twilio)", cfg.Provider)
	}
}
