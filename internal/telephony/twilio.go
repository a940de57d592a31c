package telephony

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	Phone      string
	StreamURL  string
}

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

type Twilio struct {
	cfg   TwilioConfig
	calls callCreator
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Twilio{cfg: cfg, calls: client.Api}
}

func (t *Twilio) Provider() string { return ProviderTwilio }

// StreamTwiML connects the call's media to a bidirectional stream at url.
func StreamTwiML(url string) (string, error) {
	stream := &twiml.VoiceStream{Url: url}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}

// The twilio-go client has no context support; ctx is only checked before
// the request is sent.
func (t *Twilio) PlaceCall(ctx context.Context, req CallRequest) (CallResult, error) {
	if t.cfg.AccountSID == "" || t.cfg.AuthToken == "" || t.cfg.Phone == "" {
		return CallResult{}, ErrNotConfigured
	}
	if strings.TrimSpace(t.cfg.StreamURL) == "" {
		return CallResult{}, fmt.Errorf("%w: public websocket url is empty", ErrNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return CallResult{}, err
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		return CallResult{}, fmt.Errorf("twilio: destination number is required")
	}

	doc, err := StreamTwiML(t.cfg.StreamURL)
	if err != nil {
		return CallResult{}, fmt.Errorf("build twiml: %w", err)
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(t.cfg.Phone)
	params.SetTwiml(doc)

	call, err := t.calls.CreateCall(params)
	if err != nil {
		return CallResult{}, fmt.Errorf("twilio create call: %w", err)
	}
	result := CallResult{Provider: ProviderTwilio}
	if call != nil && call.Sid != nil {
		result.CallID = *call.Sid
	}
	return result, nil
}
