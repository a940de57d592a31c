package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/callbridge/internal/bridge"
	"github.com/ent0n29/callbridge/internal/calls"
	"github.com/ent0n29/callbridge/internal/config"
	"github.com/ent0n29/callbridge/internal/convai"
	"github.com/ent0n29/callbridge/internal/observability"
	"github.com/ent0n29/callbridge/internal/session"
	"github.com/ent0n29/callbridge/internal/telephony"
)

var metricsSeq atomic.Int64

func testMetrics(prefix string) *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("test_httpapi_%s_%d", prefix, metricsSeq.Add(1)))
}

func newTestServer(t *testing.T, cfg config.Config, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(time.Minute)
	}
	if deps.Metrics == nil {
		deps.Metrics = testMetrics(strings.ToLower(strings.ReplaceAll(t.Name(), "/", "_")))
	}
	srv := New(cfg, deps)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, config.Config{ElevenLabsAgentID: "agent"}, Deps{Calls: calls.NewInMemoryStore()})

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	readyRes, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer readyRes.Body.Close()
	payload := decodeBody(t, readyRes)
	if payload["call_store_mode"] != "memory" {
		t.Fatalf("call_store_mode = %v, want memory", payload["call_store_mode"])
	}
	if payload["ai_configured"] != true {
		t.Fatalf("ai_configured = %v, want true", payload["ai_configured"])
	}
	if payload["active_sessions"] != float64(0) {
		t.Fatalf("active_sessions = %v, want 0", payload["active_sessions"])
	}
}

func TestTriggerCallMissingCredentials(t *testing.T) {
	caller := telephony.NewTeleCMI(telephony.TeleCMIConfig{StreamURL: "wss://bridge.example/ws"})
	ts := newTestServer(t, config.Config{}, Deps{Caller: caller})

	res, err := http.Get(ts.URL + "/trigger-call")
	if err != nil {
		t.Fatalf("GET /trigger-call error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	payload := decodeBody(t, res)
	if payload["error"] != "Missing TeleCMI env variables" {
		t.Fatalf("error = %v, want missing env message", payload["error"])
	}
}

func TestTriggerCallReturnsProviderResponse(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"msg":"call initiated","request_id":"r-9"}`))
	}))
	defer provider.Close()

	caller := telephony.NewTeleCMI(telephony.TeleCMIConfig{
		AppID:     "app",
		Secret:    "secret",
		Phone:     "+910000000001",
		APIURL:    provider.URL,
		StreamURL: "wss://bridge.example/ws",
	})
	ts := newTestServer(t, config.Config{}, Deps{Caller: caller})

	res, err := http.Get(ts.URL + "/trigger-call")
	if err != nil {
		t.Fatalf("GET /trigger-call error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if payload := decodeBody(t, res); payload["msg"] != "call initiated" {
		t.Fatalf("payload = %v, want provider body", payload)
	}

	body, _ := json.Marshal(map[string]string{"to": "+910000000002"})
	postRes, err := http.Post(ts.URL+"/v1/calls", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/calls error = %v", err)
	}
	defer postRes.Body.Close()
	if postRes.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", postRes.StatusCode, http.StatusAccepted)
	}
	payload := decodeBody(t, postRes)
	if payload["call_id"] != "r-9" || payload["provider"] != "telecmi" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestTriggerCallProviderFailure(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"msg":"bad secret"}`, http.StatusForbidden)
	}))
	defer provider.Close()

	caller := telephony.NewTeleCMI(telephony.TeleCMIConfig{
		AppID: "app", Secret: "secret", Phone: "1", APIURL: provider.URL, StreamURL: "wss://x/ws",
	})
	ts := newTestServer(t, config.Config{}, Deps{Caller: caller})

	res, err := http.Post(ts.URL+"/v1/calls", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /v1/calls error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}
}

func TestCallRecords(t *testing.T) {
	store := calls.NewInMemoryStore()
	_ = store.SaveCall(context.Background(), calls.CallRecord{ID: "call-1", Outcome: "completed_normally"})
	ts := newTestServer(t, config.Config{}, Deps{Calls: store})

	res, err := http.Get(ts.URL + "/v1/calls?limit=10")
	if err != nil {
		t.Fatalf("GET /v1/calls error = %v", err)
	}
	defer res.Body.Close()
	list, _ := decodeBody(t, res)["calls"].([]any)
	if len(list) != 1 {
		t.Fatalf("calls = %v, want one record", list)
	}

	one, err := http.Get(ts.URL + "/v1/calls/call-1")
	if err != nil {
		t.Fatalf("GET /v1/calls/call-1 error = %v", err)
	}
	defer one.Body.Close()
	if got := decodeBody(t, one)["outcome"]; got != "completed_normally" {
		t.Fatalf("outcome = %v, want completed_normally", got)
	}

	missing, err := http.Get(ts.URL + "/v1/calls/nope")
	if err != nil {
		t.Fatalf("GET /v1/calls/nope error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}

	bad, err := http.Get(ts.URL + "/v1/calls?limit=-1")
	if err != nil {
		t.Fatalf("GET /v1/calls?limit=-1 error = %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestEndUnknownSession(t *testing.T) {
	ts := newTestServer(t, config.Config{}, Deps{})
	res, err := http.Post(ts.URL+"/v1/sessions/missing/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestListVoices(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v2","name":"Zoe"},{"voice_id":"v1","name":"anna"},{"voice_id":"","name":"broken"}]}`))
	}))
	defer upstream.Close()

	cfg := config.Config{ElevenLabsAPIKey: "key", ElevenLabsVoiceID: "v1"}
	srv := New(cfg, Deps{Sessions: session.NewManager(time.Minute), Metrics: testMetrics("voices")})
	srv.voicesURL = upstream.URL
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("GET /v1/voices error = %v", err)
	}
	defer res.Body.Close()
	var payload listVoicesResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.ConfiguredVoiceID != "v1" {
		t.Fatalf("ConfiguredVoiceID = %q, want v1", payload.ConfiguredVoiceID)
	}
	if len(payload.Voices) != 2 || payload.Voices[0].Name != "anna" {
		t.Fatalf("Voices = %+v, want [anna Zoe]", payload.Voices)
	}
}

// fakeAgent is a conversational-AI endpoint that answers a ping, waits for
// one audio chunk and replies with one audio event.
func fakeAgent(t *testing.T, gotChunk chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","ping_event":{"event_id":1}}`))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(msg), "user_audio_chunk") {
				gotChunk <- string(msg)
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio","audio_event":{"audio_base_64":"UklGRg=="}}`))
			}
		}
	}))
}

func TestTelephonyBridgeEndToEnd(t *testing.T) {
	gotChunk := make(chan string, 1)
	agent := fakeAgent(t, gotChunk)
	defer agent.Close()

	store := calls.NewInMemoryStore()
	reports := make(chan bridge.Report, 1)
	sessions := session.NewManager(time.Minute)
	metrics := testMetrics("e2e")
	sup := bridge.NewSupervisor(bridge.Config{
		Dialer: convai.NewDialer(convai.Config{
			AgentID:   "agent",
			WSBaseURL: "ws" + strings.TrimPrefix(agent.URL, "http"),
		}),
		Sessions: sessions,
		Metrics:  metrics,
		Options:  session.Options{WriteTimeout: time.Second},
		OnReport: func(ctx context.Context, r bridge.Report) {
			_ = store.SaveCall(ctx, calls.CallRecord{ID: r.CallID, StreamID: r.StreamID, Outcome: string(r.Outcome)})
			reports <- r
		},
	})
	ts := newTestServer(t, config.Config{}, Deps{Sessions: sessions, Bridge: sup, Calls: store, Metrics: metrics})

	tel, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial telephony ws: %v", err)
	}
	defer tel.Close()

	send := func(s string) {
		t.Helper()
		if err := tel.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
			t.Fatalf("telephony write: %v", err)
		}
	}
	send(`{"event":"start","start":{"streamSid":"MZ-e2e"}}`)
	send(`{"event":"media","media":{"payload":"AAEC"}}`)

	select {
	case chunk := <-gotChunk:
		if chunk != `{"user_audio_chunk":"AAEC"}` {
			t.Fatalf("agent got %s, want user_audio_chunk", chunk)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("agent never received caller audio")
	}

	_ = tel.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := tel.ReadMessage()
	if err != nil {
		t.Fatalf("telephony read: %v", err)
	}
	want := `{"event":"media","streamSid":"MZ-e2e","media":{"payload":"UklGRg=="}}`
	if string(msg) != want {
		t.Fatalf("telephony got %s, want %s", msg, want)
	}

	send(`{"event":"stop"}`)
	select {
	case r := <-reports:
		if r.Outcome != bridge.OutcomeCompleted {
			t.Fatalf("outcome = %s, want %s", r.Outcome, bridge.OutcomeCompleted)
		}
		if r.Counters.Pongs != 1 {
			t.Fatalf("pongs = %d, want 1", r.Counters.Pongs)
		}
		if _, err := store.GetCall(context.Background(), r.CallID); err != nil {
			t.Fatalf("call record missing: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no call report")
	}
}
