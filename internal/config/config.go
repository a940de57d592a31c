package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the call bridge.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	WSWriteTimeout           time.Duration
	MetricsNamespace         string
	LogFormat                string
	LogLevel                 string
	// TraceExporter is none or stdout.
	TraceExporter            string

	AllowAnyOrigin bool

	ElevenLabsAPIKey          string
	ElevenLabsAgentID         string
	ElevenLabsVoiceID         string
	ElevenLabsWSBaseURL       string
	ElevenLabsMaxMessageBytes int64
	AIConnectTimeout          time.Duration
	AIConnectAttempts         int

	TelephonyProvider      string
	PublicWSURL            string
	TelephonyEventURL      string
	TelephonyGreeting      string
	TelephonyGreetingVoice string

	TeleCMIAppID  string
	TeleCMISecret string
	TeleCMIPhone  string
	TeleCMIAPIURL string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioPhone      string

	DatabaseURL string
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                  envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:          envOrDefault("APP_METRICS_NAMESPACE", "callbridge"),
		LogFormat:                 envOrDefault("APP_LOG_FORMAT", "json"),
		LogLevel:                  envOrDefault("APP_LOG_LEVEL", "info"),
		TraceExporter:             strings.ToLower(envOrDefault("APP_TRACE_EXPORTER", "none")),
		AllowAnyOrigin:            false,
		ElevenLabsAPIKey:          stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsAgentID:         stringsTrimSpace("ELEVENLABS_AGENT_ID"),
		ElevenLabsVoiceID:         stringsTrimSpace("ELEVENLABS_VOICE_ID"),
		ElevenLabsWSBaseURL:       envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsMaxMessageBytes: 1 << 24,
		AIConnectTimeout:          10 * time.Second,
		AIConnectAttempts:         1,
		TelephonyProvider:         strings.ToLower(envOrDefault("TELEPHONY_PROVIDER", "telecmi")),
		PublicWSURL:               stringsTrimSpace("PUBLIC_WS_URL"),
		TelephonyEventURL:         stringsTrimSpace("TELEPHONY_EVENT_URL"),
		TelephonyGreeting:         stringsTrimSpace("TELEPHONY_GREETING"),
		TelephonyGreetingVoice:    stringsTrimSpace("TELEPHONY_GREETING_VOICE"),
		TeleCMIAppID:              stringsTrimSpace("TELECMI_APP_ID"),
		TeleCMISecret:             stringsTrimSpace("TELECMI_SECRET"),
		TeleCMIPhone:              stringsTrimSpace("TELECMI_PHONE"),
		TeleCMIAPIURL:             envOrDefault("TELECMI_API_URL", "https://api.telecmi.com/v1/call"),
		TwilioAccountSID:          stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:           stringsTrimSpace("TWILIO_AUTH_TOKEN"),
		TwilioPhone:               stringsTrimSpace("TWILIO_PHONE"),
		DatabaseURL:               stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:           15 * time.Second,
		SessionInactivityTimeout:  60 * time.Second,
		WSWriteTimeout:            10 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WSWriteTimeout, err = durationFromEnv("APP_WS_WRITE_TIMEOUT", cfg.WSWriteTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AIConnectTimeout, err = durationFromEnv("AI_CONNECT_TIMEOUT", cfg.AIConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AIConnectAttempts, err = intFromEnv("AI_CONNECT_ATTEMPTS", cfg.AIConnectAttempts)
	if err != nil {
		return Config{}, err
	}
	maxBytes, err := intFromEnv("ELEVENLABS_MAX_MESSAGE_BYTES", int(cfg.ElevenLabsMaxMessageBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.ElevenLabsMaxMessageBytes = int64(maxBytes)
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_WS_WRITE_TIMEOUT must be positive")
	}
	if cfg.AIConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("AI_CONNECT_TIMEOUT must be positive")
	}
	if cfg.AIConnectAttempts < 1 || cfg.AIConnectAttempts > 5 {
		return Config{}, fmt.Errorf("AI_CONNECT_ATTEMPTS must be between 1 and 5")
	}
	if cfg.ElevenLabsMaxMessageBytes < 1024 {
		return Config{}, fmt.Errorf("ELEVENLABS_MAX_MESSAGE_BYTES must be at least 1024")
	}
	switch cfg.TraceExporter {
	case "none", "stdout":
	default:
		return Config{}, fmt.Errorf("APP_TRACE_EXPORTER must be none or stdout")
	}
	switch cfg.TelephonyProvider {
	case "telecmi", "twilio":
	default:
		return Config{}, fmt.Errorf("TELEPHONY_PROVIDER must be telecmi or twilio")
	}

	return cfg, nil
}

// TelemetryEnabled reports whether OpenTelemetry providers must be installed,
// either for otel logs or for exported traces.
func (c Config) TelemetryEnabled() bool {
	return strings.EqualFold(c.LogFormat, "otel") || c.TraceExporter == "stdout"
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
