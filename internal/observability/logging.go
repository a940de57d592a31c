package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/ent0n29/callbridge"

var errNoTelemetry = errors.New("log format otel needs telemetry providers")

// NewLogger builds the process logger. Format is json, text or otel. The
// json and text handlers write to w; otel hands records to tel's logger
// provider, which must be set for that format.
func NewLogger(w io.Writer, format, level string, tel *Telemetry) (*slog.Logger, error) {
	var lvl slog.Level
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "otel":
		if tel == nil {
			return nil, errNoTelemetry
		}
		h := otelslog.NewHandler(scopeName, otelslog.WithLoggerProvider(tel.Logs))
		return slog.New(&levelHandler{Handler: h, level: lvl}), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (expected json|text|otel)", format)
	}
}

// levelHandler applies the configured minimum level to a handler that has
// no level option of its own.
type levelHandler struct {
	slog.Handler
	level slog.Level
}

func (h *levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level && h.Handler.Enabled(ctx, l)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}

// DiscardLogger is used by tests and by components constructed without one.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
