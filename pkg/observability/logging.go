package observability

import (
	"context"
	"log/slog"
	"os"
)

// NewLogger builds the engine's default logger. Verbosity is controlled
// by the PERSIST_LOG environment variable, falling back to RUST_LOG for
// parity with the engine this package was ported from; any non-empty
// value other than "0"/"false"/"off"/"info"/"warn"/"error" (for example
// "debug", "trace" or "1") enables verbose logging. In verbose mode,
// storage keys are logged in full; otherwise only the final path component
// is kept (see LogKey).
func NewLogger() *slog.Logger {
	return slog.New(newKeyRedactingHandler(slog.NewJSONHandler(os.Stderr, nil), Verbose()))
}

// Verbose reports whether PERSIST_LOG (or RUST_LOG) requests full-key
// logging.
func Verbose() bool {
	v := os.Getenv("PERSIST_LOG")
	if v == "" {
		v = os.Getenv("RUST_LOG")
	}
	switch v {
	case "", "0", "false", "off", "info", "warn", "error":
		return false
	default:
		return true
	}
}

// keyRedactingHandler wraps a slog.Handler and truncates any attribute
// named "key" to its last path component unless verbose logging is on.
type keyRedactingHandler struct {
	inner   slog.Handler
	verbose bool
}

func newKeyRedactingHandler(inner slog.Handler, verbose bool) *keyRedactingHandler {
	return &keyRedactingHandler{inner: inner, verbose: verbose}
}

func (h *keyRedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *keyRedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.verbose {
		return h.inner.Handle(ctx, record)
	}

	redacted := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == "key" && a.Value.Kind() == slog.KindString {
			a.Value = slog.StringValue(LogKey(a.Value.String(), false))
		}
		redacted.AddAttrs(a)
		return true
	})
	return h.inner.Handle(ctx, redacted)
}

func (h *keyRedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if !h.verbose {
		redacted := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			if a.Key == "key" && a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(LogKey(a.Value.String(), false))
			}
			redacted[i] = a
		}
		attrs = redacted
	}
	return &keyRedactingHandler{inner: h.inner.WithAttrs(attrs), verbose: h.verbose}
}

func (h *keyRedactingHandler) WithGroup(name string) slog.Handler {
	return &keyRedactingHandler{inner: h.inner.WithGroup(name), verbose: h.verbose}
}
