// Package logging provides structured JSON logging with sanitization.
//
// Debug sessions log text typed by a remote client (commands, expressions).
// With sanitization on, terminal escape sequences and control characters are
// stripped from string values and long values are truncated, so a hostile or
// noisy client cannot corrupt the log stream or the operator's terminal.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/acolita/sdb/internal/config"
)

// maxValueLen bounds logged string values when sanitizing.
const maxValueLen = 256

// SanitizingHandler wraps a slog.Handler to scrub logged string values.
type SanitizingHandler struct {
	handler  slog.Handler
	sanitize bool
}

// NewSanitizingHandler creates a new sanitizing handler.
func NewSanitizingHandler(handler slog.Handler, sanitize bool) *SanitizingHandler {
	return &SanitizingHandler{
		handler:  handler,
		sanitize: sanitize,
	}
}

// Enabled implements slog.Handler.
func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.sanitize {
		return h.handler.Handle(ctx, r)
	}

	newRecord := slog.NewRecord(r.Time, r.Level, scrub(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		newRecord.AddAttrs(h.sanitizeAttr(a))
		return true
	})

	return h.handler.Handle(ctx, newRecord)
}

// WithAttrs implements slog.Handler.
func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.sanitize {
		sanitized := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			sanitized[i] = h.sanitizeAttr(a)
		}
		attrs = sanitized
	}
	return &SanitizingHandler{
		handler:  h.handler.WithAttrs(attrs),
		sanitize: h.sanitize,
	}
}

// WithGroup implements slog.Handler.
func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{
		handler:  h.handler.WithGroup(name),
		sanitize: h.sanitize,
	}
}

func (h *SanitizingHandler) sanitizeAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, scrub(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		sanitized := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			sanitized[i] = h.sanitizeAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(sanitized...)}
	}

	return a
}

// scrub removes ANSI sequences and control characters (tab excepted) and truncates.
func scrub(s string) string {
	s = ansi.Strip(s)
	s = strings.Map(func(r rune) rune {
		if r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return truncateForLog(s, maxValueLen)
}

// truncateForLog shortens s to maxLen bytes, marking the cut with "...".
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// New builds a JSON logger writing to w.
func New(w io.Writer, level string, sanitize bool) (*slog.Logger, error) {
	logLevel, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(NewSanitizingHandler(jsonHandler, sanitize)), nil
}

// Setup initializes the global logger with the given level and sanitization setting.
// An unknown level falls back to warn.
func Setup(level string, sanitize bool) {
	logger, err := New(os.Stderr, level, sanitize)
	if err != nil {
		logger, _ = New(os.Stderr, "warn", sanitize)
	}
	slog.SetDefault(logger)
}
