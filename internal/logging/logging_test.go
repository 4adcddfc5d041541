package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// ============================================================
// truncateForLog tests
// ============================================================

func TestTruncateForLog_ShortString(t *testing.T) {
	result := truncateForLog("hello", 10)
	if result != "hello" {
		t.Errorf("expected %q, got %q", "hello", result)
	}
}

func TestTruncateForLog_ExactMaxLen(t *testing.T) {
	result := truncateForLog("hello", 5)
	if result != "hello" {
		t.Errorf("expected %q, got %q", "hello", result)
	}
}

func TestTruncateForLog_LongerThanMaxLen(t *testing.T) {
	result := truncateForLog("hello world", 5)
	expected := "hello..."
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestTruncateForLog_MaxLenZero(t *testing.T) {
	result := truncateForLog("hello", 0)
	expected := "..."
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

// ============================================================
// scrub tests
// ============================================================

func TestScrub(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "p self.name", "p self.name"},
		{"color codes", "\x1b[93mlist\x1b[0m", "list"},
		{"clear line", "\x1b[2K\rnext", "next"},
		{"bell and backspace", "n\x07\x08ext", "next"},
		{"tab kept", "a\tb", "a\tb"},
		{"newline dropped", "c\n", "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scrub(tt.in); got != tt.want {
				t.Errorf("scrub(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestScrub_Truncates(t *testing.T) {
	got := scrub(strings.Repeat("x", maxValueLen+10))
	if len(got) != maxValueLen+3 {
		t.Errorf("len(scrub(long)) = %d, want %d", len(got), maxValueLen+3)
	}
}

// ============================================================
// NewSanitizingHandler tests
// ============================================================

func TestNewSanitizingHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	handler := NewSanitizingHandler(inner, true)

	if handler == nil {
		t.Fatal("expected non-nil handler")
	}
	if !handler.sanitize {
		t.Error("expected sanitize to be true")
	}
	if handler.handler != inner {
		t.Error("expected inner handler to be set")
	}
}

func TestSanitizingHandler_Enabled_DelegatesToInner(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})
	handler := NewSanitizingHandler(inner, true)

	ctx := context.Background()

	if handler.Enabled(ctx, slog.LevelDebug) {
		t.Error("expected debug to be disabled")
	}
	if handler.Enabled(ctx, slog.LevelInfo) {
		t.Error("expected info to be disabled")
	}
	if !handler.Enabled(ctx, slog.LevelWarn) {
		t.Error("expected warn to be enabled")
	}
	if !handler.Enabled(ctx, slog.LevelError) {
		t.Error("expected error to be enabled")
	}
}

// ============================================================
// Helper: parse JSON log output
// ============================================================

func parseLogOutput(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse log output: %v\nraw: %s", err, buf.String())
	}
	return result
}

// ============================================================
// SanitizingHandler.Handle tests
// ============================================================

func TestHandle_SanitizeTrue_StripsEscapes(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewSanitizingHandler(inner, true))

	logger.Info("command", slog.String("command", "\x1b[31mp x\x1b[0m"))

	result := parseLogOutput(t, &buf)
	if result["command"] != "p x" {
		t.Errorf("expected command to be %q, got %v", "p x", result["command"])
	}
}

func TestHandle_SanitizeTrue_NonStringPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewSanitizingHandler(inner, true))

	logger.Info("bound", slog.Int("port", 6900), slog.Bool("interactive", false))

	result := parseLogOutput(t, &buf)
	if result["port"] != float64(6900) {
		t.Errorf("expected port 6900, got %v", result["port"])
	}
	if result["interactive"] != false {
		t.Errorf("expected interactive false, got %v", result["interactive"])
	}
}

func TestHandle_SanitizeTrue_Groups(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewSanitizingHandler(inner, true))

	logger.Info("session", slog.Group("peer", slog.String("remote", "127.0.0.1:5\x07")))

	result := parseLogOutput(t, &buf)
	peer, ok := result["peer"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected peer group, got %v", result["peer"])
	}
	if peer["remote"] != "127.0.0.1:5" {
		t.Errorf("expected remote scrubbed, got %v", peer["remote"])
	}
}

func TestHandle_SanitizeTrue_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewSanitizingHandler(inner, true)).With(slog.String("session_id", "abc\x1b[0m"))

	logger.Info("opened")

	result := parseLogOutput(t, &buf)
	if result["session_id"] != "abc" {
		t.Errorf("expected session_id scrubbed, got %v", result["session_id"])
	}
}

func TestHandle_SanitizeFalse_NothingChanged(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewSanitizingHandler(inner, false))

	logger.Info("command", slog.String("command", "a\x07b"))

	result := parseLogOutput(t, &buf)
	if result["command"] != "a\x07b" {
		t.Errorf("expected command untouched, got %q", result["command"])
	}
}

// ============================================================
// New tests
// ============================================================

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "error", true)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	logger.Warn("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected warn to be filtered at error level, got %s", buf.String())
	}

	logger.Error("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected error to be logged, got %s", buf.String())
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "chatty", true); err == nil {
		t.Error("expected error for unknown level")
	}
}
