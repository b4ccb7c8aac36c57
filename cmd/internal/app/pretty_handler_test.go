package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyHandler_BasicLine(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.Info("relay.workflow.completed", "message_id", "m-1", "attempts", 2)

	line := buf.String()
	if !strings.Contains(line, "lvl=INFO") {
		t.Fatalf("missing level tag: %q", line)
	}
	if !strings.Contains(line, "msg=relay.workflow.completed") {
		t.Fatalf("missing message: %q", line)
	}
	if !strings.Contains(line, "message_id=m-1") || !strings.Contains(line, "attempts=2") {
		t.Fatalf("missing attrs: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("line must end with newline: %q", line)
	}
}

func TestPrettyHandler_QuotesValuesWithSpaces(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	log := slog.New(newPrettyHandler(&buf, nil))

	log.Error("ws.read.fail", "err", "unexpected end of JSON input")

	line := buf.String()
	if !strings.Contains(line, `err="unexpected end of JSON input"`) {
		t.Fatalf("value not quoted: %q", line)
	}
}

func TestPrettyHandler_GroupsFlattenToDottedKeys(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	log := slog.New(newPrettyHandler(&buf, nil)).WithGroup("http")

	log.Info("request", "status", 200)

	line := buf.String()
	if !strings.Contains(line, "http.status=200") {
		t.Fatalf("group key not flattened: %q", line)
	}
}

func TestPrettyHandler_RespectsLevel(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info must be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error must be enabled at warn level")
	}
}

func TestLevelTag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   slog.Level
		want string
	}{
		{in: slog.LevelDebug, want: "DEBUG"},
		{in: slog.LevelInfo, want: "INFO"},
		{in: slog.LevelWarn, want: "WARN"},
		{in: slog.LevelError, want: "ERROR"},
		{in: slog.LevelError + 4, want: "ERROR"},
	}

	for _, tc := range cases {
		if got := levelTag(tc.in); got != tc.want {
			t.Fatalf("levelTag(%v)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestValueToString(t *testing.T) {
	t.Parallel()

	when := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in   slog.Value
		want string
	}{
		{in: slog.StringValue("plain"), want: "plain"},
		{in: slog.IntValue(42), want: "42"},
		{in: slog.BoolValue(true), want: "true"},
		{in: slog.DurationValue(1500 * time.Millisecond), want: "1.5s"},
		{in: slog.TimeValue(when), want: "2025-06-01T12:00:00Z"},
	}

	for _, tc := range cases {
		if got := valueToString(tc.in); got != tc.want {
			t.Fatalf("valueToString(%v)=%q want=%q", tc.in, got, tc.want)
		}
	}
}
