package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var jsonBuf bytes.Buffer
	newLogger(&jsonBuf, "info", "json", false).Info("dispatch.connect", "user_id", "1")

	var rec map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &rec); err != nil {
		t.Fatalf("json output is not JSON: %v (%q)", err, jsonBuf.String())
	}
	if rec["msg"] != "dispatch.connect" || rec["user_id"] != "1" {
		t.Fatalf("unexpected record: %v", rec)
	}

	var textBuf bytes.Buffer
	newLogger(&textBuf, "info", "text", false).Info("dispatch.connect", "user_id", "1")
	if !strings.Contains(textBuf.String(), "msg=dispatch.connect") {
		t.Fatalf("unexpected text output: %q", textBuf.String())
	}

	var prettyBuf bytes.Buffer
	newLogger(&prettyBuf, "warn", "pretty", false).Info("dropped")
	if prettyBuf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", prettyBuf.String())
	}
}
