package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToZapLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		DebugLevel: zapcore.DebugLevel,
		InfoLevel:  zapcore.InfoLevel,
		WarnLevel:  zapcore.WarnLevel,
		ErrorLevel: zapcore.ErrorLevel,
		"verbose":  zapcore.DebugLevel,
	}
	for in, want := range cases {
		if got := toZapLevel(in); got != want {
			t.Fatalf("toZapLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewCore_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := zap.New(newCore(&buf, zapcore.InfoLevel, FormatJSON)).Sugar()
	log.Debugw("relay_set", "relay", 3)
	log.Infow("relay_set", "relay", 3, "on", true)
	_ = log.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the info line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if entry["msg"] != "relay_set" || entry["relay"] != float64(3) || entry["ts"] == nil {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewCore_Console(t *testing.T) {
	var buf bytes.Buffer
	log := zap.New(newCore(&buf, zapcore.DebugLevel, FormatConsole)).Sugar()
	log.Warnw("bus_transaction_timeout", "addr", "0x0b")
	_ = log.Sync()

	out := buf.String()
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "bus_transaction_timeout") {
		t.Fatalf("unexpected console line: %q", out)
	}
}

func TestNamedOnNilLogger(t *testing.T) {
	var l *Logger
	if l.Named("bus") == nil {
		t.Fatal("Named on nil logger returned nil")
	}
}
