package shared

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLogLevel(t *testing.T) {
	tc := []struct {
		name  string
		input string
		want  log.Level
	}{
		{name: "debug", input: "debug", want: log.DebugLevel},
		{name: "mixed case warn", input: " WARN ", want: log.WarnLevel},
		{name: "warning alias", input: "warning", want: log.WarnLevel},
		{name: "error", input: "error", want: log.ErrorLevel},
		{name: "empty defaults to info", input: "", want: log.InfoLevel},
		{name: "unknown defaults to info", input: "loud", want: log.InfoLevel},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLogLevel(tt.input); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if !IsValidID(a) {
		t.Errorf("expected %q to be a valid id", a)
	}
	if IsValidID("not-an-id") {
		t.Error("expected invalid id to be rejected")
	}
}

func TestLoggers(t *testing.T) {
	t.Run("NewLogger writes to the given writer", func(t *testing.T) {
		var buf bytes.Buffer
		l := WithLogger(NewLogger(&buf), "playlist", "p1")
		l.Info("joined")

		out := buf.String()
		if !strings.Contains(out, "joined") || !strings.Contains(out, "playlist=p1") {
			t.Errorf("unexpected log output: %q", out)
		}
	})

	t.Run("NewFileLogger creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "themeroom.log")
		l, f, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger() error = %v", err)
		}
		defer f.Close()

		SetLogLevel(l, log.DebugLevel)
		l.Debug("tick")
	})
}
