package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T, level string, logFn func()) string {
	t.Helper()
	var buf bytes.Buffer
	configure(level, "json", &buf)
	defer configure("info", "console", os.Stderr)
	logFn()
	return buf.String()
}

func TestLevelsEmitKeyValuePairs(t *testing.T) {
	tests := []struct {
		name  string
		logFn func()
	}{
		{"trace", func() { Trace("trace message", "k", "v") }},
		{"debug", func() { Debug("debug message", "k", "v") }},
		{"info", func() { Info("info message", "k", "v") }},
		{"warn", func() { Warn("warn message", "k", "v") }},
		{"error", func() { Error("error message", "k", "v") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := capture(t, "trace", tt.logFn)
			if !strings.Contains(out, tt.name+" message") {
				t.Errorf("output %q is missing the message", out)
			}
			if !strings.Contains(out, `"k":"v"`) {
				t.Errorf("output %q is missing the key-value pair", out)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	out := capture(t, "error", func() {
		Debug("hidden")
		Error("visible")
	})
	if strings.Contains(out, "hidden") {
		t.Errorf("debug entry emitted at error level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("error entry suppressed: %q", out)
	}
}

func TestAuditBypassesLevel(t *testing.T) {
	out := capture(t, "error", func() {
		Audit("Credential resolved", "user", "alice")
	})
	if !strings.Contains(out, "Credential resolved") {
		t.Errorf("audit entry suppressed: %q", out)
	}
	if !strings.Contains(out, `"logger":"security"`) {
		t.Errorf("audit entry lacks the security logger tag: %q", out)
	}
}

func TestOddKeyValueCount(t *testing.T) {
	out := capture(t, "info", func() {
		Info("lonely", "dangling")
	})
	if !strings.Contains(out, `"value":"dangling"`) {
		t.Errorf("dangling value dropped: %q", out)
	}
}
