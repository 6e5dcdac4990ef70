package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"mixed case Trace", "Trace", LevelTrace},
		{"padded", " debug ", slog.LevelDebug},
		{"unknown defaults to info", "verbose", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"info", "DEBUG", "trace"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	for _, s := range []string{"", "warn", "verbose"} {
		if ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = true", s)
		}
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level      string
		logAtTrace bool
		logAtDebug bool
	}{
		{"info", false, false},
		{"debug", false, true},
		{"trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Log(context.Background(), LevelTrace, "trace message")
			if got := strings.Contains(buf.String(), "trace message"); got != tt.logAtTrace {
				t.Errorf("trace visible = %v, want %v (buf: %q)", got, tt.logAtTrace, buf.String())
			}

			buf.Reset()
			logger.Debug("debug message")
			if got := strings.Contains(buf.String(), "debug message"); got != tt.logAtDebug {
				t.Errorf("debug visible = %v, want %v (buf: %q)", got, tt.logAtDebug, buf.String())
			}

			buf.Reset()
			logger.Info("info message")
			if !strings.Contains(buf.String(), "info message") {
				t.Error("info should always be visible")
			}
		})
	}
}

func TestNewLogger_LabelsTrace(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("trace", &buf).Log(context.Background(), LevelTrace, "x")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("expected level=TRACE, got %q", buf.String())
	}
}

func TestNewTrialLogger_InfoLevel(t *testing.T) {
	dir := t.TempDir()
	tl := NewTrialLogger(dir, "info")
	if tl != nil {
		t.Fatal("expected nil TrialLogger at info level")
	}

	tl.Trial(TrialEvent{Protocol: "p"})
	tl.Log(map[string]any{"event": "x"})
	tl.Close()

	if _, err := os.Stat(filepath.Join(dir, TraceFile)); err == nil {
		t.Errorf("%s should not exist at info level", TraceFile)
	}
}

func TestTrialLogger_WritesEvents(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", ".pullsim")
	tl := NewTrialLogger(dir, "debug")
	if tl == nil {
		t.Fatal("expected TrialLogger at debug level")
	}

	opinion := 0
	tl.Trial(TrialEvent{Protocol: "ftt", Population: 64, Trial: 3, Seed: 42, Rounds: 17, Converged: true, Opinion: &opinion})
	tl.Trial(TrialEvent{Protocol: "voter", Population: 8, Rounds: 100})
	tl.Log(map[string]any{"event": "sweep_done"})
	tl.Close()

	data, err := os.ReadFile(filepath.Join(dir, TraceFile))
	if err != nil {
		t.Fatalf("reading trace: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), data)
	}

	var first, second, third map[string]any
	for i, dst := range []*map[string]any{&first, &second, &third} {
		if err := json.Unmarshal([]byte(lines[i]), dst); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
	}
	if first["event"] != "trial" || first["protocol"] != "ftt" || first["population"] != float64(64) {
		t.Errorf("unexpected first event: %v", first)
	}
	if first["opinion"] != float64(0) {
		t.Errorf("opinion = %v, want 0", first["opinion"])
	}
	if _, ok := second["opinion"]; ok {
		t.Error("unconverged trial should omit opinion")
	}
	if third["event"] != "sweep_done" || third["time"] == nil {
		t.Errorf("unexpected third event: %v", third)
	}
}

func TestTrialLogger_DoesNotMutateCallerMap(t *testing.T) {
	tl := NewTrialLogger(t.TempDir(), "trace")
	defer tl.Close()

	event := map[string]any{"event": "test"}
	tl.Log(event)
	if _, ok := event["time"]; ok {
		t.Error("Log() injected time into the caller's map")
	}
}

func TestTrialLogger_AfterClose(t *testing.T) {
	tl := NewTrialLogger(t.TempDir(), "debug")
	tl.Close()
	tl.Trial(TrialEvent{})
	tl.Close()
}

func TestTrialLogger_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	tl := NewTrialLogger(dir, "debug")
	defer tl.Close()
	tl.Log(map[string]any{"event": "perm"})

	info, err := os.Stat(filepath.Join(dir, TraceFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}
}
