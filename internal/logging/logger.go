// Package logging provides leveled logging and trial tracing for pullsim.
//
// Operational messages go to a leveled slog.Logger on stderr. Individual
// trial outcomes are appended as JSON lines to .pullsim/trials.jsonl, but
// only when the log level is debug or trace.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace sits below Debug. At this level the driver also logs every
// trial as it finishes.
const LevelTrace = slog.LevelDebug - 4

// TraceFile is the name of the JSONL trial trace inside the data directory.
const TraceFile = "trials.jsonl"

// ParseLevel maps "info", "debug" or "trace" (any case) to a slog.Level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names one of the supported levels.
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "debug", "trace":
		return true
	}
	return false
}

// NewLogger creates a leveled text logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// TrialEvent is one finished trial as written to the trace.
type TrialEvent struct {
	Run        string `json:"run,omitempty"`
	Protocol   string `json:"protocol"`
	Population int    `json:"population"`
	Trial      int    `json:"trial"`
	Seed       uint64 `json:"seed"`
	Rounds     int    `json:"rounds"`
	Converged  bool   `json:"converged"`
	Opinion    *int   `json:"opinion,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// TrialLogger appends trial events to a JSONL file.
// It is safe for concurrent use, and a nil *TrialLogger ignores every call.
type TrialLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewTrialLogger opens dir/trials.jsonl for append when level is debug or
// trace. At info level, or when the file cannot be opened, it returns nil.
func NewTrialLogger(dir string, level string) *TrialLogger {
	if ParseLevel(level) >= slog.LevelInfo {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, TraceFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &TrialLogger{file: f}
}

// Trial writes ev as one line.
func (tl *TrialLogger) Trial(ev TrialEvent) {
	if tl == nil {
		return
	}
	data, err := json.Marshal(struct {
		Event string `json:"event"`
		Time  string `json:"time"`
		TrialEvent
	}{"trial", now(), ev})
	if err != nil {
		return
	}
	tl.write(data)
}

// Log writes an arbitrary event. A "time" field is added to a copy of the
// map; the caller's map is left alone.
func (tl *TrialLogger) Log(event map[string]any) {
	if tl == nil {
		return
	}
	entry := maps.Clone(event)
	if entry == nil {
		entry = make(map[string]any, 1)
	}
	entry["time"] = now()
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	tl.write(data)
}

func (tl *TrialLogger) write(data []byte) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file == nil {
		return
	}
	_, _ = tl.file.Write(append(data, '\n'))
}

// Close closes the trace file. Later calls to Trial and Log are no-ops.
func (tl *TrialLogger) Close() {
	if tl == nil {
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file != nil {
		tl.file.Close()
		tl.file = nil
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
