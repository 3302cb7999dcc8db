// Package activitylog provides a small structured JSONL logger for engine
// events. One JSON object per line, append-only, no external logging
// library — matching the teacher's own activity logger and the rest of
// the pack, none of which import a logging framework.
package activitylog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicobailon/pi-interactive-shell/internal/config"
)

// DefaultPath returns the default JSONL activity log location, per
// spec.md §7's expectation that engine events land alongside the rest of
// the agent framework's on-disk state.
func DefaultPath() string {
	return filepath.Join(config.ConfigDir(), "logs", "interactive-shell.jsonl")
}

// Logger appends one JSON line per event to a file. A disabled logger, and
// the Nop() logger, are no-ops safe to call from any code path.
type Logger struct {
	enabled   bool
	actor     string
	sessionID string
	mu        sync.Mutex
	file      *os.File
}

// New opens (creating parent dirs as needed) the log file at path and
// returns a Logger scoped to sessionID. If enabled is false, no file is
// touched and every method is a no-op.
func New(enabled bool, path, actor, sessionID string) *Logger {
	l := &Logger{enabled: enabled, actor: actor, sessionID: sessionID}
	if !enabled {
		return l
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.enabled = false
		return l
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		// Degrade to disabled rather than fail the caller.
		l.enabled = false
		return l
	}
	l.file = f
	return l
}

// Nop returns a Logger that discards every event.
func Nop() *Logger {
	return &Logger{enabled: false}
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) write(event string, fields map[string]any) {
	if l == nil || !l.enabled || l.file == nil {
		return
	}
	entry := map[string]any{
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		"actor":      l.actor,
		"session_id": l.sessionID,
		"event":      event,
	}
	for k, v := range fields {
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.Write(data)
}

// SessionSpawned logs that a child process was started under a PTY.
func (l *Logger) SessionSpawned(command string, pid int) {
	l.write("session_spawned", map[string]any{"command": command, "pid": pid})
}

// SessionExited logs terminal exit of the child process.
func (l *Logger) SessionExited(exitCode *int, signal *int) {
	fields := map[string]any{}
	if exitCode != nil {
		fields["exit_code"] = *exitCode
	}
	if signal != nil {
		fields["signal"] = *signal
	}
	l.write("session_exited", fields)
}

// Takeover logs a hands-free → user-controlled transition.
func (l *Logger) Takeover() {
	l.write("takeover", nil)
}

// BudgetExhausted logs the first update after the hands-free character
// budget has been reached.
func (l *Logger) BudgetExhausted(totalCharsSent int) {
	l.write("budget_exhausted", map[string]any{"total_chars_sent": totalCharsSent})
}

// RateLimited logs a driver query rejected for arriving too soon.
func (l *Logger) RateLimited(waitSeconds int) {
	l.write("rate_limited", map[string]any{"wait_seconds": waitSeconds})
}

// ConfigWarning logs a non-fatal configuration parse problem.
func (l *Logger) ConfigWarning(msg string) {
	l.write("config_warning", map[string]any{"message": msg})
}

// Detach logs a double-escape detach-dialog selection.
func (l *Logger) Detach(selection string) {
	l.write("detach", map[string]any{"selection": selection})
}
