package activitylog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

func TestDefaultPathUnderConfigDir(t *testing.T) {
	path := DefaultPath()
	if !strings.HasSuffix(path, filepath.Join("logs", "interactive-shell.jsonl")) {
		t.Errorf("DefaultPath() = %q, want a path ending in logs/interactive-shell.jsonl", path)
	}
}

func TestNewCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "activity.jsonl")
	l := New(true, path, "a", "s")
	defer l.Close()

	l.Takeover()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file to be created under missing parent dirs: %v", err)
	}
}

func TestSessionSpawned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	l := New(true, path, "sleepy-otter", "sleepy-otter")
	defer l.Close()

	l.SessionSpawned("bash -lc 'sleep 1'", 4242)

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	var e struct {
		Actor     string `json:"actor"`
		SessionID string `json:"session_id"`
		Event     string `json:"event"`
		Command   string `json:"command"`
		Pid       int    `json:"pid"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Event != "session_spawned" || e.Pid != 4242 || e.SessionID != "sleepy-otter" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestSessionExitedOmitsNilFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	l := New(true, path, "a", "s")
	defer l.Close()

	l.SessionExited(nil, nil)

	lines := readLines(t, path)
	if strings.Contains(lines[0], "exit_code") || strings.Contains(lines[0], "signal") {
		t.Errorf("expected exit_code/signal omitted when nil, got %s", lines[0])
	}
}

func TestSessionExitedWithCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	l := New(true, path, "a", "s")
	defer l.Close()

	code := 0
	l.SessionExited(&code, nil)

	lines := readLines(t, path)
	var e struct {
		ExitCode int `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.ExitCode != 0 {
		t.Errorf("exit_code = %d, want 0", e.ExitCode)
	}
}

func TestBudgetExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	l := New(true, path, "a", "s")
	defer l.Close()

	l.BudgetExhausted(100000)

	lines := readLines(t, path)
	var e struct {
		Event          string `json:"event"`
		TotalCharsSent int    `json:"total_chars_sent"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Event != "budget_exhausted" || e.TotalCharsSent != 100000 {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	l := New(false, path, "a", "s")
	defer l.Close()

	l.SessionSpawned("cmd", 1)
	l.Takeover()
	l.RateLimited(5)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected no file to be created when disabled")
	}
}

func TestNopLoggerIsNoop(t *testing.T) {
	l := Nop()
	l.SessionSpawned("cmd", 1)
	l.Takeover()
	l.RateLimited(5)
	l.ConfigWarning("bad")
	l.Detach("background")
	l.Close()
}

func TestMultipleEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	l := New(true, path, "a", "s")
	defer l.Close()

	l.SessionSpawned("cmd", 1)
	l.Takeover()
	l.RateLimited(3)

	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
}

func TestTimestampPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	l := New(true, path, "a", "s")
	defer l.Close()

	l.Takeover()

	lines := readLines(t, path)
	var e struct {
		Timestamp string `json:"ts"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Timestamp == "" {
		t.Error("expected ts field to be present")
	}
}
