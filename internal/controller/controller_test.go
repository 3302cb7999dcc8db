package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nicobailon/pi-interactive-shell/internal/config"
	"github.com/nicobailon/pi-interactive-shell/internal/ptysession"
)

func baseConfig() config.Config {
	return config.Config{
		HandsFreeUpdateMode:       config.UpdateModeOnQuiet,
		HandsFreeUpdateIntervalMs: 100,
		QuietThresholdMs:          100,
		UpdateMaxChars:            2000,
		TotalBudgetMaxChars:       1000000,
		MinQueryIntervalSeconds:   2,
		DoubleEscapeThresholdMs:   200,
		ExitAutoCloseDelaySeconds: 0,
	}
}

func spawn(t *testing.T, command string) *ptysession.Session {
	t.Helper()
	s := ptysession.New(1000)
	if err := s.Spawn(context.Background(), command, ".", 80, 24, false); err != nil {
		t.Fatalf("spawn %q: %v", command, err)
	}
	return s
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
	exited  chan struct{}
	once    sync.Once
}

func newUpdateRecorder() *updateRecorder {
	return &updateRecorder{exited: make(chan struct{})}
}

func (r *updateRecorder) record(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	if u.Kind == UpdateExited {
		r.once.Do(func() { close(r.exited) })
	}
}

func (r *updateRecorder) snapshot() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func TestIntervalEmission_UnderContinuousOutput(t *testing.T) {
	cfg := baseConfig()
	cfg.HandsFreeUpdateMode = config.UpdateModeInterval
	cfg.HandsFreeUpdateIntervalMs = 60
	cfg.UpdateMaxChars = 100

	sess := spawn(t, "sh -c 'i=0; while [ $i -lt 40 ]; do printf x; sleep 0.01; i=$((i+1)); done'")
	rec := newUpdateRecorder()
	c := New(Options{ID: "s1", Session: sess, Cfg: cfg, Mode: ModeHandsFree, OnUpdate: rec.record})

	select {
	case <-rec.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	updates := rec.snapshot()
	running := 0
	for _, u := range updates {
		if u.Kind == UpdateRunning {
			running++
			if len(u.Tail) > 0 && len(u.Tail[0]) > cfg.UpdateMaxChars {
				t.Fatalf("tail exceeded update_max_chars: %d", len(u.Tail[0]))
			}
		}
	}
	if running < 1 {
		t.Fatalf("expected at least one Running update, got %d", running)
	}
	last := updates[len(updates)-1]
	if last.Kind != UpdateExited {
		t.Fatalf("expected final update to be Exited, got %v", last.Kind)
	}
	if len(last.Tail) != 0 {
		t.Fatalf("expected empty tail on final Exited update, got %v", last.Tail)
	}
	_ = c
}

func TestOnQuietWindowing(t *testing.T) {
	cfg := baseConfig()
	cfg.QuietThresholdMs = 150

	sess := spawn(t, "sh -c 'printf \"hello\\n\"; sleep 0.3; printf \"world\\n\"'")
	rec := newUpdateRecorder()
	New(Options{ID: "s2", Session: sess, Cfg: cfg, Mode: ModeHandsFree, OnUpdate: rec.record})

	select {
	case <-rec.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	var tails [][]string
	for _, u := range rec.snapshot() {
		if u.Kind == UpdateRunning {
			tails = append(tails, u.Tail)
		}
	}
	if len(tails) < 2 {
		t.Fatalf("expected at least two Running updates, got %d: %v", len(tails), tails)
	}
	if tails[0][0] != "hello" {
		t.Fatalf("first tail = %v, want [hello]", tails[0])
	}
	if tails[1][0] != "world" {
		t.Fatalf("second tail = %v, want [world]", tails[1])
	}
}

func TestBudgetExhaustion(t *testing.T) {
	cfg := baseConfig()
	cfg.TotalBudgetMaxChars = 10
	cfg.QuietThresholdMs = 50

	sess := spawn(t, "sh -c 'printf \"abcdefghijklmno\"'")
	rec := newUpdateRecorder()
	New(Options{ID: "s3", Session: sess, Cfg: cfg, Mode: ModeHandsFree, OnUpdate: rec.record})

	select {
	case <-rec.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	updates := rec.snapshot()
	var sawSaturating bool
	for _, u := range updates {
		if u.Kind != UpdateRunning {
			continue
		}
		n := 0
		for _, l := range u.Tail {
			n += len(l)
		}
		if u.BudgetExhausted && n == 10 {
			sawSaturating = true
		}
	}
	if !sawSaturating {
		t.Fatalf("expected one Running update with 10 chars and budget_exhausted, got %+v", updates)
	}
	last := updates[len(updates)-1]
	if last.Kind != UpdateExited {
		t.Fatalf("expected last update Exited, got %v", last.Kind)
	}
}

func TestTakeover_LeavesHandsFreeAndStopsUpdates(t *testing.T) {
	cfg := baseConfig()
	sess := spawn(t, "sh -c 'sleep 2'")
	defer sess.Kill()

	rec := newUpdateRecorder()
	c := New(Options{ID: "s4", Session: sess, Cfg: cfg, Mode: ModeHandsFree, OnUpdate: rec.record})

	c.HandleUserInput(false, false)

	if c.State() != StateRunning {
		t.Fatalf("expected state Running after takeover, got %v", c.State())
	}

	updates := rec.snapshot()
	if len(updates) != 1 || updates[0].Kind != UpdateUserTakeover {
		t.Fatalf("expected exactly one UserTakeover update, got %+v", updates)
	}

	// A second non-scroll key after takeover must not re-emit takeover.
	c.HandleUserInput(false, false)
	if len(rec.snapshot()) != 1 {
		t.Fatalf("takeover must be one-way, got %d updates", len(rec.snapshot()))
	}
}

func TestRateLimitedQuery_RacesCompletion(t *testing.T) {
	cfg := baseConfig()
	cfg.MinQueryIntervalSeconds = 2

	sess := spawn(t, "sh -c 'sleep 0.3'")
	c := New(Options{ID: "s5", Session: sess, Cfg: cfg, Mode: ModeInteractive})

	first := c.Query(QueryOptions{})
	if first.RateLimited {
		t.Fatal("first query should not be rate limited")
	}

	start := time.Now()
	second := c.QueryWithWait(context.Background(), QueryOptions{})
	elapsed := time.Since(start)

	if second.Result == nil || second.Status != string(StateExited) {
		t.Fatalf("expected exited result from raced query, got %+v", second)
	}
	if elapsed > 1500*time.Millisecond {
		t.Fatalf("expected wait to be cut short by completion, took %v", elapsed)
	}
}

func TestDoubleEscapeToBackground(t *testing.T) {
	cfg := baseConfig()
	sess := spawn(t, "sh -c 'sleep 2'")

	rec := newUpdateRecorder()
	var unregistered string
	var releasedID bool
	c := New(Options{
		ID: "s6", Session: sess, Cfg: cfg, Mode: ModeInteractive,
		OnUpdate: rec.record,
		OnUnregisterActive: func(id string, release bool) {
			unregistered = id
			releasedID = release
		},
	})

	c.HandleUserInput(false, true) // first escape
	c.HandleUserInput(false, true) // second escape within threshold

	if c.State() != StateDetachDialog {
		t.Fatalf("expected DetachDialog, got %v", c.State())
	}

	c.SelectDetach(DetachBackground)

	select {
	case <-rec.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Exited update")
	}

	updates := rec.snapshot()
	last := updates[len(updates)-1]
	if !last.Result.Backgrounded {
		t.Fatalf("expected Backgrounded result, got %+v", last.Result)
	}
	if last.Result.Session == nil {
		t.Fatal("expected backgrounded result to carry the live session")
	}
	if unregistered != "s6" {
		t.Fatalf("expected unregister callback for s6, got %q", unregistered)
	}
	if releasedID {
		t.Fatal("backgrounded session must not release its SessionId")
	}

	exitInfo, exited := sess.ExitInfo()
	if exited {
		t.Fatalf("backgrounded session must not be disposed, got exitInfo %+v", exitInfo)
	}
	sess.Kill()
}

func TestQuery_IncrementalAndDrainExclusive(t *testing.T) {
	cfg := baseConfig()
	sess := spawn(t, "cat")
	defer sess.Kill()
	c := New(Options{ID: "s7", Session: sess, Cfg: cfg, Mode: ModeInteractive})

	res := c.Query(QueryOptions{Incremental: true, Drain: true})
	if res.Err == nil {
		t.Fatal("expected error combining incremental and drain")
	}
}

func TestKillIsIdempotentAtController(t *testing.T) {
	cfg := baseConfig()
	sess := spawn(t, "sh -c 'sleep 2'")
	rec := newUpdateRecorder()
	c := New(Options{ID: "s8", Session: sess, Cfg: cfg, Mode: ModeInteractive, OnUpdate: rec.record})

	c.Kill()
	c.Kill()

	select {
	case <-rec.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Exited update")
	}

	count := 0
	for _, u := range rec.snapshot() {
		if u.Kind == UpdateExited {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one Exited update across repeated kills, got %d", count)
	}
}
