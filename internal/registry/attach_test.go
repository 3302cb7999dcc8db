package registry

import (
	"testing"
	"time"
)

func TestAttachNoBackgroundSessions(t *testing.T) {
	r := newTestRegistry()
	res := r.Attach("")
	if res.Message != "No background sessions" {
		t.Fatalf("Message = %q, want %q", res.Message, "No background sessions")
	}
	if res.Target != nil || res.Choices != nil {
		t.Fatal("expected no target or choices on an empty background list")
	}
}

func TestAttachSessionNotFound(t *testing.T) {
	r := newTestRegistry()
	res := r.Attach("nope")
	if res.Message != "Session not found: nope" {
		t.Fatalf("Message = %q, want %q", res.Message, "Session not found: nope")
	}
}

func TestAttachNoArgsListsChoices(t *testing.T) {
	r := newTestRegistry()
	s := spawnCat(t)
	id := r.AddBackground("cat", s, "", "")

	res := r.Attach("")
	if res.Message != "" {
		t.Fatalf("Message = %q, want empty", res.Message)
	}
	if len(res.Choices) != 1 || res.Choices[0].ID != id {
		t.Fatalf("Choices = %+v, want one entry with id %q", res.Choices, id)
	}
}

func TestAttachDirectByIDCancelsCleanup(t *testing.T) {
	r := newTestRegistry()
	s := spawnCat(t)
	id := r.AddBackground("cat", s, "", "")

	// Simulate the exit watcher having already observed the session exit
	// and armed the 30s cleanup timer, without waiting on the real poll
	// cadence.
	r.mu.Lock()
	r.cleanupTimers[id] = time.AfterFunc(cleanupDelay, func() { r.cleanupByID(id) })
	r.mu.Unlock()

	res := r.Attach(id)
	if res.Message != "" || res.Target == nil || res.Target.ID != id {
		t.Fatalf("expected a direct hit on %q, got %+v", id, res)
	}
	r.mu.Lock()
	_, stillTracked := r.cleanupTimers[id]
	r.mu.Unlock()
	if stillTracked {
		t.Fatal("expected GetBackground (via Attach) to cancel the pending cleanup timer")
	}
}
