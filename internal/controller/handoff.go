package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/nicobailon/pi-interactive-shell/internal/config"
)

// computeHandoffPreview builds the in-memory tail-lines artifact returned
// in Result, per spec.md §6's "Handoff preview".
func (c *Controller) computeHandoffPreview(when HandoffWhen) *HandoffPreview {
	lines := c.session.GetTailLines(c.cfg.HandoffPreviewLines, false, c.cfg.HandoffPreviewMaxChars)
	return &HandoffPreview{When: when, Lines: lines}
}

// writeHandoffSnapshot writes the on-disk snapshot file described in
// spec.md §6, guarded by a flock on the shared cache directory: the
// directory is written to by every session that terminates with the
// snapshot enabled, so creation must be serialized even though each
// session's own file name is unique (grounded on the teacher's
// agent/shared/eventstore JSONL-append pattern, generalized here to a
// single plain-text file per termination rather than one append-only
// store per session).
func (c *Controller) writeHandoffSnapshot(when HandoffWhen) (string, error) {
	dir := config.CacheDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	fl := flock.New(filepath.Join(dir, ".snapshot.lock"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("lock snapshot dir: %w", err)
	}
	if !locked {
		return "", fmt.Errorf("lock snapshot dir: timed out")
	}
	defer fl.Unlock()

	now := time.Now().UTC()
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.Format(time.RFC3339Nano))
	pid := c.session.Pid()
	path := filepath.Join(dir, fmt.Sprintf("snapshot-%s-pid%d.log", stamp, pid))

	lines := c.session.GetTailLines(c.cfg.HandoffSnapshotLines, false, c.cfg.HandoffSnapshotMaxChars)
	exitInfo, _ := c.session.ExitInfo()

	var b strings.Builder
	fmt.Fprintf(&b, "# interactive-shell snapshot (%s)\n", when)
	fmt.Fprintf(&b, "time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "command: %s\n", c.command)
	fmt.Fprintf(&b, "cwd: %s\n", c.cwd)
	fmt.Fprintf(&b, "pid: %d\n", pid)
	if exitInfo.Code != nil {
		fmt.Fprintf(&b, "exitCode: %d\n", *exitInfo.Code)
	} else {
		b.WriteString("exitCode: \n")
	}
	if exitInfo.Signal != nil {
		fmt.Fprintf(&b, "signal: %d\n", *exitInfo.Signal)
	} else {
		b.WriteString("signal: \n")
	}
	fmt.Fprintf(&b, "lines: %d (requested %d, maxChars %d)\n", len(lines), c.cfg.HandoffSnapshotLines, c.cfg.HandoffSnapshotMaxChars)
	b.WriteString("\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}
