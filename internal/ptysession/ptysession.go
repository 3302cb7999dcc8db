// Package ptysession owns the PTY lifecycle, child process, virtual terminal
// buffers, and the append-only raw byte log that backs both the rendered
// viewport and the raw stream projection. It generalizes the teacher's
// virtualterminal.VT into a supervisor that works for any child command,
// not just an agent harness.
package ptysession

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/shlex"
	"github.com/vito/midterm"
)

// ErrSpawnFailed wraps any error starting the child under a PTY.
var ErrSpawnFailed = errors.New("ptysession: spawn failed")

// ExitInfo describes how the child process ended. A nil Code and nil Signal
// marks a synthetic exit produced by a PTY I/O error rather than a real
// process termination.
type ExitInfo struct {
	Code   *int
	Signal *int
}

// OnDataFunc is invoked after every PTY read, serialized with itself and
// with OnExitFunc. The raw log has already absorbed the bytes.
type OnDataFunc func()

// OnExitFunc is invoked exactly once, after the raw log's terminal status
// line has been appended and the PTY master has been drained.
type OnExitFunc func(ExitInfo)

const defaultWriteTimeout = 5 * time.Second

// Session supervises one child process attached to a PTY.
type Session struct {
	mu sync.Mutex

	cmd *exec.Cmd
	ptm *os.File

	vt         *midterm.Terminal
	scrollback *midterm.Terminal

	cols, rows int
	ansiReemit bool

	raw *rawLog

	oscFg, oscBg string
	lastOut      time.Time

	exited   bool
	exitInfo ExitInfo
	killOnce sync.Once

	onData OnDataFunc
	onExit OnExitFunc

	scrollOffset int

	writeTimeout time.Duration
}

// New returns a Session with no child spawned yet. scrollbackLines sizes
// the append-only raw log's byte cap (200 bytes a line, at least 64 KiB).
// The rendered scrollback terminal is not capped by it and grows with the
// child's output.
func New(scrollbackLines int) *Session {
	return &Session{
		raw:          newRawLog(scrollbackLines),
		writeTimeout: defaultWriteTimeout,
	}
}

// OnData registers the data callback. Only one may be active at a time.
func (s *Session) OnData(cb OnDataFunc) {
	s.mu.Lock()
	s.onData = cb
	s.mu.Unlock()
}

// OnExit registers the exit callback. Only one may be active at a time. If
// the session has already exited by the time OnExit is called — the case
// for a controller freshly wrapping a restored background/minimized
// session — cb fires immediately with the recorded ExitInfo, matching
// finalizeExit's own synchronous invocation style rather than leaving the
// caller to hang waiting for an exit that already happened.
func (s *Session) OnExit(cb OnExitFunc) {
	s.mu.Lock()
	s.onExit = cb
	exited := s.exited
	info := s.exitInfo
	s.mu.Unlock()
	if exited && cb != nil {
		cb(info)
	}
}

// Spawn launches command under a PTY sized cols x rows in cwd. Command is a
// single shell-compatible string split into argv via shlex; the engine
// never interprets flags itself.
func (s *Session) Spawn(ctx context.Context, command, cwd string, cols, rows int, ansiReemit bool) error {
	argv, err := shlex.Split(command)
	if err != nil || len(argv) == 0 {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd

	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.ptm = ptm
	s.cols, s.rows = cols, rows
	s.ansiReemit = ansiReemit
	s.vt = midterm.NewTerminal(rows, cols)
	s.scrollback = midterm.NewTerminal(rows, cols)
	s.scrollback.AutoResizeY = true
	s.scrollback.AppendOnly = true
	s.mu.Unlock()

	go s.readLoop()

	return nil
}

// Write sends bytes to the child PTY and waits for the write to finish,
// with a bounded timeout so a hung child (not reading stdin) cannot block
// the caller forever. The session mutex is held only to read the PTY
// handle, not during the write itself, so Write and Resize take effect in
// the order they are called. A write that times out keeps running in the
// background and may still reach the child after later writes.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	ptm := s.ptm
	timeout := s.writeTimeout
	s.mu.Unlock()
	if ptm == nil {
		return 0, errors.New("ptysession: not spawned")
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := ptm.Write(p)
		ch <- result{n, err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.n, r.err
	case <-timer.C:
		return 0, errors.New("ptysession: write timed out, child may be hung")
	}
}

// Resize updates the PTY and both terminal buffers. Idempotent: a no-op
// resize to the current dimensions does nothing.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cols == s.cols && rows == s.rows {
		return
	}
	s.cols, s.rows = cols, rows
	if s.vt != nil {
		s.vt.Resize(rows, cols)
	}
	if s.scrollback != nil {
		s.scrollback.ResizeX(cols)
	}
	if s.ptm != nil {
		pty.Setsize(s.ptm, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	}
}

// Kill sends SIGTERM to the child's process group, escalating to SIGKILL
// after a grace period. Idempotent; on_exit fires exactly once regardless
// of how many times Kill is called.
func (s *Session) Kill() {
	s.killOnce.Do(func() {
		s.mu.Lock()
		cmd := s.cmd
		s.mu.Unlock()
		if cmd == nil || cmd.Process == nil {
			return
		}
		pid := cmd.Process.Pid
		// creack/pty already places the child in its own session (setsid),
		// so its PGID equals its PID; no separate Setpgid call is needed
		// and would in fact conflict with PTY terminal control.
		syscall.Kill(-pid, syscall.SIGTERM)
		go func() {
			time.Sleep(3 * time.Second)
			s.mu.Lock()
			exited := s.exited
			s.mu.Unlock()
			if !exited {
				syscall.Kill(-pid, syscall.SIGKILL)
			}
		}()
	})
}

func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptm.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			s.mu.Lock()
			replyDSR(s.ptm, s.vt, chunk)
			replyOSCColors(s.ptm, chunk, s.oscFg, s.oscBg)
			s.lastOut = time.Now()
			s.vt.Write(chunk)
			s.scrollback.Write(chunk)
			s.raw.append(chunk)
			cb := s.onData
			s.mu.Unlock()
			if cb != nil {
				cb()
			}
		}
		if err != nil {
			s.finalizeExit()
			return
		}
	}
}

// finalizeExit runs once the PTY master stops producing output, which
// happens when the child's last fd referencing the slave closes. It reaps
// the child via Wait to distinguish a real process exit (code or signal)
// from a PTY I/O error with the process still unreaped, which synthesizes
// a nil/nil exit record per spec.
func (s *Session) finalizeExit() {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return
	}
	s.exited = true
	s.mu.Unlock()

	info := exitInfoFromWaitError(s.cmd.Wait())

	s.mu.Lock()
	s.exitInfo = info
	s.raw.appendStatusLine(statusLine(info))
	cb := s.onExit
	s.mu.Unlock()

	s.ptm.Close()
	if cb != nil {
		cb(info)
	}
}

func exitInfoFromWaitError(err error) ExitInfo {
	if err == nil {
		code := 0
		return ExitInfo{Code: &code}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				sig := int(status.Signal())
				return ExitInfo{Signal: &sig}
			}
			code := status.ExitStatus()
			return ExitInfo{Code: &code}
		}
		code := exitErr.ExitCode()
		return ExitInfo{Code: &code}
	}
	return ExitInfo{}
}

func statusLine(info ExitInfo) string {
	switch {
	case info.Signal != nil:
		return fmt.Sprintf("\n[process terminated by signal %d]\n", *info.Signal)
	case info.Code != nil:
		return fmt.Sprintf("\n[process exited with code %d]\n", *info.Code)
	default:
		return "\n[process exited]\n"
	}
}

// AnsiReemit returns the default color re-emission preference passed to
// Spawn; cmd/pish passes it to the overlay presenter as its ansi setting.
func (s *Session) AnsiReemit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ansiReemit
}

// ExitInfo returns the exit record after the session has exited, or a
// zero-value info and false while the child is still running.
func (s *Session) ExitInfo() (ExitInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitInfo, s.exited
}

// Pid returns the child process id, or 0 before Spawn succeeds.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// IsIdle reports whether the child has produced no output for at least d.
func (s *Session) IsIdle(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastOut.IsZero() && time.Since(s.lastOut) > d
}

// SetOSCColors seeds the X11 rgb strings replyOSCColors answers OSC 10/11
// queries with, overriding the COLORFGBG-derived fallback. A caller attached
// to a real terminal detects these once at startup (github.com/muesli/termenv)
// and passes them through so the child's OSC query is answered with the
// actual surrounding terminal's colors rather than a guess.
func (s *Session) SetOSCColors(fg, bg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oscFg, s.oscBg = fg, bg
}

