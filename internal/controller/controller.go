// Package controller implements SessionController: the driver/user protocol
// layered on top of a PtySession. It owns the state machine (Running,
// HandsFree, DetachDialog, Exited), the hands-free update-emission policy,
// and the five timers that drive it. Grounded on the teacher's
// agent/shared/outputcollector.Collector for the quiet/idle timer pattern
// and on session.go's lifecycle loop for the overall shape of a
// run-until-terminal-state supervisor.
package controller

import (
	"strings"
	"sync"
	"time"

	"github.com/nicobailon/pi-interactive-shell/internal/activitylog"
	"github.com/nicobailon/pi-interactive-shell/internal/config"
	"github.com/nicobailon/pi-interactive-shell/internal/ptysession"
)

// Mode selects whether the driver or the user is the primary consumer.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeHandsFree    Mode = "hands-free"
)

// State is one position in the controller's state machine.
type State string

const (
	StateRunning      State = "running"
	StateHandsFree    State = "hands_free"
	StateDetachDialog State = "detach_dialog"
	StateExited       State = "exited"
)

// DetachSelection is the user's choice from the double-escape detach dialog.
type DetachSelection string

const (
	DetachKill       DetachSelection = "kill"
	DetachBackground DetachSelection = "background"
	DetachMinimize   DetachSelection = "minimize"
	DetachCancel     DetachSelection = "cancel"
)

// HandoffWhen tags a handoff preview/snapshot with the reason it was taken.
type HandoffWhen string

const (
	HandoffExit    HandoffWhen = "exit"
	HandoffDetach  HandoffWhen = "detach"
	HandoffKill    HandoffWhen = "kill"
	HandoffTimeout HandoffWhen = "timeout"
)

// HandoffPreview is the in-memory tail-lines artifact returned in Result.
type HandoffPreview struct {
	When  HandoffWhen
	Lines []string
}

// Result is the terminal InteractiveShellResult delivered exactly once,
// via the final Update and via OnComplete, when a controller reaches Exited.
type Result struct {
	SessionID string
	ExitCode  *int
	Signal    *int

	Backgrounded bool
	Minimized    bool
	Cancelled    bool
	TimedOut     bool
	UserTookOver bool

	// Session is set only when Backgrounded or Minimized: ownership of the
	// still-running PtySession passes to whatever handles this Result (the
	// registry's background/minimized maps), since this controller is done
	// with its driver-facing obligations but the child is not dead.
	Session *ptysession.Session

	Preview      *HandoffPreview
	SnapshotPath string
}

// UpdateKind distinguishes the three notifications a controller can emit.
type UpdateKind string

const (
	UpdateRunning      UpdateKind = "running"
	UpdateUserTakeover UpdateKind = "user_takeover"
	UpdateExited       UpdateKind = "exited"
)

// Update is one driver-facing notification, either a hands-free progress
// report or a terminal notification carrying the final Result.
type Update struct {
	Kind            UpdateKind
	SessionID       string
	RuntimeMs       int64
	Tail            []string
	BudgetExhausted bool
	TotalCharsSent  int
	Result          *Result
}

// Options configures a new Controller.
type Options struct {
	ID      string
	Session *ptysession.Session
	Cfg     config.Config
	Mode    Mode

	Command, Cwd string
	TimeoutMs     int

	HandoffPreview  bool
	HandoffSnapshot bool

	Log *activitylog.Logger

	OnUpdate func(Update)
	// OnUnregisterActive fires whenever this controller leaves the active
	// map: on takeover (release=false, the SessionId stays reserved per
	// spec.md §3 — "released... only when the session fully terminates, not
	// on mere takeover") and on the terminal Exited transition (release=true
	// unless the session was backgrounded/minimized, in which case the
	// caller is expected to transfer the id into the registry's background/
	// minimized map rather than release it).
	OnUnregisterActive func(id string, release bool)
	OnAutoCloseDue     func()
}

// Controller supervises one PtySession against the driver/user protocol.
type Controller struct {
	mu sync.Mutex

	id      string
	session *ptysession.Session
	cfg     config.Config
	mode    Mode
	command string
	cwd     string
	timeoutMs int

	state     State
	prevState State
	finished  bool

	handsFreeEver bool
	userTookOver  bool
	timedOut      bool

	initialDelayTimer  *time.Timer
	intervalTimer      *time.Timer
	quietTimer         *time.Timer
	exitCountdownTimer *time.Timer
	timeoutTimer       *time.Timer
	escapeTimer        *time.Timer
	escapePending      bool

	hasUnsentData   bool
	emitCursor      *ptysession.Cursor
	drainCursor     *ptysession.Cursor
	incrementalOff  int
	totalCharsSent  int
	budgetExhausted bool

	startedAt     time.Time
	lastDataTime  time.Time
	lastQueryTime time.Time

	handoffPreviewWanted  bool
	handoffSnapshotWanted bool

	onUpdate           func(Update)
	onUnregisterActive func(id string, release bool)
	onAutoCloseDue     func()

	log *activitylog.Logger

	result      *Result
	completeCBs []func(Result)
}

// New constructs a Controller and starts supervising opts.Session. The
// session must already be spawned: New wires OnData/OnExit and, for
// hands-free mode, arms the initial-delay and interval timers immediately.
func New(opts Options) *Controller {
	c := &Controller{
		id:                    opts.ID,
		session:               opts.Session,
		cfg:                   opts.Cfg,
		mode:                  opts.Mode,
		command:               opts.Command,
		cwd:                   opts.Cwd,
		timeoutMs:             opts.TimeoutMs,
		handoffPreviewWanted:  opts.HandoffPreview,
		handoffSnapshotWanted: opts.HandoffSnapshot,
		log:                   opts.Log,
		onUpdate:              opts.OnUpdate,
		onUnregisterActive:    opts.OnUnregisterActive,
		onAutoCloseDue:        opts.OnAutoCloseDue,
		emitCursor:            opts.Session.NewCursor(),
		drainCursor:           opts.Session.NewCursor(),
		startedAt:             time.Now(),
	}
	if c.log == nil {
		c.log = activitylog.Nop()
	}
	if opts.Mode == ModeHandsFree {
		c.state = StateHandsFree
		c.handsFreeEver = true
		c.armInitialDelayLocked()
		c.armIntervalTimerLocked()
	} else {
		c.state = StateRunning
	}
	c.session.OnData(c.handleSessionData)
	c.session.OnExit(c.handleSessionExit)
	c.mu.Lock()
	c.armTimeoutLocked()
	c.mu.Unlock()
	return c
}

// ID returns the session identifier this controller was constructed with.
func (c *Controller) ID() string { return c.id }

// Session returns the underlying PtySession, for collaborators that need
// direct viewport/scroll access alongside the controller — namely
// internal/overlay's Presenter, which is constructed from both.
func (c *Controller) Session() *ptysession.Session { return c.session }

// State returns the current state under lock.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetRuntime returns elapsed time since construction, in milliseconds.
func (c *Controller) GetRuntime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.startedAt).Milliseconds()
}

// Finished reports whether the terminal Exited state has been reached.
func (c *Controller) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// OnComplete registers cb to run exactly once with the final Result. If the
// controller has already finished, cb runs synchronously before returning.
func (c *Controller) OnComplete(cb func(Result)) {
	c.mu.Lock()
	if c.finished {
		res := *c.result
		c.mu.Unlock()
		cb(res)
		return
	}
	c.completeCBs = append(c.completeCBs, cb)
	c.mu.Unlock()
}

func (c *Controller) armInitialDelayLocked() {
	d := time.Duration(c.cfg.QuietThresholdMs) * time.Millisecond
	c.initialDelayTimer = time.AfterFunc(d, func() {})
}

func (c *Controller) armIntervalTimerLocked() {
	d := time.Duration(c.cfg.HandsFreeUpdateIntervalMs) * time.Millisecond
	c.intervalTimer = time.AfterFunc(d, c.onIntervalTick)
}

func (c *Controller) armTimeoutLocked() {
	if c.timeoutMs <= 0 {
		return
	}
	c.timeoutTimer = time.AfterFunc(time.Duration(c.timeoutMs)*time.Millisecond, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.finished {
			return
		}
		c.timedOut = true
		c.finishLocked(HandoffTimeout, true, false, false)
	})
}

func (c *Controller) armExitCountdownLocked() {
	d := time.Duration(c.cfg.ExitAutoCloseDelaySeconds) * time.Second
	if d <= 0 {
		return
	}
	c.exitCountdownTimer = time.AfterFunc(d, func() {
		if c.onAutoCloseDue != nil {
			c.onAutoCloseDue()
		}
	})
}

func (c *Controller) stopAllTimersLocked() {
	for _, t := range []*time.Timer{
		c.initialDelayTimer, c.intervalTimer, c.quietTimer,
		c.exitCountdownTimer, c.timeoutTimer, c.escapeTimer,
	} {
		if t != nil {
			t.Stop()
		}
	}
}

func (c *Controller) stopHandsFreeTimersLocked() {
	if c.quietTimer != nil {
		c.quietTimer.Stop()
	}
	if c.intervalTimer != nil {
		c.intervalTimer.Stop()
	}
	if c.initialDelayTimer != nil {
		c.initialDelayTimer.Stop()
	}
}

// handleSessionData is the PtySession on_data callback. It marks unsent
// data and, in HandsFree/OnQuiet mode, re-arms the quiet timer on every
// call, per spec.md §4.2.
func (c *Controller) handleSessionData() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.hasUnsentData = true
	c.lastDataTime = time.Now()
	if c.state == StateHandsFree && c.cfg.HandsFreeUpdateMode == config.UpdateModeOnQuiet {
		c.resetQuietTimerLocked()
	}
}

func (c *Controller) resetQuietTimerLocked() {
	if c.quietTimer != nil {
		c.quietTimer.Stop()
	}
	d := time.Duration(c.cfg.QuietThresholdMs) * time.Millisecond
	c.quietTimer = time.AfterFunc(d, c.onQuietElapsed)
}

func (c *Controller) onQuietElapsed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished || c.state != StateHandsFree {
		return
	}
	if c.cfg.HandsFreeUpdateMode != config.UpdateModeOnQuiet {
		return
	}
	if c.hasUnsentData {
		c.emitHandsFreeUpdateLocked()
	}
}

func (c *Controller) onIntervalTick() {
	c.mu.Lock()
	if c.finished || c.state != StateHandsFree {
		c.mu.Unlock()
		return
	}
	if c.cfg.HandsFreeUpdateMode == config.UpdateModeInterval {
		c.emitHandsFreeUpdateLocked()
	} else if c.hasUnsentData {
		c.emitHandsFreeUpdateLocked()
	}
	d := time.Duration(c.cfg.HandsFreeUpdateIntervalMs) * time.Millisecond
	c.intervalTimer = time.AfterFunc(d, c.onIntervalTick)
	c.mu.Unlock()
}

// emitHandsFreeUpdateLocked implements the OnQuiet/Interval emission and
// budget policy of spec.md §4.2 and invariants 4/5.
func (c *Controller) emitHandsFreeUpdateLocked() {
	if c.budgetExhausted {
		c.emitLocked(Update{Kind: UpdateRunning, BudgetExhausted: true, TotalCharsSent: c.totalCharsSent})
		c.hasUnsentData = false
		return
	}

	raw := c.session.ReadSince(c.emitCursor, true)
	joined := strings.TrimRight(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	if c.cfg.UpdateMaxChars > 0 && len(joined) > c.cfg.UpdateMaxChars {
		joined = joined[len(joined)-c.cfg.UpdateMaxChars:]
	}

	remaining := c.cfg.TotalBudgetMaxChars - c.totalCharsSent
	if remaining < 0 {
		remaining = 0
	}
	if len(joined) >= remaining {
		joined = joined[:remaining]
		c.budgetExhausted = true
	}
	c.totalCharsSent += len(joined)
	if c.totalCharsSent >= c.cfg.TotalBudgetMaxChars {
		c.budgetExhausted = true
	}
	if c.budgetExhausted && c.log != nil {
		c.log.BudgetExhausted(c.totalCharsSent)
	}

	c.emitLocked(Update{
		Kind:            UpdateRunning,
		Tail:            splitLines([]byte(joined)),
		BudgetExhausted: c.budgetExhausted,
		TotalCharsSent:  c.totalCharsSent,
	})
	c.hasUnsentData = false
}

func (c *Controller) flushPendingUpdateLocked() {
	if c.handsFreeEver && c.hasUnsentData {
		c.emitHandsFreeUpdateLocked()
	}
}

func (c *Controller) emitLocked(u Update) {
	u.SessionID = c.id
	u.RuntimeMs = time.Since(c.startedAt).Milliseconds()
	if c.onUpdate != nil {
		c.onUpdate(u)
	}
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	s := strings.TrimRight(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if s == "" {
		return []string{""}
	}
	return strings.Split(s, "\n")
}

// HandleUserInput processes one raw input event from the overlay. isScroll
// marks a recognized scroll key; isEscape marks the escape key, which
// starts or completes the double-escape detach window. A scroll key and
// the first escape never trigger takeover; the second escape within the
// threshold opens the detach dialog, which first takes over a HandsFree
// session.
func (c *Controller) HandleUserInput(isScroll, isEscape bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished || c.state == StateDetachDialog {
		return
	}
	if isEscape {
		if c.escapePending {
			c.escapePending = false
			if c.escapeTimer != nil {
				c.escapeTimer.Stop()
			}
			c.enterDetachDialogLocked()
			return
		}
		c.escapePending = true
		d := time.Duration(c.cfg.DoubleEscapeThresholdMs) * time.Millisecond
		c.escapeTimer = time.AfterFunc(d, func() {
			c.mu.Lock()
			c.escapePending = false
			c.mu.Unlock()
		})
		return
	}
	if isScroll {
		return
	}
	c.escapePending = false
	if c.state == StateHandsFree {
		c.takeoverLocked()
	}
}

func (c *Controller) enterDetachDialogLocked() {
	if c.state == StateHandsFree {
		c.takeoverLocked()
	}
	c.prevState = c.state
	c.state = StateDetachDialog
}

func (c *Controller) takeoverLocked() {
	if c.userTookOver {
		return
	}
	c.userTookOver = true
	c.flushPendingUpdateLocked()
	c.emitLocked(Update{Kind: UpdateUserTakeover})
	c.state = StateRunning
	c.stopHandsFreeTimersLocked()
	if c.log != nil {
		c.log.Takeover()
	}
	if c.onUnregisterActive != nil {
		c.onUnregisterActive(c.id, false)
	}
}

// SelectDetach resolves a pending DetachDialog with the user's choice.
func (c *Controller) SelectDetach(sel DetachSelection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDetachDialog {
		return
	}
	if c.log != nil {
		c.log.Detach(string(sel))
	}
	switch sel {
	case DetachCancel:
		c.state = c.prevState
	case DetachKill:
		c.finishLocked(HandoffKill, true, false, false)
	case DetachBackground:
		c.finishLocked(HandoffDetach, false, true, false)
	case DetachMinimize:
		c.finishLocked(HandoffDetach, false, false, true)
	}
}

// Kill terminates the child and transitions to Exited. Idempotent.
func (c *Controller) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finishLocked(HandoffKill, true, false, false)
}

// Write sends already-encoded bytes to the child. Callers translate
// structured input via internal/keyenc before calling Write directly; this
// path is for the overlay's interactive keystrokes. Write itself does not
// classify input: the overlay reports each keystroke separately through
// HandleUserInput, which decides whether it is a takeover.
func (c *Controller) Write(p []byte) (int, error) {
	return c.session.Write(p)
}

func (c *Controller) handleSessionExit(_ ptysession.ExitInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finishLocked(HandoffExit, false, false, false)
}

// finishLocked is the single path into the terminal Exited state, reached
// via child exit, kill, timeout, or a detach-dialog selection. It is a
// one-way latch: c.finished guards every caller.
func (c *Controller) finishLocked(when HandoffWhen, dispose, backgrounded, minimized bool) {
	if c.finished {
		return
	}
	c.finished = true
	c.state = StateExited
	c.stopAllTimersLocked()
	c.flushPendingUpdateLocked()

	exitInfo, _ := c.session.ExitInfo()
	res := Result{
		SessionID:    c.id,
		ExitCode:     exitInfo.Code,
		Signal:       exitInfo.Signal,
		Backgrounded: backgrounded,
		Minimized:    minimized,
		Cancelled:    false,
		TimedOut:     c.timedOut,
		UserTookOver: c.userTookOver,
	}
	if backgrounded || minimized {
		res.Session = c.session
	}
	if c.handoffPreviewWanted {
		res.Preview = c.computeHandoffPreview(when)
	}
	if c.handoffSnapshotWanted {
		if path, err := c.writeHandoffSnapshot(when); err == nil {
			res.SnapshotPath = path
		} else if c.log != nil {
			c.log.ConfigWarning("handoff snapshot: " + err.Error())
		}
	}

	if c.log != nil {
		c.log.SessionExited(exitInfo.Code, exitInfo.Signal)
	}

	c.emitLocked(Update{Kind: UpdateExited, Result: &res})
	c.armExitCountdownLocked()

	if c.onUnregisterActive != nil {
		c.onUnregisterActive(c.id, !backgrounded && !minimized)
	}
	if dispose {
		c.session.Kill()
	}

	c.result = &res
	cbs := c.completeCBs
	c.completeCBs = nil
	for _, cb := range cbs {
		cb(res)
	}
}
