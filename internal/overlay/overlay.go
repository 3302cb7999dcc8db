// Package overlay implements the Overlay Presenter: the user-visible
// surface bound 1:1 to a live SessionController. It forwards a human's raw
// keystrokes through the controller (which decides whether they constitute
// a takeover), recognizes scroll and double-escape-to-detach gestures
// locally, and drives the detach dialog. Actual terminal I/O — raw mode,
// screen geometry, ioctl resize — is an external collaborator's job; this
// package only decides which lines to show and hands them to a
// caller-supplied LineSink. Grounded on the teacher's session/client
// package: the InputMode enum, the PendingEsc/EscTimer double-escape
// pattern, and the byte-at-a-time CSI scanner in HandleCSI, adapted from a
// slash-menu REPL overlay to drive a SessionController instead of a raw
// virtual terminal.
package overlay

import (
	"time"

	"github.com/nicobailon/pi-interactive-shell/internal/controller"
	"github.com/nicobailon/pi-interactive-shell/internal/ptysession"
)

// InputMode is the overlay's own notion of what a keystroke means, which is
// finer-grained than the controller's State: Scroll is a presentation-only
// mode the controller never sees, since scroll keys never trigger takeover.
type InputMode int

const (
	ModeDefault InputMode = iota
	ModeScroll
	ModeDetachDialog
)

// DetachMenuItems are presented, in order, when the detach dialog opens.
var DetachMenuItems = []controller.DetachSelection{
	controller.DetachCancel,
	controller.DetachBackground,
	controller.DetachMinimize,
	controller.DetachKill,
}

// LineSink receives the lines the presenter wants drawn, oldest first. The
// caller owns the actual screen: clearing, cursor placement, and any chrome
// (status bar, borders) around what LineSink is given.
type LineSink func(lines []string)

const renderTick = 33 * time.Millisecond

// Presenter is the overlay bound to one controller/session pair. Drive it
// from a single goroutine feeding HandleInput; Run's render loop may run
// concurrently from another.
type Presenter struct {
	ctl     *controller.Controller
	session *ptysession.Session

	mode    InputMode
	menuIdx int

	pendingCSI []byte

	render LineSink
	rows   int
	ansi   bool

	stopRenderLoop chan struct{}
}

// New constructs a Presenter for ctl/session. render is called with the
// lines to display whenever the render loop ticks or the mode changes.
// rows is how many lines the caller's viewport can show; ansi selects
// whether re-emitted color codes are included in rendered lines.
func New(ctl *controller.Controller, session *ptysession.Session, render LineSink, rows int, ansi bool) *Presenter {
	if rows <= 0 {
		rows = 24
	}
	return &Presenter{ctl: ctl, session: session, render: render, rows: rows, ansi: ansi}
}

// Mode reports the presenter's current input mode.
func (p *Presenter) Mode() InputMode { return p.mode }

// Run starts the render loop: a fixed-interval poll of the session's
// viewport, since the session's single on_data handler already belongs to
// the controller (spec.md §4.1 allows at most one). Run blocks until Close
// is called or the controller finishes; call it from its own goroutine.
func (p *Presenter) Run() {
	p.stopRenderLoop = make(chan struct{})
	ticker := time.NewTicker(renderTick)
	defer ticker.Stop()

	p.RequestRender()
	for {
		select {
		case <-ticker.C:
			p.RequestRender()
			if p.ctl.Finished() {
				return
			}
		case <-p.stopRenderLoop:
			return
		}
	}
}

// Close stops the render loop started by Run. Idempotent.
func (p *Presenter) Close() {
	if p.stopRenderLoop == nil {
		return
	}
	select {
	case <-p.stopRenderLoop:
	default:
		close(p.stopRenderLoop)
	}
}

// RequestRender computes the current lines and hands them to the LineSink.
func (p *Presenter) RequestRender() {
	if p.render == nil {
		return
	}
	p.render(p.currentLines())
}
