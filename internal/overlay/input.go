package overlay

import "github.com/nicobailon/pi-interactive-shell/internal/controller"

// HandleInput dispatches one chunk of raw keystroke bytes read from the
// human's terminal. Everything destined for the PTY goes through
// controller.Write, which waits for the PTY write to finish for at most the
// session's write timeout, so a hung child delays it by no more than that.
func (p *Presenter) HandleInput(buf []byte) {
	for i := 0; i < len(buf); {
		if p.mode == ModeDetachDialog {
			i = p.handleDetachDialogByte(buf, i)
			continue
		}
		i = p.handlePassthroughByte(buf, i)
		p.syncModeWithController()
	}
	p.RequestRender()
}

// syncModeWithController reconciles the presenter's own InputMode with the
// controller's authoritative State after a HandleUserInput call, since only
// the controller knows when a double-escape has opened or a Cancel has
// closed the detach dialog.
func (p *Presenter) syncModeWithController() {
	switch p.ctl.State() {
	case controller.StateDetachDialog:
		if p.mode != ModeDetachDialog {
			p.mode = ModeDetachDialog
			p.menuIdx = 0
		}
	default:
		if p.mode == ModeDetachDialog {
			p.mode = ModeDefault
		}
	}
}

// handlePassthroughByte consumes one logical keystroke (a single byte, or a
// full CSI/SS3 escape sequence) starting at i, forwards it to the child
// unless it is a recognized scroll or escape gesture, and reports the
// event to the controller for takeover/detach classification.
func (p *Presenter) handlePassthroughByte(buf []byte, i int) int {
	b := buf[i]

	if b == 0x1B {
		consumed, isScroll, handledLocally := p.classifyEscape(buf[i+1:])
		if !handledLocally {
			p.ctl.Write(buf[i : i+1+consumed])
		}
		p.ctl.HandleUserInput(isScroll, consumed == 0)
		return i + 1 + consumed
	}

	if p.mode == ModeScroll {
		switch b {
		case 'k':
			p.session.ScrollUp(1)
			p.ctl.HandleUserInput(true, false)
			return i + 1
		case 'j':
			p.session.ScrollDown(1)
			p.ctl.HandleUserInput(true, false)
			return i + 1
		case 'q':
			p.session.ScrollToBottom()
			p.mode = ModeDefault
			p.ctl.HandleUserInput(true, false)
			return i + 1
		}
	}

	p.ctl.Write([]byte{b})
	p.ctl.HandleUserInput(false, false)
	return i + 1
}

// classifyEscape scans the bytes following an ESC (already consumed by the
// caller) for a CSI or SS3 sequence. It returns how many further bytes
// belong to the sequence, whether the sequence is a recognized scroll
// gesture, and whether the sequence was fully handled locally (and so must
// not be forwarded to the child).
func (p *Presenter) classifyEscape(rest []byte) (consumed int, isScroll, handledLocally bool) {
	if len(rest) == 0 {
		return 0, false, false
	}
	switch rest[0] {
	case '[':
		return p.classifyCSI(rest[1:])
	case 'O':
		if len(rest) >= 2 {
			return 2, false, false
		}
		return 1, false, false
	}
	return 0, false, false
}

// classifyCSI scans a CSI body (after ESC [), returning the number of bytes
// belonging to it (not counting the two already consumed), whether it is a
// recognized scroll key (PageUp/PageDown), and whether it was consumed
// locally (toggling scroll mode) rather than forwarded.
func (p *Presenter) classifyCSI(rest []byte) (consumed int, isScroll, handledLocally bool) {
	i := 0
	for i < len(rest) && rest[i] >= 0x30 && rest[i] <= 0x3F {
		i++
	}
	for i < len(rest) && rest[i] >= 0x20 && rest[i] <= 0x2F {
		i++
	}
	if i >= len(rest) {
		return i, false, false
	}
	final := rest[i]
	body := string(rest[:i])

	switch {
	case final == '~' && body == "5": // PageUp
		p.session.ScrollUp(p.rows - 1)
		p.mode = ModeScroll
		return i + 1, true, true
	case final == '~' && body == "6": // PageDown
		p.session.ScrollDown(p.rows - 1)
		if !p.session.IsScrolledUp() {
			p.mode = ModeDefault
		}
		return i + 1, true, true
	}
	return i + 1, false, false
}

// handleDetachDialogByte interprets one byte while the detach dialog is
// open: up/down cycle the selection, enter confirms, escape cancels.
func (p *Presenter) handleDetachDialogByte(buf []byte, i int) int {
	b := buf[i]

	if b == 0x1B {
		if i+2 < len(buf) && buf[i+1] == '[' {
			switch buf[i+2] {
			case 'A':
				p.menuPrev()
				return i + 3
			case 'B':
				p.menuNext()
				return i + 3
			}
		}
		p.ctl.SelectDetach(controller.DetachCancel)
		p.mode = ModeDefault
		return i + 1
	}

	switch b {
	case 0x0D, 0x0A:
		p.ctl.SelectDetach(DetachMenuItems[p.menuIdx])
		p.mode = ModeDefault
		return i + 1
	case 'k':
		p.menuPrev()
		return i + 1
	case 'j':
		p.menuNext()
		return i + 1
	}
	return i + 1
}

func (p *Presenter) menuPrev() {
	p.menuIdx--
	if p.menuIdx < 0 {
		p.menuIdx = len(DetachMenuItems) - 1
	}
}

func (p *Presenter) menuNext() {
	p.menuIdx = (p.menuIdx + 1) % len(DetachMenuItems)
}
