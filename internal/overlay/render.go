package overlay

import (
	"fmt"

	"github.com/nicobailon/pi-interactive-shell/internal/controller"
)

// currentLines computes the lines the caller's LineSink should draw for the
// presenter's current mode: the live viewport normally, a scrollback window
// while scrolled, or the detach dialog menu while it is open.
func (p *Presenter) currentLines() []string {
	if p.mode == ModeDetachDialog {
		return p.detachDialogLines()
	}
	if p.session.IsScrolledUp() {
		return p.scrollbackWindowLines()
	}
	return p.session.GetViewportLines(p.ansi)
}

// scrollbackWindowLines reads a rows-tall window out of the scrollback
// ending scrollOffset lines short of the live tail.
func (p *Presenter) scrollbackWindowLines() []string {
	total := p.session.ScrollbackLen()
	offset := p.session.ScrollOffset()
	end := total - offset
	if end < 0 {
		end = 0
	}
	start := end - p.rows
	if start < 0 {
		start = 0
	}
	lines, _ := p.session.GetLines(start, end-start, 0, p.ansi)
	return lines
}

// detachDialogLines renders the double-escape detach menu: a short banner
// plus one line per DetachMenuItems entry, with the selected entry marked.
func (p *Presenter) detachDialogLines() []string {
	lines := make([]string, 0, len(DetachMenuItems)+1)
	lines = append(lines, "Detach session — choose an action:")
	for i, sel := range DetachMenuItems {
		marker := "  "
		if i == p.menuIdx {
			marker = "> "
		}
		lines = append(lines, fmt.Sprintf("%s%s", marker, detachLabel(sel)))
	}
	return lines
}

func detachLabel(sel controller.DetachSelection) string {
	switch sel {
	case controller.DetachCancel:
		return "Cancel (resume)"
	case controller.DetachBackground:
		return "Background (keep running, reattach later)"
	case controller.DetachMinimize:
		return "Minimize (hide until restored)"
	case controller.DetachKill:
		return "Kill (terminate the child)"
	default:
		return string(sel)
	}
}
