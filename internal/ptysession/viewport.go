package ptysession

import (
	"strings"

	"github.com/vito/midterm"
)

// GetViewportLines returns exactly rows screen lines from the live emulator,
// optionally re-emitting SGR color codes per line.
func (s *Session) GetViewportLines(ansi bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vt == nil {
		return nil
	}
	lines := make([]string, len(s.vt.Content))
	for i := range s.vt.Content {
		lines[i] = renderRow(s.vt, i, ansi)
	}
	return lines
}

// GetTailLines returns the last n rendered lines from the append-only
// scrollback terminal, bounded by maxChars total.
func (s *Session) GetTailLines(n int, ansi bool, maxChars int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scrollback == nil {
		return nil
	}
	total := len(s.scrollback.Content)
	start := total - n
	if start < 0 {
		start = 0
	}
	var out []string
	budget := maxChars
	for i := start; i < total; i++ {
		line := renderRow(s.scrollback, i, ansi)
		if maxChars > 0 {
			if budget <= 0 {
				break
			}
			if len(line) > budget {
				line = line[:budget]
			}
			budget -= len(line)
		}
		out = append(out, line)
	}
	return out
}

// GetLines returns up to maxLines rendered scrollback lines starting at
// offset (0-indexed from the oldest retained line), capped at maxChars
// total. total is the number of lines currently retained, letting callers
// compute has_more for offset/incremental query reads.
func (s *Session) GetLines(offset, maxLines, maxChars int, ansi bool) (lines []string, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scrollback == nil {
		return nil, 0
	}
	total = len(s.scrollback.Content)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total
	}
	end := total
	if maxLines > 0 && offset+maxLines < end {
		end = offset + maxLines
	}
	budget := maxChars
	for i := offset; i < end; i++ {
		line := renderRow(s.scrollback, i, ansi)
		if maxChars > 0 {
			if budget <= 0 {
				break
			}
			if len(line) > budget {
				line = line[:budget]
			}
			budget -= len(line)
		}
		lines = append(lines, line)
	}
	return lines, total
}

// renderRow renders one row of t to a string. With ansi, SGR regions are
// re-emitted with an explicit reset between them (midterm's own RenderLine
// does not reset between regions, which bleeds backgrounds across them);
// without ansi, only the plain rune content is returned.
func renderRow(t *midterm.Terminal, row int, ansi bool) string {
	if row < 0 || row >= len(t.Content) {
		return ""
	}
	line := t.Content[row]
	if !ansi {
		return strings.TrimRight(string(line), " ")
	}
	var b strings.Builder
	var pos int
	var lastFormat midterm.Format
	for region := range t.Format.Regions(row) {
		f := region.F
		if f != lastFormat {
			b.WriteString("\033[0m")
			b.WriteString(f.Render())
			lastFormat = f
		}
		end := pos + region.Size
		if pos < len(line) {
			contentEnd := end
			if contentEnd > len(line) {
				contentEnd = len(line)
			}
			b.WriteString(string(line[pos:contentEnd]))
		}
		pos = end
	}
	b.WriteString("\033[0m")
	return b.String()
}

// ScrollUp moves the scroll offset toward older output by n lines.
func (s *Session) ScrollUp(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	if s.scrollback != nil {
		max = len(s.scrollback.Content)
	}
	s.scrollOffset += n
	if s.scrollOffset > max {
		s.scrollOffset = max
	}
}

// ScrollDown moves the scroll offset toward newer output by n lines.
func (s *Session) ScrollDown(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrollOffset -= n
	if s.scrollOffset < 0 {
		s.scrollOffset = 0
	}
}

// ScrollToBottom resets the scroll offset to live output.
func (s *Session) ScrollToBottom() {
	s.mu.Lock()
	s.scrollOffset = 0
	s.mu.Unlock()
}

// IsScrolledUp reports whether the viewport is showing history rather than
// the live tail.
func (s *Session) IsScrolledUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollOffset > 0
}

// ScrollOffset returns the number of lines the viewport is currently
// scrolled back from the live tail, for callers that compute their own
// windowed read over the scrollback (e.g. GetLines).
func (s *Session) ScrollOffset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollOffset
}

// ScrollbackLen returns the number of lines currently retained in the
// scrollback, letting a caller compute a GetLines window without rendering
// the whole history just to learn its length.
func (s *Session) ScrollbackLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scrollback == nil {
		return 0
	}
	return len(s.scrollback.Content)
}

