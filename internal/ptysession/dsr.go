package ptysession

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vito/midterm"
)

// replyDSR answers a Device Status Report cursor-position query (ESC[6n or
// ESC[?6n) synchronously with the emulator's current cursor position, so a
// child that queries the cursor before writing does not hang waiting for a
// real terminal. Grounded on the interactive-runner pattern of scanning
// freshly read child output for these two byte sequences and writing the
// reply straight back to the PTY master, before the bytes reach any other
// consumer.
func replyDSR(ptm *os.File, vt *midterm.Terminal, data []byte) {
	if !bytes.Contains(data, []byte("\x1b[6n")) && !bytes.Contains(data, []byte("\x1b[?6n")) {
		return
	}
	row, col := 1, 1
	if vt != nil {
		row, col = vt.Cursor.Y+1, vt.Cursor.X+1
	}
	fmt.Fprintf(ptm, "\x1b[%d;%dR", row, col)
}

// replyOSCColors answers OSC 10 (foreground) / OSC 11 (background) color
// queries with cached or environment-derived colors, mirroring VT.RespondOSCColors.
func replyOSCColors(ptm *os.File, data []byte, fg, bg string) {
	if fg == "" || bg == "" {
		fbFg, fbBg := fallbackOSCPalette(os.Getenv("COLORFGBG"))
		if fg == "" {
			fg = fbFg
		}
		if bg == "" {
			bg = fbBg
		}
	}
	if bytes.Contains(data, []byte("\x1b]10;?")) {
		fmt.Fprintf(ptm, "\x1b]10;%s\x1b\\", fg)
	}
	if bytes.Contains(data, []byte("\x1b]11;?")) {
		fmt.Fprintf(ptm, "\x1b]11;%s\x1b\\", bg)
	}
}

// fallbackOSCPalette derives OSC 10/11-compatible X11 rgb values from
// COLORFGBG when no explicit color was ever recorded. Adapted from the
// teacher's FallbackOSCPalette in virtualterminal/util.go.
func fallbackOSCPalette(colorfgbg string) (fg, bg string) {
	parts := strings.Split(strings.TrimSpace(colorfgbg), ";")
	bgDark := true
	bgField := ""
	if len(parts) >= 2 {
		bgField = strings.TrimSpace(parts[1])
	} else if len(parts) == 1 {
		bgField = strings.TrimSpace(parts[0])
	}
	if bgField != "" {
		if idx, err := strconv.Atoi(bgField); err == nil {
			bgDark = idx < 8
		}
	}
	if bgDark {
		return "rgb:ffff/ffff/ffff", "rgb:0000/0000/0000"
	}
	return "rgb:0000/0000/0000", "rgb:ffff/ffff/ffff"
}
