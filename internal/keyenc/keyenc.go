// Package keyenc translates driver-supplied input — a raw string or a
// structured record of text/keys/hex/paste — into the bytes a child process
// expects on its PTY. It is a pure function from a small key-token grammar
// to bytes, kept separate from the rest of the engine so it is trivially
// testable, per spec.md §9 Design Notes.
package keyenc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Input is the structured form of one driver input event. At most one of
// the raw string form or this structured form is used per call; Encode
// concatenates, in order: decoded hex bytes, Text, each Keys token, and
// Paste wrapped in bracketed-paste markers.
type Input struct {
	Text  string
	Keys  []string
	Hex   []string
	Paste string
}

const (
	bracketedPasteStart = "\x1b[200~"
	bracketedPasteEnd   = "\x1b[201~"
)

// EncodeRaw returns s unchanged: translating a raw string produces the
// string's bytes verbatim, per spec.md §8's round-trip law.
func EncodeRaw(s string) []byte {
	return []byte(s)
}

// Encode translates a structured Input into PTY-bound bytes. An input with
// only Text produces exactly the Text bytes, per spec.md §8.
func Encode(in Input) ([]byte, error) {
	var out []byte

	for _, h := range in.Hex {
		decoded, err := hex.DecodeString(strings.TrimSpace(h))
		if err != nil {
			return nil, fmt.Errorf("keyenc: invalid hex %q: %w", h, err)
		}
		out = append(out, decoded...)
	}

	out = append(out, in.Text...)

	for _, k := range in.Keys {
		out = append(out, EncodeKey(k)...)
	}

	if in.Paste != "" {
		out = append(out, bracketedPasteStart...)
		out = append(out, in.Paste...)
		out = append(out, bracketedPasteEnd...)
	}

	return out, nil
}

type modifiers struct {
	shift, alt, ctrl bool
}

// xtermMod returns the xterm modifier number: mod = 1 + shift + 2*alt + 4*ctrl.
func (m modifiers) xtermMod() int {
	n := 1
	if m.shift {
		n++
	}
	if m.alt {
		n += 2
	}
	if m.ctrl {
		n += 4
	}
	return n
}

func (m modifiers) any() bool {
	return m.shift || m.alt || m.ctrl
}

var modifierPrefixes = []struct {
	prefix string
	set    func(*modifiers)
}{
	{"ctrl+", func(m *modifiers) { m.ctrl = true }},
	{"ctrl-", func(m *modifiers) { m.ctrl = true }},
	{"c-", func(m *modifiers) { m.ctrl = true }},
	{"alt+", func(m *modifiers) { m.alt = true }},
	{"alt-", func(m *modifiers) { m.alt = true }},
	{"m-", func(m *modifiers) { m.alt = true }},
	{"shift+", func(m *modifiers) { m.shift = true }},
	{"shift-", func(m *modifiers) { m.shift = true }},
	{"s-", func(m *modifiers) { m.shift = true }},
}

// parseModifiers strips any combination of modifier prefixes, in any order,
// from tok and returns the remaining base token.
func parseModifiers(tok string) (modifiers, string) {
	var m modifiers
	for {
		matched := false
		lower := strings.ToLower(tok)
		for _, p := range modifierPrefixes {
			if strings.HasPrefix(lower, p.prefix) {
				p.set(&m)
				tok = tok[len(p.prefix):]
				matched = true
				break
			}
		}
		if !matched {
			break
		}
	}
	return m, tok
}

// xtermLetterBase maps a base navigation token to its xterm CSI letter;
// tokens that use the `~` tilde encoding are in xtermTildeBase instead.
var xtermLetterBase = map[string]string{
	"up": "A", "down": "B", "right": "C", "left": "D",
	"home": "H", "end": "F",
}

var xtermTildeBase = map[string]string{
	"insert": "2", "ic": "2",
	"delete": "3", "del": "3", "dc": "3",
	"pageup": "5", "pgup": "5", "ppage": "5",
	"pagedown": "6", "pgdn": "6", "npage": "6",
}

var functionKeyTilde = map[string]string{
	"f1": "11", "f2": "12", "f3": "13", "f4": "14", "f5": "15",
	"f6": "17", "f7": "18", "f8": "19", "f9": "20", "f10": "21",
	"f11": "23", "f12": "24",
}

// ctrlLetterCode applies the standard C0 mapping for ctrl+<letter>.
func ctrlLetterCode(letter byte) (byte, bool) {
	u := letter
	if u >= 'a' && u <= 'z' {
		u -= 'a' - 'A'
	}
	switch {
	case u >= 'A' && u <= 'Z':
		return u - 'A' + 1, true
	case u == '[':
		return 0x1B, true
	case u == '\\':
		return 0x1C, true
	case u == ']':
		return 0x1D, true
	case u == '^':
		return 0x1E, true
	case u == '_':
		return 0x1F, true
	case u == '?':
		return 0x7F, true
	}
	return 0, false
}

// EncodeKey translates a single key token (with optional modifier prefixes)
// into PTY bytes. Unknown tokens are forwarded literally, per spec.md §4.5.
func EncodeKey(tok string) []byte {
	mods, base := parseModifiers(tok)
	lower := strings.ToLower(base)

	if lower == "tab" && mods.shift && !mods.alt && !mods.ctrl {
		return []byte("\x1b[Z")
	}
	if lower == "btab" {
		return []byte("\x1b[Z")
	}
	if lower == "tab" && !mods.any() {
		return []byte{0x09}
	}

	if letter, ok := xtermLetterBase[lower]; ok {
		return encodeXterm(letter, "", mods)
	}
	if code, ok := xtermTildeBase[lower]; ok {
		return encodeXterm("~", code, mods)
	}
	if code, ok := functionKeyTilde[lower]; ok {
		return encodeXterm("~", code, mods)
	}

	switch lower {
	case "enter", "return":
		return []byte{'\r'}
	case "escape", "esc":
		return []byte{0x1B}
	case "space":
		return applySingleCharMods(' ', mods)
	case "backspace", "bspace":
		return []byte{0x7F}
	case "kpenter":
		return []byte("\x1bOM")
	case "kp0":
		return []byte("\x1bOp")
	case "kp1":
		return []byte("\x1bOq")
	case "kp2":
		return []byte("\x1bOr")
	case "kp3":
		return []byte("\x1bOs")
	case "kp4":
		return []byte("\x1bOt")
	case "kp5":
		return []byte("\x1bOu")
	case "kp6":
		return []byte("\x1bOv")
	case "kp7":
		return []byte("\x1bOw")
	case "kp8":
		return []byte("\x1bOx")
	case "kp9":
		return []byte("\x1bOy")
	case "kp/":
		return []byte("\x1bOo")
	case "kp*":
		return []byte("\x1bOj")
	case "kp-":
		return []byte("\x1bOm")
	case "kp+":
		return []byte("\x1bOk")
	case "kp.":
		return []byte("\x1bOn")
	}

	if len(base) == 1 {
		return applySingleCharMods(rune(base[0]), mods)
	}

	return []byte(tok)
}

// applySingleCharMods implements the single-printable-character rules:
// shift -> uppercase, ctrl -> C0 mapping, alt -> ESC prefix.
func applySingleCharMods(r rune, mods modifiers) []byte {
	if mods.ctrl {
		if code, ok := ctrlLetterCode(byte(r)); ok {
			if mods.alt {
				return []byte{0x1B, code}
			}
			return []byte{code}
		}
	}
	if mods.shift {
		r = toUpperASCII(r)
	}
	var out []byte
	if mods.alt {
		out = append(out, 0x1B)
	}
	return append(out, byte(r))
}

func toUpperASCII(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

// encodeXterm emits ESC[<n>;<mod><letter> (when letter != "") or
// ESC[<n>;<mod>~ (when tildeCode != ""), omitting the leading "1;<mod>"
// parameter pair entirely when there are no modifiers, per xterm convention.
func encodeXterm(letter, tildeCode string, mods modifiers) []byte {
	if !mods.any() {
		if letter != "" && letter != "~" {
			return []byte("\x1b[" + letter)
		}
		return []byte("\x1b[" + tildeCode + "~")
	}
	mod := mods.xtermMod()
	if letter != "" && letter != "~" {
		return []byte(fmt.Sprintf("\x1b[1;%d%s", mod, letter))
	}
	return []byte(fmt.Sprintf("\x1b[%s;%d~", tildeCode, mod))
}
