package keyenc

import (
	"bytes"
	"testing"
)

func TestEncodeRaw_RoundTrip(t *testing.T) {
	s := "echo hello\n"
	got := EncodeRaw(s)
	if string(got) != s {
		t.Fatalf("got %q, want %q", got, s)
	}
}

func TestEncode_TextOnlyIsVerbatim(t *testing.T) {
	got, err := Encode(Input{Text: "hello world"})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want verbatim text", got)
	}
}

func TestEncode_HexTextKeysPasteOrdering(t *testing.T) {
	got, err := Encode(Input{
		Hex:   []string{"41"},
		Text:  "B",
		Keys:  []string{"enter"},
		Paste: "C",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "A" + "B" + "\r" + "\x1b[200~C\x1b[201~"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncode_InvalidHexErrors(t *testing.T) {
	_, err := Encode(Input{Hex: []string{"zz"}})
	if err == nil {
		t.Fatal("expected error for invalid hex")
	}
}

func TestEncodeKey_Arrows(t *testing.T) {
	cases := map[string]string{
		"up": "\x1b[A", "down": "\x1b[B", "right": "\x1b[C", "left": "\x1b[D",
	}
	for tok, want := range cases {
		if got := string(EncodeKey(tok)); got != want {
			t.Errorf("EncodeKey(%q) = %q, want %q", tok, got, want)
		}
	}
}

func TestEncodeKey_ArrowsWithModifiers(t *testing.T) {
	// mod = 1 + shift(1) + alt(2) + ctrl(4)
	got := string(EncodeKey("ctrl+up"))
	want := "\x1b[1;5A"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	got = string(EncodeKey("shift+left"))
	want = "\x1b[1;2D"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	got = string(EncodeKey("ctrl+alt+shift+right"))
	want = "\x1b[1;8C"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncodeKey_TildeNavigation(t *testing.T) {
	if got := string(EncodeKey("delete")); got != "\x1b[3~" {
		t.Fatalf("got %q", got)
	}
	if got := string(EncodeKey("ctrl+delete")); got != "\x1b[3;5~" {
		t.Fatalf("got %q", got)
	}
	if got := string(EncodeKey("pageup")); got != "\x1b[5~" {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeKey_ShiftTab(t *testing.T) {
	if got := string(EncodeKey("shift+tab")); got != "\x1b[Z" {
		t.Fatalf("got %q", got)
	}
	if got := string(EncodeKey("btab")); got != "\x1b[Z" {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeKey_EnterEscapeTabSpaceBackspace(t *testing.T) {
	cases := map[string][]byte{
		"enter":     {'\r'},
		"return":    {'\r'},
		"escape":    {0x1B},
		"esc":       {0x1B},
		"space":     {' '},
		"backspace": {0x7F},
		"bspace":    {0x7F},
		"tab":       {0x09},
	}
	for tok, want := range cases {
		if got := EncodeKey(tok); !bytes.Equal(got, want) {
			t.Errorf("EncodeKey(%q) = %v, want %v", tok, got, want)
		}
	}
}

func TestEncodeKey_CtrlLetters(t *testing.T) {
	for c := byte('a'); c <= 'z'; c++ {
		tok := "ctrl+" + string(c)
		want := []byte{c - 'a' + 1}
		if got := EncodeKey(tok); !bytes.Equal(got, want) {
			t.Errorf("EncodeKey(%q) = %v, want %v", tok, got, want)
		}
	}
}

func TestEncodeKey_CtrlSpecials(t *testing.T) {
	cases := map[string]byte{
		"ctrl+[":  0x1B,
		"ctrl+\\": 0x1C,
		"ctrl+]":  0x1D,
		"ctrl+^":  0x1E,
		"ctrl+_":  0x1F,
		"ctrl+?":  0x7F,
	}
	for tok, want := range cases {
		got := EncodeKey(tok)
		if len(got) != 1 || got[0] != want {
			t.Errorf("EncodeKey(%q) = %v, want [%v]", tok, got, want)
		}
	}
}

func TestEncodeKey_ShiftPrintableUppercases(t *testing.T) {
	if got := string(EncodeKey("shift+a")); got != "A" {
		t.Fatalf("got %q, want %q", got, "A")
	}
}

func TestEncodeKey_AltPrefixesEscape(t *testing.T) {
	want := []byte{0x1B, 'x'}
	if got := EncodeKey("alt+x"); !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEncodeKey_FunctionKeys(t *testing.T) {
	if got := string(EncodeKey("f1")); got != "\x1b[11~" {
		t.Fatalf("got %q", got)
	}
	if got := string(EncodeKey("f12")); got != "\x1b[24~" {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeKey_ModifierAliasesEquivalent(t *testing.T) {
	forms := []string{"ctrl+up", "ctrl-up", "c-up"}
	var prev string
	for i, f := range forms {
		got := string(EncodeKey(f))
		if i > 0 && got != prev {
			t.Errorf("%q encoded differently than previous alias: %q vs %q", f, got, prev)
		}
		prev = got
	}
}

func TestEncodeKey_UnknownTokenForwardedLiterally(t *testing.T) {
	tok := "not-a-real-key"
	if got := string(EncodeKey(tok)); got != tok {
		t.Fatalf("got %q, want literal %q", got, tok)
	}
}

func TestEncodeKey_KeypadSS3(t *testing.T) {
	if got := string(EncodeKey("kpenter")); got != "\x1bOM" {
		t.Fatalf("got %q", got)
	}
	if got := string(EncodeKey("kp5")); got != "\x1bOu" {
		t.Fatalf("got %q", got)
	}
}
