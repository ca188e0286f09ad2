package hid

import (
	"fmt"
	"testing"
)

func TestEncodeSingleKey(t *testing.T) {
	km := DefaultKeymap()

	frames, err := km.Encode('a')
	if err != nil {
		t.Fatalf("Encode('a') error = %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("Encode('a') produced %d frames, want 2", len(frames))
	}
	want := NewReport(0, 0x04)
	if frames[0] != want {
		t.Errorf("press frame = %v, want %v", frames[0], want)
	}
	if !frames[1].IsRelease() {
		t.Errorf("second frame = %v, want release", frames[1])
	}
}

func TestEncodeShiftedKey(t *testing.T) {
	km := DefaultKeymap()

	frames, err := km.Encode('A')
	if err != nil {
		t.Fatalf("Encode('A') error = %v", err)
	}
	if frames[0][0] != ModLeftShift {
		t.Errorf("modifier byte = 0x%02x, want 0x%02x", frames[0][0], ModLeftShift)
	}
	if frames[0][2] != 0x04 {
		t.Errorf("keycode = 0x%02x, want 0x04", frames[0][2])
	}
}

func TestEncodeNewlineIsEnter(t *testing.T) {
	km := DefaultKeymap()

	for _, r := range []rune{'\n', '\r'} {
		frames, err := km.Encode(r)
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", r, err)
		}
		if frames[0][2] != keyEnter {
			t.Errorf("Encode(%q) keycode = 0x%02x, want 0x%02x (Enter)", r, frames[0][2], keyEnter)
		}
	}
}

// Every press frame must be followed by a release frame before the next
// character's frames begin.
func TestEncodeOrdering(t *testing.T) {
	km := DefaultKeymap()

	var frames []Report
	for _, r := range "ab" {
		fs, err := km.Encode(r)
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", r, err)
		}
		frames = append(frames, fs...)
	}

	want := []Report{
		NewReport(0, 0x04),
		ReleaseReport,
		NewReport(0, 0x05),
		ReleaseReport,
	}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame[%d] = %v, want %v", i, frames[i], want[i])
		}
	}
}

func TestEncodeDeadKeySequence(t *testing.T) {
	km := DefaultKeymap()

	frames, err := km.Encode('é')
	if err != nil {
		t.Fatalf("Encode('é') error = %v", err)
	}
	// Accent press, release, base letter press, release, in that order.
	if len(frames) != 4 {
		t.Fatalf("Encode('é') produced %d frames, want 4", len(frames))
	}
	if frames[0][2] != keyDeadAcute {
		t.Errorf("first press keycode = 0x%02x, want dead acute 0x%02x", frames[0][2], keyDeadAcute)
	}
	if !frames[1].IsRelease() || !frames[3].IsRelease() {
		t.Error("each press must be followed by a release frame")
	}
	if frames[2][2] != 0x08 {
		t.Errorf("second press keycode = 0x%02x, want 0x08 (e)", frames[2][2])
	}
}

func TestEncodeUnsupportedRune(t *testing.T) {
	km := DefaultKeymap()

	if _, err := km.Encode('☃'); err != ErrUnsupportedRune {
		t.Fatalf("Encode('☃') error = %v, want ErrUnsupportedRune", err)
	}
}

// The keymap must be injective: decoding a frame sequence back through a
// test-only inverse table returns the original character. '\r' is the
// one deliberate alias (it shares the Enter sequence with '\n').
func TestKeymapRoundTrip(t *testing.T) {
	km := DefaultKeymap()

	inverse := make(map[string]rune, len(km))
	for r, strokes := range km {
		if r == '\r' {
			continue
		}
		key := ""
		for _, s := range strokes {
			key += fmt.Sprintf("%02x:%02x;", s.Mod, s.Key)
		}
		if prev, dup := inverse[key]; dup {
			t.Errorf("characters %q and %q share stroke sequence %s", prev, r, key)
		}
		inverse[key] = r
	}

	for r := range km {
		if r == '\r' {
			continue
		}
		strokes, _ := km.Get(r)
		key := ""
		for _, s := range strokes {
			key += fmt.Sprintf("%02x:%02x;", s.Mod, s.Key)
		}
		if got := inverse[key]; got != r {
			t.Errorf("round trip of %q returned %q", r, got)
		}
	}
}

func TestReleaseReportIsAllZero(t *testing.T) {
	for i, b := range ReleaseReport {
		if b != 0 {
			t.Fatalf("ReleaseReport[%d] = 0x%02x, want 0x00", i, b)
		}
	}
}

func TestReportMapWellFormed(t *testing.T) {
	if len(ReportMap) == 0 {
		t.Fatal("ReportMap is empty")
	}
	// Collection (Application) must open and close.
	if ReportMap[4] != 0xA1 || ReportMap[5] != 0x01 {
		t.Errorf("bytes 4-5 = 0x%02x 0x%02x, want collection open 0xA1 0x01", ReportMap[4], ReportMap[5])
	}
	if ReportMap[len(ReportMap)-1] != 0xC0 {
		t.Errorf("last byte = 0x%02x, want end collection 0xC0", ReportMap[len(ReportMap)-1])
	}
}
