package hid

import "errors"

// ErrUnsupportedRune is returned by Encode for characters outside the
// keymap. Callers are expected to log and skip, never abort the stream.
var ErrUnsupportedRune = errors.New("hid: unsupported rune")

// Report is one keyboard input report: modifier bitmask, reserved
// byte, six key slots. Reports are values and never mutated.
type Report [8]byte

// ReleaseReport is the all-keys-up frame that must follow every press.
var ReleaseReport = Report{}

// NewReport builds a single-key press report.
func NewReport(mod, key byte) Report {
	return Report{mod, 0x00, key, 0, 0, 0, 0, 0}
}

// IsRelease reports whether r is the canonical release frame.
func (r Report) IsRelease() bool {
	return r == ReleaseReport
}

// Encode translates one rune into its report frame sequence: for each
// stroke of the keymap entry, a press frame immediately followed by the
// release frame. Stroke order is the map-declared order; a character's
// full sequence completes before the next character starts.
func (m Keymap) Encode(r rune) ([]Report, error) {
	strokes, ok := m.Get(r)
	if !ok {
		return nil, ErrUnsupportedRune
	}
	frames := make([]Report, 0, len(strokes)*2)
	for _, s := range strokes {
		frames = append(frames, NewReport(s.Mod, s.Key), ReleaseReport)
	}
	return frames, nil
}
