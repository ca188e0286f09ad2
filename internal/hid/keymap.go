// Package hid translates text into HID keyboard input reports: a static
// rune-to-keystroke table and the stateless encoding of each keystroke
// into 8-byte report frames.
package hid

// Modifier bits, byte 0 of the keyboard input report.
const (
	ModLeftCtrl  byte = 0x01
	ModLeftShift byte = 0x02
	ModLeftAlt   byte = 0x04
	ModRightAlt  byte = 0x40
)

// Usage codes (keyboard usage page 0x07) for keys referenced outside
// the letter/digit ranges.
const (
	keyEnter     byte = 0x28
	keyTab       byte = 0x2B
	keySpace     byte = 0x2C
	keyMinus     byte = 0x2D
	keyDeadAcute byte = 0x2E // Nordic layout: dead acute accent
	keyDeadUmlas byte = 0x30 // Nordic layout: dead diaeresis
	keyBackslash byte = 0x31
	keyGrave     byte = 0x35
	keyComma     byte = 0x36
	keyDot       byte = 0x37
	keySlash     byte = 0x38
	keyNordicAA  byte = 0x2F // å on the Nordic host layout
	keyNordicAE  byte = 0x33 // æ
	keyNordicOE  byte = 0x34 // ø
)

// Stroke is a single key press: modifier bitmask plus usage code.
type Stroke struct {
	Mod byte
	Key byte
}

// Keymap maps a Unicode scalar value to the ordered keystrokes that
// produce it on the host. Entries longer than one stroke are dead-key
// sequences (accent key, then base letter). Loaded once at startup and
// never mutated.
type Keymap map[rune][]Stroke

// Get returns the stroke sequence for r, if it is supported.
func (m Keymap) Get(r rune) ([]Stroke, bool) {
	s, ok := m[r]
	return s, ok
}

// DefaultKeymap builds the supported character table: ASCII letters,
// digits, common punctuation, the Nordic letters å/æ/ø that occupy
// dedicated keys on the target host layout, and a handful of accented
// letters composed through dead keys.
func DefaultKeymap() Keymap {
	m := make(Keymap, 128)

	for i := 0; i < 26; i++ {
		lower := rune('a' + i)
		usage := byte(0x04 + i)
		m[lower] = []Stroke{{0, usage}}
		m[lower-'a'+'A'] = []Stroke{{ModLeftShift, usage}}
	}

	// Digits: 1..9 are 0x1E..0x26, 0 is 0x27.
	for i := 1; i <= 9; i++ {
		m[rune('0'+i)] = []Stroke{{0, byte(0x1E + i - 1)}}
	}
	m['0'] = []Stroke{{0, 0x27}}

	// Shifted digit row.
	for r, digit := range map[rune]rune{
		'!': '1', '@': '2', '#': '3', '$': '4', '%': '5',
		'^': '6', '&': '7', '*': '8', '(': '9', ')': '0',
	} {
		base := m[digit][0]
		m[r] = []Stroke{{ModLeftShift, base.Key}}
	}

	m[' '] = []Stroke{{0, keySpace}}
	m['\n'] = []Stroke{{0, keyEnter}}
	m['\r'] = []Stroke{{0, keyEnter}}
	m['\t'] = []Stroke{{0, keyTab}}

	m['-'] = []Stroke{{0, keyMinus}}
	m['_'] = []Stroke{{ModLeftShift, keyMinus}}
	m[','] = []Stroke{{0, keyComma}}
	m['<'] = []Stroke{{ModLeftShift, keyComma}}
	m['.'] = []Stroke{{0, keyDot}}
	m['>'] = []Stroke{{ModLeftShift, keyDot}}
	m['/'] = []Stroke{{0, keySlash}}
	m['?'] = []Stroke{{ModLeftShift, keySlash}}
	m['\\'] = []Stroke{{0, keyBackslash}}
	m['|'] = []Stroke{{ModLeftShift, keyBackslash}}
	m['`'] = []Stroke{{0, keyGrave}}
	m['~'] = []Stroke{{ModLeftShift, keyGrave}}

	// Nordic letters sit on their own keys on the target layout; the
	// usages that would carry [ ; ' on a US layout are shadowed by
	// them and deliberately left unmapped.
	m['å'] = []Stroke{{0, keyNordicAA}}
	m['Å'] = []Stroke{{ModLeftShift, keyNordicAA}}
	m['æ'] = []Stroke{{0, keyNordicAE}}
	m['Æ'] = []Stroke{{ModLeftShift, keyNordicAE}}
	m['ø'] = []Stroke{{0, keyNordicOE}}
	m['Ø'] = []Stroke{{ModLeftShift, keyNordicOE}}

	// Dead-key sequences: accent first, base letter second.
	m['é'] = []Stroke{{0, keyDeadAcute}, {0, 0x08}}
	m['É'] = []Stroke{{0, keyDeadAcute}, {ModLeftShift, 0x08}}
	m['ü'] = []Stroke{{0, keyDeadUmlas}, {0, 0x18}}
	m['ö'] = []Stroke{{0, keyDeadUmlas}, {0, 0x12}}
	m['ä'] = []Stroke{{0, keyDeadUmlas}, {0, 0x04}}

	return m
}
