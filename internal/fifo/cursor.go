package fifo

import "unicode/utf8"

// Cursor reassembles UTF-8 characters that straddle read boundaries.
// A pipe write carries no framing, so a multi-byte character can arrive
// split across two reads; the trailing partial sequence is held back
// until the next Feed completes it.
type Cursor struct {
	pending []byte
}

// Feed appends p to any held-back bytes and returns the longest prefix
// that ends on a complete rune. The remainder (at most one partial
// rune) is retained for the next call.
func (c *Cursor) Feed(p []byte) string {
	data := append(c.pending, p...)

	// Walk back from the end to the start of the last rune.
	split := len(data)
	for split > 0 && !utf8.RuneStart(data[split-1]) {
		split--
		if len(data)-split >= utf8.UTFMax {
			// Not a valid sequence at all; pass it through and let the
			// encoder drop it as unsupported.
			split = len(data)
			break
		}
	}
	if split > 0 && utf8.FullRune(data[split-1:]) {
		split = len(data)
	} else if split > 0 {
		split--
	}

	c.pending = append([]byte(nil), data[split:]...)
	return string(data[:split])
}

// Pending returns the number of held-back bytes, for tests.
func (c *Cursor) Pending() int {
	return len(c.pending)
}
