package fifo

import "testing"

func TestCursorPassesCompleteText(t *testing.T) {
	var c Cursor
	if got := c.Feed([]byte("hello")); got != "hello" {
		t.Errorf("Feed() = %q, want %q", got, "hello")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestCursorHoldsPartialRune(t *testing.T) {
	var c Cursor

	// "é" is 0xC3 0xA9; split it across two reads.
	if got := c.Feed([]byte{'a', 0xC3}); got != "a" {
		t.Errorf("first Feed() = %q, want %q", got, "a")
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}
	if got := c.Feed([]byte{0xA9, 'b'}); got != "éb" {
		t.Errorf("second Feed() = %q, want %q", got, "éb")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestCursorThreeByteRuneSplitTwice(t *testing.T) {
	var c Cursor

	// "☃" is 0xE2 0x98 0x83, delivered one byte per read.
	if got := c.Feed([]byte{0xE2}); got != "" {
		t.Errorf("Feed(1/3) = %q, want empty", got)
	}
	if got := c.Feed([]byte{0x98}); got != "" {
		t.Errorf("Feed(2/3) = %q, want empty", got)
	}
	if got := c.Feed([]byte{0x83}); got != "☃" {
		t.Errorf("Feed(3/3) = %q, want snowman", got)
	}
}

func TestCursorEmptyFeed(t *testing.T) {
	var c Cursor
	if got := c.Feed(nil); got != "" {
		t.Errorf("Feed(nil) = %q, want empty", got)
	}
}

func TestCursorInvalidBytesPassThrough(t *testing.T) {
	var c Cursor

	// Stray continuation bytes can never complete a rune; after enough
	// of them accumulate they are flushed rather than held forever.
	c.Feed([]byte{0x98, 0x83})
	got := c.Feed([]byte{0x98, 0x83})
	if got == "" && c.Pending() >= 8 {
		t.Errorf("invalid bytes were held back indefinitely (pending=%d)", c.Pending())
	}
}
