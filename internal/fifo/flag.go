package fifo

import (
	"fmt"
	"os"
	"time"
)

// Flag is the readiness marker: the file exists exactly while at least
// one host is subscribed to input report notifications. Producers poll
// for it before writing to avoid feeding a pipe with no consumer.
type Flag struct {
	path string
}

// NewFlag returns a Flag at path. The file is not touched until Set.
func NewFlag(path string) *Flag {
	return &Flag{path: path}
}

// Set creates the marker file. Content is irrelevant, existence is the
// signal.
func (f *Flag) Set() error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("fifo: create ready flag %s: %w", f.path, err)
	}
	return file.Close()
}

// Clear removes the marker file. A flag that is already gone is not an
// error.
func (f *Flag) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fifo: remove ready flag %s: %w", f.path, err)
	}
	return nil
}

// Exists reports whether the marker file is present.
func (f *Flag) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// WaitForFlag polls for the marker file until it appears or the timeout
// elapses. Used by the pipe-writer helper.
func WaitForFlag(path string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
