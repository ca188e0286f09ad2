// Package fifo owns the named pipe the text producers write into, the
// cursor that reassembles UTF-8 characters split across reads, and the
// readiness flag file producers poll before writing.
package fifo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Ensure creates the named pipe if it does not exist and opens its
// permissions so unprivileged producers can write.
func Ensure(path string) error {
	if err := unix.Mkfifo(path, 0666); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("fifo: mkfifo %s: %w", path, err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		return fmt.Errorf("fifo: chmod %s: %w", path, err)
	}
	return nil
}

// Reader tails the named pipe and delivers decoded text chunks. A pipe
// survives any number of independent writers, so EOF (writer closed)
// means reopen, not stop.
type Reader struct {
	path   string
	cursor Cursor
	sink   func(text string)
}

// NewReader returns a Reader delivering text to sink. sink is called
// from the Run goroutine, one chunk at a time, in read order.
func NewReader(path string, sink func(text string)) *Reader {
	return &Reader{path: path, sink: sink}
}

// Run reads the pipe until ctx is cancelled. The open call blocks until
// a writer appears; that is the idle state of this goroutine.
func (r *Reader) Run(ctx context.Context) error {
	if err := Ensure(r.path); err != nil {
		return err
	}

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f, err := os.OpenFile(r.path, os.O_RDONLY, 0)
		if err != nil {
			slog.Error("[fifo] open failed", "path", r.path, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for {
			n, err := f.Read(buf)
			if n > 0 {
				if text := r.cursor.Feed(buf[:n]); text != "" {
					r.sink(text)
				}
			}
			if err != nil {
				if err != io.EOF {
					slog.Error("[fifo] read failed", "err", err)
				}
				break
			}
		}
		f.Close()
	}
}
