package logsockd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SegmentTimeFormat sorts lexically in creation order.
const SegmentTimeFormat = "20060102T150405.000000000"

const segmentSuffix = ".log"

var ErrWriterClosed = errors.New("segment writer closed")

// Writer owns the single active segment file. Every append and every rotation
// happens with the embedded mutex held.
type Writer struct {
	sync.Mutex

	prefix    string
	path      string
	f         *os.File
	buf       *bufio.Writer
	rotations int
	closed    bool
}

func NewWriter(prefix string) (*Writer, error) {
	if dir := filepath.Dir(prefix); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create segment dir: %w", err)
		}
	}
	return &Writer{prefix: prefix, path: segmentPath(prefix, time.Now())}, nil
}

// segmentPath names segments in UTC so that a wall-clock fallback does not
// break their lexical order.
func segmentPath(prefix string, t time.Time) string {
	return prefix + t.UTC().Format(SegmentTimeFormat) + segmentSuffix
}

// Append writes b verbatim to the active segment and reports how many
// newline-terminated lines it carried.
func (w *Writer) Append(b []byte) (int, error) {
	w.Lock()
	defer w.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}
	if w.f == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if _, err := w.buf.Write(b); err != nil {
		return 0, fmt.Errorf("append %s: %w", w.path, err)
	}
	return bytes.Count(b, []byte{'\n'}), nil
}

// open must be called with the lock held. Same-path reopens append.
func (w *Writer) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	log.Printf("logsockd at=segment.open path=%q\n", w.path)
	w.f = f
	w.buf = bufio.NewWriter(f)
	return nil
}

// RotateLocked closes the active segment and moves on to a fresh path derived
// from the current time. The caller must hold the lock. The next segment file
// is created by the first append that follows.
func (w *Writer) RotateLocked() error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.closeFile(); err != nil {
		return err
	}
	w.path = segmentPath(w.prefix, time.Now())
	w.rotations++
	log.Printf("logsockd at=segment.rotate next=%q rotations=%d\n", w.path, w.rotations)
	return nil
}

func (w *Writer) closeFile() error {
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	if err := w.buf.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	return f.Close()
}

func (w *Writer) Flush() error {
	w.Lock()
	defer w.Unlock()

	if w.f == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.Lock()
	defer w.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeFile()
}

// Path is the active segment path, which may not exist on disk yet.
func (w *Writer) Path() string {
	w.Lock()
	defer w.Unlock()
	return w.path
}

func (w *Writer) Rotations() int {
	w.Lock()
	defer w.Unlock()
	return w.rotations
}
