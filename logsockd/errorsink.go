package logsockd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrorSink is a bounded append log for operational errors. Once the file
// grows past its bound it is truncated before the next record is written, so
// the newest record always survives.
type ErrorSink struct {
	mu    sync.Mutex
	f     *os.File
	bound int64
}

func OpenErrorSink(path string, blocks int) (*ErrorSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error file: %w", err)
	}

	bsize, err := blockSize(filepath.Dir(path))
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ErrorSink{f: f, bound: int64(blocks) * bsize}, nil
}

func blockSize(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return int64(st.Bsize), nil
}

// Bound is the size in bytes past which the file is truncated.
func (e *ErrorSink) Bound() int64 {
	return e.bound
}

func (e *ErrorSink) LogError(text string) {
	log.Printf("logsockd at=error msg=%q\n", text)

	line := time.Now().Format(time.RFC3339Nano) + " " + text + "\n"

	e.mu.Lock()
	defer e.mu.Unlock()

	if fi, err := e.f.Stat(); err == nil && fi.Size() > e.bound {
		if err := e.f.Truncate(0); err != nil {
			log.Printf("logsockd at=error-sink.truncate err=%q\n", err)
		}
	}
	if _, err := e.f.WriteString(line); err != nil {
		log.Printf("logsockd at=error-sink.write err=%q\n", err)
	}
}

func (e *ErrorSink) Printf(format string, args ...interface{}) {
	e.LogError(fmt.Sprintf(format, args...))
}

func (e *ErrorSink) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.f.Close()
}
