package logsockd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"time"

	"golang.org/x/time/rate"
)

var ErrLineTooLong = errors.New("line exceeds max_line_bytes")

func (s *Server) handleConn(conn net.Conn) {
	ctx, cancel := context.WithCancel(s.ctx)
	h := s.registry.Add(conn, cancel)
	defer func() {
		if err := s.writer.Flush(); err != nil {
			s.errs.Printf("flush after handler %s: %v", h.ID, err)
		}
		conn.Close()
		s.registry.Remove(h)
		cancel()
	}()

	log.Printf("logsockd at=handle-connection.start id=%s\n", h.ID)

	var limiter *rate.Limiter
	if lps := s.cfg.LinesPerSecond; lps > 0 {
		burst := int(lps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(lps), burst)
	}

	lines := 0
	r := newLineReader(conn, s.cfg.MaxLineBytes, s.cfg.ReadPoll.Duration)
	for {
		if s.flag.Load() != Running {
			log.Printf("logsockd at=handle-connection.stop id=%s lines=%d\n", h.ID, lines)
			return
		}

		line, err := r.ReadLine()
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.errs.Printf("read from handler %s: %v", h.ID, err)
			}
			log.Printf("logsockd at=handle-connection.finish id=%s lines=%d\n", h.ID, lines)
			return
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		line, err = s.redactor.Redact(line)
		if err != nil {
			s.errs.Printf("redact line from handler %s, dropped: %v", h.ID, err)
			continue
		}

		n, err := s.writer.Append(line)
		if err != nil {
			s.errs.Printf("append from handler %s: %v", h.ID, err)
			continue
		}
		lines += n

		// Only after Append has released the writer lock.
		s.monitor.Observe(n)
	}
}

// lineReader yields '\n'-terminated frames. Each read waits at most poll, so
// the handler can re-check the stop flag while a client is idle; partial data
// read before a timeout is kept for the next call.
type lineReader struct {
	conn    net.Conn
	r       *bufio.Reader
	max     int
	poll    time.Duration
	pending []byte
	eof     bool
}

func newLineReader(conn net.Conn, maxBytes int, poll time.Duration) *lineReader {
	return &lineReader{conn: conn, r: bufio.NewReader(conn), max: maxBytes, poll: poll}
}

func (lr *lineReader) ReadLine() ([]byte, error) {
	if lr.eof {
		return nil, io.EOF
	}
	if err := lr.conn.SetReadDeadline(time.Now().Add(lr.poll)); err != nil {
		return nil, err
	}

	for {
		chunk, err := lr.r.ReadSlice('\n')
		lr.pending = append(lr.pending, chunk...)
		if len(lr.pending) > lr.max {
			return nil, ErrLineTooLong
		}

		switch {
		case err == nil:
			line := lr.pending
			lr.pending = nil
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(lr.pending) > 0:
			// An unterminated last frame still becomes a whole line.
			lr.eof = true
			line := append(lr.pending, '\n')
			lr.pending = nil
			return line, nil
		default:
			return nil, err
		}
	}
}
