package logsockd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

// ErrAlreadyRunning means the socket path is taken, which is read as another
// daemon instance owning it.
var ErrAlreadyRunning = errors.New("socket path already exists")

type Server struct {
	Addr   string
	cfg    Config
	l      net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flag     StopFlag
	registry *Registry
	writer   *Writer
	monitor  *Monitor
	errs     *ErrorSink
	redactor *Redactor

	// approximate number of live handlers, owned by the accept loop
	active     int
	acceptDone chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Lstat(cfg.SocketPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, cfg.SocketPath)
	}

	redactor, err := NewRedactor(cfg.Redact)
	if err != nil {
		return nil, err
	}

	errs, err := OpenErrorSink(cfg.ErrorFile, cfg.ErrorFileBlocks)
	if err != nil {
		return nil, err
	}

	w, err := NewWriter(cfg.SegmentPrefix)
	if err != nil {
		errs.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "unix", cfg.SocketPath)
	if err != nil {
		cancel()
		errs.LogError(fmt.Sprintf("listen %s: %v", cfg.SocketPath, err))
		errs.Close()
		return nil, err
	}
	// The path must outlive the listener: it marks the instance as running
	// until shutdown has drained every handler and removes it itself.
	if ul, ok := l.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}

	if cfg.ProxyProtocol {
		l = &proxyproto.Listener{Listener: l}
	}

	log.Printf("logsockd at=server.listening addr=%q segments=%q\n", l.Addr().String(), cfg.SegmentPrefix)
	s := &Server{
		Addr:       l.Addr().String(),
		cfg:        cfg,
		l:          l,
		ctx:        ctx,
		cancel:     cancel,
		registry:   NewRegistry(),
		writer:     w,
		errs:       errs,
		redactor:   redactor,
		acceptDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.monitor = NewMonitor(w, cfg.RotateLines, cfg.SignalBuffer, cfg.MonitorPoll.Duration, &s.flag)

	go s.monitorLoop()
	go s.acceptLoop()

	return s, nil
}

// guard records a panic from a server goroutine in the error file. A fatal
// panic shuts the whole server down, a handler panic only costs its own
// connection.
func (s *Server) guard(where string, fatal bool) {
	r := recover()
	if r == nil {
		return
	}
	s.errs.Printf("panic in %s: %v\n%s", where, r, debug.Stack())
	if fatal {
		go s.Shutdown()
	}
}

func (s *Server) monitorLoop() {
	defer s.guard("monitor", true)

	s.monitor.Run()
	if err := s.monitor.Err(); err != nil {
		s.errs.Printf("rotation failed, shutting down: %v", err)
		go s.Shutdown()
	}
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	defer s.guard("acceptor", true)

	for {
		conn, err := s.l.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			s.errs.Printf("accept failed, shutting down: %v", err)
			go s.Shutdown()
			return
		}
		if !s.admit(conn) {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.guard("handler", false)
			s.handleConn(conn)
		}()
	}
}

// admit applies the connection limit. The cheap counter only goes up; once it
// passes the limit it is recalibrated from the registry, which can lag behind
// handlers that were spawned but have not registered yet, so the limit may be
// overshot briefly under bursts.
func (s *Server) admit(conn net.Conn) bool {
	s.active++
	if s.active <= s.cfg.MaxConnections {
		return true
	}

	s.active = s.registry.Len() + 1
	if s.active <= s.cfg.MaxConnections {
		return true
	}
	s.active--

	conn.Close()
	s.errs.Printf("throttled connection: active=%d limit=%d", s.active, s.cfg.MaxConnections)
	return false
}

// Shutdown stops accepting, drains handlers for the configured grace period,
// force-terminates stragglers, then closes the writer and removes the socket.
// It runs once; later calls wait for the first one and share its result.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
		close(s.done)
	})
	return s.shutdownErr
}

func (s *Server) Close() error {
	return s.Shutdown()
}

func (s *Server) shutdown() error {
	log.Printf("logsockd at=server.stopping\n")
	s.flag.Set(Stopping)

	s.l.Close()
	<-s.acceptDone

	log.Printf("logsockd at=server.drain handlers=%d\n", len(s.registry.Snapshot()))
	for i := 1; i <= s.cfg.GracePolls; i++ {
		n := s.registry.Len()
		if n == 0 {
			break
		}
		s.errs.Printf("shutdown: %d handlers still running (poll %d/%d)", n, i, s.cfg.GracePolls)
		time.Sleep(s.cfg.GraceInterval.Duration)
	}

	for _, h := range s.registry.Snapshot() {
		s.errs.Printf("shutdown: terminating handler %s", h.ID)
		h.Terminate()
	}
	s.wg.Wait()

	s.flag.Set(Stopped)
	<-s.monitor.Done()

	var errs []error
	if err := s.writer.Close(); err != nil {
		s.errs.Printf("close segment: %v", err)
		errs = append(errs, err)
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.errs.Printf("remove socket: %v", err)
		errs = append(errs, err)
	}
	s.cancel()

	log.Printf("logsockd at=server.stopped rotations=%d %s\n", s.writer.Rotations(), ProcessStats())
	if err := s.errs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Done is closed once shutdown has finished, whatever triggered it.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err is the shutdown result, nil until Done is closed.
func (s *Server) Err() error {
	select {
	case <-s.done:
		return s.shutdownErr
	default:
		return nil
	}
}

func (s *Server) State() State {
	return s.flag.Load()
}

func (s *Server) Writer() *Writer {
	return s.writer
}

func (s *Server) Monitor() *Monitor {
	return s.monitor
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// LogError records text in the error file. Safe to call until shutdown
// completes.
func (s *Server) LogError(text string) {
	s.errs.LogError(text)
}
