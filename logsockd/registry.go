package logsockd

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type State int32

const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// StopFlag is written only by the shutdown path and read by every handler and
// by the rotation monitor.
type StopFlag struct {
	v atomic.Int32
}

func (f *StopFlag) Load() State {
	return State(f.v.Load())
}

func (f *StopFlag) Set(s State) {
	f.v.Store(int32(s))
}

type Handle struct {
	ID     string
	conn   net.Conn
	cancel context.CancelFunc
}

// Terminate unblocks a handler stuck in a read or rate-limit wait.
func (h *Handle) Terminate() {
	h.cancel()
	h.conn.Close()
}

// Registry is the set of live connection handlers.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Handle)}
}

func (r *Registry) Add(conn net.Conn, cancel context.CancelFunc) *Handle {
	h := &Handle{ID: uuid.New().String(), conn: conn, cancel: cancel}

	r.mu.Lock()
	r.handlers[h.ID] = h
	r.mu.Unlock()

	return h
}

func (r *Registry) Remove(h *Handle) {
	r.mu.Lock()
	delete(r.handlers, h.ID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

func (r *Registry) Snapshot() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	hs := make([]*Handle, 0, len(r.handlers))
	for _, h := range r.handlers {
		hs = append(hs, h)
	}
	return hs
}
