package logsockd

import (
	"log"
	"sync"
	"time"
)

// Monitor decides when the Writer rolls over. Handlers report line counts
// after their append has released the writer lock; sending while holding it
// would deadlock against a full channel that only the monitor can drain, and
// the monitor needs the same lock to rotate.
type Monitor struct {
	w         *Writer
	threshold int
	poll      time.Duration
	flag      *StopFlag

	signals chan int
	done    chan struct{}

	mu      sync.Mutex
	pending int
	err     error
}

func NewMonitor(w *Writer, threshold, buffer int, poll time.Duration, flag *StopFlag) *Monitor {
	return &Monitor{
		w:         w,
		threshold: threshold,
		poll:      poll,
		flag:      flag,
		signals:   make(chan int, buffer),
		done:      make(chan struct{}),
	}
}

// Observe reports n freshly appended lines. It blocks while the signal
// buffer is full and returns without effect once the monitor has exited.
func (m *Monitor) Observe(n int) {
	if n <= 0 {
		return
	}
	select {
	case m.signals <- n:
	case <-m.done:
	}
}

func (m *Monitor) Run() {
	defer close(m.done)

	timer := time.NewTimer(m.poll)
	defer timer.Stop()

	for {
		if m.flag.Load() == Stopped {
			m.drain()
			return
		}

		select {
		case n := <-m.signals:
			if !m.handle(n) {
				return
			}
		case <-timer.C:
			timer.Reset(m.poll)
		}
	}
}

// drain counts signals that handlers sent before the stop, so the final
// rotation count still reflects every appended line.
func (m *Monitor) drain() {
	for {
		select {
		case n := <-m.signals:
			if !m.handle(n) {
				return
			}
		default:
			return
		}
	}
}

func (m *Monitor) handle(n int) bool {
	if err := m.count(n); err != nil {
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		log.Printf("logsockd at=monitor.rotate err=%q\n", err)
		return false
	}
	return true
}

func (m *Monitor) count(n int) error {
	m.mu.Lock()
	m.pending += n
	due := m.pending >= m.threshold
	m.mu.Unlock()

	if !due {
		return nil
	}

	m.w.Lock()
	defer m.w.Unlock()

	if err := m.w.RotateLocked(); err != nil {
		return err
	}

	m.mu.Lock()
	m.pending = 0
	m.mu.Unlock()
	return nil
}

// Pending is the number of lines counted since the last rotation.
func (m *Monitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Done is closed when Run returns.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Err is the rotation failure that stopped the monitor, if any.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
