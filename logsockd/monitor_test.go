package logsockd

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorRotatesEveryThreshold(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "seg-"))
	require.NoError(t, err)
	defer w.Close()

	var flag StopFlag
	// A tiny buffer makes writers block on Observe while the monitor holds the
	// writer lock for a rotation.
	m := NewMonitor(w, 5, 2, 10*time.Millisecond, &flag)
	go m.Run()

	const writers, perWriter = 10, 23
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				n, err := w.Append([]byte(fmt.Sprintf("w%d-%d\n", i, j)))
				if !assert.NoError(t, err) {
					return
				}
				m.Observe(n)
			}
		}(i)
	}
	wg.Wait()

	total := writers * perWriter
	assert.Eventually(t, func() bool {
		return w.Rotations() == total/5
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, total%5, m.Pending())

	flag.Set(Stopped)
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not observe stop flag")
	}
	assert.NoError(t, m.Err())

	// Once the monitor is gone Observe must not block, even with a full buffer.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Observe(1)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked after monitor exit")
	}
}

func TestMonitorStopsOnRotationError(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "seg-"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var flag StopFlag
	m := NewMonitor(w, 1, 1, 10*time.Millisecond, &flag)
	go m.Run()

	m.Observe(1)
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor kept running after rotation failure")
	}
	assert.ErrorIs(t, m.Err(), ErrWriterClosed)
}

func TestMonitorCountsQueuedSignalsOnStop(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "seg-"))
	require.NoError(t, err)
	defer w.Close()

	var flag StopFlag
	m := NewMonitor(w, 3, 16, 10*time.Millisecond, &flag)
	for i := 0; i < 7; i++ {
		m.Observe(1)
	}

	flag.Set(Stopped)
	go m.Run()
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}

	assert.Equal(t, 2, w.Rotations())
	assert.Equal(t, 1, m.Pending())
}
