package metrics

import (
	"context"
	"sync"
	"time"

	"crucible/pkg/logging"
)

// defaultInterval is used when a monitor is created without one.
const defaultInterval = 100 * time.Millisecond

// Monitor samples a Source at a fixed interval on a background goroutine
// and appends to a time-ordered history. It is started per test run and
// cancelled, not awaited, when the run finishes; the cancellation is
// swallowed.
type Monitor struct {
	source   Source
	interval time.Duration

	mu      sync.Mutex
	history []Sample
	cancel  context.CancelFunc
	running bool
}

// NewMonitor creates a monitor over the given source.
func NewMonitor(source Source, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{source: source, interval: interval}
}

// Start launches the sampling goroutine. Starting an already-running
// monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				// Cancellation is the normal way a monitor ends; swallow it.
				return
			case <-ticker.C:
				sample, err := m.source.Sample()
				if err != nil {
					logging.Warn("Monitor", "Sample dropped: %v", err)
					continue
				}
				m.mu.Lock()
				m.history = append(m.history, sample)
				m.mu.Unlock()
			}
		}
	}()
}

// Stop cancels the sampling goroutine without waiting for its final
// iteration. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.running = false
}

// Record appends a sample directly, bypassing the ticker. Used by tests and
// by extensions that collect their own observations.
func (m *Monitor) Record(sample Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, sample)
}

// History returns a copy of the collected samples in order.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// Latest returns the most recent sample, if any.
func (m *Monitor) Latest() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Sample{}, false
	}
	return m.history[len(m.history)-1], true
}

// Reset clears the history. The monitor must not be running.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}
