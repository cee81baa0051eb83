package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Run is the handle passed to bodies and hooks for the duration of one test
// execution. It captures output, log lines and metrics into the result.
// Methods are safe to call from concurrently-scheduled sub-tasks inside a
// single test body.
type Run struct {
	// Case is the test case being executed
	Case *TestCase
	// Result is the in-flight result record
	Result *TestResult

	mu     sync.Mutex
	output strings.Builder
}

func newRun(tc *TestCase) *Run {
	return &Run{
		Case: tc,
		Result: &TestResult{
			Case:    tc,
			ID:      tc.ID,
			Status:  StatusPending,
			Metrics: make(map[string]float64),
		},
	}
}

// Logf records a log line on the result.
func (r *Run) Logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Result.Logs = append(r.Result.Logs, line)
}

// Printf appends to the free-form output captured on the result.
func (r *Run) Printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(&r.output, format, args...)
}

// Write implements io.Writer over the captured output, so bodies can hand
// the run to anything that writes (command stdout, encoders, ...).
func (r *Run) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output.Write(p)
}

// SetMetric attaches a named measurement to the result. Extensions append
// metrics through the same path after the result is terminal.
func (r *Run) SetMetric(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Result.Metrics[name] = value
}

// Metric reads a recorded measurement. An abandoned timed-out body may
// still be writing metrics, so reads go through the same lock.
func (r *Run) Metric(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.Result.Metrics[name]
	return value, ok
}

// finish seals the result with its terminal bookkeeping.
func (r *Run) finish() *TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Result.Output = r.output.String()
	r.Result.EndTime = time.Now()
	if r.Result.EndTime.Before(r.Result.StartTime) {
		// Clock skew guard: end time is always >= start time once set.
		r.Result.EndTime = r.Result.StartTime
	}
	return r.Result
}
