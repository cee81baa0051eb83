package engine

import (
	"context"
	"time"
)

// Severity is the priority classification of a test case. It is used for
// report grouping only, never for scheduling.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Status represents the lifecycle state of a test result.
type Status string

const (
	// StatusPending indicates the test has not started yet
	StatusPending Status = "PENDING"
	// StatusRunning indicates the test is currently executing
	StatusRunning Status = "RUNNING"
	// StatusPassed indicates the test passed successfully
	StatusPassed Status = "PASSED"
	// StatusFailed indicates the test failed
	StatusFailed Status = "FAILED"
	// StatusSkipped indicates the test was skipped
	StatusSkipped Status = "SKIPPED"
	// StatusError indicates an error occurred during test execution
	StatusError Status = "ERROR"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusError:
		return true
	}
	return false
}

// Kind selects the lifecycle extension that executes a test case.
type Kind string

const (
	// KindStandard runs through the plain execution engine
	KindStandard Kind = "standard"
	// KindUnit adds mock installation and state isolation
	KindUnit Kind = "unit"
	// KindIntegration adds component lifecycle and checkpointing
	KindIntegration Kind = "integration"
	// KindSystem adds resource allocation and live monitoring
	KindSystem Kind = "system"
	// KindPerformance adds metrics thresholds and regression analysis
	KindPerformance Kind = "performance"
)

// BodyFunc is a test body. It receives the run handle for logging, output
// capture and metrics. Returning an error produced by Failf marks the test
// FAILED; any other error (or a panic, or a timeout) marks it ERROR.
type BodyFunc func(ctx context.Context, run *Run) error

// HookFunc is an optional setup or teardown hook attached to a test case.
type HookFunc func(ctx context.Context, run *Run) error

// TestCase is a registered unit of work with metadata and a body.
// It is immutable after registration except for Ext, which holds the
// extension-specific configuration for non-standard kinds.
type TestCase struct {
	// ID is the unique identifier within a registry
	ID string
	// Name is the human-readable display name
	Name string
	// Description explains what the test validates
	Description string
	// Severity classifies the test for report grouping
	Severity Severity
	// Body is the function under test
	Body BodyFunc
	// Timeout bounds the setup hook and every body attempt
	Timeout time.Duration
	// Retries is the number of additional attempts after a non-timeout failure
	Retries int
	// DependsOn lists test identifiers that must execute first
	DependsOn []string
	// Setup runs before the body; failure skips the body
	Setup HookFunc
	// Teardown always runs, whatever the outcome
	Teardown HookFunc
	// Tags for filtering
	Tags []string
	// Skip marks the test to be reported SKIPPED without executing
	Skip bool
	// Kind selects the lifecycle extension
	Kind Kind
	// Ext holds the extension-specific configuration (unit.Config,
	// integration.Config, system.Config, perf.Config)
	Ext interface{}
}

// HasTag reports whether the case carries any of the given tags.
// An empty filter matches everything.
func (tc *TestCase) HasTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range tc.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// TestResult is the outcome record of one test execution. It is created at
// RUNNING and mutated only by the execution engine and its lifecycle
// extensions; once a terminal status is set, only extensions appending
// metrics touch it.
type TestResult struct {
	// Case references the executed test case
	Case *TestCase `json:"-"`
	// ID mirrors the case identifier for serialized reports
	ID string `json:"id"`
	// Status is the current lifecycle state
	Status Status `json:"status"`
	// StartTime when execution began
	StartTime time.Time `json:"start_time"`
	// EndTime when execution finished; zero until then
	EndTime time.Time `json:"end_time,omitzero"`
	// Attempts is the number of body invocations
	Attempts int `json:"attempts"`
	// Error holds the captured failure or error reason
	Error string `json:"error,omitempty"`
	// Output is the free-form output captured from the body
	Output string `json:"output,omitempty"`
	// Logs are the log lines recorded during the run
	Logs []string `json:"logs,omitempty"`
	// Metrics holds named measurements attached by the body or extensions
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Duration returns the elapsed execution time, or zero while unfinished.
func (r *TestResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
