package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crucible/pkg/logging"
)

// defaultTimeout bounds hooks and body attempts for cases that do not set
// their own timeout.
const defaultTimeout = 30 * time.Second

// Hooks are the lifecycle extension points around one test execution.
// Extensions compose around the engine through these instead of duplicating
// its control flow.
type Hooks struct {
	// BeforeBody runs after the result transitions to RUNNING and before
	// the case's setup hook. An error aborts the run with ERROR; the body
	// never executes, but teardown and Cleanup still run.
	BeforeBody func(ctx context.Context, run *Run) error
	// AfterBody runs once the body (or its setup) has produced a status.
	// Extensions use it to downgrade PASSED on failed verification.
	AfterBody func(ctx context.Context, run *Run)
	// Cleanup always runs, after the case's teardown hook, on every exit
	// path including BeforeBody failure.
	Cleanup func(ctx context.Context, run *Run)
}

// Executor runs one test case at a time: setup, timed and retried body,
// teardown. Teardown is guaranteed to run regardless of setup or body
// outcome.
type Executor struct {
	registry *Registry
	timeout  time.Duration
}

// NewExecutor creates an execution engine over the given registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry: registry,
		timeout:  defaultTimeout,
	}
}

// Registry returns the registry this executor resolves identifiers against.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// SetDefaultTimeout overrides the fallback timeout applied to cases that do
// not declare one.
func (e *Executor) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// Run executes a test case through the plain engine lifecycle.
// The returned error is reserved for lookup failures; per-test failures are
// captured in the result.
func (e *Executor) Run(ctx context.Context, id string) (*TestResult, error) {
	return e.RunWith(ctx, id, Hooks{})
}

// RunWith executes a test case with lifecycle extension hooks attached.
func (e *Executor) RunWith(ctx context.Context, id string, hooks Hooks) (*TestResult, error) {
	tc, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}

	run := newRun(tc)
	run.Result.StartTime = time.Now()

	if tc.Skip {
		run.Result.Status = StatusSkipped
		logging.Info("Engine", "Skipping %s", tc.ID)
		return run.finish(), nil
	}

	run.Result.Status = StatusRunning
	logging.Debug("Engine", "Running %s (%s)", tc.ID, tc.Kind)

	// Route log entries emitted anywhere during this run onto the result.
	// The coordinator executes tests one at a time, so a single active
	// capture is sufficient.
	logging.SetCapture(func(entry logging.LogEntry) {
		run.Logf("[%s] %s: %s", entry.Level, entry.Subsystem, entry.Message)
	})
	defer logging.SetCapture(nil)

	extensionReady := true
	if hooks.BeforeBody != nil {
		if err := e.call(ctx, run, hooks.BeforeBody); err != nil {
			extensionReady = false
			run.Result.Status = StatusError
			run.Result.Error = fmt.Sprintf("extension setup: %v", err)
			logging.Error("Engine", err, "Extension setup for %s failed", tc.ID)
		}
	}

	if extensionReady {
		setupOK := true
		if tc.Setup != nil {
			if err := e.invoke(ctx, run, tc.Setup); err != nil {
				setupOK = false
				run.Result.Status = StatusError
				run.Result.Error = fmt.Sprintf("setup: %v", err)
				logging.Error("Engine", err, "Setup hook for %s failed", tc.ID)
			}
		}
		if setupOK {
			e.runBody(ctx, run)
		}
		if hooks.AfterBody != nil {
			hooks.AfterBody(ctx, run)
		}
	}

	// Teardown always runs, even when setup or the body failed. Its failure
	// is recorded as a log entry only and never changes the status.
	if tc.Teardown != nil {
		if err := e.invoke(ctx, run, tc.Teardown); err != nil {
			run.Logf("teardown failed: %v", err)
			logging.Warn("Engine", "Teardown for %s failed: %v", tc.ID, err)
		}
	}

	if hooks.Cleanup != nil {
		hooks.Cleanup(ctx, run)
	}

	result := run.finish()
	logging.Debug("Engine", "Finished %s: %s in %s", tc.ID, result.Status, result.Duration())
	return result, nil
}

// runBody executes the body up to retries+1 times. A timeout is terminal
// for the test; a non-timeout failure before the last permitted attempt is
// logged and retried.
func (e *Executor) runBody(ctx context.Context, run *Run) {
	tc := run.Case
	if tc.Body == nil {
		run.Result.Status = StatusPassed
		return
	}

	attempts := tc.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		run.Result.Attempts = attempt
		err := e.invoke(ctx, run, tc.Body)
		if err == nil {
			run.Result.Status = StatusPassed
			return
		}
		if errors.Is(err, ErrTimeout) {
			run.Result.Status = StatusError
			run.Result.Error = err.Error()
			logging.Warn("Engine", "Body of %s %v; not retrying", tc.ID, err)
			return
		}
		if attempt < attempts {
			run.Logf("attempt %d/%d failed: %v", attempt, attempts, err)
			logging.Debug("Engine", "Attempt %d/%d for %s failed: %v", attempt, attempts, tc.ID, err)
			continue
		}
		if IsFailure(err) {
			run.Result.Status = StatusFailed
		} else {
			run.Result.Status = StatusError
		}
		run.Result.Error = err.Error()
	}
}

// invoke runs fn under the case's timeout. The attempt executes in its own
// goroutine; on timeout its context is cancelled and the attempt is
// abandoned rather than awaited.
func (e *Executor) invoke(ctx context.Context, run *Run, fn func(context.Context, *Run) error) error {
	timeout := run.Case.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v", p)
			}
		}()
		done <- fn(attemptCtx, run)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			// A context-aware body reporting its own deadline is still a
			// timeout for the test.
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return attemptCtx.Err()
	}
}

// call runs an extension hook outside the per-attempt timeout; extensions
// manage their own setup deadlines. Panics are still contained.
func (e *Executor) call(ctx context.Context, run *Run, fn func(context.Context, *Run) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx, run)
}
