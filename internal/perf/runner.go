// Package perf implements the performance-test lifecycle extension: metric
// collection around the body, static threshold checks, regression
// comparison against historical runs, and report persistence.
package perf

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crucible/internal/engine"
	"crucible/internal/metrics"
	"crucible/pkg/logging"
)

const (
	defaultMonitorInterval = 100 * time.Millisecond

	// regressionFactor above the historical mean that triggers a warning
	regressionFactor = 1.2
)

// Thresholds are the static ceilings checked after the body. Zero values
// disable the corresponding check.
type Thresholds struct {
	// MaxDuration ceiling for the measured execution time. The clock runs
	// from monitor start until the body settles, so the window covers the
	// case's setup hook and every retry attempt, not just the final body.
	MaxDuration time.Duration
	// MaxCPUPercent ceiling for peak CPU
	MaxCPUPercent float64
	// MaxMemoryPercent ceiling for peak memory
	MaxMemoryPercent float64
	// Custom maps metric names recorded by the body to their peak ceiling
	Custom map[string]float64
}

// Config is the performance extension configuration attached to a test
// case.
type Config struct {
	Thresholds      Thresholds
	MonitorInterval time.Duration
}

// Runner executes performance-kind test cases.
type Runner struct {
	executor *engine.Executor
	store    HistoryStore
	source   metrics.Source
}

// NewRunner creates a performance lifecycle runner persisting to the given
// store.
func NewRunner(executor *engine.Executor, store HistoryStore) *Runner {
	return &Runner{
		executor: executor,
		store:    store,
		source:   metrics.RuntimeSource{},
	}
}

// SetSource replaces the metrics source sampled during the body.
func (r *Runner) SetSource(s metrics.Source) {
	r.source = s
}

// Run executes the identified test case with the performance lifecycle
// attached. Cases without a performance configuration fall through to the
// plain engine.
func (r *Runner) Run(ctx context.Context, id string) (*engine.TestResult, error) {
	tc, err := r.executor.Registry().Get(id)
	if err != nil {
		return nil, err
	}
	cfg, _ := tc.Ext.(*Config)
	if cfg == nil {
		return r.executor.Run(ctx, id)
	}

	interval := cfg.MonitorInterval
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	monitor := metrics.NewMonitor(r.source, interval)
	var started time.Time

	return r.executor.RunWith(ctx, id, engine.Hooks{
		BeforeBody: func(ctx context.Context, run *engine.Run) error {
			started = time.Now()
			monitor.Start(ctx)
			return nil
		},
		AfterBody: func(ctx context.Context, run *engine.Run) {
			monitor.Stop()
			r.analyze(ctx, run, cfg, monitor.History(), time.Since(started))
		},
		Cleanup: func(ctx context.Context, run *engine.Run) {
			monitor.Stop()
		},
	})
}

// analyze computes aggregates, applies threshold and regression analysis,
// and persists the run. Threshold breaches fail a passing body; regression
// warnings never do.
func (r *Runner) analyze(ctx context.Context, run *engine.Run, cfg *Config, history []metrics.Sample, elapsed time.Duration) {
	report := RunReport{
		TestName:  run.Case.Name,
		Duration:  elapsed,
		CPU:       metrics.Aggregate(metrics.Extract(history, "cpu_percent")),
		Memory:    metrics.Aggregate(metrics.Extract(history, "memory_percent")),
		Passed:    run.Result.Status == engine.StatusPassed,
		Timestamp: time.Now(),
	}
	for name := range cfg.Thresholds.Custom {
		if report.Custom == nil {
			report.Custom = make(map[string]metrics.Stats)
		}
		stats := metrics.Aggregate(metrics.Extract(history, name))
		if stats.Count == 0 {
			// custom metrics recorded by the body rather than the sampler
			if value, ok := run.Metric(name); ok {
				stats = metrics.Aggregate([]float64{value})
			}
		}
		report.Custom[name] = stats
	}

	report.Violations = r.checkThresholds(cfg.Thresholds, &report)
	report.Warnings = r.checkRegression(ctx, &report)
	report.Passed = report.Passed && len(report.Violations) == 0

	run.SetMetric("duration_seconds", elapsed.Seconds())
	run.SetMetric("cpu_peak", report.CPU.Max)
	run.SetMetric("cpu_mean", report.CPU.Mean)
	run.SetMetric("memory_peak", report.Memory.Max)
	run.SetMetric("memory_mean", report.Memory.Mean)

	if len(report.Violations) > 0 && run.Result.Status == engine.StatusPassed {
		run.Result.Status = engine.StatusFailed
		run.Result.Error = "threshold breach: " + strings.Join(report.Violations, "; ")
	}
	for _, warning := range report.Warnings {
		run.Logf("regression warning: %s", warning)
	}

	r.persist(ctx, run, &report)
}

func (r *Runner) checkThresholds(th Thresholds, report *RunReport) []string {
	var violations []string
	if th.MaxDuration > 0 && report.Duration > th.MaxDuration {
		violations = append(violations,
			fmt.Sprintf("execution time %v exceeds %v", report.Duration.Round(time.Millisecond), th.MaxDuration))
	}
	if th.MaxCPUPercent > 0 && report.CPU.Max > th.MaxCPUPercent {
		violations = append(violations,
			fmt.Sprintf("peak cpu %.2f%% exceeds %.2f%%", report.CPU.Max, th.MaxCPUPercent))
	}
	if th.MaxMemoryPercent > 0 && report.Memory.Max > th.MaxMemoryPercent {
		violations = append(violations,
			fmt.Sprintf("peak memory %.2f%% exceeds %.2f%%", report.Memory.Max, th.MaxMemoryPercent))
	}
	for name, limit := range th.Custom {
		stats := report.Custom[name]
		if stats.Count > 0 && stats.Max > limit {
			violations = append(violations,
				fmt.Sprintf("peak %s %.2f exceeds %.2f", name, stats.Max, limit))
		}
	}
	return violations
}

// checkRegression compares the current run against the mean of all
// historical runs of the same test name.
func (r *Runner) checkRegression(ctx context.Context, report *RunReport) []string {
	if r.store == nil {
		return nil
	}
	history, err := r.store.History(ctx, report.TestName)
	if err != nil {
		logging.Warn("Perf", "Cannot load history for %s: %v", report.TestName, err)
		return nil
	}
	if len(history) == 0 {
		return nil
	}

	var durationSum, cpuSum, memSum float64
	for _, entry := range history {
		durationSum += entry.Duration.Seconds()
		cpuSum += entry.PeakCPU
		memSum += entry.PeakMemory
	}
	n := float64(len(history))

	var warnings []string
	if mean := durationSum / n; mean > 0 && report.Duration.Seconds() > regressionFactor*mean {
		warnings = append(warnings,
			fmt.Sprintf("execution time %.2fs exceeds 1.2x historical mean %.2fs", report.Duration.Seconds(), mean))
	}
	if mean := cpuSum / n; mean > 0 && report.CPU.Max > regressionFactor*mean {
		warnings = append(warnings,
			fmt.Sprintf("peak cpu %.2f%% exceeds 1.2x historical mean %.2f%%", report.CPU.Max, mean))
	}
	if mean := memSum / n; mean > 0 && report.Memory.Max > regressionFactor*mean {
		warnings = append(warnings,
			fmt.Sprintf("peak memory %.2f%% exceeds 1.2x historical mean %.2f%%", report.Memory.Max, mean))
	}
	return warnings
}

func (r *Runner) persist(ctx context.Context, run *engine.Run, report *RunReport) {
	if r.store == nil {
		return
	}
	entry := HistoryEntry{
		TestName:   report.TestName,
		Duration:   report.Duration,
		PeakCPU:    report.CPU.Max,
		PeakMemory: report.Memory.Max,
		Passed:     report.Passed,
		Timestamp:  report.Timestamp,
	}
	if err := r.store.Append(ctx, entry); err != nil {
		logging.Warn("Perf", "Cannot persist history for %s: %v", report.TestName, err)
	}
	if err := r.store.SaveReport(ctx, *report); err != nil {
		logging.Warn("Perf", "Cannot persist report for %s: %v", report.TestName, err)
	}
}
