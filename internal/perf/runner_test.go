package perf

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crucible/internal/engine"
	"crucible/internal/metrics"
)

// fakeSource returns a fixed sample on every tick.
type fakeSource struct {
	sample metrics.Sample
}

func (s fakeSource) Sample() (metrics.Sample, error) {
	out := s.sample
	out.Timestamp = time.Now()
	return out, nil
}

func newTestRunner(t *testing.T, store HistoryStore) *Runner {
	t.Helper()
	return NewRunner(engine.NewExecutor(engine.NewRegistry()), store)
}

func register(t *testing.T, r *Runner, tc *engine.TestCase) string {
	t.Helper()
	id, err := r.executor.Registry().Register(tc)
	require.NoError(t, err)
	return id
}

func TestRunAggregatesAndPersists(t *testing.T) {
	store := NewMemoryStore()
	r := newTestRunner(t, store)
	r.SetSource(fakeSource{sample: metrics.Sample{CPUPercent: 50, MemoryPercent: 30}})

	id := register(t, r, &engine.TestCase{
		ID:   "persist",
		Name: "persist",
		Kind: engine.KindPerformance,
		Body: func(ctx context.Context, run *engine.Run) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		},
		Ext: &Config{MonitorInterval: 5 * time.Millisecond},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPassed, result.Status)
	assert.InDelta(t, 50, result.Metrics["cpu_peak"], 0.01)
	assert.Greater(t, result.Metrics["duration_seconds"], 0.0)

	history, err := store.History(context.Background(), "persist")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Passed)
	assert.InDelta(t, 50, history[0].PeakCPU, 0.01)

	reports := store.Reports()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Passed)
	assert.Empty(t, reports[0].Violations)
}

func TestRunThresholdBreachFailsPassingBody(t *testing.T) {
	store := NewMemoryStore()
	r := newTestRunner(t, store)
	r.SetSource(fakeSource{sample: metrics.Sample{CPUPercent: 95}})

	id := register(t, r, &engine.TestCase{
		ID:   "hot",
		Name: "hot",
		Kind: engine.KindPerformance,
		Body: func(ctx context.Context, run *engine.Run) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		},
		Ext: &Config{
			MonitorInterval: 5 * time.Millisecond,
			Thresholds:      Thresholds{MaxCPUPercent: 40},
		},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "peak cpu 95.00% exceeds 40.00%")

	reports := store.Reports()
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Passed)
	require.Len(t, reports[0].Violations, 1)
}

func TestRunThresholdsNeverRescueFailingBody(t *testing.T) {
	store := NewMemoryStore()
	r := newTestRunner(t, store)

	id := register(t, r, &engine.TestCase{
		ID:   "failing",
		Name: "failing",
		Kind: engine.KindPerformance,
		Body: func(ctx context.Context, run *engine.Run) error {
			return engine.Failf("throughput too low")
		},
		Ext: &Config{MonitorInterval: 5 * time.Millisecond},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "throughput too low")

	reports := store.Reports()
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Passed)
	assert.Empty(t, reports[0].Violations)
}

func TestRunMaxDurationBreach(t *testing.T) {
	r := newTestRunner(t, NewMemoryStore())

	id := register(t, r, &engine.TestCase{
		ID:   "slow",
		Name: "slow",
		Kind: engine.KindPerformance,
		Body: func(ctx context.Context, run *engine.Run) error {
			time.Sleep(20 * time.Millisecond)
			return nil
		},
		Ext: &Config{Thresholds: Thresholds{MaxDuration: time.Millisecond}},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "execution time")
}

func TestRunCustomThresholdFromBodyMetric(t *testing.T) {
	r := newTestRunner(t, NewMemoryStore())

	id := register(t, r, &engine.TestCase{
		ID:   "latency",
		Name: "latency",
		Kind: engine.KindPerformance,
		Body: func(ctx context.Context, run *engine.Run) error {
			run.SetMetric("p99_latency_ms", 250)
			return nil
		},
		Ext: &Config{Thresholds: Thresholds{Custom: map[string]float64{"p99_latency_ms": 100}}},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "peak p99_latency_ms 250.00 exceeds 100.00")
}

func TestCheckRegressionWarnsAboveHistoricalMean(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, HistoryEntry{
			TestName: "nightly-load", Duration: 10 * time.Second, PeakCPU: 50, PeakMemory: 40,
			Passed: true, Timestamp: time.Now(),
		}))
	}
	r := newTestRunner(t, store)

	// 13s against a 10s historical mean is a 30% regression
	warnings := r.checkRegression(ctx, &RunReport{
		TestName: "nightly-load",
		Duration: 13 * time.Second,
		CPU:      metrics.Stats{Max: 55, Count: 1},
		Memory:   metrics.Stats{Max: 42, Count: 1},
	})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "execution time 13.00s exceeds 1.2x historical mean 10.00s")
}

func TestCheckRegressionQuietWithinBounds(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, HistoryEntry{
		TestName: "nightly-load", Duration: 10 * time.Second, PeakCPU: 50, PeakMemory: 40,
		Passed: true, Timestamp: time.Now(),
	}))
	r := newTestRunner(t, store)

	warnings := r.checkRegression(ctx, &RunReport{
		TestName: "nightly-load",
		Duration: 11 * time.Second,
		CPU:      metrics.Stats{Max: 55, Count: 1},
		Memory:   metrics.Stats{Max: 42, Count: 1},
	})
	assert.Empty(t, warnings)
}

func TestRunRegressionWarningIsNotFatal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, HistoryEntry{
		TestName: "cpu-spike", Duration: time.Hour, PeakCPU: 10, PeakMemory: 100,
		Passed: true, Timestamp: time.Now(),
	}))

	r := newTestRunner(t, store)
	r.SetSource(fakeSource{sample: metrics.Sample{CPUPercent: 50, MemoryPercent: 30}})

	id := register(t, r, &engine.TestCase{
		ID:   "cpu-spike",
		Name: "cpu-spike",
		Kind: engine.KindPerformance,
		Body: func(ctx context.Context, run *engine.Run) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		},
		Ext: &Config{MonitorInterval: 5 * time.Millisecond},
	})

	result, err := r.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPassed, result.Status)

	// warnings land in the run log, not in the body's output stream
	logText := strings.Join(result.Logs, "\n")
	assert.Contains(t, logText, "regression warning")
	assert.Contains(t, logText, "peak cpu")

	reports := store.Reports()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Passed)
	require.NotEmpty(t, reports[0].Warnings)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/history.db")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Append(ctx, HistoryEntry{
		TestName: "load", Duration: 1500 * time.Millisecond, PeakCPU: 75.5, PeakMemory: 60.25,
		Passed: true, Timestamp: now,
	}))
	require.NoError(t, store.Append(ctx, HistoryEntry{
		TestName: "load", Duration: 2 * time.Second, PeakCPU: 80, PeakMemory: 61,
		Passed: false, Timestamp: now.Add(time.Minute),
	}))
	require.NoError(t, store.Append(ctx, HistoryEntry{
		TestName: "other", Duration: time.Second, Passed: true, Timestamp: now,
	}))

	history, err := store.History(ctx, "load")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1500*time.Millisecond, history[0].Duration)
	assert.InDelta(t, 75.5, history[0].PeakCPU, 0.001)
	assert.False(t, history[1].Passed)

	require.NoError(t, store.SaveReport(ctx, RunReport{
		TestName: "load", Duration: 2 * time.Second, Passed: false,
		Violations: []string{"peak cpu 80.00% exceeds 70.00%"},
		Timestamp:  now,
	}))
}
