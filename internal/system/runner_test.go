package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crucible/internal/engine"
	"crucible/internal/metrics"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(engine.NewExecutor(engine.NewRegistry()))
}

func register(t *testing.T, r *Runner, tc *engine.TestCase) string {
	t.Helper()
	id, err := r.executor.Registry().Register(tc)
	require.NoError(t, err)
	return id
}

// fakeSource returns a fixed sample on every tick.
type fakeSource struct {
	sample metrics.Sample
}

func (s fakeSource) Sample() (metrics.Sample, error) {
	out := s.sample
	out.Timestamp = time.Now()
	return out, nil
}

// countingProvider records allocate/release calls per resource ID.
type countingProvider struct {
	mu       sync.Mutex
	released map[string]int
	failOn   string
}

func newCountingProvider() *countingProvider {
	return &countingProvider{released: make(map[string]int)}
}

func (p *countingProvider) Allocate(ctx context.Context, r *Resource) error {
	if p.failOn == r.ID {
		return &AllocationError{Resource: r, Reason: "refused by provider"}
	}
	r.Allocated = true
	return nil
}

func (p *countingProvider) Release(ctx context.Context, r *Resource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released[r.ID]++
	return nil
}

func TestRunAllocatesAndReleasesResources(t *testing.T) {
	r := newTestRunner(t)
	provider := newCountingProvider()
	r.SetProvider(provider)

	cpu := &Resource{Type: ResourceCPU, ID: "cpu", Requirements: map[string]interface{}{"cores": 1}}
	mem := &Resource{Type: ResourceMemory, ID: "mem", Requirements: map[string]interface{}{"bytes": 1 << 20}}

	id := register(t, r, &engine.TestCase{
		ID:   "alloc",
		Kind: engine.KindSystem,
		Body: func(ctx context.Context, run *engine.Run) error {
			assert.True(t, cpu.Allocated)
			assert.True(t, mem.Allocated)
			return nil
		},
		Ext: &Config{Resources: []*Resource{cpu, mem}},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPassed, result.Status)
	assert.Equal(t, EnvShutdown, r.LastEnv().State)

	// each resource released exactly once
	assert.Equal(t, 1, provider.released["cpu"])
	assert.Equal(t, 1, provider.released["mem"])
	assert.False(t, cpu.Allocated)
	assert.False(t, mem.Allocated)
}

func TestRunPortAlreadyBoundAbortsSetup(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	r := newTestRunner(t)
	bodyRan := false
	id := register(t, r, &engine.TestCase{
		ID:   "bound-port",
		Kind: engine.KindSystem,
		Body: func(ctx context.Context, run *engine.Run) error {
			bodyRan = true
			return nil
		},
		Ext: &Config{Resources: []*Resource{
			{Type: ResourcePort, ID: "api-port", Requirements: map[string]interface{}{"port": port}},
		}},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusError, result.Status)
	assert.Contains(t, result.Error, "cannot allocate PORT resource")
	assert.False(t, bodyRan)
	assert.Equal(t, EnvError, r.LastEnv().State)
}

func TestRunAllocationFailureAbortsWholeSetup(t *testing.T) {
	r := newTestRunner(t)
	provider := newCountingProvider()
	provider.failOn = "second"
	r.SetProvider(provider)

	first := &Resource{Type: ResourceProcess, ID: "first"}
	second := &Resource{Type: ResourceProcess, ID: "second"}

	id := register(t, r, &engine.TestCase{
		ID:   "partial-alloc",
		Kind: engine.KindSystem,
		Body: func(ctx context.Context, run *engine.Run) error { return nil },
		Ext:  &Config{Resources: []*Resource{first, second}},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusError, result.Status)
	assert.Contains(t, result.Error, "refused by provider")

	// the resource granted before the failure is still released
	assert.Equal(t, 1, provider.released["first"])
	assert.Zero(t, provider.released["second"])
}

func TestRunThresholdBreachDowngradesToFailed(t *testing.T) {
	r := newTestRunner(t)
	r.SetProvider(newCountingProvider())
	r.SetSource(fakeSource{sample: metrics.Sample{CPUPercent: 95, MemoryPercent: 40}})

	id := register(t, r, &engine.TestCase{
		ID:   "hot-cpu",
		Kind: engine.KindSystem,
		Body: func(ctx context.Context, run *engine.Run) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		},
		Ext: &Config{
			MonitorInterval: 5 * time.Millisecond,
			Thresholds:      map[string]float64{"cpu_percent": 80, "memory_percent": 90},
		},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "threshold cpu_percent")
	assert.Contains(t, result.Error, "exceeds limit 80.00")
}

func TestRunThresholdsWithinLimitsPass(t *testing.T) {
	r := newTestRunner(t)
	r.SetProvider(newCountingProvider())
	r.SetSource(fakeSource{sample: metrics.Sample{CPUPercent: 12, MemoryPercent: 40}})

	id := register(t, r, &engine.TestCase{
		ID:   "cool-cpu",
		Kind: engine.KindSystem,
		Body: func(ctx context.Context, run *engine.Run) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		},
		Ext: &Config{
			MonitorInterval: 5 * time.Millisecond,
			Thresholds:      map[string]float64{"cpu_percent": 80},
		},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPassed, result.Status)
	assert.NotEmpty(t, r.LastEnv().Monitor.History())
}

func TestRunValidationFailureDowngradesToFailed(t *testing.T) {
	r := newTestRunner(t)
	r.SetProvider(newCountingProvider())

	id := register(t, r, &engine.TestCase{
		ID:   "state-check",
		Kind: engine.KindSystem,
		Body: func(ctx context.Context, run *engine.Run) error { return nil },
		Ext: &Config{
			Validations: []ValidationFunc{
				func(env *Environment) error {
					return errors.New("daemon not listening")
				},
			},
		},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "daemon not listening")
}

func TestRunEnvOverridesRestoredAfterRun(t *testing.T) {
	const key = "CRUCIBLE_SYSTEM_TEST_MODE"
	os.Setenv(key, "original")
	defer os.Unsetenv(key)

	r := newTestRunner(t)
	r.SetProvider(newCountingProvider())

	id := register(t, r, &engine.TestCase{
		ID:   "env-override",
		Kind: engine.KindSystem,
		Body: func(ctx context.Context, run *engine.Run) error {
			assert.Equal(t, "sandbox", os.Getenv(key))
			assert.Equal(t, "1", os.Getenv("CRUCIBLE_SYSTEM_TEST_EXTRA"))
			return nil
		},
		Ext: &Config{Env: map[string]string{
			key:                          "sandbox",
			"CRUCIBLE_SYSTEM_TEST_EXTRA": "1",
		}},
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPassed, result.Status)
	assert.Equal(t, "original", os.Getenv(key))
	_, extraSet := os.LookupEnv("CRUCIBLE_SYSTEM_TEST_EXTRA")
	assert.False(t, extraSet)
}

func TestRunArchivesLogs(t *testing.T) {
	logDir := t.TempDir()
	archiveDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "app.log"), []byte("line\n"), 0o644))

	r := newTestRunner(t)
	r.SetProvider(newCountingProvider())

	id := register(t, r, &engine.TestCase{
		ID:   "archive",
		Kind: engine.KindSystem,
		Body: func(ctx context.Context, run *engine.Run) error { return nil },
		Ext:  &Config{LogDir: logDir, ArchiveDir: archiveDir},
	})

	_, err := r.Run(context.Background(), id)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(archiveDir, "archive", "app.log"))
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}

func TestHostProviderChecksCPUCapacity(t *testing.T) {
	p := &HostProvider{}
	res := &Resource{
		Type:         ResourceCPU,
		ID:           "too-many-cores",
		Requirements: map[string]interface{}{"cores": runtime.NumCPU() + 1},
	}

	err := p.Allocate(context.Background(), res)
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Contains(t, allocErr.Reason, fmt.Sprintf("host has %d", runtime.NumCPU()))
	assert.False(t, res.Allocated)
}

func TestHostProviderChecksMemoryCapacity(t *testing.T) {
	p := &HostProvider{MemoryCapacity: 1 << 20}

	ok := &Resource{Type: ResourceMemory, ID: "fits", Requirements: map[string]interface{}{"bytes": 1 << 10}}
	require.NoError(t, p.Allocate(context.Background(), ok))
	assert.True(t, ok.Allocated)

	big := &Resource{Type: ResourceMemory, ID: "huge", Requirements: map[string]interface{}{"bytes": 1 << 30}}
	err := p.Allocate(context.Background(), big)
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
}

func TestRunPlainCaseFallsThrough(t *testing.T) {
	r := newTestRunner(t)
	id := register(t, r, &engine.TestCase{
		ID:   "plain",
		Body: func(ctx context.Context, run *engine.Run) error { return nil },
	})

	result, err := r.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPassed, result.Status)
}
