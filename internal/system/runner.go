package system

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"crucible/internal/engine"
	"crucible/internal/metrics"
	"crucible/pkg/logging"
)

const (
	defaultSetupTimeout    = 30 * time.Second
	defaultMonitorInterval = time.Second
)

// EnvState is the overall state of a system test's environment.
type EnvState string

const (
	EnvSetup    EnvState = "SETUP"
	EnvReady    EnvState = "READY"
	EnvError    EnvState = "ERROR"
	EnvShutdown EnvState = "SHUTDOWN"
)

// ValidationFunc checks environment state after a passing body.
type ValidationFunc func(env *Environment) error

// Config is the system extension configuration attached to a test case.
type Config struct {
	// Resources to allocate before the body runs
	Resources []*Resource
	// Env variables set for the duration of the test and restored at
	// cleanup
	Env map[string]string
	// SetupTimeout bounds the whole allocation phase
	SetupTimeout time.Duration
	// MonitorInterval between background metric samples
	MonitorInterval time.Duration
	// Thresholds maps sample metric names, e.g. "cpu_percent", to their
	// maximum allowed value in the final sample
	Thresholds map[string]float64
	// Validations run after a passing body
	Validations []ValidationFunc
	// LogDir is archived into ArchiveDir at cleanup when both are set
	LogDir     string
	ArchiveDir string
}

// Environment is the per-run system state: allocated resources, the metrics
// monitor, and the overall lifecycle state. It is exclusively owned by the
// currently executing test.
type Environment struct {
	State     EnvState
	Resources map[string]*Resource
	Monitor   *metrics.Monitor

	savedEnv map[string]envOriginal
}

type envOriginal struct {
	value  string
	wasSet bool
}

// Runner executes system-kind test cases.
type Runner struct {
	executor *engine.Executor
	provider Provider
	source   metrics.Source

	lastEnv *Environment
}

// NewRunner creates a system lifecycle runner over the given executor,
// allocating from the host by default.
func NewRunner(executor *engine.Executor) *Runner {
	return &Runner{
		executor: executor,
		provider: &HostProvider{},
		source:   metrics.RuntimeSource{},
	}
}

// SetProvider replaces the resource provider.
func (r *Runner) SetProvider(p Provider) {
	r.provider = p
}

// SetSource replaces the metrics source sampled by the monitor.
func (r *Runner) SetSource(s metrics.Source) {
	r.source = s
}

// LastEnv returns the environment of the most recently executed system
// test, for post-run inspection.
func (r *Runner) LastEnv() *Environment {
	return r.lastEnv
}

// Run executes the identified test case with the system lifecycle attached.
// Cases without a system configuration fall through to the plain engine.
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
	env := &Environment{
		State:     EnvSetup,
		Resources: make(map[string]*Resource, len(cfg.Resources)),
		Monitor:   metrics.NewMonitor(r.source, interval),
		savedEnv:  make(map[string]envOriginal),
	}
	r.lastEnv = env

	return r.executor.RunWith(ctx, id, engine.Hooks{
		BeforeBody: func(ctx context.Context, run *engine.Run) error {
			return r.setupEnvironment(ctx, run, cfg, env)
		},
		AfterBody: func(ctx context.Context, run *engine.Run) {
			r.validate(run, cfg, env)
		},
		Cleanup: func(ctx context.Context, run *engine.Run) {
			r.cleanup(ctx, run, cfg, env)
		},
	})
}

// setupEnvironment applies environment overrides and allocates every
// declared resource under one setup timeout. A single allocation failure
// aborts the whole setup before the body runs.
func (r *Runner) setupEnvironment(ctx context.Context, run *engine.Run, cfg *Config, env *Environment) error {
	for key, value := range cfg.Env {
		original, wasSet := os.LookupEnv(key)
		env.savedEnv[key] = envOriginal{value: original, wasSet: wasSet}
		if err := os.Setenv(key, value); err != nil {
			env.State = EnvError
			return fmt.Errorf("environment override %s: %w", key, err)
		}
	}

	timeout := cfg.SetupTimeout
	if timeout <= 0 {
		timeout = defaultSetupTimeout
	}
	setupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, res := range cfg.Resources {
		if err := r.provider.Allocate(setupCtx, res); err != nil {
			env.State = EnvError
			return fmt.Errorf("environment setup: %w", err)
		}
		env.Resources[res.ID] = res
		logging.Debug("System", "Allocated %s resource %s for %s", res.Type, res.ID, run.Case.ID)
	}

	env.State = EnvReady
	env.Monitor.Start(ctx)
	return nil
}

// validate runs state checks and threshold checks against the latest
// metrics sample. Only passing runs are validated; either kind of failure
// downgrades the result to FAILED.
func (r *Runner) validate(run *engine.Run, cfg *Config, env *Environment) {
	if run.Result.Status != engine.StatusPassed {
		return
	}
	for i, check := range cfg.Validations {
		if err := check(env); err != nil {
			run.Result.Status = engine.StatusFailed
			verr := &engine.ValidationError{Check: fmt.Sprintf("state check %d", i+1), Reason: err.Error()}
			run.Result.Error = verr.Error()
			return
		}
	}
	if len(cfg.Thresholds) == 0 {
		return
	}
	sample, ok := env.Monitor.Latest()
	if !ok {
		return
	}
	for name, limit := range cfg.Thresholds {
		value, found := sample.Value(name)
		if !found {
			continue
		}
		run.SetMetric(name, value)
		if value > limit {
			run.Result.Status = engine.StatusFailed
			verr := &engine.ValidationError{
				Check:  "threshold " + name,
				Reason: fmt.Sprintf("%.2f exceeds limit %.2f", value, limit),
			}
			run.Result.Error = verr.Error()
			return
		}
	}
}

// cleanup stops the monitor, releases every allocated resource exactly
// once, archives logs, and restores environment overrides. It proceeds
// through all resources even when a release fails.
func (r *Runner) cleanup(ctx context.Context, run *engine.Run, cfg *Config, env *Environment) {
	env.Monitor.Stop()

	var g errgroup.Group
	for _, res := range cfg.Resources {
		if !res.Allocated {
			continue
		}
		res.Allocated = false
		res := res
		g.Go(func() error {
			if err := r.provider.Release(ctx, res); err != nil {
				run.Logf("release of %s resource %s failed: %v", res.Type, res.ID, err)
				logging.Warn("System", "Release of %s failed for %s: %v", res.ID, run.Case.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if cfg.LogDir != "" && cfg.ArchiveDir != "" {
		if err := archiveLogs(cfg.LogDir, cfg.ArchiveDir, run.Case.ID); err != nil {
			run.Logf("log archival failed: %v", err)
		}
	}

	for key, original := range env.savedEnv {
		if original.wasSet {
			os.Setenv(key, original.value)
		} else {
			os.Unsetenv(key)
		}
	}

	// a failed setup keeps the environment observably in ERROR
	if env.State != EnvError {
		env.State = EnvShutdown
	}
}

// archiveLogs copies every regular file from logDir into a per-test
// subdirectory of archiveDir.
func archiveLogs(logDir, archiveDir, testID string) error {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return err
	}
	dest := filepath.Join(archiveDir, testID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(logDir, entry.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dest, entry.Name()), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
