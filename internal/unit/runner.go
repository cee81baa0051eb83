package unit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"crucible/internal/engine"
	"crucible/pkg/logging"
)

// Runner executes unit-kind test cases: it wraps the execution engine with
// mock installation and state isolation, and verifies mock usage after the
// engine's result is produced.
type Runner struct {
	executor *engine.Executor
}

// NewRunner creates a unit lifecycle runner over the given executor.
func NewRunner(executor *engine.Executor) *Runner {
	return &Runner{executor: executor}
}

// originalValue remembers a surface binding before the runner overrode it.
type originalValue struct {
	value   interface{}
	existed bool
}

// runState is the per-execution mutable state. It is created fresh for
// every run; the active-mocks map is never shared between tests.
type runState struct {
	cfg        *Config
	snapshot   map[string]interface{}
	overridden map[string]originalValue
	mocks      map[string]*Mock
}

// Run executes the identified test case with the unit lifecycle attached.
// Cases without a unit configuration fall through to the plain engine.
func (r *Runner) Run(ctx context.Context, id string) (*engine.TestResult, error) {
	tc, err := r.executor.Registry().Get(id)
	if err != nil {
		return nil, err
	}
	cfg, _ := tc.Ext.(*Config)
	if cfg == nil {
		return r.executor.Run(ctx, id)
	}

	state := &runState{
		cfg:        cfg,
		snapshot:   make(map[string]interface{}),
		overridden: make(map[string]originalValue),
		mocks:      make(map[string]*Mock),
	}

	return r.executor.RunWith(ctx, id, engine.Hooks{
		BeforeBody: func(ctx context.Context, run *engine.Run) error {
			return r.install(run, state)
		},
		AfterBody: func(ctx context.Context, run *engine.Run) {
			r.verify(run, state)
		},
		Cleanup: func(ctx context.Context, run *engine.Run) {
			r.uninstall(run, state)
		},
	})
}

// install captures the isolation snapshot and then patches the configured
// mocks onto the surface.
func (r *Runner) install(run *engine.Run, state *runState) error {
	cfg := state.cfg
	if err := cfg.validate(); err != nil {
		return err
	}
	if cfg.Surface == nil {
		return nil
	}

	level := cfg.Isolation
	if level == "" {
		level = IsolationNone
	}
	if level != IsolationNone {
		for _, name := range cfg.Surface.Names(level) {
			if v, ok := cfg.Surface.Get(name); ok {
				state.snapshot[name] = v
			}
		}
		logging.Debug("Unit", "Captured %s-level snapshot of %d attributes for %s",
			level, len(state.snapshot), run.Case.ID)
	}

	for _, mc := range cfg.Mocks {
		mock := newMock(mc)
		r.override(state, cfg.Surface, mc.Target, mock)
		for name, value := range mc.Attrs {
			r.override(state, cfg.Surface, name, value)
		}
		state.mocks[mc.Target] = mock
		logging.Debug("Unit", "Installed mock %q for %s", mc.Target, run.Case.ID)
	}
	return nil
}

// override patches one surface attribute, remembering its prior binding the
// first time it is touched.
func (r *Runner) override(state *runState, surface Surface, name string, value interface{}) {
	if _, saved := state.overridden[name]; !saved {
		prior, existed := surface.Get(name)
		state.overridden[name] = originalValue{value: prior, existed: existed}
	}
	surface.Set(name, value)
}

// verify downgrades a PASSED result to FAILED when any configured mock was
// never invoked. It never upgrades a result.
func (r *Runner) verify(run *engine.Run, state *runState) {
	if run.Result.Status != engine.StatusPassed {
		return
	}
	var uncalled []string
	for target, mock := range state.mocks {
		if mock.Calls() == 0 {
			uncalled = append(uncalled, target)
		}
	}
	if len(uncalled) == 0 {
		return
	}
	sort.Strings(uncalled)
	run.Result.Status = engine.StatusFailed
	run.Result.Error = fmt.Sprintf("configured mocks never invoked: %s", strings.Join(uncalled, ", "))
	logging.Warn("Unit", "Downgrading %s to FAILED: %s", run.Case.ID, run.Result.Error)
}

// uninstall removes the mocks and reapplies the captured snapshot verbatim,
// regardless of test outcome.
func (r *Runner) uninstall(run *engine.Run, state *runState) {
	cfg := state.cfg
	if cfg.Surface == nil {
		return
	}
	for name, original := range state.overridden {
		if original.existed {
			cfg.Surface.Set(name, original.value)
		} else {
			cfg.Surface.Set(name, nil)
		}
	}
	for name, value := range state.snapshot {
		cfg.Surface.Set(name, value)
	}
	logging.Debug("Unit", "Restored surface state for %s", run.Case.ID)
}
