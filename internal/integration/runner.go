package integration

import (
	"context"
	"fmt"

	"crucible/internal/dependency"
	"crucible/internal/engine"
	"crucible/pkg/logging"
)

// ValidationFunc is a state-validation check run after a passing body. It
// receives the component map and the resource map and fails the test by
// returning an error.
type ValidationFunc func(components map[string]*Component, resources map[string]interface{}) error

// Config is the integration extension configuration attached to a test case.
type Config struct {
	// Components declared by this test, set up in dependency order
	Components []*Component
	// Resources seeds the test's resource map
	Resources map[string]interface{}
	// Validations run after a passing body; any failure turns PASSED into
	// FAILED
	Validations []ValidationFunc
	// TeardownOrder overrides the default reverse-declaration teardown
	// order
	TeardownOrder []string
}

// Runner executes integration-kind test cases.
type Runner struct {
	executor *engine.Executor
}

// NewRunner creates an integration lifecycle runner over the given executor.
func NewRunner(executor *engine.Executor) *Runner {
	return &Runner{executor: executor}
}

// runState is the per-execution environment. Component and resource maps
// are exclusively owned by the currently executing test and rebuilt empty
// for the next one.
type runState struct {
	cfg        *Config
	components map[string]*Component
	resources  map[string]interface{}
	checkpoint *Checkpoint
	setUp      []string // setup completion order
}

// Run executes the identified test case with the integration lifecycle
// attached. Cases without an integration configuration fall through to the
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

	state := &runState{
		cfg:        cfg,
		components: make(map[string]*Component, len(cfg.Components)),
		resources:  cloneMap(cfg.Resources),
	}
	if state.resources == nil {
		state.resources = make(map[string]interface{})
	}

	return r.executor.RunWith(ctx, id, engine.Hooks{
		BeforeBody: func(ctx context.Context, run *engine.Run) error {
			return r.setupComponents(ctx, run, state)
		},
		AfterBody: func(ctx context.Context, run *engine.Run) {
			r.validate(run, state)
		},
		Cleanup: func(ctx context.Context, run *engine.Run) {
			r.cleanup(ctx, run, state)
		},
	})
}

// setupComponents brings up every declared component in dependency order.
// Cycle detection over the whole component list runs before any setup
// action executes; the first setup failure marks that component ERROR and
// aborts the test before the body runs.
func (r *Runner) setupComponents(ctx context.Context, run *engine.Run, state *runState) error {
	graph := dependency.New()
	for _, c := range state.cfg.Components {
		if c.Name == "" {
			return fmt.Errorf("component name must not be empty")
		}
		if _, dup := state.components[c.Name]; dup {
			return fmt.Errorf("duplicate component %q", c.Name)
		}
		// Declared components outlive a single execution; reset the
		// lifecycle fields so a rerun does not find them STOPPED.
		c.State = StateInitialized
		c.Instance = nil
		state.components[c.Name] = c

		deps := make([]dependency.NodeID, len(c.DependsOn))
		for i, d := range c.DependsOn {
			deps[i] = dependency.NodeID(d)
		}
		graph.AddNode(dependency.Node{ID: dependency.NodeID(c.Name), DependsOn: deps})
	}

	err := graph.Walk(nil, func(n *dependency.Node) error {
		c := state.components[string(n.ID)]
		return r.setupComponent(ctx, c, state)
	})
	if err != nil {
		return fmt.Errorf("component setup: %w", err)
	}

	state.checkpoint = capture(state.components, state.resources)
	logging.Debug("Integration", "Captured checkpoint %s for %s (%d components)",
		state.checkpoint.ID, run.Case.ID, len(state.components))
	return nil
}

func (r *Runner) setupComponent(ctx context.Context, c *Component, state *runState) error {
	logging.Debug("Integration", "Setting up component %s", c.Name)

	// All dependencies were set up earlier in the walk; a dependency left
	// in ERROR aborts before this component's setup action runs.
	for _, dep := range c.DependsOn {
		if d := state.components[dep]; d.State != StateReady && d.State != StateActive {
			c.State = StateError
			return fmt.Errorf("component %q: dependency %q is %s, not READY", c.Name, dep, d.State)
		}
	}

	if c.Setup != nil {
		instance, err := c.Setup(ctx, c)
		if err != nil {
			c.State = StateError
			return fmt.Errorf("component %q: %w", c.Name, err)
		}
		c.Instance = instance
	}
	if c.State == StateInitialized {
		c.State = StateReady
	}
	if c.RequiredState != "" && c.State != c.RequiredState {
		reached := c.State
		c.State = StateError
		return fmt.Errorf("component %q reached %s, required %s", c.Name, reached, c.RequiredState)
	}

	state.setUp = append(state.setUp, c.Name)
	return nil
}

// validate runs the declared state-validation checks after a passing body.
func (r *Runner) validate(run *engine.Run, state *runState) {
	if run.Result.Status != engine.StatusPassed {
		return
	}
	for i, check := range state.cfg.Validations {
		if err := check(state.components, state.resources); err != nil {
			run.Result.Status = engine.StatusFailed
			verr := &engine.ValidationError{Check: fmt.Sprintf("state check %d", i+1), Reason: err.Error()}
			run.Result.Error = verr.Error()
			logging.Warn("Integration", "Validation failed for %s: %v", run.Case.ID, err)
			return
		}
	}
}

// cleanup restores the checkpoint on failed runs and tears components down
// in caller-specified order, falling back to reverse declaration order.
// A teardown failure marks that component ERROR and never stops the rest.
func (r *Runner) cleanup(ctx context.Context, run *engine.Run, state *runState) {
	status := run.Result.Status
	if (status == engine.StatusFailed || status == engine.StatusError) && state.checkpoint != nil {
		state.checkpoint.restore(state.components, state.resources)
		logging.Info("Integration", "Restored checkpoint %s for %s", state.checkpoint.ID, run.Case.ID)
	}

	setUp := make(map[string]bool, len(state.setUp))
	for _, name := range state.setUp {
		setUp[name] = true
	}
	for _, name := range r.teardownOrder(state) {
		c, ok := state.components[name]
		if !ok || !setUp[name] {
			// never completed setup, nothing to stop
			continue
		}
		if c.Teardown != nil {
			if err := c.Teardown(ctx, c); err != nil {
				c.State = StateError
				run.Logf("component %s teardown failed: %v", name, err)
				logging.Warn("Integration", "Teardown of %s failed for %s: %v", name, run.Case.ID, err)
				continue
			}
		}
		c.State = StateStopped
	}
}

func (r *Runner) teardownOrder(state *runState) []string {
	if len(state.cfg.TeardownOrder) > 0 {
		return state.cfg.TeardownOrder
	}
	order := make([]string, 0, len(state.cfg.Components))
	for i := len(state.cfg.Components) - 1; i >= 0; i-- {
		order = append(order, state.cfg.Components[i].Name)
	}
	return order
}
