// Package suite coordinates whole test-suite runs: dependency-ordered
// scheduling, per-kind lifecycle dispatch, status tallies, and report
// generation.
package suite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crucible/internal/dependency"
	"crucible/internal/engine"
	"crucible/internal/integration"
	"crucible/internal/metrics"
	"crucible/internal/perf"
	"crucible/internal/system"
	"crucible/internal/unit"
	"crucible/pkg/logging"
)

// CaseRunner executes one registered test case to a terminal result. The
// engine executor and every lifecycle extension satisfy it.
type CaseRunner interface {
	Run(ctx context.Context, id string) (*engine.TestResult, error)
}

// Options configure a Coordinator.
type Options struct {
	// FailFast stops the suite at the first FAILED or ERROR result
	FailFast bool
	// Telemetry receives per-test and per-suite observations
	Telemetry *metrics.SuiteTelemetry
	// PerfStore backs the performance extension's history. Defaults to an
	// in-memory store.
	PerfStore perf.HistoryStore
}

// Coordinator runs suites sequentially in dependency order and keeps the
// results of the most recent run.
type Coordinator struct {
	registry *engine.Registry
	executor *engine.Executor
	runners  map[engine.Kind]CaseRunner
	opts     Options

	mu      sync.RWMutex
	results map[string]*engine.TestResult
	order   []string
}

// NewCoordinator wires the engine executor and the four lifecycle
// extensions onto one registry.
func NewCoordinator(registry *engine.Registry, opts Options) *Coordinator {
	if opts.PerfStore == nil {
		opts.PerfStore = perf.NewMemoryStore()
	}
	executor := engine.NewExecutor(registry)
	return &Coordinator{
		registry: registry,
		executor: executor,
		runners: map[engine.Kind]CaseRunner{
			engine.KindStandard:    executor,
			engine.KindUnit:        unit.NewRunner(executor),
			engine.KindIntegration: integration.NewRunner(executor),
			engine.KindSystem:      system.NewRunner(executor),
			engine.KindPerformance: perf.NewRunner(executor, opts.PerfStore),
		},
		opts:    opts,
		results: make(map[string]*engine.TestResult),
	}
}

// SetRunner overrides the runner used for one test kind.
func (c *Coordinator) SetRunner(kind engine.Kind, r CaseRunner) {
	c.runners[kind] = r
}

// Registry returns the underlying test registry.
func (c *Coordinator) Registry() *engine.Registry {
	return c.registry
}

// RegisterTest registers a test case of any kind.
func (c *Coordinator) RegisterTest(tc *engine.TestCase) (string, error) {
	return c.registry.Register(tc)
}

// AddUnitTest registers a unit-kind test with its mock/isolation
// configuration.
func (c *Coordinator) AddUnitTest(tc *engine.TestCase, cfg *unit.Config) (string, error) {
	tc.Kind = engine.KindUnit
	tc.Ext = cfg
	return c.registry.Register(tc)
}

// AddIntegrationTest registers an integration-kind test with its component
// configuration.
func (c *Coordinator) AddIntegrationTest(tc *engine.TestCase, cfg *integration.Config) (string, error) {
	tc.Kind = engine.KindIntegration
	tc.Ext = cfg
	return c.registry.Register(tc)
}

// AddSystemTest registers a system-kind test with its resource
// configuration.
func (c *Coordinator) AddSystemTest(tc *engine.TestCase, cfg *system.Config) (string, error) {
	tc.Kind = engine.KindSystem
	tc.Ext = cfg
	return c.registry.Register(tc)
}

// AddPerformanceTest registers a performance-kind test with its threshold
// configuration.
func (c *Coordinator) AddPerformanceTest(tc *engine.TestCase, cfg *perf.Config) (string, error) {
	tc.Kind = engine.KindPerformance
	tc.Ext = cfg
	return c.registry.Register(tc)
}

// RunTest executes a single test through its kind's lifecycle and records
// the result.
func (c *Coordinator) RunTest(ctx context.Context, id string) (*engine.TestResult, error) {
	tc, err := c.registry.Get(id)
	if err != nil {
		return nil, err
	}
	result, err := c.runnerFor(tc).Run(ctx, id)
	if err != nil {
		return nil, err
	}
	c.record(id, result)
	return result, nil
}

// RunSuite resolves the requested identifiers (all registered tests when
// empty) through the tag filter and the dependency scheduler, then executes
// them sequentially. A circular dependency fails the whole suite before any
// test runs. Per-test failures are captured in their results and the suite
// continues unless fail-fast is set.
func (c *Coordinator) RunSuite(ctx context.Context, ids []string, tags []string) (map[string]*engine.TestResult, error) {
	requested, err := c.resolve(ids, tags)
	if err != nil {
		return nil, err
	}

	graph := dependency.New()
	for _, id := range c.registry.IDs() {
		tc, _ := c.registry.Get(id)
		deps := make([]dependency.NodeID, len(tc.DependsOn))
		for i, d := range tc.DependsOn {
			deps[i] = dependency.NodeID(d)
		}
		graph.AddNode(dependency.Node{ID: dependency.NodeID(id), DependsOn: deps})
	}
	order, err := graph.TopoSort(requested)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.results = make(map[string]*engine.TestResult, len(order))
	c.order = nil
	c.mu.Unlock()

	if c.opts.Telemetry != nil {
		c.opts.Telemetry.SuiteStarted()
		defer c.opts.Telemetry.SuiteFinished()
	}

	logging.Info("Suite", "Running %d tests", len(order))
	for _, nodeID := range order {
		id := string(nodeID)
		tc, err := c.registry.Get(id)
		if err != nil {
			return c.snapshot(), err
		}

		result, err := c.runnerFor(tc).Run(ctx, id)
		if err != nil {
			// keep the suite going, the failure lives in the result map
			result = errorResult(tc, err)
		}
		c.record(id, result)

		if c.opts.Telemetry != nil {
			c.opts.Telemetry.ObserveTest(string(result.Status), string(tc.Severity), result.Duration())
		}
		logging.Debug("Suite", "%s finished with %s", id, result.Status)

		if c.opts.FailFast && (result.Status == engine.StatusFailed || result.Status == engine.StatusError) {
			logging.Warn("Suite", "Stopping after %s (%s), fail-fast is set", id, result.Status)
			break
		}
	}
	return c.snapshot(), nil
}

// Status returns the running tally of results per status. It is queryable
// at any time, including mid-suite.
func (c *Coordinator) Status() map[engine.Status]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tally := make(map[engine.Status]int)
	for _, result := range c.results {
		tally[result.Status]++
	}
	return tally
}

// Results returns the results of the most recent run in execution order.
func (c *Coordinator) Results() []*engine.TestResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*engine.TestResult, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.results[id])
	}
	return out
}

func (c *Coordinator) runnerFor(tc *engine.TestCase) CaseRunner {
	if r, ok := c.runners[tc.Kind]; ok {
		return r
	}
	return c.executor
}

// resolve applies the default-all rule and the tag filter to the requested
// identifiers.
func (c *Coordinator) resolve(ids []string, tags []string) ([]dependency.NodeID, error) {
	if len(ids) == 0 {
		ids = c.registry.IDs()
	}
	requested := make([]dependency.NodeID, 0, len(ids))
	for _, id := range ids {
		tc, err := c.registry.Get(id)
		if err != nil {
			return nil, err
		}
		if len(tags) > 0 && !tc.HasTag(tags) {
			continue
		}
		requested = append(requested, dependency.NodeID(id))
	}
	return requested, nil
}

func (c *Coordinator) record(id string, result *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.results[id]; !seen {
		c.order = append(c.order, id)
	}
	c.results[id] = result
}

func (c *Coordinator) snapshot() map[string]*engine.TestResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*engine.TestResult, len(c.results))
	for id, result := range c.results {
		out[id] = result
	}
	return out
}

// errorResult builds a terminal ERROR result for a test the runner could
// not execute at all.
func errorResult(tc *engine.TestCase, err error) *engine.TestResult {
	now := time.Now()
	return &engine.TestResult{
		Case:      tc,
		ID:        tc.ID,
		Status:    engine.StatusError,
		StartTime: now,
		EndTime:   now,
		Error:     fmt.Sprintf("runner failure: %v", err),
	}
}
