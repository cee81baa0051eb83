// Package unit implements the unit-test lifecycle extension: mock
// installation and removal around the body, module/class-level state
// isolation via snapshot and restore, and post-run verification that every
// configured mock was exercised.
package unit

import (
	"fmt"
	"sync"
)

// IsolationLevel selects which slice of the overridable surface is
// snapshotted before mocks are installed and restored afterwards.
type IsolationLevel string

const (
	// IsolationNone snapshots nothing
	IsolationNone IsolationLevel = "none"
	// IsolationModule snapshots the module-scoped attributes
	IsolationModule IsolationLevel = "module"
	// IsolationClass snapshots the class-scoped attributes
	IsolationClass IsolationLevel = "class"
)

// Surface is the overridable surface a unit under test exposes for
// dependency injection. Instead of ambient patching, the test target hands
// the runner an explicit key-value view of its injectable attributes; the
// runner captures a snapshot before mutation and restores it by exact
// reassignment after, whatever the outcome.
type Surface interface {
	// Get returns the current value bound to name.
	Get(name string) (interface{}, bool)
	// Set rebinds name. Installing a mock and restoring a snapshot both go
	// through here.
	Set(name string, value interface{})
	// Names lists the attribute names scoped to the given isolation level.
	Names(level IsolationLevel) []string
}

// MapSurface is the standard Surface implementation: a flat attribute map
// with per-level name scopes. Safe for concurrent use.
type MapSurface struct {
	mu     sync.RWMutex
	attrs  map[string]interface{}
	scopes map[IsolationLevel][]string
}

// NewMapSurface creates an empty surface.
func NewMapSurface() *MapSurface {
	return &MapSurface{
		attrs:  make(map[string]interface{}),
		scopes: make(map[IsolationLevel][]string),
	}
}

// Bind adds an attribute under the given isolation scope.
func (s *MapSurface) Bind(level IsolationLevel, name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attrs[name]; !exists {
		s.scopes[level] = append(s.scopes[level], name)
	}
	s.attrs[name] = value
}

// Get implements Surface.
func (s *MapSurface) Get(name string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attrs[name]
	return v, ok
}

// Set implements Surface.
func (s *MapSurface) Set(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[name] = value
}

// Names implements Surface.
func (s *MapSurface) Names(level IsolationLevel) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.scopes[level]))
	copy(names, s.scopes[level])
	return names
}

// MockConfig describes one mock to install: the target attribute name on
// the surface, a fixed return value or a side-effect function, and
// arbitrary attribute overrides applied alongside.
type MockConfig struct {
	// Target is the surface attribute the mock replaces
	Target string
	// Returns is the fixed value every call yields when SideEffect is nil
	Returns interface{}
	// SideEffect, when set, computes the call result
	SideEffect func(args ...interface{}) (interface{}, error)
	// Attrs are additional surface attributes overridden while the mock is
	// installed
	Attrs map[string]interface{}
}

// Mock is an installed mock. The body retrieves it from the surface under
// the configured target name and invokes Call.
type Mock struct {
	cfg MockConfig

	mu       sync.Mutex
	calls    int
	lastArgs []interface{}
}

func newMock(cfg MockConfig) *Mock {
	return &Mock{cfg: cfg}
}

// Target returns the surface attribute name this mock replaces.
func (m *Mock) Target() string {
	return m.cfg.Target
}

// Call records the invocation and produces the configured result.
func (m *Mock) Call(args ...interface{}) (interface{}, error) {
	m.mu.Lock()
	m.calls++
	m.lastArgs = args
	m.mu.Unlock()

	if m.cfg.SideEffect != nil {
		return m.cfg.SideEffect(args...)
	}
	return m.cfg.Returns, nil
}

// Calls returns how many times the mock was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastArgs returns the arguments of the most recent invocation.
func (m *Mock) LastArgs() []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastArgs
}

// Config is the unit extension configuration attached to a test case.
type Config struct {
	// Surface is the overridable surface of the unit under test
	Surface Surface
	// Isolation selects the snapshot scope
	Isolation IsolationLevel
	// Mocks are installed before the body and removed after
	Mocks []MockConfig
}

func (c *Config) validate() error {
	if c.Surface == nil && (len(c.Mocks) > 0 || c.Isolation != IsolationNone && c.Isolation != "") {
		return fmt.Errorf("unit config requires a surface when mocks or isolation are configured")
	}
	seen := make(map[string]bool, len(c.Mocks))
	for _, m := range c.Mocks {
		if m.Target == "" {
			return fmt.Errorf("mock target must not be empty")
		}
		if seen[m.Target] {
			return fmt.Errorf("duplicate mock target %q", m.Target)
		}
		seen[m.Target] = true
	}
	return nil
}
