package engine

import (
	"fmt"
	"sync"
)

// Registry holds test case definitions keyed by unique identifier.
// It is safe for concurrent use. Lookup is by identifier only; there is no
// ordering guarantee beyond the insertion order exposed by IDs.
type Registry struct {
	mu    sync.RWMutex
	cases map[string]*TestCase
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{cases: make(map[string]*TestCase)}
}

// Register adds a test case and returns its identifier. Registering an
// identifier that already exists fails with ErrDuplicateTest.
func (r *Registry) Register(tc *TestCase) (string, error) {
	if tc == nil {
		return "", fmt.Errorf("test case must not be nil")
	}
	if tc.ID == "" {
		return "", fmt.Errorf("test case identifier must not be empty")
	}
	if tc.Kind == "" {
		tc.Kind = KindStandard
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cases[tc.ID]; exists {
		return "", fmt.Errorf("%w: %q", ErrDuplicateTest, tc.ID)
	}
	r.cases[tc.ID] = tc
	r.order = append(r.order, tc.ID)
	return tc.ID, nil
}

// Get returns the test case for the given identifier, or ErrTestNotFound.
func (r *Registry) Get(id string) (*TestCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTestNotFound, id)
	}
	return tc, nil
}

// IDs returns all registered identifiers in insertion order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Len returns the number of registered test cases.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cases)
}
