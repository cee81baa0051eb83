package dependency

import (
	"fmt"
	"sync"
)

// NodeID is the unique identifier for a node inside a dependency graph.
// We purposely keep it as a string alias so that callers can freely choose an
// encoding scheme (test identifiers, component names, ...).
type NodeID string

// Node represents a schedulable unit (a test case, an integration component)
// together with its dependency list.
//
// A node can depend on zero or more other nodes. The graph must be a Directed
// Acyclic Graph (DAG); TopoSort and Walk reject cycles before visiting any
// node.
type Node struct {
	ID        NodeID
	DependsOn []NodeID
}

// CycleError is returned when a traversal revisits a node that is still being
// expanded, i.e. the graph contains a circular dependency.
type CycleError struct {
	// Node is the identifier at which the cycle was detected.
	Node NodeID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected at %q", e.Node)
}

// UnknownNodeError is returned when a node declares a dependency on an
// identifier that was never added to the graph.
type UnknownNodeError struct {
	Node NodeID
	Of   NodeID
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown dependency %q declared by %q", e.Node, e.Of)
}

// Graph answers dependency queries and produces dependency-ordered visits.
// It is safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	order []NodeID // insertion order, used as the stable tie-break
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds (or replaces) a node in the graph.
func (g *Graph) AddNode(n Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nodes == nil {
		g.nodes = make(map[NodeID]*Node)
	}
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	// Copy to avoid external mutations
	copied := n
	g.nodes[n.ID] = &copied
}

// Get returns a pointer to the stored node or nil if it does not exist.
func (g *Graph) Get(id NodeID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// IDs returns all node identifiers in insertion order.
func (g *Graph) IDs() []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]NodeID, len(g.order))
	copy(ids, g.order)
	return ids
}

// Dependencies returns a slice of immediate dependency IDs for the given node.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		// Return a copy to avoid callers modifying internal slice.
		depsCopy := make([]NodeID, len(n.DependsOn))
		copy(depsCopy, n.DependsOn)
		return depsCopy
	}
	return nil
}

// Dependents returns all node IDs that have a direct dependency on the given
// node. This is an O(n) walk but graphs here are small, so fine.
func (g *Graph) Dependents(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var res []NodeID
	for _, candidate := range g.order {
		n := g.nodes[candidate]
		for _, dep := range n.DependsOn {
			if dep == id {
				res = append(res, n.ID)
				break
			}
		}
	}
	return res
}

// Marks used by the depth-first traversal.
const (
	unvisited = iota
	inProgress
	done
)

// TopoSort returns a dependency-ordered sequence covering the requested nodes
// and all of their transitive dependencies: every node appears after each of
// its dependencies. If requested is empty, all nodes are sorted in insertion
// order. The traversal checks the whole requested set for cycles before
// returning; a cycle yields a *CycleError and no partial order.
//
// Nodes with no relative constraint keep the order in which they were
// requested (or inserted); there is no other tie-break.
func (g *Graph) TopoSort(requested []NodeID) ([]NodeID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(requested) == 0 {
		requested = g.order
	}

	marks := make(map[NodeID]int, len(g.nodes))
	result := make([]NodeID, 0, len(requested))

	var expand func(id NodeID, of NodeID) error
	expand = func(id NodeID, of NodeID) error {
		switch marks[id] {
		case done:
			return nil
		case inProgress:
			return &CycleError{Node: id}
		}
		n, ok := g.nodes[id]
		if !ok {
			return &UnknownNodeError{Node: id, Of: of}
		}
		marks[id] = inProgress
		for _, dep := range n.DependsOn {
			if err := expand(dep, id); err != nil {
				return err
			}
		}
		marks[id] = done
		// Post-order append: dependencies are emitted before dependents.
		result = append(result, id)
		return nil
	}

	for _, id := range requested {
		if err := expand(id, ""); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Walk visits the requested nodes and their transitive dependencies in
// dependency order, calling visit for each. The first error aborts the walk
// and is returned; cycle detection over the whole set happens before any
// visit callback runs.
//
// This is the shared "set up with cycle detection" primitive used both by
// the test scheduler and by the integration extension's component setup.
func (g *Graph) Walk(requested []NodeID, visit func(n *Node) error) error {
	order, err := g.TopoSort(requested)
	if err != nil {
		return err
	}
	for _, id := range order {
		if err := visit(g.Get(id)); err != nil {
			return err
		}
	}
	return nil
}
