package dependency

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("New() returned nil")
	}
	if g.nodes == nil {
		t.Fatal("nodes map not initialized")
	}
	if g.Len() != 0 {
		t.Fatalf("expected empty graph, got %d nodes", g.Len())
	}
}

func TestAddNode(t *testing.T) {
	tests := []struct {
		name     string
		nodes    []Node
		expected int
	}{
		{
			name:     "add single node",
			nodes:    []Node{{ID: "alpha"}},
			expected: 1,
		},
		{
			name: "add multiple nodes",
			nodes: []Node{
				{ID: "db"},
				{ID: "cache", DependsOn: []NodeID{"db"}},
				{ID: "api", DependsOn: []NodeID{"cache"}},
			},
			expected: 3,
		},
		{
			name: "replace existing node",
			nodes: []Node{
				{ID: "alpha"},
				{ID: "alpha", DependsOn: []NodeID{"beta"}},
			},
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			for _, node := range tt.nodes {
				g.AddNode(node)
			}
			if g.Len() != tt.expected {
				t.Errorf("expected %d nodes, got %d", tt.expected, g.Len())
			}
			// Verify the last node was properly added/updated
			last := tt.nodes[len(tt.nodes)-1]
			node := g.Get(last.ID)
			if node == nil {
				t.Fatalf("node %s not found", last.ID)
			}
			if len(node.DependsOn) != len(last.DependsOn) {
				t.Errorf("DependsOn mismatch: expected %v, got %v", last.DependsOn, node.DependsOn)
			}
		})
	}
}

func TestDependencies(t *testing.T) {
	g := New()

	// Dependencies of a non-existent node
	if deps := g.Dependencies("nonexistent"); len(deps) != 0 {
		t.Errorf("expected empty dependencies for non-existent node, got %v", deps)
	}

	g.AddNode(Node{ID: "db"})
	g.AddNode(Node{ID: "cache", DependsOn: []NodeID{"db"}})
	g.AddNode(Node{ID: "api", DependsOn: []NodeID{"cache", "db"}})

	tests := []struct {
		nodeID   NodeID
		expected []NodeID
	}{
		{"db", []NodeID{}},
		{"cache", []NodeID{"db"}},
		{"api", []NodeID{"cache", "db"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.nodeID), func(t *testing.T) {
			deps := g.Dependencies(tt.nodeID)
			if len(deps) != len(tt.expected) {
				t.Fatalf("expected %d dependencies, got %d", len(tt.expected), len(deps))
			}
			for i, exp := range tt.expected {
				if deps[i] != exp {
					t.Errorf("dependency %d: expected %s, got %s", i, exp, deps[i])
				}
			}
		})
	}
}

func TestDependents(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "db"})
	g.AddNode(Node{ID: "cache", DependsOn: []NodeID{"db"}})
	g.AddNode(Node{ID: "queue", DependsOn: []NodeID{"db"}})
	g.AddNode(Node{ID: "api", DependsOn: []NodeID{"cache", "db"}})

	tests := []struct {
		nodeID   NodeID
		expected []NodeID
	}{
		{"db", []NodeID{"cache", "queue", "api"}},
		{"cache", []NodeID{"api"}},
		{"queue", nil},
		{"api", nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.nodeID), func(t *testing.T) {
			deps := g.Dependents(tt.nodeID)
			if len(deps) != len(tt.expected) {
				t.Fatalf("expected %d dependents, got %d: %v", len(tt.expected), len(deps), deps)
			}
			for i, exp := range tt.expected {
				if deps[i] != exp {
					t.Errorf("dependent %d: expected %s, got %s", i, exp, deps[i])
				}
			}
		})
	}
}

func TestTopoSortOrdersDependenciesFirst(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "api", DependsOn: []NodeID{"cache", "db"}})
	g.AddNode(Node{ID: "cache", DependsOn: []NodeID{"db"}})
	g.AddNode(Node{ID: "db"})
	g.AddNode(Node{ID: "metrics", DependsOn: []NodeID{"api"}})

	order, err := g.TopoSort(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("expected 4 nodes in order, got %d: %v", len(order), order)
	}

	index := make(map[NodeID]int, len(order))
	for i, id := range order {
		index[id] = i
	}
	for _, id := range g.IDs() {
		for _, dep := range g.Dependencies(id) {
			if index[dep] >= index[id] {
				t.Errorf("dependency %s ordered after dependent %s: %v", dep, id, order)
			}
		}
	}
}

func TestTopoSortPullsInTransitiveDependencies(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "A"})
	g.AddNode(Node{ID: "B", DependsOn: []NodeID{"A"}})
	g.AddNode(Node{ID: "C", DependsOn: []NodeID{"A"}})

	// Requesting only C and B must still schedule A, and schedule it first.
	order, err := g.TopoSort([]NodeID{"C", "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("expected 3 nodes, got %v", order)
	}
	if order[0] != "A" {
		t.Errorf("expected A first, got %v", order)
	}
	// Requested nodes keep their relative request order.
	if order[1] != "C" || order[2] != "B" {
		t.Errorf("expected [A C B], got %v", order)
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "a", DependsOn: []NodeID{"c"}})
	g.AddNode(Node{ID: "b", DependsOn: []NodeID{"a"}})
	g.AddNode(Node{ID: "c", DependsOn: []NodeID{"b"}})

	order, err := g.TopoSort(nil)
	if err == nil {
		t.Fatalf("expected cycle error, got order %v", order)
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	if cycleErr.Node == "" {
		t.Error("cycle error does not name the offending node")
	}
}

func TestTopoSortUnknownDependency(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "a", DependsOn: []NodeID{"ghost"}})

	_, err := g.TopoSort(nil)
	var unknownErr *UnknownNodeError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected *UnknownNodeError, got %T: %v", err, err)
	}
	if unknownErr.Node != "ghost" || unknownErr.Of != "a" {
		t.Errorf("unexpected error details: %+v", unknownErr)
	}
}

func TestWalkVisitsInOrder(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "db"})
	g.AddNode(Node{ID: "cache", DependsOn: []NodeID{"db"}})
	g.AddNode(Node{ID: "api", DependsOn: []NodeID{"cache"}})

	var visited []NodeID
	err := g.Walk([]NodeID{"api"}, func(n *Node) error {
		visited = append(visited, n.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []NodeID{"db", "cache", "api"}
	if len(visited) != len(want) {
		t.Fatalf("expected %v, got %v", want, visited)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, visited)
		}
	}
}

func TestWalkAbortsOnVisitError(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "db"})
	g.AddNode(Node{ID: "api", DependsOn: []NodeID{"db"}})

	sentinel := errors.New("setup failed")
	var visited []NodeID
	err := g.Walk(nil, func(n *Node) error {
		visited = append(visited, n.ID)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if len(visited) != 1 || visited[0] != "db" {
		t.Errorf("expected walk to stop after db, visited %v", visited)
	}
}

func TestWalkCycleRunsNoVisits(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "a", DependsOn: []NodeID{"b"}})
	g.AddNode(Node{ID: "b", DependsOn: []NodeID{"a"}})

	visits := 0
	err := g.Walk(nil, func(n *Node) error {
		visits++
		return nil
	})
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	if visits != 0 {
		t.Errorf("expected zero visits on cycle, got %d", visits)
	}
}
