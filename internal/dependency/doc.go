// Package dependency provides a directed acyclic graph (DAG) implementation
// for ordering work by declared dependencies in crucible.
//
// This package is the single place where "visit things in dependency order
// with cycle detection" is implemented. Both call sites reuse it:
//
//   - the suite scheduler orders test cases by their declared test
//     dependencies before any execution starts, and
//   - the integration extension sets up components in dependency order
//     before a test body runs.
//
// # Core Concepts
//
// Graph: A directed acyclic graph. Each node carries an identifier and the
// identifiers it depends on.
//
// # Dependency Rules
//
//  1. No circular dependencies: TopoSort and Walk fail with *CycleError
//     before visiting any node.
//  2. A node is only visited after all of its transitive dependencies.
//  3. Dependencies of requested nodes are pulled into the result even when
//     they were not requested themselves.
//  4. Nodes with no relative constraint keep their requested (or insertion)
//     order.
//
// # Usage Example
//
//	g := dependency.New()
//	g.AddNode(dependency.Node{ID: "db"})
//	g.AddNode(dependency.Node{ID: "cache", DependsOn: []dependency.NodeID{"db"}})
//	g.AddNode(dependency.Node{ID: "api", DependsOn: []dependency.NodeID{"db", "cache"}})
//
//	order, err := g.TopoSort([]dependency.NodeID{"api"})
//	// order: ["db", "cache", "api"]
//
//	err = g.Walk(nil, func(n *dependency.Node) error {
//	    return setup(n.ID)
//	})
//
// # Thread Safety
//
// The Graph type is safe for concurrent use. All operations use internal
// locking to ensure consistency when accessed from multiple goroutines.
package dependency
