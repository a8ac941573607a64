// Package graph builds the DAG over execution nodes and computes the
// topological layering the scheduler dispatches. Construction is
// incremental (attach is called once per declared node as the workspace
// is configured); the graph is frozen by convention once execution
// begins — nothing in this package enforces that, callers (internal/engine)
// do, per spec.md §3's lifecycle/ownership rules.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/manila-build/manila/internal/model"
)

// Node is a vertex in the execution graph. Equality and hashing use the
// identifier returned by Executable.Identifier(); Parents/Children are
// maintained as full transitive closures, not merely direct edges.
type Node struct {
	ID         string
	Executable model.Executable
	Parents    map[string]bool // transitive closure: everything this node (transitively) depends on
	Children   map[string]bool // transitive closure: everything that (transitively) depends on this node
}

type nodeEntry struct {
	node              Node
	hasExecutable     bool
	directDeps        map[string]bool // direct dependencies (edges out)
	directDependents  map[string]bool // direct dependents (edges in), the reverse of directDeps
}

func newEntry(id string) *nodeEntry {
	return &nodeEntry{
		node: Node{
			ID:       id,
			Parents:  make(map[string]bool),
			Children: make(map[string]bool),
		},
		directDeps:       make(map[string]bool),
		directDependents: make(map[string]bool),
	}
}

// Graph is a thread-safe DAG over execution nodes.
type Graph struct {
	mu      sync.RWMutex
	entries map[string]*nodeEntry
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{entries: make(map[string]*nodeEntry)}
}

// Attach idempotently inserts executable with the given direct
// dependencies (by identifier), and updates the cached transitive
// closure: for every (ancestor, descendant) pair where ancestor is
// executable's new dependency or one of its ancestors, and descendant is
// executable or one of its descendants, ancestor's Children set is
// extended to contain descendant (and, symmetrically, descendant's
// Parents set is extended to contain ancestor).
func (g *Graph) Attach(executable model.Executable, directDeps []string) {
	id := executable.Identifier()

	g.mu.Lock()
	defer g.mu.Unlock()

	entry := g.entryLocked(id)
	entry.node.Executable = executable
	entry.hasExecutable = true

	for _, depID := range directDeps {
		if entry.directDeps[depID] {
			continue // idempotent: edge already recorded
		}
		depEntry := g.entryLocked(depID)

		entry.directDeps[depID] = true
		depEntry.directDependents[id] = true

		ancestors := make(map[string]bool, len(depEntry.node.Parents)+1)
		ancestors[depID] = true
		for a := range depEntry.node.Parents {
			ancestors[a] = true
		}

		descendants := make(map[string]bool, len(entry.node.Children)+1)
		descendants[id] = true
		for d := range entry.node.Children {
			descendants[d] = true
		}

		for a := range ancestors {
			aEntry := g.entryLocked(a)
			for d := range descendants {
				aEntry.node.Children[d] = true
				dEntry := g.entryLocked(d)
				dEntry.node.Parents[a] = true
			}
		}
	}
}

// entryLocked returns the entry for id, creating a stub if absent.
// Caller must hold g.mu.
func (g *Graph) entryLocked(id string) *nodeEntry {
	e, ok := g.entries[id]
	if !ok {
		e = newEntry(id)
		g.entries[id] = e
	}
	return e
}

// Find returns the node for identifier, or nil if no node with that
// identifier has been attached with an executable.
func (g *Graph) Find(identifier string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.entries[identifier]
	if !ok || !e.hasExecutable {
		return nil
	}
	n := e.node
	return &n
}

// Nodes returns every node that has been attached with an executable, in
// no particular order. Used by diagnostics introspection; scheduling
// itself only ever consults Layers.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]Node, 0, len(g.entries))
	for _, e := range g.entries {
		if e.hasExecutable {
			nodes = append(nodes, e.node)
		}
	}
	return nodes
}

// Layer is a set of node identifiers safe to run concurrently.
type Layer []string

// Layers computes a Kahn-style topological sort restricted to target's
// ancestor subgraph (target plus every node target transitively depends
// on). It returns Cycle if the declared dependencies among that
// subgraph are not acyclic.
func (g *Graph) Layers(target string) ([]Layer, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	targetEntry, ok := g.entries[target]
	if !ok || !targetEntry.hasExecutable {
		return nil, fmt.Errorf("graph: unknown target %q", target)
	}

	// S = {target} ∪ all_ancestors(target).
	subset := map[string]bool{target: true}
	for a := range targetEntry.node.Parents {
		subset[a] = true
	}

	// In-degree within S, counted over DIRECT edges only.
	inDegree := make(map[string]int, len(subset))
	for id := range subset {
		e := g.entries[id]
		n := 0
		for dep := range e.directDeps {
			if subset[dep] {
				n++
			}
		}
		inDegree[id] = n
	}

	var layers []Layer
	emitted := 0
	remaining := make(map[string]bool, len(subset))
	for id := range subset {
		remaining[id] = true
	}

	for len(remaining) > 0 {
		var ready []string
		for id := range remaining {
			if inDegree[id] == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			break // no progress possible: cycle
		}
		sort.Strings(ready)

		for _, id := range ready {
			delete(remaining, id)
			emitted++
			e := g.entries[id]
			for dependent := range e.directDependents {
				if subset[dependent] {
					inDegree[dependent]--
				}
			}
		}
		layers = append(layers, Layer(ready))
	}

	if emitted != len(subset) {
		var left []string
		for id := range remaining {
			left = append(left, id)
		}
		sort.Strings(left)
		return nil, &model.CycleError{Remaining: left}
	}

	return layers, nil
}

// ToMermaid renders the graph in Mermaid flowchart syntax. Node ids and
// edge ordering are sorted for determinism; only the format is
// specified, not any particular rendering quality.
func (g *Graph) ToMermaid() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.entries))
	for id := range g.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, id := range ids {
		b.WriteString(fmt.Sprintf("  %s[%q]\n", mermaidID(id), id))
	}
	for _, id := range ids {
		e := g.entries[id]
		deps := make([]string, 0, len(e.directDeps))
		for dep := range e.directDeps {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			b.WriteString(fmt.Sprintf("  %s --> %s\n", mermaidID(dep), mermaidID(id)))
		}
	}
	return b.String()
}

var mermaidReplacer = strings.NewReplacer("/", "_", ":", "_", "-", "_", ".", "_")

func mermaidID(id string) string {
	return "n_" + mermaidReplacer.Replace(id)
}
