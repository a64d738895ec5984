// Package graph implements the in-memory dependency DAG over convergence
// nodes (spec §4.2), generalized from heat/engine/dependencies.py. A node
// is a (resource or snapshot id, node type) pair; edges run
// requirer -> required. The package supports topological and
// reverse-topological iteration, cycle detection, and root/leaf queries.
package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/stackforge/convergence/internal/convergeerr"
)

// NodeType distinguishes what a traversal is doing to the entity behind
// a node. The spec's is_update boolean is generalized to three values so
// that snapshot-deletion nodes (spec §9) share this same graph machinery.
type NodeType int

const (
	// NodeUpdate means "bring this resource to the new template version".
	NodeUpdate NodeType = iota
	// NodeCleanup means "clean up this resource under the new template"
	// (delete it, or retire a replaced predecessor).
	NodeCleanup
	// NodeSnapshot means "delete this resource snapshot".
	NodeSnapshot
)

func (t NodeType) String() string {
	switch t {
	case NodeUpdate:
		return "update"
	case NodeCleanup:
		return "cleanup"
	case NodeSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// IsUpdate reports the historical two-valued view used by the spec's
// wire format: true for NodeUpdate, false for everything else.
func (t NodeType) IsUpdate() bool { return t == NodeUpdate }

// Node is a vertex in the convergence graph: an entity id paired with
// what's being done to it.
type Node struct {
	EntityID string
	Type     NodeType
}

// NewNode builds a node from the two-valued (resource_id, is_update)
// pair from the spec, for callers that only ever deal with
// update/cleanup nodes.
func NewNode(entityID string, isUpdate bool) Node {
	t := NodeCleanup
	if isUpdate {
		t = NodeUpdate
	}
	return Node{EntityID: entityID, Type: t}
}

func (n Node) String() string {
	return fmt.Sprintf("(%s, %s)", n.EntityID, n.Type)
}

// node is the internal bookkeeping record: the set of nodes this one
// requires, and the set of nodes that require this one.
type node struct {
	requires   map[Node]struct{}
	requiredBy map[Node]struct{}
}

func newNode() *node {
	return &node{requires: map[Node]struct{}{}, requiredBy: map[Node]struct{}{}}
}

func (n *node) copy() *node {
	c := newNode()
	for k := range n.requires {
		c.requires[k] = struct{}{}
	}
	for k := range n.requiredBy {
		c.requiredBy[k] = struct{}{}
	}
	return c
}

func (n *node) reverseCopy() *node {
	return &node{requires: copySet(n.requiredBy), requiredBy: copySet(n.requires)}
}

func copySet(s map[Node]struct{}) map[Node]struct{} {
	c := make(map[Node]struct{}, len(s))
	for k := range s {
		c[k] = struct{}{}
	}
	return c
}

// Dependencies is the dependency graph over convergence nodes. The zero
// value is ready to use.
type Dependencies struct {
	deps map[Node]*node
}

// New builds a Dependencies graph from a list of (requirer, required)
// edges. A nil Required pointer means "ensure the node exists but add no
// edge" (a disjoint node), mirroring the Python API's `None`-valued
// required component.
func New(edges ...Edge) *Dependencies {
	d := &Dependencies{deps: map[Node]*node{}}
	for _, e := range edges {
		d.AddEdge(e.Requirer, e.Required)
	}
	return d
}

// Edge is a (requirer, required) pair. Required == nil marks a disjoint
// node.
type Edge struct {
	Requirer Node
	Required *Node
}

func (d *Dependencies) ensure(n Node) *node {
	if d.deps == nil {
		d.deps = map[Node]*node{}
	}
	if existing, ok := d.deps[n]; ok {
		return existing
	}
	nn := newNode()
	d.deps[n] = nn
	return nn
}

// AddEdge adds an edge in the form (requirer, required). required == nil
// ensures requirer exists in the graph without adding an edge.
func (d *Dependencies) AddEdge(requirer Node, required *Node) {
	if required == nil {
		d.ensure(requirer)
		return
	}
	d.ensure(*required).requiredBy[requirer] = struct{}{}
	d.ensure(requirer).requires[*required] = struct{}{}
}

// Contains reports whether n has been added to the graph.
func (d *Dependencies) Contains(n Node) bool {
	_, ok := d.deps[n]
	return ok
}

// Requires returns the set of nodes n directly depends on.
func (d *Dependencies) Requires(n Node) []Node {
	nn, ok := d.deps[n]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(nn.requires))
	for k := range nn.requires {
		out = append(out, k)
	}
	sortNodes(out)
	return out
}

// RequiredBy iterates the direct dependents of n: the nodes that require
// n to be ready before they can run.
func (d *Dependencies) RequiredBy(n Node) []Node {
	nn, ok := d.deps[n]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(nn.requiredBy))
	for k := range nn.requiredBy {
		out = append(out, k)
	}
	sortNodes(out)
	return out
}

// Roots returns the nodes with no dependents: nothing in the graph
// requires them. A traversal reaches these last; the check-runner uses
// them as the predecessors of the stack-level completion sync point.
func (d *Dependencies) Roots() []Node {
	var out []Node
	for n, nn := range d.deps {
		if len(nn.requiredBy) == 0 {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// Leaves returns the nodes with no requirements: the entry points of a
// traversal, which walks dependencies-first (update and delete graphs
// alike, since a delete graph's cleanup edges are already reversed).
func (d *Dependencies) Leaves() []Node {
	var out []Node
	for n, nn := range d.deps {
		if len(nn.requires) == 0 {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// Graph returns, for every node, the set of nodes it directly requires —
// the same shape the spec's §4.3.4 "deps.graph()" call returns, used to
// compute a successor's predecessor set.
func (d *Dependencies) Graph() map[Node][]Node {
	out := make(map[Node][]Node, len(d.deps))
	for n := range d.deps {
		out[n] = d.Requires(n)
	}
	return out
}

// Sub returns the partial graph reachable by walking up from n: n itself
// plus every node that (transitively) requires it. Mirrors
// Dependencies.__getitem__ in the original.
func (d *Dependencies) Sub(n Node) (*Dependencies, error) {
	if !d.Contains(n) {
		return nil, fmt.Errorf("node %s not present in graph", n)
	}
	visited := map[Node]bool{}
	var edges []Edge
	var walk func(cur Node)
	walk = func(cur Node) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		requirers := d.RequiredBy(cur)
		if len(requirers) == 0 && cur == n {
			edges = append(edges, Edge{Requirer: cur})
			return
		}
		for _, rqr := range requirers {
			c := cur
			edges = append(edges, Edge{Requirer: rqr, Required: &c})
			walk(rqr)
		}
	}
	walk(n)
	return New(edges...), nil
}

// TopoSort returns a topological order of the graph (requirements before
// requirers), or a *convergeerr.CircularDependency if no such order
// exists.
func (d *Dependencies) TopoSort() ([]Node, error) {
	work := d.mapGraph(func(n *node) *node { return n.copy() })
	return toposort(work)
}

// ReverseTopoSort returns the reverse topological order (requirers
// before requirements) — the order a delete traversal runs in.
func (d *Dependencies) ReverseTopoSort() ([]Node, error) {
	work := d.mapGraph(func(n *node) *node { return n.reverseCopy() })
	return toposort(work)
}

func (d *Dependencies) mapGraph(f func(*node) *node) map[Node]*node {
	out := make(map[Node]*node, len(d.deps))
	for k, v := range d.deps {
		out[k] = f(v)
	}
	return out
}

func toposort(deps map[Node]*node) ([]Node, error) {
	order := make([]Node, 0, len(deps))
	for len(deps) > 0 {
		leaf, ok := nextLeaf(deps)
		if !ok {
			return nil, &convergeerr.CircularDependency{Cycle: renderCycle(deps)}
		}
		order = append(order, leaf)
		for src := range deps[leaf].requiredBy {
			if sn, ok := deps[src]; ok {
				delete(sn.requires, leaf)
			}
		}
		delete(deps, leaf)
	}
	return order, nil
}

func nextLeaf(deps map[Node]*node) (Node, bool) {
	candidates := make([]Node, 0, len(deps))
	for n, nn := range deps {
		if len(nn.requires) == 0 {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		var any Node
		return any, false
	}
	sortNodes(candidates)
	return candidates[0], true
}

func renderCycle(deps map[Node]*node) string {
	parts := make([]string, 0, len(deps))
	for n, nn := range deps {
		reqs := make([]string, 0, len(nn.requires))
		for r := range nn.requires {
			reqs = append(reqs, r.String())
		}
		sort.Strings(reqs)
		parts = append(parts, fmt.Sprintf("%s: {%s}", n, strings.Join(reqs, ", ")))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].EntityID != nodes[j].EntityID {
			return nodes[i].EntityID < nodes[j].EntityID
		}
		return nodes[i].Type < nodes[j].Type
	})
}

// NumericLess orders two decimal-encoded resource entity ids
// numerically rather than lexically, for callers (tests, deterministic
// iteration over resource-only graphs) that want resource-id order
// instead of string order.
func NumericLess(a, b string) bool {
	na, aerr := strconv.ParseInt(a, 10, 64)
	nb, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return na < nb
	}
	return a < b
}
