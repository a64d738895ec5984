package graph

// ResourceSpec describes one resource's position in a template for the
// purpose of building a traversal graph: its id and the ids of the
// resources it requires under that template.
type ResourceSpec struct {
	ID       string
	Requires []string
}

// CleanupSpec describes a resource that is going away (deleted outright,
// or retired because it was replaced) under the new template.
type CleanupSpec struct {
	ID string
	// Requires lists the other resources-being-cleaned-up that this one
	// depended on under the *old* template; cleanup edges run in reverse,
	// so these become this node's dependents, not its dependencies.
	Requires []string
	// ReplacedByUpdateID is the id of the update-node for the resource
	// that replaces this one, if any. When set, this cleanup node must
	// wait for that update-node to complete first (spec §3, §4.2).
	ReplacedByUpdateID string
	HasReplacement     bool
}

// BuildUpdateTraversal builds the dependency graph for one update
// traversal (spec §4.2): an update-node per resource in the new
// template, edges to the update-nodes of its requirements; a
// cleanup-node per resource going away or being replaced, with edges
// reversed among themselves; and an edge from a replaced resource's
// cleanup-node to its replacement's update-node (the cleanup requires
// the update) so the new resource is built before the old one is torn
// down.
func BuildUpdateTraversal(updates []ResourceSpec, cleanups []CleanupSpec) *Dependencies {
	d := New()
	for _, u := range updates {
		un := Node{EntityID: u.ID, Type: NodeUpdate}
		d.AddEdge(un, nil)
		for _, req := range u.Requires {
			rn := Node{EntityID: req, Type: NodeUpdate}
			d.AddEdge(un, &rn)
		}
	}
	for _, c := range cleanups {
		cn := Node{EntityID: c.ID, Type: NodeCleanup}
		d.AddEdge(cn, nil)
		// Cleanup edges are the reverse of the old template's
		// requirement edges: a predecessor's cleanup depends on its
		// dependents' cleanups completing first.
		for _, dependent := range c.Requires {
			dn := Node{EntityID: dependent, Type: NodeCleanup}
			d.AddEdge(dn, &cn)
		}
		if c.HasReplacement {
			un := Node{EntityID: c.ReplacedByUpdateID, Type: NodeUpdate}
			d.AddEdge(cn, &un)
		}
	}
	return d
}

// BuildDeleteTraversal builds the graph for a delete traversal: only
// cleanup-nodes, reverse-topologically ordered relative to the
// resources' last-realized requirements (spec §4.2).
func BuildDeleteTraversal(cleanups []CleanupSpec) *Dependencies {
	d := New()
	for _, c := range cleanups {
		cn := Node{EntityID: c.ID, Type: NodeCleanup}
		d.AddEdge(cn, nil)
		for _, dependent := range c.Requires {
			dn := Node{EntityID: dependent, Type: NodeCleanup}
			d.AddEdge(dn, &cn)
		}
	}
	return d
}
