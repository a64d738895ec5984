package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/stackforge/convergence/internal/checker"
	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/graph"
	"github.com/stackforge/convergence/internal/model"
)

// wireEdge is the JSON-serializable form of a graph.Edge, the shape the
// (out-of-scope) template compiler is expected to hand the engine once
// it has resolved a template's resource dependencies into a traversal
// graph (spec §1, §4.2).
type wireEdge struct {
	RequirerID   string `json:"requirer_id"`
	RequirerType int    `json:"requirer_type"`
	RequiredID   string `json:"required_id,omitempty"`
	RequiredType int    `json:"required_type,omitempty"`
	HasRequired  bool   `json:"has_required"`
}

// GraphStore persists the pre-computed dependency graph for a stack's
// current traversal (spec §4.2). Building the graph from a template is
// out of scope; this store only holds whatever edge list the caller
// hands it.
type GraphStore struct {
	db *DB
}

func NewGraphStore(db *DB) *GraphStore { return &GraphStore{db: db} }

var _ checker.GraphSource = (*GraphStore)(nil)

// Save replaces the stored graph for a stack's traversal.
func (g *GraphStore) Save(ctx context.Context, stackID, traversalID string, deps *graph.Dependencies) error {
	edges := toWireEdges(deps)
	blob, err := json.Marshal(edges)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO stack_graph (stack_id, traversal_id, edges) VALUES ($1, $2, $3)
		ON CONFLICT (stack_id) DO UPDATE SET traversal_id = $2, edges = $3`,
		stackID, traversalID, blob)
	return err
}

// Dependencies implements checker.GraphSource: it loads the graph stored
// for stack.ID, regardless of which traversal saved it (the caller is
// responsible for recognizing a stale traversal via stack.CurrentTraversal).
func (g *GraphStore) Dependencies(ctx context.Context, stack *model.Stack) (*graph.Dependencies, error) {
	var blob []byte
	err := g.db.QueryRowxContext(ctx, `SELECT edges FROM stack_graph WHERE stack_id = $1`, stack.ID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, &convergeerr.NotFound{Kind: convergeerr.EntityStack, Key: stack.ID + " (graph)"}
	}
	if err != nil {
		return nil, err
	}
	var wire []wireEdge
	if err := json.Unmarshal(blob, &wire); err != nil {
		return nil, err
	}
	return fromWireEdges(wire), nil
}

func toWireEdges(deps *graph.Dependencies) []wireEdge {
	g := deps.Graph()
	out := make([]wireEdge, 0, len(g))
	for n, reqs := range g {
		if len(reqs) == 0 {
			out = append(out, wireEdge{RequirerID: n.EntityID, RequirerType: int(n.Type)})
			continue
		}
		for _, req := range reqs {
			out = append(out, wireEdge{
				RequirerID: n.EntityID, RequirerType: int(n.Type),
				RequiredID: req.EntityID, RequiredType: int(req.Type), HasRequired: true,
			})
		}
	}
	return out
}

func fromWireEdges(wire []wireEdge) *graph.Dependencies {
	edges := make([]graph.Edge, 0, len(wire))
	for _, w := range wire {
		requirer := graph.Node{EntityID: w.RequirerID, Type: graph.NodeType(w.RequirerType)}
		if !w.HasRequired {
			edges = append(edges, graph.Edge{Requirer: requirer})
			continue
		}
		required := graph.Node{EntityID: w.RequiredID, Type: graph.NodeType(w.RequiredType)}
		edges = append(edges, graph.Edge{Requirer: requirer, Required: &required})
	}
	return graph.New(edges...)
}
