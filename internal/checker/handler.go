package checker

import (
	"context"

	"github.com/stackforge/convergence/internal/convlog"
	"github.com/stackforge/convergence/internal/model"
	"github.com/stackforge/convergence/internal/syncpoint"
)

// CheckRequest is the deserialized payload of a check_resource cast
// (spec §4.4): everything a worker needs to load the resource and run
// one Check.
type CheckRequest struct {
	ResourceID       int64
	CurrentTraversal string
	// InputData is the raw sync-point payload: wire-encoded sender keys
	// mapped to either a serialized NodeData, an int64/float64 (a
	// cleanup node's "needed_by" notification), or nil.
	InputData      map[string]interface{}
	IsUpdate       bool
	AdoptStackData map[string]interface{}
}

// Handle loads the resource and stack named by req and runs Check on
// them, silently no-oping if the resource has already been removed
// (spec §4.5's load_resource swallowing ResourceNotFound/NotFound).
//
// If the stack has already moved on to a different traversal than the
// one this cast was computed for, the cast is stale: running Check
// against it would re-run convergence for a superseded traversal (spec
// §4.3's stack.current_traversal precondition). Such a cast is diverted
// into retriggerReplaced instead (spec §4.5's _retrigger_replaced).
func (r *Runner) Handle(ctx context.Context, req CheckRequest) error {
	rsrc, stack, err := r.Loader.LoadResource(ctx, req.ResourceID, req.CurrentTraversal, req.IsUpdate)
	if err != nil {
		return err
	}
	if rsrc == nil {
		return nil
	}
	if req.CurrentTraversal != stack.CurrentTraversal {
		convlog.V(2).Infof("[%s] traversal cancelled; re-triggering replaced", req.CurrentTraversal)
		return r.retriggerReplaced(ctx, req.IsUpdate, rsrc, stack)
	}
	return r.Check(ctx, req.ResourceID, req.CurrentTraversal, decodeResourceData(req.InputData), req.IsUpdate, req.AdoptStackData, rsrc, stack)
}

// decodeResourceData keeps the predecessor contributions that carry
// NodeData, plus nil entries for predecessors that sent no payload; any
// other payload shape (such as the bare resource id a cleanup-node is
// sent) is dropped, as are keys that are not tuple-encoded sender keys.
func decodeResourceData(raw map[string]interface{}) ResourceData {
	out := make(ResourceData, len(raw))
	for k, v := range raw {
		sk, ok := syncpoint.ParseSenderKey(k)
		if !ok {
			continue
		}
		if v == nil {
			out[sk] = nil
			continue
		}
		if m, ok := v.(map[string]interface{}); ok {
			out[sk] = model.NodeDataFromMap(m)
		}
	}
	return out
}
