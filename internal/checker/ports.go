package checker

import (
	"context"

	"github.com/stackforge/convergence/internal/graph"
	"github.com/stackforge/convergence/internal/model"
	"github.com/stackforge/convergence/internal/syncpoint"
)

// Dispatcher casts a check_resource request at the resource identified by
// resourceID, to be picked up by whichever worker next drains the queue
// (spec §4.4's anycast semantics). It never blocks on a reply.
type Dispatcher interface {
	CheckResource(ctx context.Context, resourceID int64, currentTraversal string, inputData map[string]interface{}, isUpdate bool, adoptStackData map[string]interface{}) error
}

// StackController is the subset of stack bookkeeping the check-runner
// needs beyond the plain row read exposed by Loader.
type StackController interface {
	// LoadLatest force-reloads the stack row, bypassing any cache, so the
	// caller can tell whether a newer traversal has since taken over
	// (spec §4.3.3's "force_reload=True").
	LoadLatest(ctx context.Context, stackID string) (*model.Stack, error)

	// MarkFailed transitions the stack to FAILED with reason, unless a
	// later traversal has already superseded it, in which case handled is
	// false and the caller must retrigger (spec §4.3's
	// stack.mark_failed return value).
	MarkFailed(ctx context.Context, stack *model.Stack, reason string) (handled bool, err error)

	// MarkComplete transitions the stack to COMPLETE once every root node
	// has converged (spec §4.3.5).
	MarkComplete(ctx context.Context, stack *model.Stack) error
}

// GraphSource supplies the pre-computed dependency graph for a stack's
// current traversal (spec §1: built by the out-of-scope template
// compiler, consumed here as an opaque *graph.Dependencies).
type GraphSource interface {
	Dependencies(ctx context.Context, stack *model.Stack) (*graph.Dependencies, error)
}

// LockInspector reads a resource's lock state directly from storage,
// bypassing whatever the in-memory Resource handle believes, and can
// forcibly clear a dead engine's lock (spec §4.3.2's
// _stale_resource_needs_retry, which reloads with refresh=True).
type LockInspector interface {
	CurrentLock(ctx context.Context, resourceID int64) (engineID string, currentTemplateID int64, err error)
	StealLock(ctx context.Context, resourceID int64) error
}

// Liveness answers whether the engine identified by engineID is still
// running, via the companion EngineListener RPC topic (spec §4.3.2,
// §4.5).
type Liveness interface {
	IsAlive(ctx context.Context, engineID string) bool
}

// CancelSource is polled by a driver at suspension points to discover
// whether its owning stack has since been cancelled (spec §4.5's
// THREAD_CANCEL message on a per-stack queue). Poll returns
// *convergeerr.CancelOperation once a cancellation has been observed.
type CancelSource interface {
	Poll(stackID string) error
}

// ResourceData is the deserialized contribution of every predecessor
// that has reported into the current node's sync point, keyed by sender.
// Only NodeData payloads, which update-node successors are sent, are
// decoded; entries are nil for predecessors that haven't provided
// attribute data, and the resource id a cleanup-node successor is sent
// is not kept here.
type ResourceData map[syncpoint.SenderKey]*model.NodeData

// Requires collects the ids of every predecessor with data, the set the
// original engine calls `requires` when invoking create/update
// convergence (spec §4.3).
func (rd ResourceData) Requires() map[int64]struct{} {
	out := map[int64]struct{}{}
	for _, d := range rd {
		if d != nil {
			out[d.ID] = struct{}{}
		}
	}
	return out
}

// serialize renders resource data back into the wire-keyed form a
// re-cast check_resource call carries, for parity with
// sync_point.serialize_input_data(self.input_data).
func (rd ResourceData) serialize() map[string]interface{} {
	out := make(map[string]interface{}, len(rd))
	for k, v := range rd {
		if v == nil {
			out[k.String()] = nil
			continue
		}
		out[k.String()] = v.AsMap()
	}
	return out
}
