// Package snapshot implements the snapshot-deletion overlay (spec §12,
// heat/engine/snapshots.py's Snapshot class and heat/engine/worker.py's
// _handle_snapshot_node): deleting a stack deletes every resource
// snapshot it owns, each reporting its outcome into one stack-level sync
// point. Unlike resource convergence, snapshot deletions have no
// ordering dependency on each other, so this reuses the sync-point
// rendezvous directly rather than the dependency graph.
package snapshot

import (
	"context"
	"sort"
	"strings"

	"github.com/stackforge/convergence/internal/checker"
	"github.com/stackforge/convergence/internal/syncpoint"
)

// Deleter performs the actual deletion of a resource snapshot's backing
// data (driver/provider-side work, spec §1's resource-driver collaborator,
// out of scope beyond this boundary).
type Deleter interface {
	DeleteSnapshotResources(ctx context.Context, snapshotID string) error
}

// Runner drives snapshot deletion for one stack delete operation.
type Runner struct {
	Delete     Deleter
	SyncPoints syncpoint.Store
	Stacks     checker.StackController
}

// BeginStackDeletion seeds the stack-level sync point every snapshotID
// will report into (spec: delete_snapshots' sync_point.create). A stack
// with no snapshots has nothing to wait on.
func (r *Runner) BeginStackDeletion(ctx context.Context, stackID, traversalID string, snapshotIDs []string) error {
	if len(snapshotIDs) == 0 {
		return nil
	}
	return r.SyncPoints.Create(ctx, stackID, traversalID, true, stackID)
}

// Predecessors renders the sender-key set every snapshot deletion reports
// into, for the stack-level sync point's "predecessors" argument.
func Predecessors(snapshotIDs []string) map[syncpoint.SenderKey]struct{} {
	out := make(map[syncpoint.SenderKey]struct{}, len(snapshotIDs))
	for _, id := range snapshotIDs {
		out[syncpoint.SenderKey{EntityID: id, IsUpdate: true}] = struct{}{}
	}
	return out
}

// DeleteSnapshot deletes one snapshot's backing resources and reports the
// outcome into the stack's sync point, completing or failing the stack
// once every snapshot has reported (spec's Snapshot.do_delete_snapshot,
// mark_complete, mark_failed).
func (r *Runner) DeleteSnapshot(ctx context.Context, snapshotID, stackID, traversalID string,
	predecessors map[syncpoint.SenderKey]struct{}) error {

	delErr := r.Delete.DeleteSnapshotResources(ctx, snapshotID)

	sender := syncpoint.SenderKey{EntityID: snapshotID, IsUpdate: true}
	newData := map[string]interface{}{sender.String(): nil}

	var newFailures map[string]string
	if delErr != nil {
		newFailures = map[string]string{sender.String(): delErr.Error()}
	}

	complete := func(ctx context.Context, entityID string, inputData map[string]interface{},
		resourceFailures map[string]string, skipPropagate bool) error {
		return r.completeStack(ctx, stackID, resourceFailures)
	}

	return syncpoint.Sync(ctx, r.SyncPoints, stackID, traversalID, true, complete, predecessors, newData, newFailures, false)
}

// completeStack marks the stack FAILED if any snapshot reported a
// failure, COMPLETE otherwise, mirroring Snapshot.mark_failed/mark_complete's
// stack-level sync point update.
func (r *Runner) completeStack(ctx context.Context, stackID string, resourceFailures map[string]string) error {
	stack, err := r.Stacks.LoadLatest(ctx, stackID)
	if err != nil {
		return err
	}
	if len(resourceFailures) == 0 {
		return r.Stacks.MarkComplete(ctx, stack)
	}

	reasons := make([]string, 0, len(resourceFailures))
	for _, reason := range resourceFailures {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	_, err = r.Stacks.MarkFailed(ctx, stack, "Snapshot deletion failed: "+strings.Join(reasons, "; "))
	return err
}
